package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"

	"cardsmith/internal/auth"
	"cardsmith/internal/config"
	"cardsmith/internal/pipeline"
	"cardsmith/internal/storage"
)

// TranscriptSource fetches the transcript text of a video.
type TranscriptSource interface {
	Fetch(ctx context.Context, videoID string) (string, error)
}

type Deps struct {
	Config      config.Config
	DB          *storage.DB
	Auth        *auth.Service
	Generator   *pipeline.Orchestrator
	Transcripts TranscriptSource
	Logger      *slog.Logger
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
}

func NewServer(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	return &Server{engine: newEngine(deps), cfg: deps.Config}
}

func newEngine(deps Deps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(logger))
	engine.Use(MaxBodySize(deps.Config.MaxUploadBytes))
	engine.Use(CORS(deps.Config.CORSOrigins))

	api := NewAPI(deps, logger)
	registerRoutes(engine, api)
	return engine
}

func (s *Server) Handler() *gin.Engine {
	return s.engine
}

func (s *Server) Run() error {
	addr := fmt.Sprintf(":%s", s.cfg.HTTPPort)
	return s.engine.Run(addr)
}
