package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"cardsmith/internal"
	"cardsmith/internal/auth"
	"cardsmith/internal/config"
	"cardsmith/internal/pipeline"
	"cardsmith/internal/storage"
	"cardsmith/internal/transcript"
	"cardsmith/internal/util"
)

type API struct {
	cfg         config.Config
	db          *storage.DB
	auth        *auth.Service
	gen         *pipeline.Orchestrator
	transcripts TranscriptSource
	log         *slog.Logger
}

func NewAPI(deps Deps, logger *slog.Logger) *API {
	return &API{
		cfg:         deps.Config,
		db:          deps.DB,
		auth:        deps.Auth,
		gen:         deps.Generator,
		transcripts: deps.Transcripts,
		log:         logger,
	}
}

func registerRoutes(r *gin.Engine, api *API) {
	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/health", api.handleHealth)
		apiGroup.POST("/auth/register", api.handleRegister)
		apiGroup.POST("/auth/login", api.handleLogin)

		private := apiGroup.Group("", RequireAuth(api.auth))
		private.POST("/upload", api.handleUpload)
		private.POST("/youtube", api.handleYouTube)
		private.POST("/improve", api.handleImprove)
		private.POST("/translate", api.handleTranslate)

		private.POST("/export/pdf", api.handleExportPDF)
		private.POST("/export/anki", api.handleExportAnki)
		private.POST("/export/xlsx", api.handleExportXLSX)

		private.GET("/decks", api.handleListDecks)
		private.GET("/decks/:id", api.handleGetDeck)
	}
}

type credentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type cardPayload struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type deckView struct {
	ID        int                  `json:"id"`
	Name      string               `json:"name"`
	Source    string               `json:"source"`
	CreatedAt string               `json:"createdAt"`
	Cards     []internal.Flashcard `json:"flashcards,omitempty"`
}

func (a *API) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *API) handleRegister(c *gin.Context) {
	var payload credentialsPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondMessage(c, http.StatusBadRequest, "invalid JSON data")
		return
	}

	user, err := a.auth.Register(payload.Username, payload.Password)
	switch {
	case errors.Is(err, auth.ErrMissingCredentials):
		respondError(c, http.StatusBadRequest, err)
		return
	case errors.Is(err, auth.ErrUserExists):
		respondError(c, http.StatusConflict, err)
		return
	case err != nil:
		a.log.Error("auth.register.error", "req_id", c.GetString(ctxRequestID), "error", err)
		respondMessage(c, http.StatusInternalServerError, "registration failed")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": user.ID, "username": user.Username})
}

func (a *API) handleLogin(c *gin.Context) {
	var payload credentialsPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondMessage(c, http.StatusBadRequest, "invalid JSON data")
		return
	}

	session, err := a.auth.Login(payload.Username, payload.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		respondError(c, http.StatusUnauthorized, err)
		return
	}
	if err != nil {
		a.log.Error("auth.login.error", "req_id", c.GetString(ctxRequestID), "error", err)
		respondMessage(c, http.StatusInternalServerError, "login failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": session.Token, "expiresAt": session.ExpiresAt.UTC(), "username": session.User.Username})
}

func (a *API) handleUpload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondMessage(c, http.StatusRequestEntityTooLarge, "file is too large")
			return
		}
		respondMessage(c, http.StatusBadRequest, "no file provided")
		return
	}
	if strings.TrimSpace(fileHeader.Filename) == "" {
		respondMessage(c, http.StatusBadRequest, "no file selected")
		return
	}

	count, err := a.numCards(c.PostForm("num_cards"))
	if err != nil {
		respondPipelineError(c, err, "")
		return
	}

	upload, err := fileHeader.Open()
	if err != nil {
		respondMessage(c, http.StatusInternalServerError, "unable to read uploaded file")
		return
	}
	defer upload.Close()
	content, err := io.ReadAll(upload)
	if err != nil {
		respondMessage(c, http.StatusBadRequest, "unable to read uploaded file")
		return
	}

	name := filepath.Base(fileHeader.Filename)
	var format internal.SourceFormat
	if declared := c.PostForm("format"); declared != "" {
		format, err = pipeline.ParseFormat(declared)
	} else {
		format, err = pipeline.DetectFormat(name, content)
	}
	if err != nil {
		respondPipelineError(c, err, "")
		return
	}

	doc := internal.SourceDocument{Name: name, Format: format, Content: content}
	a.generate(c, doc, count, c.PostForm("subject"), c.PostForm("target_language"), "upload:"+name)
}

func (a *API) handleYouTube(c *gin.Context) {
	var payload struct {
		URL            string `json:"url"`
		NumCards       any    `json:"num_cards"`
		Subject        string `json:"subject"`
		TargetLanguage string `json:"target_language"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondMessage(c, http.StatusBadRequest, "invalid JSON data")
		return
	}
	if strings.TrimSpace(payload.URL) == "" {
		respondMessage(c, http.StatusBadRequest, "no URL provided")
		return
	}

	count, err := a.numCards(anyToString(payload.NumCards))
	if err != nil {
		respondPipelineError(c, err, "")
		return
	}
	videoID, err := transcript.ExtractVideoID(payload.URL)
	if err != nil {
		respondPipelineError(c, err, "")
		return
	}
	if a.transcripts == nil {
		respondMessage(c, http.StatusServiceUnavailable, "transcripts are not available")
		return
	}

	text, err := a.transcripts.Fetch(c.Request.Context(), videoID)
	if err != nil {
		a.log.Warn("transcript.fetch.error", "req_id", c.GetString(ctxRequestID), "video_id", videoID, "error", err)
		respondPipelineError(c, err, "")
		return
	}

	doc := internal.SourceDocument{Name: videoID, Format: internal.FormatTranscript, Content: []byte(text)}
	a.generate(c, doc, count, payload.Subject, payload.TargetLanguage, "youtube:"+videoID)
}

// generate runs the pipeline, records the run, saves the deck for the caller
// and writes the response.
func (a *API) generate(c *gin.Context, doc internal.SourceDocument, count int, subject, targetLanguage, source string) {
	res, err := a.gen.Run(c.Request.Context(), doc, count, subject, targetLanguage)

	run := internal.RunRecord{
		TraceID:   res.TraceID,
		Operation: "generate",
		Source:    source,
		Timings:   res.Timings,
		Counts:    map[string]int{"requested": count, "cards": len(res.Cards), "duplicates": res.Duplicates},
		ErrorKind: string(internal.KindOf(err)),
	}
	if recErr := a.db.InsertRun(run); recErr != nil {
		a.log.Warn("run.record.error", "req_id", c.GetString(ctxRequestID), "error", recErr)
	}

	if err != nil {
		respondPipelineError(c, err, res.TraceID)
		return
	}

	deckName := strings.TrimSpace(subject)
	if deckName == "" {
		deckName = doc.Name
	}
	userID := c.GetInt(ctxUserID)
	deckID, err := a.db.SaveDeck(internal.Deck{Name: deckName, Source: source, OwnerID: util.IntPtr(userID), Cards: res.Cards})
	if err != nil {
		a.log.Error("deck.save.error", "req_id", c.GetString(ctxRequestID), "error", err)
		respondMessage(c, http.StatusInternalServerError, "unable to save deck")
		return
	}

	c.JSON(http.StatusOK, gin.H{"flashcards": res.Cards, "deck_id": deckID, "trace_id": res.TraceID})
}

func (a *API) handleImprove(c *gin.Context) {
	var payload struct {
		Flashcard *cardPayload `json:"flashcard"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil || payload.Flashcard == nil {
		respondMessage(c, http.StatusBadRequest, "no flashcard provided")
		return
	}
	a.transform(c, internal.TransformRequest{
		Op:   internal.TransformImprove,
		Card: internal.Flashcard{Question: payload.Flashcard.Question, Answer: payload.Flashcard.Answer},
	})
}

func (a *API) handleTranslate(c *gin.Context) {
	var payload struct {
		Flashcard      *cardPayload `json:"flashcard"`
		TargetLanguage string       `json:"target_language"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil || payload.Flashcard == nil || strings.TrimSpace(payload.TargetLanguage) == "" {
		respondMessage(c, http.StatusBadRequest, "missing flashcard or target language")
		return
	}
	a.transform(c, internal.TransformRequest{
		Op:             internal.TransformTranslate,
		Card:           internal.Flashcard{Question: payload.Flashcard.Question, Answer: payload.Flashcard.Answer},
		TargetLanguage: strings.TrimSpace(payload.TargetLanguage),
	})
}

func (a *API) transform(c *gin.Context, req internal.TransformRequest) {
	res, err := a.gen.Transform(c.Request.Context(), req)

	run := internal.RunRecord{
		TraceID:   res.TraceID,
		Operation: string(req.Op),
		Timings:   res.Timings,
		Counts:    map[string]int{"fallback": boolToInt(res.Fallback)},
		ErrorKind: string(internal.KindOf(err)),
	}
	if recErr := a.db.InsertRun(run); recErr != nil {
		a.log.Warn("run.record.error", "req_id", c.GetString(ctxRequestID), "error", recErr)
	}

	if err != nil {
		respondPipelineError(c, err, res.TraceID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flashcard": res.Card, "fallback": res.Fallback, "trace_id": res.TraceID})
}

type exportPayload struct {
	Flashcards    []cardPayload `json:"flashcards"`
	DeckName      string        `json:"deckName"`
	Customization struct {
		Style    string `json:"style"`
		Font     string `json:"font"`
		FontSize any    `json:"fontSize"`
	} `json:"customization"`
}

func (a *API) bindExport(c *gin.Context) (exportPayload, []internal.Flashcard, bool) {
	var payload exportPayload
	if err := c.ShouldBindJSON(&payload); err != nil || len(payload.Flashcards) == 0 {
		respondMessage(c, http.StatusBadRequest, "no flashcards provided")
		return payload, nil, false
	}
	cards := make([]internal.Flashcard, 0, len(payload.Flashcards))
	for _, p := range payload.Flashcards {
		card, err := internal.NewFlashcard(p.Question, p.Answer)
		if err != nil {
			continue
		}
		cards = append(cards, card)
	}
	if len(cards) == 0 {
		respondMessage(c, http.StatusBadRequest, "no flashcards provided")
		return payload, nil, false
	}
	return payload, cards, true
}

func (a *API) handleExportPDF(c *gin.Context) {
	payload, cards, ok := a.bindExport(c)
	if !ok {
		return
	}
	size, _ := strconv.ParseFloat(anyToString(payload.Customization.FontSize), 64)
	opts := pipeline.PDFOptions{
		Title:    payload.DeckName,
		Style:    pipeline.PDFStyle(payload.Customization.Style),
		Font:     payload.Customization.Font,
		FontSize: size,
	}

	var buf bytes.Buffer
	if err := pipeline.WriteCardsPDF(&buf, cards, opts); err != nil {
		a.log.Error("export.pdf.error", "req_id", c.GetString(ctxRequestID), "error", err)
		respondMessage(c, http.StatusInternalServerError, "unable to render pdf")
		return
	}
	sendAttachment(c, "application/pdf", "flashcards.pdf", buf.Bytes())
}

func (a *API) handleExportAnki(c *gin.Context) {
	payload, cards, ok := a.bindExport(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := pipeline.WriteAnkiPackage(&buf, payload.DeckName, cards); err != nil {
		a.log.Error("export.anki.error", "req_id", c.GetString(ctxRequestID), "error", err)
		respondMessage(c, http.StatusInternalServerError, "unable to build anki package")
		return
	}
	sendAttachment(c, "application/apkg", "flashcards.apkg", buf.Bytes())
}

func (a *API) handleExportXLSX(c *gin.Context) {
	payload, cards, ok := a.bindExport(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := pipeline.WriteCardsXLSX(&buf, payload.DeckName, cards); err != nil {
		a.log.Error("export.xlsx.error", "req_id", c.GetString(ctxRequestID), "error", err)
		respondMessage(c, http.StatusInternalServerError, "unable to build spreadsheet")
		return
	}
	sendAttachment(c, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "flashcards.xlsx", buf.Bytes())
}

func (a *API) handleListDecks(c *gin.Context) {
	userID := c.GetInt(ctxUserID)
	decks, err := a.db.ListDecks(&userID, 100)
	if err != nil {
		a.log.Error("deck.list.error", "req_id", c.GetString(ctxRequestID), "error", err)
		respondMessage(c, http.StatusInternalServerError, "unable to load decks")
		return
	}
	out := make([]deckView, 0, len(decks))
	for _, d := range decks {
		out = append(out, deckView{ID: d.ID, Name: d.Name, Source: d.Source, CreatedAt: d.CreatedAt})
	}
	c.JSON(http.StatusOK, gin.H{"decks": out})
}

func (a *API) handleGetDeck(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		respondMessage(c, http.StatusBadRequest, "invalid deck id")
		return
	}
	deck, err := a.db.GetDeck(id)
	if err != nil {
		a.log.Error("deck.get.error", "req_id", c.GetString(ctxRequestID), "deck_id", id, "error", err)
		respondMessage(c, http.StatusInternalServerError, "unable to load deck")
		return
	}
	if deck == nil || deck.OwnerID == nil || *deck.OwnerID != c.GetInt(ctxUserID) {
		respondMessage(c, http.StatusNotFound, "deck not found")
		return
	}
	c.JSON(http.StatusOK, deckView{ID: deck.ID, Name: deck.Name, Source: deck.Source, CreatedAt: deck.CreatedAt, Cards: deck.Cards})
}

// numCards reads an optional card count, defaulting to DEFAULT_NUM_CARDS.
func (a *API) numCards(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return a.cfg.DefaultNumCards, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, internal.NewError(internal.StageRequest, internal.KindInvalidRequest, "num_cards must be a number", nil)
	}
	return n, pipeline.ValidateCount(n)
}

func statusForError(err error) int {
	switch internal.KindOf(err) {
	case internal.KindInvalidRequest, internal.KindUnsupportedFormat, internal.KindCorruptDocument,
		internal.KindEmptyContent, internal.KindDecodeError:
		return http.StatusBadRequest
	case internal.KindGatewayAuth, internal.KindGatewayTransport:
		return http.StatusBadGateway
	case internal.KindGatewayTimeout:
		return http.StatusGatewayTimeout
	case internal.KindMalformedStructure, internal.KindIncompleteRecord, internal.KindEmptyResult:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondPipelineError(c *gin.Context, err error, traceID string) {
	var classified *internal.Error
	if !errors.As(err, &classified) {
		respondMessage(c, http.StatusInternalServerError, "internal error")
		return
	}
	body := gin.H{"error": classified.Public(), "kind": classified.Kind}
	if traceID != "" {
		body["trace_id"] = traceID
	}
	c.JSON(statusForError(err), body)
}

func respondError(c *gin.Context, status int, err error) {
	respondMessage(c, status, err.Error())
}

func respondMessage(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func sendAttachment(c *gin.Context, contentType, filename string, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, data)
}

func anyToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
