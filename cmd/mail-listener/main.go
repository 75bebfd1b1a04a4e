package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cardsmith/internal/completion"
	"cardsmith/internal/config"
	"cardsmith/internal/listener"
	"cardsmith/internal/pipeline"
	"cardsmith/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)
	must(cfg.Validate())

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	opts := pipeline.OptionsFromConfig(cfg)
	opts.Logger = logger
	gen := pipeline.NewOrchestrator(completion.NewClient(cfg).WithLogger(logger), opts)

	svc := listener.NewService(db, cfg, pipeline.NewProcessingService(db, gen, cfg))
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	must(svc.Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
