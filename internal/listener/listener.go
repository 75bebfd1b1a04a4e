package listener

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"cardsmith/internal/config"
	"cardsmith/internal/connectors"
	gmailconnector "cardsmith/internal/connectors/gmail"
	imapconnector "cardsmith/internal/connectors/imap"
	"cardsmith/internal/pipeline"
	"cardsmith/internal/storage"
)

// Service polls a mailbox: fetch → generate decks → export, once per interval.
type Service struct {
	db        *storage.DB
	cfg       config.Config
	processor *pipeline.ProcessingService
	connector connectors.MailConnector
	log       *slog.Logger
}

func NewService(db *storage.DB, cfg config.Config, processor *pipeline.ProcessingService) *Service {
	return &Service{db: db, cfg: cfg, processor: processor, log: slog.Default()}
}

// WithConnector overrides the provider chosen from configuration.
func (s *Service) WithConnector(connector connectors.MailConnector) *Service {
	s.connector = connector
	return s
}

func (s *Service) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.MailListenerIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	s.log.Info("listener.start", "provider", s.provider(), "label", s.cfg.MailListenerLabel, "interval", interval.String())

	for {
		if err := s.RunCycle(ctx); err != nil {
			s.log.Error("listener.cycle.error", "error", err)
		}

		select {
		case <-ctx.Done():
			s.log.Info("listener.stop")
			return nil
		case <-time.After(interval):
		}
	}
}

func (s *Service) RunCycle(ctx context.Context) error {
	start := time.Now()
	provider := s.provider()
	mailConnector, err := s.makeConnector(ctx, provider)
	if err != nil {
		return err
	}

	fetchService := connectors.NewFetchService(s.db, s.cfg.RawMailDir, mailConnector)
	fetchResult, err := fetchService.FetchAndStore(ctx, s.cfg.MailListenerLabel, s.cfg.MailListenerFetchMax)
	if err != nil {
		return err
	}

	summary, err := s.processor.ProcessPending(ctx, s.cfg.MailListenerProcessBatch, provider)
	if err != nil {
		return err
	}

	exported := 0
	if s.cfg.MailListenerAutoExport {
		exported, err = s.ExportProcessed(provider)
		if err != nil {
			return err
		}
	}

	if err := s.db.SetMetadata(lastCycleKey(provider), time.Now().UTC().Format(time.RFC3339)); err != nil {
		s.log.Warn("listener.metadata.error", "error", err)
	}

	s.log.Info("listener.cycle.done",
		"provider", provider,
		"fetched", fetchResult.Fetched,
		"new", fetchResult.New,
		"processed", summary.Processed,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"cards", summary.Cards,
		"exported", exported,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// ExportProcessed writes the deck of every processed message to OUTPUT_DIR
// and marks the message exported.
func (s *Service) ExportProcessed(provider string) (int, error) {
	rows, err := s.db.ListInboxByStatus(storage.InboxProcessed, 200)
	if err != nil {
		return 0, err
	}

	ext := exportExtension(s.cfg.MailListenerExportFormat)
	exported := 0
	for _, row := range rows {
		if provider != "" && row.Provider != provider {
			continue
		}
		deck, err := s.db.GetDeckByInboxID(row.ID)
		if err != nil {
			return exported, err
		}
		if deck == nil || len(deck.Cards) == 0 {
			continue
		}

		filename := fmt.Sprintf("%d_%s%s", row.ID, sanitizeMessageID(row.MessageID), ext)
		outputPath := filepath.Join(s.cfg.OutputDir, "listener", filename)
		if err := pipeline.ExportCards(deck.Cards, deck.Name, outputPath, pipeline.PDFOptions{}); err != nil {
			return exported, err
		}
		if err := s.db.UpdateInboxStatus(row.ID, storage.InboxExported); err != nil {
			return exported, err
		}
		exported++
		s.log.Info("listener.exported", "inbox_id", row.ID, "deck_id", deck.ID, "path", outputPath)
	}
	return exported, nil
}

func (s *Service) provider() string {
	return strings.ToLower(strings.TrimSpace(s.cfg.MailListenerProvider))
}

func (s *Service) makeConnector(ctx context.Context, provider string) (connectors.MailConnector, error) {
	if s.connector != nil {
		return s.connector, nil
	}
	return NewConnector(ctx, s.cfg, provider)
}

// NewConnector builds the mail connector for a provider name (gmail or imap).
func NewConnector(ctx context.Context, cfg config.Config, provider string) (connectors.MailConnector, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "gmail":
		return gmailconnector.NewConnector(ctx, cfg)
	case "imap":
		return imapconnector.NewConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported listener provider: %s", provider)
	}
}

func lastCycleKey(provider string) string {
	return "listener." + provider + ".last_cycle_at"
}

func exportExtension(format string) string {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), ".")) {
	case "xlsx":
		return ".xlsx"
	case "pdf":
		return ".pdf"
	default:
		return ".apkg"
	}
}

func sanitizeMessageID(input string) string {
	repl := strings.NewReplacer("<", "_", ">", "_", ":", "_", "/", "_", "\\", "_", "|", "_", "?", "_", "*", "_", " ", "_", "@", "_")
	out := strings.Trim(repl.Replace(input), "_")
	if len(out) > 120 {
		out = out[:120]
	}
	return out
}
