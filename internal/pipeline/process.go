package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cardsmith/internal"
	"cardsmith/internal/config"
	"cardsmith/internal/storage"
	"cardsmith/internal/util"
)

// ProcessingService turns fetched inbox messages into decks.
type ProcessingService struct {
	db       *storage.DB
	gen      *Orchestrator
	numCards int
	workers  int
	log      *slog.Logger
}

func NewProcessingService(db *storage.DB, gen *Orchestrator, cfg config.Config) *ProcessingService {
	numCards := cfg.MailListenerNumCards
	if numCards < internal.MinCards || numCards > internal.MaxCards {
		numCards = cfg.DefaultNumCards
	}
	return &ProcessingService{db: db, gen: gen, numCards: numCards, workers: 2, log: slog.Default()}
}

type ProcessResult struct {
	InboxID int
	Status  string
	DeckID  int
	Cards   int
	TraceID string
}

type ProcessSummary struct {
	Processed int
	Skipped   int
	Failed    int
	Cards     int
}

func (s *ProcessingService) ProcessByProviderMessageID(ctx context.Context, provider, messageID string) (ProcessResult, error) {
	row, err := s.db.MustInboxByProviderMessageID(provider, messageID)
	if err != nil {
		return ProcessResult{}, err
	}
	return s.ProcessMessage(ctx, row)
}

// ProcessPending handles up to limit fetched messages, a few at a time.
// Pipeline failures mark a message failed; storage errors abort the batch.
func (s *ProcessingService) ProcessPending(ctx context.Context, limit int, provider string) (ProcessSummary, error) {
	pending, err := s.db.ListInboxByStatus(storage.InboxFetched, limit)
	if err != nil {
		return ProcessSummary{}, err
	}

	var (
		mu      sync.Mutex
		summary ProcessSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, row := range pending {
		if provider != "" && row.Provider != provider {
			continue
		}
		g.Go(func() error {
			res, err := s.ProcessMessage(gctx, row)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			switch res.Status {
			case storage.InboxProcessed:
				summary.Processed++
				summary.Cards += res.Cards
			case storage.InboxSkipped:
				summary.Skipped++
			case storage.InboxFailed:
				summary.Failed++
			}
			return nil
		})
	}
	err = g.Wait()
	return summary, err
}

func (s *ProcessingService) ProcessMessage(ctx context.Context, row internal.InboxRow) (ProcessResult, error) {
	start := time.Now()
	raw, err := os.ReadFile(row.RawRef)
	if err != nil {
		return ProcessResult{}, err
	}

	doc := internal.SourceDocument{Name: row.MessageID, Format: internal.FormatEmail, Content: raw}
	res, genErr := s.gen.Run(ctx, doc, s.numCards, strings.TrimSpace(row.Subject), "")

	result := ProcessResult{InboxID: row.ID, TraceID: res.TraceID}
	run := internal.RunRecord{
		TraceID:   res.TraceID,
		Operation: "mail",
		Source:    row.Provider + ":" + row.MessageID,
		InboxID:   util.IntPtr(row.ID),
		Timings:   res.Timings,
		Counts:    map[string]int{"cards": len(res.Cards), "duplicates": res.Duplicates},
	}
	if run.Timings == nil {
		run.Timings = map[string]float64{}
	}

	switch {
	case errors.Is(genErr, internal.ErrEmptyContent):
		result.Status = storage.InboxSkipped
	case genErr != nil:
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Status = storage.InboxFailed
		run.ErrorKind = string(internal.KindOf(genErr))
		s.log.Warn("inbox.process.failed", "req_id", res.TraceID, "inbox_id", row.ID, "kind", run.ErrorKind, "error", genErr)
	default:
		deckID, err := s.db.SaveDeck(internal.Deck{
			Name:    deckNameForMessage(row),
			Source:  "mail:" + row.Provider,
			InboxID: util.IntPtr(row.ID),
			Cards:   res.Cards,
		})
		if err != nil {
			return result, err
		}
		result.Status = storage.InboxProcessed
		result.DeckID = deckID
		result.Cards = len(res.Cards)
	}

	if err := s.db.UpdateInboxStatus(row.ID, result.Status); err != nil {
		return result, err
	}
	run.Timings["totalMs"] = msSince(start)
	if err := s.db.InsertRun(run); err != nil {
		s.log.Warn("inbox.run.record_failed", "req_id", res.TraceID, "error", err)
	}

	s.log.Info("inbox.process.done", "req_id", res.TraceID, "inbox_id", row.ID, "status", result.Status, "cards", result.Cards)
	return result, nil
}

func deckNameForMessage(row internal.InboxRow) string {
	if name := strings.TrimSpace(row.Subject); name != "" {
		return util.Truncate(name, 80)
	}
	return fmt.Sprintf("Inbox message %d", row.ID)
}
