package connectors

import (
	"context"
	"fmt"
	"log/slog"

	"cardsmith/internal/storage"
)

// FetchService pulls a batch from a connector into the local inbox.
type FetchService struct {
	source MailConnector
	store  *MailStoreService
	log    *slog.Logger
}

// FetchResult counts messages returned by the provider and how many of them
// the inbox had not seen before.
type FetchResult struct {
	Fetched int
	New     int
}

func NewFetchService(db *storage.DB, rawMailDir string, connector MailConnector) *FetchService {
	return &FetchService{
		source: connector,
		store:  NewMailStoreService(db, rawMailDir),
		log:    slog.Default(),
	}
}

func (s *FetchService) FetchAndStore(ctx context.Context, label string, max int) (FetchResult, error) {
	batch, err := s.source.FetchInbox(ctx, label, max)
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetch %s: %w", label, err)
	}

	res := FetchResult{Fetched: len(batch)}
	for i := range batch {
		msg := batch[i]
		row, fresh, err := s.store.Store(msg)
		if err != nil {
			return res, fmt.Errorf("store %s: %w", msg.MessageID, err)
		}
		if !fresh {
			continue
		}
		res.New++
		s.log.Info("mail.stored", "inbox_id", row.ID, "provider", row.Provider, "bytes", len(msg.Raw))
	}
	return res, nil
}
