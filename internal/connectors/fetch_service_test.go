package connectors

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cardsmith/internal"
	"cardsmith/internal/storage"
)

type stubConnector struct {
	messages []internal.FetchedMailMessage
}

func (s stubConnector) FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error) {
	if len(s.messages) > max {
		return s.messages[:max], nil
	}
	return s.messages, nil
}

func TestFetchAndStore(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	raw := []byte("Subject: Cells\r\nFrom: prof@example.test\r\n\r\nMitochondria produce ATP.\r\n")
	connector := stubConnector{messages: []internal.FetchedMailMessage{
		{Provider: "imap", MessageID: "<a@example.test>", Subject: "Cells", From: "prof@example.test", ReceivedAt: "2026-01-01T00:00:00Z", Raw: raw},
		{Provider: "imap", MessageID: "<b@example.test>", Subject: "Cells again", Raw: raw},
	}}

	svc := NewFetchService(db, filepath.Join(dir, "raw"), connector)
	res, err := svc.FetchAndStore(context.Background(), "INBOX", 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.Fetched != 2 || res.New != 2 {
		t.Fatalf("res=%+v", res)
	}

	res, err = svc.FetchAndStore(context.Background(), "INBOX", 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.New != 0 {
		t.Fatalf("second fetch new=%d", res.New)
	}

	row, err := db.MustInboxByProviderMessageID("imap", "<a@example.test>")
	if err != nil {
		t.Fatal(err)
	}
	stored, err := os.ReadFile(row.RawRef)
	if err != nil {
		t.Fatal(err)
	}
	if string(stored) != string(raw) || row.Status != storage.InboxFetched {
		t.Fatalf("row=%+v", row)
	}

	// Identical bodies share one file on disk.
	entries, err := os.ReadDir(filepath.Join(dir, "raw"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("files=%d", len(entries))
	}
}
