package listener

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cardsmith/internal"
	"cardsmith/internal/config"
	"cardsmith/internal/pipeline"
	"cardsmith/internal/storage"
)

type stubConnector struct {
	messages []internal.FetchedMailMessage
}

func (s stubConnector) FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error) {
	return s.messages, nil
}

type stubCompleter struct {
	reply string
	calls int
}

func (s *stubCompleter) Complete(ctx context.Context, prompt internal.Prompt) (string, error) {
	s.calls++
	return s.reply, nil
}

func TestRunCycleFetchesGeneratesAndExports(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	cfg := config.Config{
		RawMailDir:               filepath.Join(dir, "raw"),
		OutputDir:                filepath.Join(dir, "out"),
		DefaultNumCards:          5,
		MailListenerProvider:     "imap",
		MailListenerLabel:        "INBOX",
		MailListenerFetchMax:     10,
		MailListenerProcessBatch: 10,
		MailListenerNumCards:     2,
		MailListenerExportFormat: "xlsx",
		MailListenerAutoExport:   true,
	}

	completer := &stubCompleter{reply: "Question: What do mitochondria make?\nAnswer: ATP\n\nQuestion: Where?\nAnswer: In cells"}
	orch := pipeline.NewOrchestrator(completer, pipeline.Options{})
	processor := pipeline.NewProcessingService(db, orch, cfg)

	connector := stubConnector{messages: []internal.FetchedMailMessage{
		{
			Provider:  "imap",
			MessageID: "<m1@example.test>",
			Subject:   "Cells",
			Raw:       []byte("Subject: Cells\r\nFrom: prof@example.test\r\nContent-Type: text/plain; charset=utf-8\r\n\r\nMitochondria produce ATP inside cells.\r\n"),
		},
		{
			Provider:  "imap",
			MessageID: "<m2@example.test>",
			Subject:   "Empty",
			Raw:       []byte("Subject: Empty\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n   \r\n"),
		},
	}}

	svc := NewService(db, cfg, processor).WithConnector(connector)
	if err := svc.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	if completer.calls != 1 {
		t.Fatalf("calls=%d", completer.calls)
	}

	first, err := db.MustInboxByProviderMessageID("imap", "<m1@example.test>")
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != storage.InboxExported {
		t.Fatalf("status=%s", first.Status)
	}
	second, err := db.MustInboxByProviderMessageID("imap", "<m2@example.test>")
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != storage.InboxSkipped {
		t.Fatalf("status=%s", second.Status)
	}

	deck, err := db.GetDeckByInboxID(first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if deck == nil || deck.Name != "Cells" || len(deck.Cards) != 2 {
		t.Fatalf("deck=%+v", deck)
	}

	files, err := os.ReadDir(filepath.Join(dir, "out", "listener"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || filepath.Ext(files[0].Name()) != ".xlsx" {
		t.Fatalf("files=%v", files)
	}

	runs, err := db.ListRuns(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs=%d", len(runs))
	}

	last, err := db.GetMetadata(lastCycleKey(cfg.MailListenerProvider))
	if err != nil || last == nil || *last == "" {
		t.Fatalf("last cycle metadata=%v err=%v", last, err)
	}
}

func TestSanitizeMessageID(t *testing.T) {
	if got := sanitizeMessageID("<a/b:c@example.test>"); got != "a_b_c_example.test" {
		t.Fatalf("got %q", got)
	}
}
