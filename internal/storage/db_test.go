package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"cardsmith/internal"
	"cardsmith/internal/util"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUsers(t *testing.T) {
	db := openTestDB(t)

	user, err := db.CreateUser("alice", "hash-1")
	if err != nil {
		t.Fatal(err)
	}
	if user.ID == 0 || user.Username != "alice" || user.CreatedAt == "" {
		t.Fatalf("user=%+v", user)
	}

	if _, err := db.CreateUser("ALICE", "hash-2"); !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("err=%v", err)
	}

	found, err := db.FindByUsername("alice")
	if err != nil {
		t.Fatal(err)
	}
	if found == nil || found.PasswordHash != "hash-1" {
		t.Fatalf("found=%+v", found)
	}

	missing, err := db.FindByUsername("bob")
	if err != nil || missing != nil {
		t.Fatalf("missing=%+v err=%v", missing, err)
	}
}

func TestDecksRoundTrip(t *testing.T) {
	db := openTestDB(t)
	user, err := db.CreateUser("alice", "hash")
	if err != nil {
		t.Fatal(err)
	}

	cards := []internal.Flashcard{
		{Question: "What is H2O?", Answer: "Water"},
		{Question: "What is NaCl?", Answer: "Salt"},
	}
	id, err := db.SaveDeck(internal.Deck{Name: "Chemistry", Source: "notes.pdf", OwnerID: util.IntPtr(user.ID), Cards: cards})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.SaveDeck(internal.Deck{Name: "Other", Source: "cli"}); err != nil {
		t.Fatal(err)
	}

	deck, err := db.MustDeck(id)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(cards, deck.Cards); diff != "" {
		t.Fatalf("cards mismatch (-want +got):\n%s", diff)
	}
	if deck.OwnerID == nil || *deck.OwnerID != user.ID || deck.InboxID != nil {
		t.Fatalf("deck=%+v", deck)
	}

	owned, err := db.ListDecks(util.IntPtr(user.ID), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(owned) != 1 || owned[0].Name != "Chemistry" {
		t.Fatalf("owned=%+v", owned)
	}
	all, err := db.ListDecks(nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Name != "Other" {
		t.Fatalf("all=%+v", all)
	}

	if missing, err := db.GetDeck(9999); err != nil || missing != nil {
		t.Fatalf("missing=%+v err=%v", missing, err)
	}
}

func TestInboxLifecycle(t *testing.T) {
	db := openTestDB(t)

	row, err := db.UpsertInbox("imap", "<m1@example.test>", "Biology", "prof@example.test", "2026-01-02T10:00:00Z", "h1", "/tmp/m1.eml", InboxFetched)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateInboxStatus(row.ID, InboxProcessed); err != nil {
		t.Fatal(err)
	}

	again, err := db.UpsertInbox("imap", "<m1@example.test>", "Biology (fwd)", "prof@example.test", "2026-01-02T10:00:00Z", "h2", "/tmp/m1.eml", InboxFetched)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != row.ID || again.Status != InboxProcessed || again.Subject != "Biology (fwd)" {
		t.Fatalf("again=%+v", again)
	}

	pending, err := db.ListInboxByStatus(InboxFetched, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending=%d", len(pending))
	}

	deckID, err := db.SaveDeck(internal.Deck{Name: "Biology", Source: "mail", InboxID: util.IntPtr(row.ID), Cards: []internal.Flashcard{{Question: "q", Answer: "a"}}})
	if err != nil {
		t.Fatal(err)
	}
	deck, err := db.GetDeckByInboxID(row.ID)
	if err != nil {
		t.Fatal(err)
	}
	if deck == nil || deck.ID != deckID || len(deck.Cards) != 1 {
		t.Fatalf("deck=%+v", deck)
	}

	if _, err := db.MustInboxByProviderMessageID("gmail", "<m1@example.test>"); err == nil {
		t.Fatal("expected not found")
	}
}

func TestRunsAndMetadata(t *testing.T) {
	db := openTestDB(t)

	err := db.InsertRun(internal.RunRecord{
		TraceID:   "trace-1",
		Operation: "generate",
		Source:    "notes.txt",
		Timings:   map[string]float64{"completeMs": 12.5},
		Counts:    map[string]int{"cards": 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.InsertRun(internal.RunRecord{TraceID: "trace-2", Operation: "generate", ErrorKind: string(internal.KindGatewayAuth)}); err != nil {
		t.Fatal(err)
	}

	runs, err := db.ListRuns(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("len=%d", len(runs))
	}
	if runs[0].ErrorKind != "gateway_auth" || runs[1].Counts["cards"] != 3 || runs[1].Timings["completeMs"] != 12.5 {
		t.Fatalf("runs=%+v", runs)
	}

	if v, err := db.GetMetadata("last_fetch"); err != nil || v != nil {
		t.Fatalf("v=%v err=%v", v, err)
	}
	if err := db.SetMetadata("last_fetch", "a"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetMetadata("last_fetch", "b"); err != nil {
		t.Fatal(err)
	}
	v, err := db.GetMetadata("last_fetch")
	if err != nil || v == nil || *v != "b" {
		t.Fatalf("v=%v err=%v", v, err)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.SetMetadata("k", "v"); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var version int
	if err := db.conn.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != len(migrations) {
		t.Fatalf("user_version=%d want %d", version, len(migrations))
	}
	if v, err := db.GetMetadata("k"); err != nil || v == nil || *v != "v" {
		t.Fatalf("v=%v err=%v", v, err)
	}
}
