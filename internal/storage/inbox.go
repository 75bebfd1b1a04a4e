package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"cardsmith/internal"
)

const (
	InboxFetched   = "fetched"
	InboxProcessed = "processed"
	InboxSkipped   = "skipped"
	InboxFailed    = "failed"
	InboxExported  = "exported"
)

const inboxColumns = `id, provider, messageId, COALESCE(subject, ''), COALESCE(sender, ''), COALESCE(receivedAt, ''), hash, status, rawRef`

func scanInbox(s interface{ Scan(...any) error }) (internal.InboxRow, error) {
	var row internal.InboxRow
	err := s.Scan(&row.ID, &row.Provider, &row.MessageID, &row.Subject, &row.Sender, &row.ReceivedAt, &row.Hash, &row.Status, &row.RawRef)
	return row, err
}

// UpsertInbox records a fetched message. Re-fetching an existing message
// refreshes its headers but keeps its processing status.
func (d *DB) UpsertInbox(provider, messageID, subject, sender, receivedAt, hash, rawRef, status string) (internal.InboxRow, error) {
	_, err := d.conn.Exec(`
INSERT INTO inbox (provider, messageId, subject, sender, receivedAt, hash, status, rawRef)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider, messageId) DO UPDATE SET
  subject=excluded.subject,
  sender=excluded.sender,
  receivedAt=excluded.receivedAt,
  hash=excluded.hash,
  rawRef=excluded.rawRef,
  updatedAt=CURRENT_TIMESTAMP
`, provider, messageID, subject, sender, receivedAt, hash, status, rawRef)
	if err != nil {
		return internal.InboxRow{}, err
	}

	row, err := d.GetInboxByProviderMessageID(provider, messageID)
	if err != nil {
		return internal.InboxRow{}, err
	}
	if row == nil {
		return internal.InboxRow{}, errors.New("failed to upsert inbox message")
	}
	return *row, nil
}

func (d *DB) GetInboxByProviderMessageID(provider, messageID string) (*internal.InboxRow, error) {
	row, err := scanInbox(d.conn.QueryRow(`SELECT `+inboxColumns+` FROM inbox WHERE provider = ? AND messageId = ?`, provider, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DB) GetInboxByID(id int) (*internal.InboxRow, error) {
	row, err := scanInbox(d.conn.QueryRow(`SELECT `+inboxColumns+` FROM inbox WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DB) MustInboxByProviderMessageID(provider, messageID string) (internal.InboxRow, error) {
	row, err := d.GetInboxByProviderMessageID(provider, messageID)
	if err != nil {
		return internal.InboxRow{}, err
	}
	if row == nil {
		return internal.InboxRow{}, fmt.Errorf("inbox message not found: provider=%s messageId=%s", provider, messageID)
	}
	return *row, nil
}

func (d *DB) ListInboxByStatus(status string, limit int) ([]internal.InboxRow, error) {
	rows, err := d.conn.Query(`SELECT `+inboxColumns+` FROM inbox WHERE status = ? ORDER BY receivedAt ASC, id ASC LIMIT ?`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.InboxRow
	for rows.Next() {
		row, err := scanInbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) UpdateInboxStatus(inboxID int, status string) error {
	_, err := d.conn.Exec(`UPDATE inbox SET status = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, status, inboxID)
	return err
}
