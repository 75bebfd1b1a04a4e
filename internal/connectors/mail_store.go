package connectors

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"cardsmith/internal"
	"cardsmith/internal/storage"
)

// MailStoreService keeps raw messages on disk under their sha256 and
// registers each one in the inbox table.
type MailStoreService struct {
	db  *storage.DB
	dir string
}

func NewMailStoreService(db *storage.DB, rawMailDir string) *MailStoreService {
	return &MailStoreService{db: db, dir: rawMailDir}
}

// Store reports whether the message was new to the inbox. Identical bodies
// share a single file.
func (s *MailStoreService) Store(msg internal.FetchedMailMessage) (internal.InboxRow, bool, error) {
	sum := sha256.Sum256(msg.Raw)
	hash := hex.EncodeToString(sum[:])

	known, err := s.db.GetInboxByProviderMessageID(msg.Provider, msg.MessageID)
	if err != nil {
		return internal.InboxRow{}, false, err
	}

	path, err := s.writeRaw(hash, msg.Raw)
	if err != nil {
		return internal.InboxRow{}, false, err
	}

	row, err := s.db.UpsertInbox(msg.Provider, msg.MessageID, msg.Subject, msg.From, msg.ReceivedAt, hash, path, storage.InboxFetched)
	if err != nil {
		return internal.InboxRow{}, false, err
	}
	return row, known == nil, nil
}

func (s *MailStoreService) writeRaw(hash string, raw []byte) (string, error) {
	path := filepath.Join(s.dir, hash+".eml")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("raw mail dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, hash+".*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	return path, os.Rename(tmp.Name(), path)
}
