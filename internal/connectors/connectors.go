package connectors

import (
	"context"

	"cardsmith/internal"
)

// MailConnector fetches raw messages from a mailbox label or folder.
type MailConnector interface {
	FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error)
}
