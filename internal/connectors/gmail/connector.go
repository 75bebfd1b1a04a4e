package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/errgroup"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"cardsmith/internal"
	"cardsmith/internal/config"
)

// downloads bounds concurrent messages.get calls per fetch.
const downloads = 4

type Connector struct {
	api *gmailapi.Service
}

func NewConnector(ctx context.Context, cfg config.Config) (*Connector, error) {
	for _, req := range [][2]string{
		{"GMAIL_CLIENT_ID", cfg.GmailClientID},
		{"GMAIL_CLIENT_SECRET", cfg.GmailClientSecret},
		{"GMAIL_REFRESH_TOKEN", cfg.GmailRefreshToken},
	} {
		if err := cfg.Require(req[0], req[1]); err != nil {
			return nil, err
		}
	}

	creds := oauth2.Config{
		ClientID:     cfg.GmailClientID,
		ClientSecret: cfg.GmailClientSecret,
		RedirectURL:  cfg.GmailRedirectURI,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmailapi.GmailReadonlyScope},
	}
	tokens := creds.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.GmailRefreshToken})

	api, err := gmailapi.NewService(ctx, option.WithTokenSource(tokens))
	if err != nil {
		return nil, fmt.Errorf("gmail client: %w", err)
	}
	return &Connector{api: api}, nil
}

// FetchInbox lists up to max messages under label and downloads each in raw
// RFC 822 form, keeping the listing order. Headers come from the raw message.
func (c *Connector) FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error) {
	listing, err := c.api.Users.Messages.List("me").LabelIds(label).MaxResults(int64(max)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail list %s: %w", label, err)
	}

	slots := make([]*internal.FetchedMailMessage, len(listing.Messages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(downloads)
	for i, ref := range listing.Messages {
		if ref == nil || ref.Id == "" {
			continue
		}
		g.Go(func() error {
			msg, err := c.download(gctx, ref.Id)
			slots[i] = msg
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]internal.FetchedMailMessage, 0, len(slots))
	for _, msg := range slots {
		if msg != nil {
			out = append(out, *msg)
		}
	}
	return out, nil
}

// download returns nil for messages Gmail sends back without a raw payload.
func (c *Connector) download(ctx context.Context, id string) (*internal.FetchedMailMessage, error) {
	msg, err := c.api.Users.Messages.Get("me", id).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail get %s: %w", id, err)
	}
	if msg.Raw == "" {
		return nil, nil
	}

	raw, err := decodeBase64URL(msg.Raw)
	if err != nil {
		return nil, fmt.Errorf("gmail message %s: %w", id, err)
	}

	fetched := fromRaw(raw, id)
	if fetched.ReceivedAt == "" && msg.InternalDate > 0 {
		fetched.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC().Format(time.RFC3339)
	}
	return &fetched, nil
}

// fromRaw fills the message metadata from its own headers. Without a
// Message-ID header the Gmail id is used.
func fromRaw(raw []byte, gmailID string) internal.FetchedMailMessage {
	fetched := internal.FetchedMailMessage{Provider: "gmail", MessageID: gmailID, Raw: raw}

	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return fetched
	}
	h := parsed.Header

	if id := strings.TrimSpace(h.Get("Message-ID")); id != "" {
		fetched.MessageID = id
	}
	fetched.Subject = decodeWords(h.Get("Subject"))
	fetched.From = decodeWords(h.Get("From"))
	if sent, err := h.Date(); err == nil {
		fetched.ReceivedAt = sent.UTC().Format(time.RFC3339)
	}
	return fetched
}

var wordDecoder mime.WordDecoder

func decodeWords(v string) string {
	if decoded, err := wordDecoder.DecodeHeader(v); err == nil {
		return decoded
	}
	return v
}

// decodeBase64URL accepts the payload with or without padding.
func decodeBase64URL(payload string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(payload, "="))
	if err != nil {
		return nil, fmt.Errorf("decode raw payload: %w", err)
	}
	return raw, nil
}
