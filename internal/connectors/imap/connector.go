package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"

	"cardsmith/internal"
	"cardsmith/internal/config"
)

const dialTimeout = 30 * time.Second

type Connector struct {
	addr     string
	host     string
	secure   bool
	user     string
	password string
	markSeen bool
}

func NewConnector(cfg config.Config) (*Connector, error) {
	for name, value := range map[string]string{
		"IMAP_HOST":     cfg.IMAPHost,
		"IMAP_USER":     cfg.IMAPUser,
		"IMAP_PASSWORD": cfg.IMAPPassword,
	} {
		if err := cfg.Require(name, value); err != nil {
			return nil, err
		}
	}

	return &Connector{
		addr:     net.JoinHostPort(cfg.IMAPHost, fmt.Sprint(cfg.IMAPPort)),
		host:     cfg.IMAPHost,
		secure:   cfg.IMAPSecure,
		user:     cfg.IMAPUser,
		password: cfg.IMAPPassword,
		markSeen: cfg.IMAPMarkSeen,
	}, nil
}

// FetchInbox returns up to max unseen messages from the mailbox, oldest
// first. Bodies are fetched with BODY.PEEK so a message only becomes \Seen
// when IMAP_MARK_SEEN is on. Cancelling ctx drops the connection.
func (c *Connector) FetchInbox(ctx context.Context, mailbox string, max int) ([]internal.FetchedMailMessage, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Logout()

	stop := context.AfterFunc(ctx, func() { _ = client.Terminate() })
	defer stop()

	if _, err := client.Select(mailbox, false); err != nil {
		return nil, fmt.Errorf("imap select %s: %w", mailbox, ctxErr(ctx, err))
	}

	uids, err := unseenUIDs(client, max)
	if err != nil {
		return nil, ctxErr(ctx, err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	uidSet := new(imap.SeqSet)
	uidSet.AddNum(uids...)
	out, err := fetchMessages(client, uidSet, len(uids))
	if err != nil {
		return nil, ctxErr(ctx, err)
	}

	if c.markSeen && len(out) > 0 {
		flags := []interface{}{imap.SeenFlag}
		if err := client.UidStore(uidSet, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
			return nil, fmt.Errorf("imap mark seen: %w", ctxErr(ctx, err))
		}
	}
	return out, nil
}

func (c *Connector) connect(ctx context.Context) (*imapclient.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: dialTimeout}
	var (
		client *imapclient.Client
		err    error
	)
	if c.secure {
		client, err = imapclient.DialWithDialerTLS(dialer, c.addr, &tls.Config{ServerName: c.host})
	} else {
		client, err = imapclient.DialWithDialer(dialer, c.addr)
	}
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", c.addr, err)
	}

	if err := client.Login(c.user, c.password); err != nil {
		_ = client.Logout()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	return client, nil
}

// unseenUIDs keeps the newest max unseen UIDs, in ascending order.
func unseenUIDs(client *imapclient.Client, max int) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	return newest(uids, max), nil
}

func newest(uids []uint32, max int) []uint32 {
	if max > 0 && len(uids) > max {
		return uids[len(uids)-max:]
	}
	return uids
}

func fetchMessages(client *imapclient.Client, uidSet *imap.SeqSet, n int) ([]internal.FetchedMailMessage, error) {
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, n)
	done := make(chan error, 1)
	go func() { done <- client.UidFetch(uidSet, items, messages) }()

	out := make([]internal.FetchedMailMessage, 0, n)
	for msg := range messages {
		if fetched, ok := toFetched(msg, section); ok {
			out = append(out, fetched)
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}
	return out, nil
}

// toFetched skips messages whose body was not returned or cannot be read.
func toFetched(msg *imap.Message, section *imap.BodySectionName) (internal.FetchedMailMessage, bool) {
	if msg == nil {
		return internal.FetchedMailMessage{}, false
	}
	body := msg.GetBody(section)
	if body == nil {
		return internal.FetchedMailMessage{}, false
	}
	raw, err := io.ReadAll(body)
	if err != nil || len(raw) == 0 {
		return internal.FetchedMailMessage{}, false
	}

	fetched := internal.FetchedMailMessage{
		Provider:   "imap",
		MessageID:  fmt.Sprintf("imap-%d", msg.Uid),
		ReceivedAt: receivedAt(msg.InternalDate),
		Raw:        raw,
	}
	if env := msg.Envelope; env != nil {
		if id := strings.TrimSpace(env.MessageId); id != "" {
			fetched.MessageID = id
		}
		fetched.Subject = strings.TrimSpace(env.Subject)
		fetched.From = formatAddresses(env.From)
	}
	return fetched, true
}

func receivedAt(internalDate time.Time) string {
	if internalDate.IsZero() {
		internalDate = time.Now()
	}
	return internalDate.UTC().Format(time.RFC3339)
}

// ctxErr prefers the context error when a command failed because the
// connection was dropped on cancellation.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func formatAddresses(addrs []*imap.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == nil {
			continue
		}
		email := a.Address()
		if a.PersonalName != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.PersonalName, email))
		} else {
			parts = append(parts, email)
		}
	}
	return strings.Join(parts, ", ")
}
