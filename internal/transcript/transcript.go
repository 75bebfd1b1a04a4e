package transcript

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"cardsmith/internal"
	"cardsmith/internal/config"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,20}$`)

// ExtractVideoID returns the video id from a youtu.be short link or a URL with
// a v= query parameter.
func ExtractVideoID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	invalid := internal.NewError(internal.StageRequest, internal.KindInvalidRequest, "invalid YouTube URL", nil)
	if raw == "" {
		return "", invalid
	}

	var id string
	if strings.Contains(raw, "youtu.be") {
		rest := raw[strings.LastIndex(raw, "/")+1:]
		rest, _, _ = strings.Cut(rest, "?")
		id, _, _ = strings.Cut(rest, "#")
	} else if u, err := url.Parse(raw); err == nil && u.Query().Get("v") != "" {
		id = u.Query().Get("v")
	} else if _, after, ok := strings.Cut(raw, "v="); ok {
		id, _, _ = strings.Cut(after, "&")
	}

	if !videoIDPattern.MatchString(id) {
		return "", invalid
	}
	return id, nil
}

type timedText struct {
	Entries []struct {
		Text string `xml:",chardata"`
	} `xml:"text"`
}

type Fetcher struct {
	baseURL    string
	lang       string
	httpClient *http.Client
	log        *slog.Logger
}

func NewFetcher(cfg config.Config) *Fetcher {
	return &Fetcher{
		baseURL:    cfg.TranscriptBaseURL,
		lang:       cfg.TranscriptLang,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        slog.Default(),
	}
}

// Fetch downloads the timed-text track for videoID and returns its entries
// joined by single spaces.
func (f *Fetcher) Fetch(ctx context.Context, videoID string) (string, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse transcript url: %w", err)
	}
	q := u.Query()
	q.Set("v", videoID)
	if f.lang != "" {
		q.Set("lang", f.lang)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build transcript request: %w", err)
	}

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return "", internal.NewError(internal.StageNormalize, internal.KindGatewayTimeout, "transcript download timed out", err)
		}
		return "", internal.NewError(internal.StageNormalize, internal.KindGatewayTransport, "transcript download failed", err)
	}
	defer resp.Body.Close()
	f.log.Info("transcript.fetch", "video_id", videoID, "status", resp.StatusCode, "elapsed_ms", time.Since(start).Milliseconds())

	if resp.StatusCode == http.StatusNotFound {
		return "", internal.NewError(internal.StageNormalize, internal.KindEmptyContent, "no transcript is available for this video", nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", internal.NewError(internal.StageNormalize, internal.KindGatewayTransport,
			fmt.Sprintf("transcript service status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", internal.NewError(internal.StageNormalize, internal.KindGatewayTransport, "read transcript", err)
	}
	return ParseTimedText(body)
}

// ParseTimedText reads a timedtext XML document. Entry text is HTML-unescaped
// once more because the service double-encodes entities.
func ParseTimedText(body []byte) (string, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", internal.NewError(internal.StageNormalize, internal.KindEmptyContent, "no transcript is available for this video", nil)
	}

	var doc timedText
	if err := xml.Unmarshal(body, &doc); err != nil {
		return "", internal.NewError(internal.StageNormalize, internal.KindCorruptDocument, "cannot read transcript", err)
	}

	parts := make([]string, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		text := strings.Join(strings.Fields(html.UnescapeString(e.Text)), " ")
		if text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", internal.NewError(internal.StageNormalize, internal.KindEmptyContent, "transcript is empty", nil)
	}
	return strings.Join(parts, " "), nil
}
