package transcript

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"cardsmith/internal"
	"cardsmith/internal/config"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestExtractVideoID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ?t=42", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=abc", "dQw4w9WgXcQ"},
		{"https://m.youtube.com/watch?feature=share&v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
	}
	for _, tc := range tests {
		t.Run(tc.url, func(t *testing.T) {
			got, err := ExtractVideoID(tc.url)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}

	for _, bad := range []string{"", "https://example.com/video", "https://www.youtube.com/watch?v=%%%"} {
		if _, err := ExtractVideoID(bad); !errors.Is(err, internal.ErrInvalidRequest) {
			t.Fatalf("%q: err=%v", bad, err)
		}
	}
}

func TestParseTimedText(t *testing.T) {
	body := `<?xml version="1.0" encoding="utf-8" ?><transcript>` +
		`<text start="0" dur="1.2">Welcome to the</text>` +
		`<text start="1.2" dur="2">lecture on &amp;#39;cells&amp;#39;</text>` +
		`<text start="3.2" dur="1">  </text>` +
		`<text start="4" dur="1">Mitochondria
produce energy</text></transcript>`

	got, err := ParseTimedText([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	want := "Welcome to the lecture on 'cells' Mitochondria produce energy"
	if got != want {
		t.Fatalf("got %q", got)
	}

	if _, err := ParseTimedText([]byte(`<transcript></transcript>`)); !errors.Is(err, internal.ErrEmptyContent) {
		t.Fatalf("err=%v", err)
	}
}

func TestFetchBuildsQuery(t *testing.T) {
	f := NewFetcher(config.Config{TranscriptBaseURL: "https://video.example.test/api/timedtext", TranscriptLang: "fr"})
	f.httpClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Query().Get("v") != "abc123XYZ" || r.URL.Query().Get("lang") != "fr" {
			t.Fatalf("query=%s", r.URL.RawQuery)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`<transcript><text>Bonjour</text></transcript>`)),
			Header:     make(http.Header),
		}, nil
	})}

	got, err := f.Fetch(context.Background(), "abc123XYZ")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Bonjour" {
		t.Fatalf("got %q", got)
	}
}
