package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"cardsmith/internal"
	"cardsmith/internal/config"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func testClient(t *testing.T, fn roundTripFunc) *Client {
	t.Helper()
	cfg := config.Config{
		CompletionBaseURL:     "https://llm.example.test/v1/",
		CompletionAPIKey:      "secret-key",
		CompletionModel:       "test-model",
		CompletionTemperature: 0.7,
		CompletionMaxTokens:   256,
		CompletionTimeout:     time.Second,
		CompletionRateRPS:     1000,
	}
	client := NewClient(cfg)
	client.httpClient = &http.Client{Transport: fn}
	return client
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestCompleteSendsChatRequest(t *testing.T) {
	client := testClient(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret-key" {
			t.Fatalf("auth=%q", got)
		}
		var body chatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.Model != "test-model" || len(body.Messages) != 2 {
			t.Fatalf("body=%+v", body)
		}
		if body.Messages[0].Role != "system" || body.Messages[1].Content != "make cards" {
			t.Fatalf("messages=%+v", body.Messages)
		}
		return jsonResponse(http.StatusOK, `{"choices":[{"message":{"content":"Question: a\nAnswer: b"}}]}`), nil
	})

	reply, err := client.Complete(context.Background(), internal.Prompt{System: "sys", User: "make cards"})
	if err != nil {
		t.Fatal(err)
	}
	if reply != "Question: a\nAnswer: b" {
		t.Fatalf("reply=%q", reply)
	}
}

func TestCompleteClassifiesFailures(t *testing.T) {
	tests := []struct {
		name string
		fn   roundTripFunc
		want error
	}{
		{
			name: "unauthorized",
			fn: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusUnauthorized, `{"error":"bad key"}`), nil
			},
			want: internal.ErrGatewayAuth,
		},
		{
			name: "forbidden",
			fn: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusForbidden, `{}`), nil
			},
			want: internal.ErrGatewayAuth,
		},
		{
			name: "server error",
			fn: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusInternalServerError, `{"error":"boom"}`), nil
			},
			want: internal.ErrGatewayTransport,
		},
		{
			name: "connection refused",
			fn: func(*http.Request) (*http.Response, error) {
				return nil, errors.New("connection refused")
			},
			want: internal.ErrGatewayTransport,
		},
		{
			name: "deadline",
			fn: func(*http.Request) (*http.Response, error) {
				return nil, context.DeadlineExceeded
			},
			want: internal.ErrGatewayTimeout,
		},
		{
			name: "no choices",
			fn: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, `{"choices":[]}`), nil
			},
			want: internal.ErrGatewayTransport,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := testClient(t, tc.fn)
			_, err := client.Complete(context.Background(), internal.Prompt{System: "s", User: "u"})
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want kind %v", err, tc.want)
			}
		})
	}
}

func TestCompleteMissingKeySkipsNetwork(t *testing.T) {
	client := testClient(t, func(*http.Request) (*http.Response, error) {
		t.Fatal("request should not be sent")
		return nil, nil
	})
	client.apiKey = " "

	_, err := client.Complete(context.Background(), internal.Prompt{User: "u"})
	if !errors.Is(err, internal.ErrGatewayAuth) {
		t.Fatalf("err=%v", err)
	}
	if strings.Contains(err.Error(), "secret-key") {
		t.Fatalf("error leaks key: %v", err)
	}
}

func TestRateLimiterHonoursContext(t *testing.T) {
	limiter := NewRateLimiter(1)
	if err := limiter.WaitTurn(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := limiter.WaitTurn(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
}

func TestCompleteKeepsUpstreamBodyOutOfPublicMessage(t *testing.T) {
	client := testClient(t, func(r *http.Request) (*http.Response, error) {
		sent, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatal(err)
		}
		return jsonResponse(http.StatusBadRequest, "invalid request: "+string(sent)), nil
	})

	_, err := client.Complete(context.Background(), internal.Prompt{System: "s", User: "SECRET PROMPT TEXT"})
	var classified *internal.Error
	if !errors.As(err, &classified) || classified.Kind != internal.KindGatewayTransport {
		t.Fatalf("err=%v", err)
	}
	if strings.Contains(classified.Public(), "SECRET PROMPT TEXT") {
		t.Fatalf("public message leaks prompt: %q", classified.Public())
	}
	if !strings.Contains(classified.Public(), "status 400") {
		t.Fatalf("public=%q", classified.Public())
	}
	if classified.Cause == nil || !strings.Contains(classified.Cause.Error(), "invalid request") {
		t.Fatalf("cause=%v", classified.Cause)
	}
}

func TestCompleteLogsRequestAndResponse(t *testing.T) {
	var logs bytes.Buffer
	client := testClient(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"choices":[{"message":{"content":"ok"}}]}`), nil
	}).WithLogger(slog.New(slog.NewTextHandler(&logs, nil)))

	if _, err := client.Complete(context.Background(), internal.Prompt{User: "u"}); err != nil {
		t.Fatal(err)
	}
	for _, event := range []string{"msg=completion.request", "msg=completion.response"} {
		if !strings.Contains(logs.String(), event) {
			t.Fatalf("missing %s in %q", event, logs.String())
		}
	}
	if strings.Contains(logs.String(), "secret-key") {
		t.Fatalf("api key logged: %q", logs.String())
	}
}
