package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"cardsmith/internal"
	"cardsmith/internal/config"
	"cardsmith/internal/util"
)

const maxErrorBody = 512

// Client talks to an OpenAI-compatible chat completions endpoint. One call per
// prompt, no retries.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	limiter     *RateLimiter
	log         *slog.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		baseURL:     cfg.CompletionBaseURL,
		apiKey:      cfg.CompletionAPIKey,
		model:       cfg.CompletionModel,
		temperature: cfg.CompletionTemperature,
		maxTokens:   cfg.CompletionMaxTokens,
		httpClient:  &http.Client{Timeout: cfg.CompletionTimeout},
		limiter:     NewRateLimiter(cfg.CompletionRateRPS),
		log:         slog.Default(),
	}
}

func (c *Client) WithLogger(logger *slog.Logger) *Client {
	if logger != nil {
		c.log = logger
	}
	return c
}

// Complete sends the prompt as a system + user message pair and returns the
// first choice's content. Errors are classified as gateway auth, timeout or
// transport failures.
func (c *Client) Complete(ctx context.Context, prompt internal.Prompt) (string, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return "", internal.NewError(internal.StageComplete, internal.KindGatewayAuth, "completion API key is not configured", nil)
	}

	payload := chatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", transportError("encode request", err)
	}

	if err := c.limiter.WaitTurn(ctx); err != nil {
		return "", classify(err)
	}

	endpoint := strings.TrimRight(c.baseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", transportError("build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	reqID := uuid.New().String()
	start := time.Now()
	c.log.Info("completion.request", "req_id", reqID, "model", c.model, "prompt_len", len(prompt.System)+len(prompt.User))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("completion.error", "req_id", reqID, "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
		return "", classify(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	c.log.Info("completion.response", "req_id", reqID, "status", resp.StatusCode, "elapsed_ms", time.Since(start).Milliseconds(), "bytes", len(raw))
	if err != nil {
		return "", classify(err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", internal.NewError(internal.StageComplete, internal.KindGatewayAuth,
			fmt.Sprintf("completion service rejected the credentials (status %d)", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout:
		return "", internal.NewError(internal.StageComplete, internal.KindGatewayTimeout,
			fmt.Sprintf("completion service timed out (status %d)", resp.StatusCode), nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		// Upstream bodies may echo the request, so they stay in the cause.
		return "", internal.NewError(internal.StageComplete, internal.KindGatewayTransport,
			fmt.Sprintf("completion service error (status %d)", resp.StatusCode),
			fmt.Errorf("upstream body: %s", util.Truncate(strings.TrimSpace(string(raw)), maxErrorBody)))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", transportError("decode response", err)
	}
	if len(out.Choices) == 0 {
		return "", internal.NewError(internal.StageComplete, internal.KindGatewayTransport, "completion response has no choices", nil)
	}
	return out.Choices[0].Message.Content, nil
}

func transportError(what string, err error) error {
	return internal.NewError(internal.StageComplete, internal.KindGatewayTransport, what, err)
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return internal.NewError(internal.StageComplete, internal.KindGatewayTimeout, "completion request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return internal.NewError(internal.StageComplete, internal.KindGatewayTimeout, "completion request timed out", err)
	}
	return transportError("completion request failed", err)
}
