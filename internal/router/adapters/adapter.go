package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/af-corp/persona-gateway/internal/types"
)

// maxResponseBody caps unary response bodies read from a vendor.
const maxResponseBody = 10 << 20

// maxErrorBody caps the vendor error body copied into a ProviderError.
const maxErrorBody = 4 << 10

// Provider normalizes one vendor's chat-completion API.
type Provider interface {
	Name() string
	// Complete performs a unary completion.
	Complete(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error)
	// Stream opens a fresh vendor stream. The caller must Close it.
	Stream(ctx context.Context, req *types.ChatRequest) (TextStream, error)
}

// TextStream is a lazy, non-restartable sequence of text fragments.
//
//	for s.Next() {
//		use(s.Text())
//	}
//	err := s.Err()
type TextStream interface {
	Next() bool
	Text() string
	Err() error
	// Model and Usage report vendor metadata seen so far; empty/nil when never sent.
	Model() string
	Usage() *types.Usage
	Close() error
}

// newJSONRequest builds a POST request with a JSON body and the configured extra headers.
func newJSONRequest(ctx context.Context, url string, body any, headers map[string]string) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	return req, nil
}

// send executes req and converts transport failures and non-2xx statuses to ProviderError.
func send(client *http.Client, provider string, req *http.Request) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, &types.ProviderError{Provider: provider, Message: "request failed", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, &types.ProviderError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}
	return resp, nil
}

// decodeBody reads a unary JSON response into dest and closes the body.
func decodeBody(provider string, resp *http.Response, dest any) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &types.ProviderError{Provider: provider, Message: "read response", Err: err}
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return &types.ProviderError{Provider: provider, Message: "malformed response", Err: err}
	}
	return nil
}

// contentTexts extracts text from a message content that is either a plain
// string or a list of typed segments. Only "text" segments contribute.
func contentTexts(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []string{s}
	}
	var segments []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &segments); err != nil {
		return nil
	}
	var out []string
	for _, seg := range segments {
		if seg.Type == "text" {
			out = append(out, seg.Text)
		}
	}
	return out
}

// unaryContext bounds a unary call by the provider timeout. Streams are not
// bounded this way; their lifetime belongs to the caller.
func unaryContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func modelOr(model, fallback string) string {
	if model != "" {
		return model
	}
	return fallback
}
