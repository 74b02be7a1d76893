package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/af-corp/persona-gateway/internal/config"
	"github.com/af-corp/persona-gateway/internal/types"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func collect(t *testing.T, s TextStream) []string {
	t.Helper()
	defer s.Close()
	var out []string
	for s.Next() {
		out = append(out, s.Text())
	}
	if err := s.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	return out
}

// captured is what a test server saw; handed over a channel so reads are synchronized.
type captured struct {
	header http.Header
	path   string
	body   map[string]any
}

func capture(r *http.Request) captured {
	raw, _ := io.ReadAll(r.Body)
	c := captured{header: r.Header.Clone(), path: r.URL.Path}
	json.Unmarshal(raw, &c.body)
	return c
}

func sseServer(t *testing.T, lines []string) (*httptest.Server, <-chan captured) {
	t.Helper()
	seen := make(chan captured, 1)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case seen <- capture(r):
		default:
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n", line)
			flusher.Flush()
		}
	})), seen
}

func TestOpenAIAdapter_Complete(t *testing.T) {
	seen := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- capture(r)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"model":"gpt-4o-2024","choices":[{"index":0,"message":{"role":"assistant","content":"hello"}}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`)
	}))
	defer srv.Close()

	a := NewOpenAIAdapter("openai", config.ProviderConfig{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "gpt-4o"}, srv.Client())
	resp, err := a.Complete(context.Background(), &types.ChatRequest{
		Messages:  []types.Message{{Role: "user", Content: "hi"}},
		MaxTokens: intPtr(50),
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	c := <-seen
	gotBody := c.body
	if c.path != "/v1/chat/completions" {
		t.Errorf("unexpected path %s", c.path)
	}
	if got := c.header.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("unexpected auth header %q", got)
	}
	if gotBody["model"] != "gpt-4o" {
		t.Errorf("expected configured model, got %v", gotBody["model"])
	}
	if gotBody["max_tokens"] != float64(50) {
		t.Errorf("expected max_tokens 50, got %v", gotBody["max_tokens"])
	}
	if _, ok := gotBody["stream"]; ok {
		t.Error("unary request should not set stream")
	}

	if resp.Text != "hello" || resp.Model != "gpt-4o-2024" || resp.Provider != "openai" {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 4 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
}

func TestOpenAIAdapter_Complete_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, 500},
		{"unauthorized", http.StatusUnauthorized, `bad key`, 401},
		{"malformed body", http.StatusOK, `{not json`, 0},
		{"no choices", http.StatusOK, `{"choices":[]}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			a := NewOpenAIAdapter("openai", config.ProviderConfig{BaseURL: srv.URL}, srv.Client())
			_, err := a.Complete(context.Background(), &types.ChatRequest{})
			var pe *types.ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("expected ProviderError, got %v", err)
			}
			if pe.StatusCode != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, pe.StatusCode)
			}
			if pe.Provider != "openai" {
				t.Errorf("expected provider openai, got %s", pe.Provider)
			}
		})
	}
}

func TestOpenAIAdapter_Stream(t *testing.T) {
	lines := []string{
		`: keep-alive`,
		``,
		`data: {"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"role":"assistant"}}]}`,
		`data: {"choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
		`data: not-json-at-all`,
		``,
		`data: {"choices":[{"index":0,"delta":{"content":[{"type":"text","text":"lo"},{"type":"image","url":"x"},{"type":"text","text":" there"}]}}]}`,
		`data: {"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`,
		`data: [DONE]`,
		`data: {"choices":[{"index":0,"delta":{"content":"after done"}}]}`,
	}
	srv, seen := sseServer(t, lines)
	defer srv.Close()

	a := NewOpenAIAdapter("openai", config.ProviderConfig{BaseURL: srv.URL, Model: "gpt-4o"}, srv.Client())
	s, err := a.Stream(context.Background(), &types.ChatRequest{Messages: []types.Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	got := collect(t, s)
	want := []string{"Hel", "lo", " there"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("fragments = %q, want %q", got, want)
	}
	if s.Model() != "gpt-4o-mini" {
		t.Errorf("expected model from chunk, got %s", s.Model())
	}
	if u := s.Usage(); u == nil || u.TotalTokens != 8 {
		t.Errorf("unexpected usage %+v", u)
	}
	gotBody := (<-seen).body
	if gotBody["stream"] != true {
		t.Error("expected stream=true in request body")
	}
	if opts, _ := gotBody["stream_options"].(map[string]any); opts["include_usage"] != true {
		t.Errorf("expected stream_options.include_usage, got %v", gotBody["stream_options"])
	}
}

func TestStream_EmptySequence(t *testing.T) {
	srv, _ := sseServer(t, []string{`data: [DONE]`})
	defer srv.Close()

	a := NewOpenAIAdapter("openai", config.ProviderConfig{BaseURL: srv.URL, Model: "m"}, srv.Client())
	s, err := a.Stream(context.Background(), &types.ChatRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if got := collect(t, s); len(got) != 0 {
		t.Errorf("expected no fragments, got %q", got)
	}
	if s.Model() != "m" {
		t.Errorf("expected requested model to be reported, got %q", s.Model())
	}
	if s.Usage() != nil {
		t.Error("expected nil usage when vendor sends none")
	}
}

func TestStream_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewDoubaoAdapter("doubao", config.ProviderConfig{BaseURL: srv.URL}, srv.Client())
	_, err := a.Stream(context.Background(), &types.ChatRequest{})
	var pe *types.ProviderError
	if !errors.As(err, &pe) || pe.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 ProviderError, got %v", err)
	}
}

func TestStream_CancelReleasesTransport(t *testing.T) {
	released := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(released)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	a := NewOpenAIAdapter("openai", config.ProviderConfig{BaseURL: srv.URL}, srv.Client())
	s, err := a.Stream(ctx, &types.ChatRequest{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if !s.Next() || s.Text() != "first" {
		t.Fatalf("expected first fragment, got %q (err %v)", s.Text(), s.Err())
	}
	cancel()
	if s.Next() {
		t.Fatal("expected stream to stop after cancellation")
	}
	if s.Err() == nil {
		t.Error("expected a read error after cancellation")
	}

	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("vendor connection was not released")
	}
}

func TestDoubaoAdapter_Payload(t *testing.T) {
	seen := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- capture(r)
		fmt.Fprint(w, `{"choices":[{"message":{"content":[{"type":"text","text":"你好"}]}}]}`)
	}))
	defer srv.Close()

	a := NewDoubaoAdapter("doubao", config.ProviderConfig{BaseURL: srv.URL, Model: "doubao-pro"}, srv.Client())
	resp, err := a.Complete(context.Background(), &types.ChatRequest{
		Messages:    []types.Message{{Role: "user", Content: "hi"}},
		MaxTokens:   intPtr(200),
		Temperature: floatPtr(0.5),
		RoomID:      "room-1",
		Metadata:    map[string]any{"scene": "cafe"},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	gotBody := (<-seen).body
	params, _ := gotBody["parameters"].(map[string]any)
	if params["max_output_tokens"] != float64(200) || params["temperature"] != 0.5 {
		t.Errorf("unexpected parameters %v", gotBody["parameters"])
	}
	if _, ok := gotBody["max_tokens"]; ok {
		t.Error("doubao payload must not carry max_tokens")
	}
	md, _ := gotBody["metadata"].(map[string]any)
	if md["room_id"] != "room-1" || md["scene"] != "cafe" {
		t.Errorf("unexpected metadata %v", gotBody["metadata"])
	}

	if resp.Text != "你好" {
		t.Errorf("unexpected text %q", resp.Text)
	}
	if resp.Model != "doubao-pro" {
		t.Errorf("expected configured model when response omits it, got %q", resp.Model)
	}
	if resp.Usage != nil {
		t.Errorf("expected nil usage, got %+v", resp.Usage)
	}
}

func TestAnthropicAdapter_Complete(t *testing.T) {
	seen := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- capture(r)
		fmt.Fprint(w, `{"model":"claude-x","content":[{"type":"text","text":"Hi "},{"type":"text","text":"there"}],"usage":{"input_tokens":7,"output_tokens":2}}`)
	}))
	defer srv.Close()

	a := NewAnthropicAdapter("anthropic", config.ProviderConfig{BaseURL: srv.URL, APIKey: "ant-key"}, srv.Client())
	resp, err := a.Complete(context.Background(), &types.ChatRequest{
		Messages: []types.Message{
			{Role: "system", Content: "be kind"},
			{Role: "user", Content: "hello"},
		},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	c := <-seen
	gotBody := c.body
	gotKey, gotVersion := c.header.Get("x-api-key"), c.header.Get("anthropic-version")
	if gotKey != "ant-key" || gotVersion != anthropicDefaultVersion {
		t.Errorf("unexpected headers key=%q version=%q", gotKey, gotVersion)
	}
	if gotBody["system"] != "be kind" {
		t.Errorf("expected system prompt lifted, got %v", gotBody["system"])
	}
	if msgs, _ := gotBody["messages"].([]any); len(msgs) != 1 {
		t.Errorf("expected 1 non-system message, got %v", gotBody["messages"])
	}
	if gotBody["max_tokens"] != float64(anthropicDefaultMaxTokens) {
		t.Errorf("expected default max_tokens, got %v", gotBody["max_tokens"])
	}
	if resp.Text != "Hi there" || resp.Usage.TotalTokens != 9 {
		t.Errorf("unexpected response %+v usage %+v", resp, resp.Usage)
	}
}

func TestAnthropicAdapter_Stream(t *testing.T) {
	lines := []string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"id":"msg_1","model":"claude-3","usage":{"input_tokens":10}}}`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`,
		`data: {"type":"ping"}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" world"}}`,
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":4}}`,
		`data: {"type":"message_stop"}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"ignored"}}`,
	}
	srv, _ := sseServer(t, lines)
	defer srv.Close()

	a := NewAnthropicAdapter("anthropic", config.ProviderConfig{BaseURL: srv.URL}, srv.Client())
	s, err := a.Stream(context.Background(), &types.ChatRequest{})
	if err != nil {
		t.Fatal(err)
	}
	got := collect(t, s)
	if strings.Join(got, "") != "Hello world" {
		t.Errorf("unexpected fragments %q", got)
	}
	if s.Model() != "claude-3" {
		t.Errorf("unexpected model %q", s.Model())
	}
	u := s.Usage()
	if u == nil || u.PromptTokens != 10 || u.CompletionTokens != 4 || u.TotalTokens != 14 {
		t.Errorf("unexpected usage %+v", u)
	}
}

func TestContentTexts(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{`"plain"`, []string{"plain"}},
		{`""`, []string{""}},
		{`null`, nil},
		{``, nil},
		{`[{"type":"text","text":"a"},{"type":"image_url"},{"type":"text","text":"b"}]`, []string{"a", "b"}},
		{`42`, nil},
	}
	for _, tt := range tests {
		got := contentTexts(json.RawMessage(tt.raw))
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("contentTexts(%s) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
