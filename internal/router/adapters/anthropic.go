package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/af-corp/persona-gateway/internal/config"
	"github.com/af-corp/persona-gateway/internal/types"
)

const (
	anthropicDefaultVersion   = "2023-06-01"
	anthropicDefaultMaxTokens = 4096
)

// AnthropicAdapter handles communication with the Anthropic Messages API.
type AnthropicAdapter struct {
	name   string
	cfg    config.ProviderConfig
	client *http.Client
}

func NewAnthropicAdapter(name string, cfg config.ProviderConfig, client *http.Client) *AnthropicAdapter {
	return &AnthropicAdapter{name: name, cfg: cfg, client: client}
}

func (a *AnthropicAdapter) Name() string { return a.name }

func (a *AnthropicAdapter) buildRequest(ctx context.Context, req *types.ChatRequest, stream bool) (*http.Request, error) {
	// System turns are lifted out of the message list.
	var system []string
	var messages []anthropicMessage
	for _, m := range req.Messages {
		if m.Role == types.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		messages = append(messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	maxTokens := anthropicDefaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	body := anthropicRequestBody{
		Model:       modelOr(req.Model, a.cfg.Model),
		Messages:    messages,
		System:      strings.Join(system, "\n\n"),
		MaxTokens:   maxTokens,
		Stream:      stream,
		Temperature: req.Temperature,
	}
	if req.UserID != "" {
		body.Metadata = &anthropicMetadata{UserID: req.UserID}
	}

	httpReq, err := newJSONRequest(ctx, strings.TrimRight(a.cfg.BaseURL, "/")+"/messages", body, a.cfg.Headers)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)
	version := a.cfg.APIVersion
	if version == "" {
		version = anthropicDefaultVersion
	}
	httpReq.Header.Set("anthropic-version", version)
	return httpReq, nil
}

func (a *AnthropicAdapter) Complete(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	ctx, cancel := unaryContext(ctx, a.cfg.Timeout)
	defer cancel()

	httpReq, err := a.buildRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}
	resp, err := send(a.client, a.name, httpReq)
	if err != nil {
		return nil, err
	}

	var antResp anthropicResponseBody
	if err := decodeBody(a.name, resp, &antResp); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range antResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &types.ChatResponse{
		Text:     text.String(),
		Model:    modelOr(antResp.Model, modelOr(req.Model, a.cfg.Model)),
		Provider: a.name,
		Usage: &types.Usage{
			PromptTokens:     antResp.Usage.InputTokens,
			CompletionTokens: antResp.Usage.OutputTokens,
			TotalTokens:      antResp.Usage.InputTokens + antResp.Usage.OutputTokens,
		},
	}, nil
}

func (a *AnthropicAdapter) Stream(ctx context.Context, req *types.ChatRequest) (TextStream, error) {
	httpReq, err := a.buildRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	resp, err := send(a.client, a.name, httpReq)
	if err != nil {
		return nil, err
	}
	return newSSEStream(a.name, modelOr(req.Model, a.cfg.Model), resp.Body, parseAnthropicEvent), nil
}

// parseAnthropicEvent handles message_start, content_block_delta, message_delta
// and message_stop. Other event types carry nothing we forward.
func parseAnthropicEvent(data []byte) (streamEvent, bool) {
	var event struct {
		Type    string `json:"type"`
		Message struct {
			Model string         `json:"model"`
			Usage anthropicUsage `json:"usage"`
		} `json:"message"`
		Delta struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"delta"`
		Usage anthropicUsage `json:"usage"`
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return streamEvent{}, false
	}

	switch event.Type {
	case "message_start":
		ev := streamEvent{Model: event.Message.Model}
		if event.Message.Usage.InputTokens > 0 {
			ev.Usage = &types.Usage{PromptTokens: event.Message.Usage.InputTokens}
		}
		return ev, true
	case "content_block_delta":
		if event.Delta.Type != "text_delta" {
			return streamEvent{}, false
		}
		return streamEvent{Texts: []string{event.Delta.Text}}, true
	case "message_delta":
		if event.Usage.OutputTokens == 0 {
			return streamEvent{}, false
		}
		return streamEvent{Usage: &types.Usage{CompletionTokens: event.Usage.OutputTokens}}, true
	case "message_stop":
		return streamEvent{Done: true}, true
	default:
		return streamEvent{}, false
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicMetadata struct {
	UserID string `json:"user_id,omitempty"`
}

type anthropicRequestBody struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Stream      bool               `json:"stream,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	Metadata    *anthropicMetadata `json:"metadata,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponseBody struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      anthropicUsage `json:"usage"`
}
