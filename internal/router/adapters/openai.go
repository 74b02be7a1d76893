package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/af-corp/persona-gateway/internal/config"
	"github.com/af-corp/persona-gateway/internal/types"
)

// OpenAIAdapter handles communication with OpenAI-compatible chat completion APIs.
type OpenAIAdapter struct {
	name   string
	cfg    config.ProviderConfig
	client *http.Client
}

func NewOpenAIAdapter(name string, cfg config.ProviderConfig, client *http.Client) *OpenAIAdapter {
	return &OpenAIAdapter{name: name, cfg: cfg, client: client}
}

func (a *OpenAIAdapter) Name() string { return a.name }

func (a *OpenAIAdapter) buildRequest(ctx context.Context, req *types.ChatRequest, stream bool) (*http.Request, error) {
	body := openAIRequestBody{
		Model:       modelOr(req.Model, a.cfg.Model),
		Messages:    req.Messages,
		Stream:      stream,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		User:        req.UserID,
	}
	if stream {
		body.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}

	httpReq, err := newJSONRequest(ctx, strings.TrimRight(a.cfg.BaseURL, "/")+"/chat/completions", body, a.cfg.Headers)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	return httpReq, nil
}

func (a *OpenAIAdapter) Complete(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
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
	return decodeChatCompletion(a.name, modelOr(req.Model, a.cfg.Model), resp)
}

func (a *OpenAIAdapter) Stream(ctx context.Context, req *types.ChatRequest) (TextStream, error) {
	httpReq, err := a.buildRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	resp, err := send(a.client, a.name, httpReq)
	if err != nil {
		return nil, err
	}
	return newSSEStream(a.name, modelOr(req.Model, a.cfg.Model), resp.Body, parseChatCompletionChunk), nil
}

// decodeChatCompletion parses a /chat/completions response shared by OpenAI-compatible vendors.
func decodeChatCompletion(provider, requestedModel string, resp *http.Response) (*types.ChatResponse, error) {
	var body chatCompletionBody
	if err := decodeBody(provider, resp, &body); err != nil {
		return nil, err
	}
	if len(body.Choices) == 0 || body.Choices[0].Message == nil {
		return nil, &types.ProviderError{Provider: provider, Message: "response has no choices"}
	}
	return &types.ChatResponse{
		Text:     strings.Join(contentTexts(body.Choices[0].Message.Content), ""),
		Model:    modelOr(body.Model, requestedModel),
		Provider: provider,
		Usage:    body.Usage,
	}, nil
}

// parseChatCompletionChunk decodes one streaming chunk of a /chat/completions stream.
func parseChatCompletionChunk(data []byte) (streamEvent, bool) {
	var chunk chatCompletionBody
	if err := json.Unmarshal(data, &chunk); err != nil {
		return streamEvent{}, false
	}
	ev := streamEvent{Model: chunk.Model, Usage: chunk.Usage}
	for _, choice := range chunk.Choices {
		holder := choice.Delta
		if holder == nil {
			holder = choice.Message
		}
		if holder == nil {
			continue
		}
		ev.Texts = append(ev.Texts, contentTexts(holder.Content)...)
	}
	return ev, true
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIRequestBody struct {
	Model         string               `json:"model"`
	Messages      []types.Message      `json:"messages"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *openAIStreamOptions `json:"stream_options,omitempty"`
	Temperature   *float64             `json:"temperature,omitempty"`
	MaxTokens     *int                 `json:"max_tokens,omitempty"`
	User          string               `json:"user,omitempty"`
}

type chatContent struct {
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content"`
}

// chatCompletionBody covers both unary responses (message) and stream chunks (delta).
type chatCompletionBody struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int          `json:"index"`
		Message      *chatContent `json:"message"`
		Delta        *chatContent `json:"delta"`
		FinishReason *string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *types.Usage `json:"usage"`
}
