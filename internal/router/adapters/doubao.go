package adapters

import (
	"context"
	"net/http"
	"strings"

	"github.com/af-corp/persona-gateway/internal/config"
	"github.com/af-corp/persona-gateway/internal/types"
)

// DoubaoAdapter talks to the Ark (Doubao) chat completion endpoint. Generation
// parameters travel under "parameters" and routing hints under "metadata".
type DoubaoAdapter struct {
	name   string
	cfg    config.ProviderConfig
	client *http.Client
}

func NewDoubaoAdapter(name string, cfg config.ProviderConfig, client *http.Client) *DoubaoAdapter {
	return &DoubaoAdapter{name: name, cfg: cfg, client: client}
}

func (a *DoubaoAdapter) Name() string { return a.name }

func (a *DoubaoAdapter) buildRequest(ctx context.Context, req *types.ChatRequest, stream bool) (*http.Request, error) {
	body := doubaoRequestBody{
		Model:    modelOr(req.Model, a.cfg.Model),
		Messages: req.Messages,
		Metadata: req.HintMetadata(),
		Stream:   stream,
	}
	if req.MaxTokens != nil || req.Temperature != nil {
		body.Parameters = &doubaoParameters{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		}
	}

	httpReq, err := newJSONRequest(ctx, strings.TrimRight(a.cfg.BaseURL, "/")+"/chat/completions", body, a.cfg.Headers)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	return httpReq, nil
}

func (a *DoubaoAdapter) Complete(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
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

func (a *DoubaoAdapter) Stream(ctx context.Context, req *types.ChatRequest) (TextStream, error) {
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

type doubaoParameters struct {
	MaxOutputTokens *int     `json:"max_output_tokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type doubaoRequestBody struct {
	Model      string            `json:"model"`
	Messages   []types.Message   `json:"messages"`
	Parameters *doubaoParameters `json:"parameters,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	Stream     bool              `json:"stream,omitempty"`
}
