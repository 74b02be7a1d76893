package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/af-corp/persona-gateway/internal/httputil"
	"github.com/af-corp/persona-gateway/internal/ratelimit"
	"github.com/af-corp/persona-gateway/internal/router"
	"github.com/af-corp/persona-gateway/internal/router/adapters"
	"github.com/af-corp/persona-gateway/internal/telemetry"
	"github.com/af-corp/persona-gateway/internal/types"
)

// maxRequestBody caps the JSON body of /chat and /streamchat.
const maxRequestBody = 1 << 20

// ChatRouter is the routing core behind the HTTP endpoints. *router.Holder satisfies it.
type ChatRouter interface {
	Chat(ctx context.Context, p router.ChatParams) (*types.ChatResponse, error)
	Stream(ctx context.Context, p router.ChatParams) (adapters.TextStream, error)
	Aliases() []router.Alias
}

// Handler holds dependencies for the gateway HTTP handlers.
type Handler struct {
	router        ChatRouter
	streamEnabled func() bool
	metrics       *telemetry.Metrics
	logger        *slog.Logger
	now           func() time.Time
}

// NewHandler creates the HTTP façade. streamEnabled is consulted per request
// so reloads take effect without a restart.
func NewHandler(r ChatRouter, streamEnabled func() bool, metrics *telemetry.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if streamEnabled == nil {
		streamEnabled = func() bool { return true }
	}
	return &Handler{
		router:        r,
		streamEnabled: streamEnabled,
		metrics:       metrics,
		logger:        logger,
		now:           time.Now,
	}
}

// ChatResponse is the body of a successful POST /chat.
type ChatResponse struct {
	Code int              `json:"code"`
	Data ChatResponseData `json:"data"`
}

type ChatResponseData struct {
	Text    string       `json:"text"`
	Model   string       `json:"model"`
	Usage   *types.Usage `json:"usage"`
	Created time.Time    `json:"created"`
}

// AliasList is the body of GET /aliases.
type AliasList struct {
	Object string         `json:"object"`
	Data   []router.Alias `json:"data"`
}

// Chat handles POST /chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	params, ok := h.decodeParams(w, r, reqID)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := h.router.Chat(r.Context(), params)
	labels := telemetry.AIRequestLabels{Scope: ratelimit.ScopeHTTPChat, Status: "ok", DurationMs: msSince(start)}
	if err != nil {
		labels.Status = statusLabel(err)
		h.metrics.RecordAIRequest(labels)
		h.writeRouterError(w, reqID, err)
		return
	}
	labels.Model = resp.Model
	if resp.Usage != nil {
		labels.PromptTokens, labels.CompletionTokens = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	h.metrics.RecordAIRequest(labels)

	h.logger.Info("chat completed",
		"request_id", reqID,
		"provider", resp.Provider,
		"model", resp.Model,
		"duration_ms", labels.DurationMs,
	)
	httputil.WriteJSON(w, http.StatusOK, ChatResponse{
		Code: http.StatusOK,
		Data: ChatResponseData{
			Text:    resp.Text,
			Model:   resp.Model,
			Usage:   resp.Usage,
			Created: h.now().UTC(),
		},
	})
}

// StreamChat handles POST /streamchat.
func (h *Handler) StreamChat(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	if !h.streamEnabled() {
		httputil.WriteFeatureDisabledError(w, reqID, "Streaming is disabled")
		return
	}
	params, ok := h.decodeParams(w, r, reqID)
	if !ok {
		return
	}

	start := time.Now()
	stream, err := h.router.Stream(r.Context(), params)
	if err != nil {
		h.metrics.RecordAIRequest(telemetry.AIRequestLabels{
			Scope:      ratelimit.ScopeHTTPStream,
			Status:     statusLabel(err),
			DurationMs: msSince(start),
		})
		h.writeRouterError(w, reqID, err)
		return
	}
	defer stream.Close()

	err = streamSSE(w, reqID, stream)
	labels := telemetry.AIRequestLabels{
		Scope:      ratelimit.ScopeHTTPStream,
		Status:     "ok",
		Model:      stream.Model(),
		DurationMs: msSince(start),
	}
	if usage := stream.Usage(); usage != nil {
		labels.PromptTokens, labels.CompletionTokens = usage.PromptTokens, usage.CompletionTokens
	}
	switch {
	case r.Context().Err() != nil:
		labels.Status = "aborted"
	case err != nil:
		labels.Status = statusLabel(err)
		h.logger.Error("stream failed", "request_id", reqID, "error", err)
	}
	h.metrics.RecordAIRequest(labels)
}

// ListAliases handles GET /aliases.
func (h *Handler) ListAliases(w http.ResponseWriter, r *http.Request) {
	aliases := h.router.Aliases()
	if aliases == nil {
		aliases = []router.Alias{}
	}
	httputil.WriteJSON(w, http.StatusOK, AliasList{Object: "list", Data: aliases})
}

// decodeParams reads the request body. On failure it writes a 400 and reports false.
func (h *Handler) decodeParams(w http.ResponseWriter, r *http.Request, reqID string) (router.ChatParams, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, "Failed to read request body")
		return router.ChatParams{}, false
	}
	defer r.Body.Close()

	var payload router.ChatPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return router.ChatParams{}, false
	}
	if payload.Messages == nil {
		httputil.WriteBadRequestError(w, reqID, "messages is required")
		return router.ChatParams{}, false
	}
	params, err := payload.Params()
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, err.Error())
		return router.ChatParams{}, false
	}
	return params, true
}

func (h *Handler) writeRouterError(w http.ResponseWriter, reqID string, err error) {
	var pe *types.ProviderError
	switch {
	case errors.As(err, &pe):
		h.logger.Error("provider request failed", "request_id", reqID, "provider", pe.Provider, "error", err)
		httputil.WriteBadGatewayError(w, reqID, "AI provider error: "+err.Error())
	case types.IsConfigurationError(err):
		h.logger.Error("routing misconfigured", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, err.Error())
	default:
		h.logger.Error("chat failed", "request_id", reqID, "error", err)
		httputil.WriteBadGatewayError(w, reqID, "AI provider error: "+err.Error())
	}
}

func statusLabel(err error) string {
	switch {
	case types.IsConfigurationError(err):
		return "configuration_error"
	default:
		return "provider_error"
	}
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
