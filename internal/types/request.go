package types

// Roles accepted in provider-facing message lists.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatRequest is the canonical provider-facing representation of a completion request.
// Adapters translate it into each vendor's wire format.
type ChatRequest struct {
	Model       string         `json:"model,omitempty"`
	Messages    []Message      `json:"messages"`
	Temperature *float64       `json:"temperature,omitempty"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
	Stream      bool           `json:"stream"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	// Routing hints. Forwarded to providers as metadata only.
	CharacterID string `json:"character_id,omitempty"`
	RoomID      string `json:"room_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HintMetadata returns the request metadata with the routing hints folded in.
// Explicit metadata keys win over hints.
func (r *ChatRequest) HintMetadata() map[string]any {
	out := make(map[string]any, len(r.Metadata)+3)
	if r.CharacterID != "" {
		out["character_id"] = r.CharacterID
	}
	if r.RoomID != "" {
		out["room_id"] = r.RoomID
	}
	if r.UserID != "" {
		out["user_id"] = r.UserID
	}
	for k, v := range r.Metadata {
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
