package router

import (
	"fmt"

	"github.com/af-corp/persona-gateway/internal/types"
)

// ChatPayload is the client-facing body of a chat request, shared by the
// WebSocket ai.* ops and the HTTP endpoints. Both camelCase and snake_case
// spellings are accepted; camelCase wins when both are present.
type ChatPayload struct {
	Messages      []types.Message `json:"messages"`
	ModelAlias    string          `json:"modelAlias"`
	Temperature   *float64        `json:"temperature"`
	MaxTokens     *int            `json:"maxTokens"`
	Metadata      map[string]any  `json:"metadata"`
	CharacterName string          `json:"characterName"`
	SystemPrompt  *string         `json:"systemPrompt"`
	UserID        string          `json:"userId"`
	RoomID        string          `json:"roomId"`
	CharacterID   string          `json:"characterId"`

	ModelAliasSnake    string  `json:"model_alias"`
	MaxTokensSnake     *int    `json:"max_tokens"`
	CharacterNameSnake string  `json:"character_name"`
	SystemPromptSnake  *string `json:"system_prompt"`
	UserIDSnake        string  `json:"user_id"`
	RoomIDSnake        string  `json:"room_id"`
	CharacterIDSnake   string  `json:"character_id"`
}

// Params validates p and converts it to ChatParams. A zero max-tokens value
// is treated as unset. Failures wrap types.ErrInvalidRequest.
func (p ChatPayload) Params() (ChatParams, error) {
	maxTokens := p.MaxTokens
	if maxTokens == nil {
		maxTokens = p.MaxTokensSnake
	}
	if maxTokens != nil {
		switch {
		case *maxTokens < 0:
			return ChatParams{}, fmt.Errorf("%w: maxTokens must not be negative", types.ErrInvalidRequest)
		case *maxTokens == 0:
			maxTokens = nil
		}
	}
	if p.Temperature != nil && *p.Temperature < 0 {
		return ChatParams{}, fmt.Errorf("%w: temperature must not be negative", types.ErrInvalidRequest)
	}
	systemPrompt := p.SystemPrompt
	if systemPrompt == nil {
		systemPrompt = p.SystemPromptSnake
	}

	persona, history := BuildConversation(p.Messages, systemPrompt, firstNonEmpty(p.CharacterName, p.CharacterNameSnake))
	return ChatParams{
		Persona:     persona,
		History:     history,
		Alias:       firstNonEmpty(p.ModelAlias, p.ModelAliasSnake),
		MaxTokens:   maxTokens,
		Temperature: p.Temperature,
		Metadata:    p.Metadata,
		CharacterID: firstNonEmpty(p.CharacterID, p.CharacterIDSnake),
		RoomID:      firstNonEmpty(p.RoomID, p.RoomIDSnake),
		UserID:      firstNonEmpty(p.UserID, p.UserIDSnake),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
