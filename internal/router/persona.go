package router

import (
	"fmt"
	"strings"

	"github.com/af-corp/persona-gateway/internal/types"
)

const (
	DefaultCharacterName = "external"
	DefaultSystemPrompt  = "Stay helpful, concise and consistent."
	defaultPersonaHint   = "Stay in character and provide helpful, consistent replies."
)

// Persona describes who the model speaks as.
type Persona struct {
	Name string
	// Tag is a short personality type label, e.g. "INFP". Optional.
	Tag  string
	Hint string
}

// Turn is one history entry. FromAI turns are sent as assistant messages.
type Turn struct {
	Content string
	FromAI  bool
}

// SystemMessage renders the leading system prompt for p.
func (p Persona) SystemMessage() string {
	name := p.Name
	if name == "" {
		name = DefaultCharacterName
	}
	hint := p.Hint
	if hint == "" {
		hint = defaultPersonaHint
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s", name)
	if p.Tag != "" {
		fmt.Fprintf(&b, ", type %s", p.Tag)
	}
	b.WriteString(". Keep responses aligned with the role's established tone. ")
	b.WriteString(hint)
	return b.String()
}

// BuildConversation splits a flat role-tagged message list into a persona and history.
// The first system message becomes the persona hint unless systemPrompt is non-nil;
// every other message is a history turn. Roles are case-insensitive and anything other
// than assistant counts as a user turn.
func BuildConversation(messages []types.Message, systemPrompt *string, characterName string) (Persona, []Turn) {
	var prompt string
	havePrompt := false
	if systemPrompt != nil {
		prompt, havePrompt = *systemPrompt, true
	}

	history := make([]Turn, 0, len(messages))
	for _, m := range messages {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role == types.RoleSystem && !havePrompt {
			prompt, havePrompt = m.Content, true
			continue
		}
		history = append(history, Turn{Content: m.Content, FromAI: role == types.RoleAssistant})
	}

	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	if characterName == "" {
		characterName = DefaultCharacterName
	}
	return Persona{Name: characterName, Hint: prompt}, history
}

// buildMessages produces the provider-facing message list.
func buildMessages(p Persona, history []Turn) []types.Message {
	msgs := make([]types.Message, 0, len(history)+1)
	msgs = append(msgs, types.Message{Role: types.RoleSystem, Content: p.SystemMessage()})
	for _, t := range history {
		role := types.RoleUser
		if t.FromAI {
			role = types.RoleAssistant
		}
		msgs = append(msgs, types.Message{Role: role, Content: t.Content})
	}
	return msgs
}
