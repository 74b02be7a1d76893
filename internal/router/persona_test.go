package router

import (
	"testing"

	"github.com/af-corp/persona-gateway/internal/types"
)

func TestPersona_SystemMessage(t *testing.T) {
	tests := []struct {
		name    string
		persona Persona
		want    string
	}{
		{
			name:    "defaults",
			persona: Persona{},
			want:    "You are external. Keep responses aligned with the role's established tone. Stay in character and provide helpful, consistent replies.",
		},
		{
			name:    "name and tag",
			persona: Persona{Name: "Kai", Tag: "ENTP", Hint: "Be witty."},
			want:    "You are Kai, type ENTP. Keep responses aligned with the role's established tone. Be witty.",
		},
		{
			name:    "no tag",
			persona: Persona{Name: "Kai", Hint: "Be witty."},
			want:    "You are Kai. Keep responses aligned with the role's established tone. Be witty.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.persona.SystemMessage(); got != tt.want {
				t.Errorf("\nwant %q\ngot  %q", tt.want, got)
			}
		})
	}
}

func TestBuildConversation(t *testing.T) {
	msgs := []types.Message{
		{Role: "user", Content: "first"},
		{Role: "SYSTEM", Content: "be nice"},
		{Role: "Assistant", Content: "ok"},
		{Role: "system", Content: "second system"},
		{Role: "narrator", Content: "odd role"},
	}

	persona, history := BuildConversation(msgs, nil, "")
	if persona.Name != DefaultCharacterName {
		t.Errorf("expected default name, got %q", persona.Name)
	}
	if persona.Hint != "be nice" {
		t.Errorf("expected first system message as prompt, got %q", persona.Hint)
	}

	want := []Turn{
		{Content: "first"},
		{Content: "ok", FromAI: true},
		{Content: "second system"},
		{Content: "odd role"},
	}
	if len(history) != len(want) {
		t.Fatalf("expected %d turns, got %d: %+v", len(want), len(history), history)
	}
	for i := range want {
		if history[i] != want[i] {
			t.Errorf("turn %d: want %+v, got %+v", i, want[i], history[i])
		}
	}
}

func TestBuildConversation_Override(t *testing.T) {
	override := "explicit prompt"
	msgs := []types.Message{
		{Role: "system", Content: "from list"},
		{Role: "user", Content: "hi"},
	}

	persona, history := BuildConversation(msgs, &override, "Luna")
	if persona.Name != "Luna" || persona.Hint != "explicit prompt" {
		t.Errorf("unexpected persona %+v", persona)
	}
	if len(history) != 2 || history[0].Content != "from list" {
		t.Errorf("system message must become a turn when overridden, got %+v", history)
	}
}

func TestBuildConversation_DefaultPrompt(t *testing.T) {
	persona, history := BuildConversation([]types.Message{{Role: "user", Content: "hi"}}, nil, "")
	if persona.Hint != DefaultSystemPrompt {
		t.Errorf("expected default prompt, got %q", persona.Hint)
	}
	if len(history) != 1 {
		t.Errorf("expected one turn, got %d", len(history))
	}
}
