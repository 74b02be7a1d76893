package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestProviderError_Message(t *testing.T) {
	tests := []struct {
		err  *ProviderError
		want string
	}{
		{&ProviderError{Provider: "openai", StatusCode: 500, Message: "boom"}, "provider openai: status 500: boom"},
		{&ProviderError{Provider: "doubao", Err: errors.New("eof")}, "provider doubao: eof"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	inner := errors.New("connection reset")
	wrapped := fmt.Errorf("chat: %w", &ProviderError{Provider: "openai", Err: inner})

	if !IsProviderError(wrapped) {
		t.Error("expected wrapped provider error to be detected")
	}
	if !errors.Is(wrapped, inner) {
		t.Error("expected ProviderError to unwrap to its cause")
	}
	if IsConfigurationError(wrapped) {
		t.Error("provider error must not classify as configuration error")
	}

	cfgErr := fmt.Errorf("build router: %w", &ConfigurationError{Reason: "no provider"})
	if !IsConfigurationError(cfgErr) {
		t.Error("expected configuration error to be detected")
	}
}

func TestHintMetadata(t *testing.T) {
	req := &ChatRequest{
		CharacterID: "c1",
		RoomID:      "r1",
		Metadata:    map[string]any{"room_id": "override", "scene": "cafe"},
	}
	md := req.HintMetadata()
	if md["character_id"] != "c1" {
		t.Errorf("character_id = %v", md["character_id"])
	}
	if md["room_id"] != "override" {
		t.Errorf("explicit metadata should win, got %v", md["room_id"])
	}
	if _, ok := md["user_id"]; ok {
		t.Error("empty hint should not be set")
	}

	if (&ChatRequest{}).HintMetadata() != nil {
		t.Error("expected nil metadata when nothing is set")
	}
}
