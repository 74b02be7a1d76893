package ws

import (
	"bytes"
	"encoding/json"

	"github.com/af-corp/persona-gateway/internal/types"
)

// Recognized ops. Matching is case-insensitive.
const (
	OpPing       = "ping"
	OpAuth       = "auth"
	OpRoomJoin   = "room.join"
	OpRoomLeave  = "room.leave"
	OpRoomTyping = "room.typing"
	OpAIChat     = "ai.chat"
	OpAIStream   = "ai.stream"
)

// Events carried on server frames.
const (
	EventPong   = "pong"
	EventResult = "result"
	EventAck    = "ack"
	EventError  = "error"
	EventUpdate = "update"
	EventStart  = "start"
	EventChunk  = "chunk"
	EventFinal  = "final"
	EventDone   = "done"
)

// Error codes carried on error frames.
const (
	CodeInvalidEnvelope    = "invalid_envelope"
	CodeUnsupportedOp      = "unsupported_op"
	CodeUnauthorized       = "unauthorized"
	CodeRateLimitExceeded  = "rate_limit_exceeded"
	CodeInvalidRequest     = "invalid_request"
	CodeFeatureDisabled    = "feature_disabled"
	CodeProviderError      = "provider_error"
	CodeConfigurationError = "configuration_error"
)

// Envelope is one client frame. ReqID is kept raw so it is echoed verbatim,
// whatever JSON type the client chose.
type Envelope struct {
	ReqID json.RawMessage `json:"reqId"`
	Op    string          `json:"op"`
	Data  json.RawMessage `json:"data"`
}

// frameBase is common to every server frame. Broadcasts leave ReqID empty.
type frameBase struct {
	ReqID json.RawMessage `json:"reqId,omitempty"`
	Op    string          `json:"op,omitempty"`
	Event string          `json:"event"`
}

type errorFrame struct {
	frameBase
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

type authFrame struct {
	frameBase
	Authenticated bool   `json:"authenticated"`
	Method        string `json:"method,omitempty"`
}

type roomFrame struct {
	frameBase
	RoomID string `json:"roomId"`
}

type typingFrame struct {
	frameBase
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type textFrame struct {
	frameBase
	Text string `json:"text"`
}

type chatResultFrame struct {
	frameBase
	Text  string       `json:"text"`
	Model string       `json:"model"`
	Usage *types.Usage `json:"usage"`
}

// doneFrame always carries model and usage, as null when unknown.
type doneFrame struct {
	frameBase
	Model *string      `json:"model"`
	Usage *types.Usage `json:"usage"`
}

type authPayload struct {
	Token string `json:"token"`
}

type roomPayload struct {
	RoomID      string `json:"roomId"`
	RoomIDSnake string `json:"room_id"`
	UserID      string `json:"userId"`
	UserIDSnake string `json:"user_id"`
}

func (p roomPayload) room() string {
	return firstNonEmpty(p.RoomID, p.RoomIDSnake)
}

func (p roomPayload) user() string {
	return firstNonEmpty(p.UserID, p.UserIDSnake)
}

// decodeData unmarshals an envelope's data into dst. Missing or null data
// leaves dst at its zero value.
func decodeData(raw json.RawMessage, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return invalidRequest("malformed data: " + err.Error())
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
