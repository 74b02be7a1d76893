package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/af-corp/persona-gateway/internal/ratelimit"
	"github.com/af-corp/persona-gateway/internal/router"
	"github.com/af-corp/persona-gateway/internal/router/adapters"
	"github.com/af-corp/persona-gateway/internal/telemetry"
	"github.com/af-corp/persona-gateway/internal/types"
)

// request is a parsed envelope.
type request struct {
	reqID json.RawMessage
	op    string
	data  json.RawMessage
}

func (r request) base(event string) frameBase {
	return frameBase{ReqID: r.reqID, Op: r.op, Event: event}
}

func invalidRequest(detail string) error {
	return fmt.Errorf("%w: %s", types.ErrInvalidRequest, detail)
}

// dispatch handles one client frame. Every error is reported inline; none
// closes the connection.
func (s *Server) dispatch(c *Conn, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.metrics.RecordFrame("in", "invalid")
		s.reply(c, "invalid", errorFrame{
			frameBase: frameBase{Event: EventError},
			Code:      CodeInvalidEnvelope,
			Detail:    "malformed envelope: " + err.Error(),
		})
		return
	}

	req := request{
		reqID: env.ReqID,
		op:    strings.ToLower(strings.TrimSpace(env.Op)),
		data:  env.Data,
	}
	s.metrics.RecordFrame("in", metricOp(req.op))

	if !c.authenticated && req.op != OpPing && req.op != OpAuth {
		s.replyError(c, req, fmt.Errorf("%w: authenticate first", types.ErrUnauthorized))
		return
	}

	switch req.op {
	case OpPing:
		s.reply(c, req.op, req.base(EventPong))
	case OpAuth:
		s.handleAuth(c, req)
	case OpRoomJoin, OpRoomLeave:
		s.handleMembership(c, req)
	case OpRoomTyping:
		s.handleTyping(c, req)
	case OpAIChat:
		s.handleChat(c, req)
	case OpAIStream:
		s.handleStream(c, req)
	default:
		s.replyError(c, req, fmt.Errorf("%w: %q", types.ErrUnsupportedOp, env.Op))
	}
}

func (s *Server) handleAuth(c *Conn, req request) {
	var p authPayload
	if err := decodeData(req.data, &p); err != nil {
		s.replyError(c, req, err)
		return
	}
	id, err := s.auth.Authenticate(c.ctx, p.Token)
	if err != nil {
		if !errors.Is(err, types.ErrUnauthorized) {
			c.logger.Error("token validation failed", "error", err)
		}
		s.replyError(c, req, fmt.Errorf("%w: invalid token", types.ErrUnauthorized))
		return
	}
	c.identity, c.authenticated = id, true
	c.logger.Info("client authenticated", "method", id.Method)
	s.reply(c, req.op, authFrame{frameBase: req.base(EventResult), Authenticated: true, Method: id.Method})
}

func (s *Server) handleMembership(c *Conn, req request) {
	var p roomPayload
	if err := decodeData(req.data, &p); err != nil {
		s.replyError(c, req, err)
		return
	}
	room := p.room()
	if room == "" {
		s.replyError(c, req, invalidRequest("roomId is required"))
		return
	}
	if req.op == OpRoomJoin {
		s.rooms.Join(room, c.id)
	} else {
		s.rooms.Leave(room, c.id)
	}
	s.reply(c, req.op, roomFrame{frameBase: req.base(EventResult), RoomID: room})
}

func (s *Server) handleTyping(c *Conn, req request) {
	var p roomPayload
	if err := decodeData(req.data, &p); err != nil {
		s.replyError(c, req, err)
		return
	}
	room := p.room()
	if room == "" {
		s.replyError(c, req, invalidRequest("roomId is required"))
		return
	}
	user := p.user()
	if user == "" {
		user = c.id
	}

	update, err := json.Marshal(typingFrame{
		frameBase: frameBase{Op: OpRoomTyping, Event: EventUpdate},
		RoomID:    room,
		UserID:    user,
	})
	if err == nil {
		s.broadcast(room, c.id, update)
	}
	s.reply(c, req.op, roomFrame{frameBase: req.base(EventAck), RoomID: room})
}

// chatParams decodes ai.* data.
func chatParams(req request) (router.ChatParams, error) {
	var p router.ChatPayload
	if err := decodeData(req.data, &p); err != nil {
		return router.ChatParams{}, err
	}
	return p.Params()
}

func (s *Server) enforce(c *Conn, scope string) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Enforce(c.ctx, c.identity.Subject, scope)
}

func (s *Server) handleChat(c *Conn, req request) {
	params, err := chatParams(req)
	if err != nil {
		s.replyError(c, req, err)
		return
	}
	if err := s.enforce(c, ratelimit.ScopeWSChat); err != nil {
		s.replyError(c, req, err)
		return
	}

	start := time.Now()
	resp, err := s.router.Chat(c.ctx, params)
	labels := telemetry.AIRequestLabels{Scope: ratelimit.ScopeWSChat, Status: "ok", DurationMs: msSince(start)}
	if err != nil {
		labels.Status = errorCode(err)
		s.metrics.RecordAIRequest(labels)
		s.replyError(c, req, err)
		return
	}
	labels.Model = resp.Model
	if resp.Usage != nil {
		labels.PromptTokens, labels.CompletionTokens = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	s.metrics.RecordAIRequest(labels)

	s.reply(c, req.op, chatResultFrame{
		frameBase: req.base(EventResult),
		Text:      resp.Text,
		Model:     resp.Model,
		Usage:     resp.Usage,
	})
}

// handleStream emits start, chunks, final and done in that order. A failure
// after start becomes an error frame and the final/done pair still follows.
func (s *Server) handleStream(c *Conn, req request) {
	if !s.streamEnabled.Load() {
		s.replyError(c, req, fmt.Errorf("%w: streaming is disabled", types.ErrFeatureDisabled))
		return
	}
	params, err := chatParams(req)
	if err != nil {
		s.replyError(c, req, err)
		return
	}
	if err := s.enforce(c, ratelimit.ScopeWSStream); err != nil {
		s.replyError(c, req, err)
		return
	}

	start := time.Now()
	if s.reply(c, req.op, req.base(EventStart)) != nil {
		return
	}

	var (
		full  strings.Builder
		model *string
		usage *types.Usage
	)
	stream, err := s.router.Stream(c.ctx, params)
	if err == nil {
		err = s.pumpStream(c, req, stream, &full)
		if m := stream.Model(); m != "" {
			model = &m
		}
		usage = stream.Usage()
		stream.Close()
	}

	labels := telemetry.AIRequestLabels{Scope: ratelimit.ScopeWSStream, Status: "ok", DurationMs: msSince(start)}
	if model != nil {
		labels.Model = *model
	}
	if usage != nil {
		labels.PromptTokens, labels.CompletionTokens = usage.PromptTokens, usage.CompletionTokens
	}

	if c.closed() {
		labels.Status = "aborted"
		s.metrics.RecordAIRequest(labels)
		c.logger.Debug("stream aborted: connection closed")
		return
	}
	if err != nil {
		labels.Status = errorCode(err)
		s.replyError(c, req, err)
	}
	s.metrics.RecordAIRequest(labels)

	s.reply(c, req.op, textFrame{frameBase: req.base(EventFinal), Text: full.String()})
	s.reply(c, req.op, doneFrame{frameBase: req.base(EventDone), Model: model, Usage: usage})
}

// pumpStream forwards non-empty fragments as chunk frames and accumulates
// them in full. It stops early when the connection goes away.
func (s *Server) pumpStream(c *Conn, req request, stream adapters.TextStream, full *strings.Builder) error {
	for stream.Next() {
		text := stream.Text()
		if text == "" {
			continue
		}
		full.WriteString(text)
		if err := s.reply(c, req.op, textFrame{frameBase: req.base(EventChunk), Text: text}); err != nil {
			return err
		}
	}
	return stream.Err()
}

func (s *Server) reply(c *Conn, op string, v any) error {
	if err := c.reply(v); err != nil {
		return err
	}
	s.metrics.RecordFrame("out", metricOp(op))
	return nil
}

func (s *Server) replyError(c *Conn, req request, err error) {
	code := errorCode(err)
	switch code {
	case CodeProviderError, CodeConfigurationError:
		c.logger.Warn("op failed", "op", req.op, "code", code, "error", err)
	default:
		c.logger.Debug("op rejected", "op", req.op, "code", code, "error", err)
	}
	s.reply(c, req.op, errorFrame{frameBase: req.base(EventError), Code: code, Detail: err.Error()})
}

// errorCode maps err onto the wire error codes. Unclassified failures of an
// AI call are reported as provider errors.
func errorCode(err error) string {
	switch {
	case errors.Is(err, types.ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, types.ErrRateLimited):
		return CodeRateLimitExceeded
	case errors.Is(err, types.ErrFeatureDisabled):
		return CodeFeatureDisabled
	case errors.Is(err, types.ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, types.ErrUnsupportedOp):
		return CodeUnsupportedOp
	case errors.Is(err, types.ErrInvalidEnvelope):
		return CodeInvalidEnvelope
	case types.IsConfigurationError(err):
		return CodeConfigurationError
	default:
		return CodeProviderError
	}
}

// metricOp bounds the op label to the known set.
func metricOp(op string) string {
	switch op {
	case OpPing, OpAuth, OpRoomJoin, OpRoomLeave, OpRoomTyping, OpAIChat, OpAIStream, "invalid":
		return op
	default:
		return "other"
	}
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
