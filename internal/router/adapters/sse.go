package adapters

import (
	"bufio"
	"io"
	"strings"
	"sync"

	"github.com/af-corp/persona-gateway/internal/types"
)

const doneSentinel = "[DONE]"

// streamEvent is what a vendor-specific parser extracts from one SSE data payload.
type streamEvent struct {
	Texts []string
	Model string
	Usage *types.Usage
	// Done marks a vendor end-of-stream event other than the [DONE] sentinel.
	Done bool
}

// chunkParser decodes one SSE data payload. ok=false skips the payload.
type chunkParser func(data []byte) (ev streamEvent, ok bool)

// SSEStream reads Server-Sent-Events from a vendor response body and yields text fragments.
type SSEStream struct {
	provider string
	body     io.ReadCloser
	scanner  *bufio.Scanner
	parse    chunkParser

	pending  []string
	text     string
	model    string
	usage    *types.Usage
	err      error
	finished bool

	closeOnce sync.Once
	closeErr  error
}

func newSSEStream(provider, model string, body io.ReadCloser, parse chunkParser) *SSEStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &SSEStream{
		provider: provider,
		body:     body,
		scanner:  scanner,
		parse:    parse,
		model:    model,
	}
}

// Next advances to the next fragment. It returns false at end of stream or on error.
func (s *SSEStream) Next() bool {
	for {
		if len(s.pending) > 0 {
			s.text, s.pending = s.pending[0], s.pending[1:]
			return true
		}
		if s.finished {
			return false
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				s.err = &types.ProviderError{Provider: s.provider, Message: "read stream", Err: err}
			}
			s.finish()
			return false
		}

		data, ok := strings.CutPrefix(s.scanner.Text(), "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}
		if data == doneSentinel {
			s.finish()
			continue
		}

		ev, ok := s.parse([]byte(data))
		if !ok {
			continue
		}
		if ev.Model != "" {
			s.model = ev.Model
		}
		if ev.Usage != nil {
			s.usage = mergeUsage(s.usage, ev.Usage)
		}
		s.pending = append(s.pending, ev.Texts...)
		if ev.Done {
			s.finish()
		}
	}
}

func (s *SSEStream) finish() {
	s.finished = true
	s.Close()
}

func (s *SSEStream) Text() string { return s.text }

func (s *SSEStream) Err() error { return s.err }

func (s *SSEStream) Model() string { return s.model }

func (s *SSEStream) Usage() *types.Usage { return s.usage }

// Close releases the vendor transport. It is safe to call more than once.
func (s *SSEStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

// mergeUsage folds a partial usage report into the running total. Vendors that
// split prompt and completion counts across events only set the fields they know.
func mergeUsage(cur, next *types.Usage) *types.Usage {
	if cur == nil {
		u := *next
		if u.TotalTokens == 0 {
			u.TotalTokens = u.PromptTokens + u.CompletionTokens
		}
		return &u
	}
	if next.PromptTokens != 0 {
		cur.PromptTokens = next.PromptTokens
	}
	if next.CompletionTokens != 0 {
		cur.CompletionTokens = next.CompletionTokens
	}
	if next.TotalTokens != 0 {
		cur.TotalTokens = next.TotalTokens
	} else {
		cur.TotalTokens = cur.PromptTokens + cur.CompletionTokens
	}
	return cur
}
