package gateway

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/af-corp/persona-gateway/internal/httputil"
	"github.com/af-corp/persona-gateway/internal/router/adapters"
)

// streamSSE writes each non-empty fragment of stream as an SSE event and
// always finishes with data: [DONE], even after a failure. It returns the
// stream's error.
func streamSSE(w http.ResponseWriter, reqID string, stream adapters.TextStream) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteInternalError(w, reqID, "Streaming not supported")
		return nil
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for stream.Next() {
		text := stream.Text()
		if text == "" {
			continue
		}
		if _, err := fmt.Fprint(w, sseEvent(text)); err != nil {
			return err
		}
		flusher.Flush()
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
	return stream.Err()
}

// sseEvent frames text as one event. Each line gets its own data: field so
// embedded newlines survive.
func sseEvent(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}
