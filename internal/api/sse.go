package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// errStreamingUnsupported is returned when the response writer cannot flush.
var errStreamingUnsupported = errors.New("response writer does not support streaming")

// SSE event types emitted by the chat query stream, in order of appearance.
const (
	eventThinking             = "thinking"
	eventInterpreting         = "interpreting"
	eventAwaitingConfirmation = "awaiting_confirmation"
	eventExecuting            = "executing"
	eventResults              = "results"
	eventSuggestions          = "suggestions"
	eventError                = "error"
	eventDone                 = "done"
)

// sseStream writes server-sent events with a flush after every event so the
// client sees each pipeline stage as it happens.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEStream prepares the response for event streaming.
func newSSEStream(w http.ResponseWriter) (*sseStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	return &sseStream{w: w, flusher: flusher}, nil
}

// send emits one event frame: "event: {type}\ndata: {json}\n\n".
func (s *sseStream) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("failed to write %s event: %w", event, err)
	}

	s.flusher.Flush()

	return nil
}
