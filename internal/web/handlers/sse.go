package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// sseStatusInterval is how often the model status stream polls the gate.
const sseStatusInterval = 500 * time.Millisecond

// setupSSEConnection sets the event-stream headers. On failure it writes an
// error response and returns false.
func setupSSEConnection(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return flusher, true
}

// sendSSEEvent writes a single SSE event and flushes it.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}

// streamStatus emits a "status" event whenever poll returns a different value,
// until done reports true, the client disconnects, or interval polling ends.
func streamStatus[T comparable](w http.ResponseWriter, r *http.Request, interval time.Duration, poll func() T, done func(T) bool) {
	flusher, ok := setupSSEConnection(w)
	if !ok {
		return
	}

	last := poll()
	sendSSEEvent(w, flusher, "status", last)
	if done(last) {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			cur := poll()
			if cur == last {
				continue
			}
			last = cur
			sendSSEEvent(w, flusher, "status", cur)
			if done(cur) {
				return
			}
		}
	}
}
