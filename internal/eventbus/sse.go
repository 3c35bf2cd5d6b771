package eventbus

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
)

// handleEvents upgrades the request to an SSE stream for one issue's
// events: the subscriber's ring-buffer snapshot is flushed first so a
// freshly opened viewer tab is never blank, then live events stream as
// they're published.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "bad issue id", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	snapshot, events, cancel := s.bus.Subscribe(id)
	defer cancel()

	for _, e := range snapshot {
		writeSSEEvent(w, e)
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			writeSSEEvent(w, e)
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data)
}
