package httpapi

import (
	"net/http"
	"strings"
	"time"
)

// handleTaskWS streams task lifecycle events for one owner over a
// websocket. The subscription drops events rather than backpressuring
// the engine, so a slow client sees gaps, not stalls.
func (s *Server) handleTaskWS(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		respondError(w, http.StatusBadRequest, "missing_owner", "query parameter owner is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, release := s.queue.Subscribe(owner)
	defer release()

	ctx := r.Context()

	// Drain reads so close frames and pings are processed.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		conn.SetReadLimit(1 << 16)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readerDone:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}
