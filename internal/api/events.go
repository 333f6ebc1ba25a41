package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"example.com/fittrack/internal/auth"
)

const keepAliveInterval = 25 * time.Second

// refreshEvents streams the caller's plan-refresh signals as server-sent events.
func (h *Handler) refreshEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := authorize(w, r, auth.ScopePlansRead)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.log.Warn("event stream unsupported", "error", err)
		return
	}

	changes := h.feed.Subscribe(r.Context())
	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case change, ok := <-changes:
			if !ok {
				return
			}
			if change.UserID != userID {
				continue
			}
			data, err := json.Marshal(change)
			if err != nil {
				h.log.Warn("encode plan change", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: plan-refresh\ndata: %s\n\n", data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
