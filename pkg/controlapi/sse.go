package controlapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bytesbymike/wicked/pkg/events"
)

// handleEvents streams every bus event as a server-sent event until the
// client disconnects. There is no replay buffer: a client only sees
// events published while it is connected.
func (c *Component) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := make(chan events.Event, 64)
	sub := c.bus.SubscribeAll(func(e events.Event) {
		select {
		case stream <- e:
		default:
			c.logger.Warn("dropping event for slow SSE client", "type", e.Type)
		}
	})
	defer sub.Unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-stream:
			payload, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, payload)
			flusher.Flush()
		}
	}
}
