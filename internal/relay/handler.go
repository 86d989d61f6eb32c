package relay

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// SSEHandler streams hub events as server-sent events. Clients may filter
// feeds with ?feeds=bind,export and a single tab with ?tab_id=N.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		var feedFilter map[string]bool
		if q := r.URL.Query().Get("feeds"); q != "" {
			feedFilter = make(map[string]bool)
			for _, f := range strings.Split(q, ",") {
				if f = strings.TrimSpace(f); f != "" {
					feedFilter[f] = true
				}
			}
		}
		tabFilter := strings.TrimSpace(r.URL.Query().Get("tab_id"))

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, ch := broker.Subscribe()
		slog.Info("relay: sse client connected", "remote", r.RemoteAddr, "clients", broker.ClientCount())
		defer func() {
			broker.Unsubscribe(id)
			slog.Info("relay: sse client disconnected", "remote", r.RemoteAddr,
				"clients", broker.ClientCount(), "dropped_total", broker.Dropped())
		}()

		for {
			select {
			case <-r.Context().Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if feedFilter != nil && !feedFilter[evt.Feed] {
					continue
				}
				if tabFilter != "" && tabFilter != evt.TabID.String() {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: {\"tab_id\":%d,\"time\":%q,\"data\":%s}\n\n",
					evt.Feed, evt.TabID, evt.Time.Format("2006-01-02T15:04:05.000Z07:00"), evt.Payload)
				flusher.Flush()
			}
		}
	}
}
