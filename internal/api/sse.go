package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/Hashim-K/X-Booking/internal/events"
	"github.com/Hashim-K/X-Booking/internal/telemetry"
)

// Hub fans availability updates out to connected SSE clients. Slow
// clients are dropped rather than allowed to stall the broadcast.
type Hub struct {
	mu      sync.Mutex
	clients map[chan events.AvailabilityUpdate]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan events.AvailabilityUpdate]struct{})}
}

// Broadcast delivers an update to every connected client.
func (h *Hub) Broadcast(ev events.AvailabilityUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			delete(h.clients, ch)
			close(ch)
		}
	}
}

func (h *Hub) subscribe() chan events.AvailabilityUpdate {
	ch := make(chan events.AvailabilityUpdate, 8)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	telemetry.SSEClients.Inc()
	return ch
}

func (h *Hub) drop(ch chan events.AvailabilityUpdate) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
	h.mu.Unlock()
	telemetry.SSEClients.Dec()
}

// ServeHTTP streams availability updates as server-sent events until
// the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.subscribe()
	defer h.drop(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: availability\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
