// Package events provides the in-process fan-out point between sessions
// and event consumers (webhook dispatcher, websocket stream). Publishing
// never blocks a session's event loop.
package events

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chatgate/internal/domain"
)

// Handler is a callback for canonical events.
type Handler func(domain.Event)

// Hub is a typed publish/subscribe hub for canonical events. It keeps a
// bounded history ring so operators can replay recent events (QR codes,
// status changes) after connecting late.
type Hub struct {
	handlers   map[domain.EventKind][]namedHandler
	mu         sync.RWMutex
	logger     *slog.Logger
	history    []domain.Event
	maxHistory int
	nextID     uint64 // never reused, even after Off
}

// namedHandler pairs a handler with an ID for unsubscription.
type namedHandler struct {
	ID      string
	Handler Handler
}

// NewHub creates a Hub with the default history size.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		handlers:   make(map[domain.EventKind][]namedHandler),
		logger:     logger,
		maxHistory: 1000,
	}
}

// On registers a handler for the given kind. Use domain.EventAll to listen
// to everything. Returns the handler ID for Off.
func (h *Hub) On(kind domain.EventKind, handler Handler) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := fmt.Sprintf("%s-%d", kind, h.nextID)
	h.handlers[kind] = append(h.handlers[kind], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by its ID.
func (h *Hub) Off(kind domain.EventKind, handlerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	handlers := h.handlers[kind]
	for i, nh := range handlers {
		if nh.ID == handlerID {
			h.handlers[kind] = append(handlers[:i], handlers[i+1:]...)
			return
		}
	}
}

// Publish delivers an event to all matching handlers. Handlers run
// synchronously in registration order; a panicking handler is logged and
// never takes down the publisher.
func (h *Hub) Publish(event domain.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.mu.Lock()
	if len(h.history) >= h.maxHistory {
		h.history = h.history[1:]
	}
	h.history = append(h.history, event)
	h.mu.Unlock()

	h.mu.RLock()
	handlers := make([]namedHandler, 0)
	if hs, ok := h.handlers[event.Kind]; ok {
		handlers = append(handlers, hs...)
	}
	if hs, ok := h.handlers[domain.EventAll]; ok {
		handlers = append(handlers, hs...)
	}
	h.mu.RUnlock()

	for _, nh := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					h.logger.Error("event handler panic", "event", event.Kind, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(nh)
	}
}

// Replay returns historical events of the given kind since the given time.
// Use domain.EventAll for every kind.
func (h *Hub) Replay(kind domain.EventKind, since time.Time) []domain.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var result []domain.Event
	for _, e := range h.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if kind == domain.EventAll || e.Kind == kind {
			result = append(result, e)
		}
	}
	return result
}

// HistoryLen returns the current number of events in the history ring.
func (h *Hub) HistoryLen() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.history)
}
