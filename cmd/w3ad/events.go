package main

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/rexliu/w3abridge/pkg/codec"
	"github.com/rexliu/w3abridge/pkg/dispatch"
)

// dispatchEvent is broadcast for every resolved request.
type dispatchEvent struct {
	Type   string          `json:"type"`
	Record dispatch.Record `json:"record"`
}

// eventHub broadcasts dispatch events to subscribed clients.
type eventHub struct {
	logger  zerolog.Logger
	mu      sync.Mutex
	clients map[*eventClient]struct{}
}

type eventClient struct {
	send chan []byte
}

func newEventHub(logger zerolog.Logger) *eventHub {
	return &eventHub{
		logger:  logger,
		clients: make(map[*eventClient]struct{}),
	}
}

func (h *eventHub) register() *eventClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	client := &eventClient{send: make(chan []byte, 16)}
	h.clients[client] = struct{}{}
	return client
}

func (h *eventHub) unregister(client *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *eventHub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Observe implements dispatch.Observer.
func (h *eventHub) Observe(rec dispatch.Record) {
	h.broadcast(dispatchEvent{Type: "dispatch", Record: rec})
}

func (h *eventHub) broadcast(event dispatchEvent) {
	payload := []byte(codec.MustEncode(event))
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			h.logger.Warn().Msg("dropping event for slow client")
		}
	}
}
