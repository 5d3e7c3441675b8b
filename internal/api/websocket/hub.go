// Package websocket exposes the engine's EventBus over a WebSocket stream:
// each connection is handed its own EventBus subscription, snapshotted from
// the bus's bounded delivery buffer and fanned out to the client's own send
// channel.
package websocket

import (
	"context"
	"sync"

	"github.com/maumercado/task-queue-go/internal/events"
	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/metrics"
)

// Hub tracks connected clients and pumps each one's EventBus subscription
// into its send buffer.
type Hub struct {
	bus *events.Bus

	mu      sync.RWMutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewHub creates a new WebSocket hub sourcing events from bus.
func NewHub(bus *events.Bus) *Hub {
	return &Hub{
		bus:        bus,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopCh:     make(chan struct{}),
	}
}

// Run starts the hub's registration loop.
func (h *Hub) Run(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ctx.Done():
				h.closeAllClients()
				return
			case <-h.stopCh:
				h.closeAllClients()
				return
			case client := <-h.register:
				h.mu.Lock()
				h.clients[client] = true
				h.mu.Unlock()
				metrics.SetWSSubscribers(float64(h.ClientCount()))
				logger.Debug().Str("client_id", client.ID).Msg("websocket client registered")

			case client := <-h.unregister:
				h.mu.Lock()
				delete(h.clients, client)
				h.mu.Unlock()
				metrics.SetWSSubscribers(float64(h.ClientCount()))
				logger.Debug().Str("client_id", client.ID).Msg("websocket client unregistered")
			}
		}
	}()

	logger.Info().Msg("websocket hub started")
}

// Stop stops the hub.
func (h *Hub) Stop() {
	close(h.stopCh)
	h.wg.Wait()
	logger.Info().Msg("websocket hub stopped")
}

// Register registers a client and starts pumping its EventBus subscription
// into its send channel for the lifetime of the connection.
func (h *Hub) Register(client *Client) {
	h.register <- client

	subID, ch := h.bus.Subscribe()
	go func() {
		defer h.bus.Unsubscribe(subID)
		for {
			select {
			case <-client.done:
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				data, err := encodeEvent(evt)
				if err != nil {
					logger.Error().Err(err).Msg("failed to encode event for websocket delivery")
					continue
				}
				select {
				case client.send <- data:
				default:
					// client's own send buffer is full; it is slow to
					// drain its TCP connection, not the bus's concern.
				}
			}
		}
	}()
}

// Unregister unregisters a client from the hub. It closes the client's done
// channel, which stops both its EventBus pump and its WritePump; the send
// channel itself is never closed.
func (h *Hub) Unregister(client *Client) {
	select {
	case <-client.done:
	default:
		close(client.done)
	}
	h.unregister <- client
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case <-client.done:
		default:
			close(client.done)
		}
		delete(h.clients, client)
	}
}
