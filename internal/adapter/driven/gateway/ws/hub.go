package ws

import (
	"context"
	"fmt"
	"sync"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/rs/zerolog/log"
)

// Hub tracks live relay connections by LinkID. It implements
// port.LinkGateway.
type Hub struct {
	mu         sync.RWMutex
	clients    map[domain.LinkID]Client
	unregister chan Client
	quit       chan struct{}
	stopOnce   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[domain.LinkID]Client),
		unregister: make(chan Client),
		quit:       make(chan struct{}),
	}
}

func (h *Hub) Deliver(ctx context.Context, link domain.LinkID, ev domain.Event) error {
	h.mu.RLock()
	client, ok := h.clients[link]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: link %s", domain.ErrNotFound, link)
	}

	env, err := NewEnvelope(ev.Type, "", ev)
	if err != nil {
		return err
	}
	return client.Send(env)
}

// Register makes c reachable through Deliver immediately.
func (h *Hub) Register(c Client) {
	h.mu.Lock()
	h.clients[c.LinkID()] = c
	count := len(h.clients)
	h.mu.Unlock()
	log.Info().Str("link_id", c.LinkID().String()).Int("count", count).Msg("Client registered")
}

func (h *Hub) Unregister(c Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for id, client := range h.clients {
				if err := client.Close(); err != nil {
					log.Error().Err(err).Str("link_id", id.String()).Msg("Error closing client connection")
				}
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.LinkID()]; ok && current == client {
				delete(h.clients, client.LinkID())
			}
			count := len(h.clients)
			h.mu.Unlock()
			client.Close()
			log.Info().Str("link_id", client.LinkID().String()).Int("count", count).Msg("Client unregistered")
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}
