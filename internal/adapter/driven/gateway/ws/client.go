package ws

import (
	"github.com/Wyydra/meshcall/internal/core/domain"
)

// Client is one relay connection registered with the Hub.
type Client interface {
	LinkID() domain.LinkID
	// Send queues env for writing and must not block.
	Send(env Envelope) error
	Close() error
}
