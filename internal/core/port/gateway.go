package port

import (
	"context"

	"github.com/Wyydra/meshcall/internal/core/domain"
)

// SignalSender is the outbound half of the signaling relay used by peer
// links.
type SignalSender interface {
	SendSignal(ctx context.Context, sig domain.Signal) error
}

// Relay is the client side of the signaling relay. Inbound events are
// delivered in arrival order on the subscription channel.
type Relay interface {
	SignalSender
	Join(ctx context.Context, cfg domain.CallConfig) (domain.JoinResponse, error)
	Leave(ctx context.Context, cfg domain.CallConfig) error
	BroadcastMediaState(ctx context.Context, change domain.MediaStateChange) error
	Subscribe() (events <-chan domain.Event, cancel func())
}

// LinkGateway delivers relay messages to one connected client. Implemented
// by the relay server's connection hub.
type LinkGateway interface {
	Deliver(ctx context.Context, link domain.LinkID, ev domain.Event) error
}
