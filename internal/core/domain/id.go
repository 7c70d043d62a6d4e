package domain

import (
	"github.com/google/uuid"
)

// UserID identifies an application user. It is stable across reconnects.
type UserID string

// LinkID identifies one relay connection of a user. A user gets a new
// LinkID every time they reconnect to the relay.
type LinkID string

// CallID identifies one call instance.
type CallID string

func NewCallID() CallID {
	return CallID(uuid.New().String())
}

func (id UserID) String() string {
	return string(id)
}

func (id LinkID) String() string {
	return string(id)
}

func (id CallID) String() string {
	return string(id)
}
