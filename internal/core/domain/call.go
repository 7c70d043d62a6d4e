package domain

import (
	"fmt"
)

type CallKind string

const (
	CallGroup  CallKind = "group"
	CallDirect CallKind = "direct"
)

const (
	groupScopePrefix  = "group:"
	directScopePrefix = "direct:"
)

// CallConfig identifies a call. It is immutable once the call starts.
type CallConfig struct {
	CallID         CallID   `json:"callId"`
	Kind           CallKind `json:"kind"`
	GroupID        string   `json:"groupId,omitempty"`
	ConversationID string   `json:"conversationId,omitempty"`
}

// Validate checks that exactly one scope reference is set and that it
// matches the call kind.
func (c CallConfig) Validate() error {
	if c.CallID == "" {
		return fmt.Errorf("%w: call id is required", ErrInvalidCallConfig)
	}
	if c.GroupID != "" && c.ConversationID != "" {
		return fmt.Errorf("%w: exactly one scope reference must be set", ErrInvalidCallConfig)
	}
	switch c.Kind {
	case CallGroup:
		if c.GroupID == "" {
			return fmt.Errorf("%w: group id is required for group calls", ErrInvalidCallConfig)
		}
	case CallDirect:
		if c.ConversationID == "" {
			return fmt.Errorf("%w: conversation id is required for direct calls", ErrInvalidCallConfig)
		}
	default:
		return fmt.Errorf("%w: unknown call kind %q", ErrInvalidCallConfig, c.Kind)
	}
	return nil
}

// Scope returns the relay room the call lives in. Two configs with the same
// scope meet in the same room even if their call ids differ.
func (c CallConfig) Scope() string {
	if c.Kind == CallDirect {
		return directScopePrefix + c.ConversationID
	}
	return groupScopePrefix + c.GroupID
}

// JoinOptions carries the caller's intent for a join. Nil media flags mean
// "wanted".
type JoinOptions struct {
	Audio *bool
	Video *bool
	Title string
}

func (o JoinOptions) WantAudio() bool {
	return o.Audio == nil || *o.Audio
}

func (o JoinOptions) WantVideo() bool {
	return o.Video == nil || *o.Video
}

// JoinResult is what a successful join hands back to the view layer.
type JoinResult struct {
	Participants []Participant
	Media        MediaDeviceState
}

// RosterEntry is one relay connection currently in a call room.
type RosterEntry struct {
	UserID UserID `json:"userId"`
	LinkID LinkID `json:"linkId"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// JoinResponse is the relay's answer to a join request.
// CallID is the call the room was opened with; it may differ from the
// joiner's own call id.
type JoinResponse struct {
	Accepted bool          `json:"accepted"`
	Room     string        `json:"room,omitempty"`
	CallID   CallID        `json:"callId,omitempty"`
	Roster   []RosterEntry `json:"roster,omitempty"`
	Error    string        `json:"error,omitempty"`
}
