package domain

// EventType names a message carried over the signaling relay.
type EventType string

const (
	EventJoin         EventType = "join"
	EventLeave        EventType = "leave"
	EventUserJoined   EventType = "user-joined"
	EventUserLeft     EventType = "user-left"
	EventOffer        EventType = "offer"
	EventAnswer       EventType = "answer"
	EventIceCandidate EventType = "ice-candidate"
	EventMediaState   EventType = "media-state"
	EventError        EventType = "error"
)

// SessionDescription is an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

const (
	SDPOffer  = "offer"
	SDPAnswer = "answer"
)

// ICECandidate uses the browser's RTCIceCandidateInit field names so
// browser and native participants can share a relay.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Signal is an outbound negotiation message addressed to one relay
// connection.
type Signal struct {
	Type         EventType           `json:"type"`
	CallID       CallID              `json:"callId"`
	TargetLinkID LinkID              `json:"targetLinkId,omitempty"`
	SDP          *SessionDescription `json:"sdp,omitempty"`
	Candidate    *ICECandidate       `json:"candidate,omitempty"`
}

// MediaStateChange is the outbound broadcast of a local toggle.
type MediaStateChange struct {
	CallID    CallID    `json:"callId"`
	MediaKind MediaKind `json:"mediaKind"`
	Enabled   bool      `json:"enabled"`
}

// Event is an inbound relay message. UserID and LinkID always name the
// originating participant.
type Event struct {
	Type      EventType           `json:"type"`
	CallID    CallID              `json:"callId"`
	UserID    UserID              `json:"userId"`
	LinkID    LinkID              `json:"linkId"`
	Name      string              `json:"name,omitempty"`
	Avatar    string              `json:"avatar,omitempty"`
	SDP       *SessionDescription `json:"sdp,omitempty"`
	Candidate *ICECandidate       `json:"candidate,omitempty"`
	MediaKind MediaKind           `json:"mediaKind,omitempty"`
	Enabled   bool                `json:"enabled,omitempty"`
	Error     string              `json:"error,omitempty"`
}

func (e Event) RosterEntry() RosterEntry {
	return RosterEntry{UserID: e.UserID, LinkID: e.LinkID, Name: e.Name, Avatar: e.Avatar}
}
