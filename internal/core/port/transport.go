package port

import (
	"github.com/Wyydra/meshcall/internal/core/domain"
)

// PeerEvents are the transport callbacks of one PeerConn. They may be
// invoked from transport goroutines.
type PeerEvents struct {
	OnICECandidate      func(domain.ICECandidate)
	OnRemoteStream      func(RemoteStream)
	OnRemoteStreamEnded func(RemoteStream) // every track of the stream ended
	OnStateChange       func(domain.TransportState)
}

// PeerFactory creates one media transport per remote participant.
type PeerFactory interface {
	NewPeer(userID domain.UserID, events PeerEvents) (PeerConn, error)
}

// PeerConn is a point to point media connection. CreateOffer and
// CreateAnswer also apply the generated description locally.
type PeerConn interface {
	AddLocalMedia(media LocalMedia) error
	SetSending(kind domain.MediaKind, enabled bool) error
	CreateOffer(iceRestart bool) (domain.SessionDescription, error)
	CreateAnswer() (domain.SessionDescription, error)
	SetRemoteDescription(desc domain.SessionDescription) error
	AddICECandidate(c domain.ICECandidate) error
	Close() error
}

// RemoteStream is the media received from one participant.
type RemoteStream interface {
	ID() string
	Kinds() []domain.MediaKind
	Stop()
}
