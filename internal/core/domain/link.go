package domain

// LinkState is the negotiation state of one PeerLink.
type LinkState int

const (
	LinkNew LinkState = iota
	LinkOffering
	LinkConnected
	LinkReconnecting
	LinkTerminated
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "new"
	case LinkOffering:
		return "offering"
	case LinkConnected:
		return "connected"
	case LinkReconnecting:
		return "reconnecting"
	case LinkTerminated:
		return "terminated"
	}
	return "unknown"
}

// LinkEvent drives LinkState transitions.
type LinkEvent int

const (
	// EventOfferSent: a local offer was generated and sent.
	EventOfferSent LinkEvent = iota
	EventAnswerReceived
	// EventOfferAnswered: a remote offer was applied and answered.
	EventOfferAnswered
	EventTransportFailed
	EventTransportRecovered
	EventBackoffElapsed
	// EventOfferFailed: an offer could not be generated or delivered.
	EventOfferFailed
	EventClosed
)

func (e LinkEvent) String() string {
	switch e {
	case EventOfferSent:
		return "offer-sent"
	case EventAnswerReceived:
		return "answer-received"
	case EventOfferAnswered:
		return "offer-answered"
	case EventTransportFailed:
		return "transport-failed"
	case EventTransportRecovered:
		return "transport-recovered"
	case EventBackoffElapsed:
		return "backoff-elapsed"
	case EventOfferFailed:
		return "offer-failed"
	case EventClosed:
		return "closed"
	}
	return "unknown"
}

// NextLinkState is the single transition function of the PeerLink state
// machine. ok is false when the event is not valid in state s; the state is
// then left unchanged.
func NextLinkState(s LinkState, e LinkEvent) (next LinkState, ok bool) {
	if s == LinkTerminated {
		return s, false
	}
	switch e {
	case EventClosed:
		return LinkTerminated, true
	case EventOfferAnswered:
		return LinkConnected, true
	case EventOfferSent:
		if s == LinkNew || s == LinkOffering || s == LinkConnected {
			return LinkOffering, true
		}
	case EventAnswerReceived:
		if s == LinkOffering {
			return LinkConnected, true
		}
	case EventTransportFailed:
		if s == LinkConnected || s == LinkOffering {
			return LinkReconnecting, true
		}
	case EventTransportRecovered:
		if s == LinkReconnecting {
			return LinkConnected, true
		}
	case EventBackoffElapsed:
		if s == LinkReconnecting {
			return LinkOffering, true
		}
	case EventOfferFailed:
		return LinkReconnecting, true
	}
	return s, false
}

// TransportState mirrors the connection state reported by the media
// transport for one link.
type TransportState string

const (
	TransportNew          TransportState = "new"
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

// Broken reports whether the state warrants a reconnection attempt.
func (s TransportState) Broken() bool {
	return s == TransportFailed || s == TransportDisconnected
}
