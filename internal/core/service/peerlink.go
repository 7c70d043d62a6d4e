package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/Wyydra/meshcall/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PeerLink is the negotiation state machine for one remote participant.
// Every operation on a link is serialized by its mutex; links never lock
// each other.
type PeerLink struct {
	m      *PeerLinkManager
	userID domain.UserID
	log    zerolog.Logger

	mu     sync.Mutex
	linkID domain.LinkID
	state  domain.LinkState
	conn   port.PeerConn
	gen    int // bumped on every new transport, stale callbacks compare against it
	stream port.RemoteStream

	remoteSet   bool
	remoteQueue []domain.ICECandidate
	localReady  bool
	localQueue  []domain.ICECandidate

	notes []StreamUpdate
}

// LinkInfo is a read-only view of a PeerLink.
type LinkInfo struct {
	UserID    domain.UserID
	LinkID    domain.LinkID
	State     domain.LinkState
	HasStream bool
}

func newPeerLink(m *PeerLinkManager, userID domain.UserID, linkID domain.LinkID) *PeerLink {
	return &PeerLink{
		m:      m,
		userID: userID,
		linkID: linkID,
		state:  domain.LinkNew,
		log:    log.With().Str("user_id", userID.String()).Logger(),
	}
}

// unlock releases the link and publishes stream updates collected while it
// was held, so subscribers may call back into the manager.
func (l *PeerLink) unlock() {
	notes := l.notes
	l.notes = nil
	l.mu.Unlock()
	for _, n := range notes {
		l.m.streams.notify(n)
	}
}

func (l *PeerLink) info() LinkInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LinkInfo{
		UserID:    l.userID,
		LinkID:    l.linkID,
		State:     l.state,
		HasStream: l.stream != nil,
	}
}

func (l *PeerLink) fire(ev domain.LinkEvent) bool {
	next, ok := domain.NextLinkState(l.state, ev)
	if !ok {
		l.log.Debug().Str("state", l.state.String()).Str("event", ev.String()).Msg("Ignoring link event")
		return false
	}
	if next != l.state {
		l.log.Debug().
			Str("link_id", l.linkID.String()).
			Str("from", l.state.String()).
			Str("to", next.String()).
			Msg("Link state changed")
	}
	l.state = next
	return true
}

// start runs NEW -> OFFERING: open the transport with local media attached
// and send the first offer.
func (l *PeerLink) start(ctx context.Context) {
	l.mu.Lock()
	defer l.unlock()

	if l.state != domain.LinkNew {
		return
	}
	if err := l.offerLocked(ctx, false, domain.EventOfferSent); err != nil {
		l.offerFailedLocked(err, "Initial offer failed")
	}
}

// retarget points the link at a new relay connection of the same user and
// renegotiates from scratch.
func (l *PeerLink) retarget(ctx context.Context, linkID domain.LinkID) {
	l.mu.Lock()
	defer l.unlock()

	if linkID == "" || linkID == l.linkID || l.state == domain.LinkTerminated {
		return
	}
	l.log.Info().Str("old_link_id", l.linkID.String()).Str("link_id", linkID.String()).Msg("Participant reconnected to relay")
	l.linkID = linkID
	l.remoteQueue = nil

	ev := domain.EventOfferSent
	if l.state == domain.LinkReconnecting {
		l.m.sched.cancel(l.userID)
		ev = domain.EventBackoffElapsed
	}
	if err := l.openLocked(); err != nil {
		l.offerFailedLocked(err, "Transport reset failed")
		return
	}
	if err := l.offerLocked(ctx, false, ev); err != nil {
		l.offerFailedLocked(err, "Offer to new link failed")
	}
}

// reconnect runs RECONNECTING -> OFFERING with an ICE restart offer. It is a
// no-op unless the link is still waiting to reconnect.
func (l *PeerLink) reconnect(ctx context.Context) {
	l.mu.Lock()
	defer l.unlock()

	if l.state != domain.LinkReconnecting {
		return
	}
	if err := l.offerLocked(ctx, true, domain.EventBackoffElapsed); err != nil {
		l.offerFailedLocked(err, "Reconnection offer failed")
	}
}

// offerFailedLocked parks the link in RECONNECTING and retries the offer
// after the backoff.
func (l *PeerLink) offerFailedLocked(err error, msg string) {
	l.log.Warn().Err(err).Str("link_id", l.linkID.String()).Msg(msg)
	if l.fire(domain.EventOfferFailed) {
		l.m.scheduleReconnect(l)
	}
}

func (l *PeerLink) offerLocked(ctx context.Context, iceRestart bool, ev domain.LinkEvent) error {
	if _, ok := domain.NextLinkState(l.state, ev); !ok {
		return fmt.Errorf("%w: cannot offer in state %s", domain.ErrLinkNegotiationFailed, l.state)
	}
	if l.conn == nil {
		if err := l.openLocked(); err != nil {
			return err
		}
	}

	l.localReady = false
	desc, err := l.conn.CreateOffer(iceRestart)
	if err != nil {
		return fmt.Errorf("%w: create offer: %v", domain.ErrLinkNegotiationFailed, err)
	}
	l.remoteSet = false
	l.fire(ev)

	if err := l.sendLocked(ctx, domain.Signal{Type: domain.EventOffer, SDP: &desc}); err != nil {
		return err
	}
	l.flushLocalLocked(ctx)
	return nil
}

// acceptOffer applies a remote offer and answers it. On glare the peer with
// the smaller user id yields: it drops its own offer and answers, while the
// other side ignores the colliding offer.
func (l *PeerLink) acceptOffer(ctx context.Context, linkID domain.LinkID, sdp domain.SessionDescription) {
	l.mu.Lock()
	defer l.unlock()

	if l.state == domain.LinkTerminated {
		return
	}

	reset := false
	if linkID != "" && linkID != l.linkID {
		l.linkID = linkID
		l.remoteQueue = nil
		reset = l.conn != nil
	} else if l.state == domain.LinkOffering {
		if !l.m.polite(l.userID) {
			l.log.Debug().Msg("Ignoring colliding offer")
			return
		}
		reset = true
	}
	if l.conn == nil || reset {
		if err := l.openLocked(); err != nil {
			l.log.Warn().Err(err).Msg("Cannot open transport for remote offer")
			return
		}
	}
	l.m.sched.cancel(l.userID)

	if err := l.conn.SetRemoteDescription(sdp); err != nil {
		l.log.Warn().Err(err).Msg("Rejecting remote offer")
		return
	}
	l.remoteSet = true
	l.flushRemoteLocked()

	l.localReady = false
	answer, err := l.conn.CreateAnswer()
	if err != nil {
		l.log.Warn().Err(err).Msg("Creating answer failed")
		return
	}
	l.fire(domain.EventOfferAnswered)

	if err := l.sendLocked(ctx, domain.Signal{Type: domain.EventAnswer, SDP: &answer}); err != nil {
		l.log.Warn().Err(err).Msg("Sending answer failed")
		return
	}
	l.flushLocalLocked(ctx)
}

func (l *PeerLink) acceptAnswer(linkID domain.LinkID, sdp domain.SessionDescription) {
	l.mu.Lock()
	defer l.unlock()

	if l.state != domain.LinkOffering || l.conn == nil {
		l.log.Debug().Str("state", l.state.String()).Msg("Ignoring unexpected answer")
		return
	}
	if linkID != "" && linkID != l.linkID {
		l.log.Debug().Str("link_id", linkID.String()).Msg("Ignoring answer from stale link")
		return
	}
	if err := l.conn.SetRemoteDescription(sdp); err != nil {
		l.log.Warn().Err(err).Msg("Rejecting remote answer")
		return
	}
	l.remoteSet = true
	l.flushRemoteLocked()
	l.fire(domain.EventAnswerReceived)
}

func (l *PeerLink) addRemoteCandidate(linkID domain.LinkID, c domain.ICECandidate) {
	l.mu.Lock()
	defer l.unlock()

	if l.state == domain.LinkTerminated {
		return
	}
	if linkID != "" && linkID != l.linkID {
		return
	}
	if l.conn == nil || !l.remoteSet {
		l.remoteQueue = append(l.remoteQueue, c)
		return
	}
	if err := l.conn.AddICECandidate(c); err != nil {
		l.log.Debug().Err(err).Msg("Adding remote candidate failed")
	}
}

func (l *PeerLink) flushRemoteLocked() {
	queued := l.remoteQueue
	l.remoteQueue = nil
	for _, c := range queued {
		if err := l.conn.AddICECandidate(c); err != nil {
			l.log.Debug().Err(err).Msg("Adding queued remote candidate failed")
		}
	}
}

func (l *PeerLink) flushLocalLocked(ctx context.Context) {
	l.localReady = true
	queued := l.localQueue
	l.localQueue = nil
	for i := range queued {
		if err := l.sendLocked(ctx, domain.Signal{Type: domain.EventIceCandidate, Candidate: &queued[i]}); err != nil {
			l.log.Debug().Err(err).Msg("Sending queued candidate failed")
		}
	}
}

func (l *PeerLink) sendLocked(ctx context.Context, sig domain.Signal) error {
	callID, out := l.m.session()
	if out == nil {
		return domain.ErrRelayUnavailable
	}
	sig.CallID = callID
	sig.TargetLinkID = l.linkID
	return out.SendSignal(ctx, sig)
}

// openLocked replaces the transport with a fresh one carrying the local
// media. Callbacks of the previous transport are ignored from now on.
func (l *PeerLink) openLocked() error {
	if l.releaseLocked() {
		l.notes = append(l.notes, StreamUpdate{UserID: l.userID})
	}

	l.gen++
	gen := l.gen
	conn, err := l.m.factory.NewPeer(l.userID, port.PeerEvents{
		OnICECandidate:      func(c domain.ICECandidate) { l.onLocalCandidate(gen, c) },
		OnRemoteStream:      func(s port.RemoteStream) { l.onRemoteStream(gen, s) },
		OnRemoteStreamEnded: func(s port.RemoteStream) { l.onRemoteStreamEnded(gen, s) },
		OnStateChange:       func(st domain.TransportState) { l.onTransportState(gen, st) },
	})
	if err != nil {
		return fmt.Errorf("%w: create transport: %v", domain.ErrLinkNegotiationFailed, err)
	}
	l.conn = conn

	media, sending := l.m.localMedia()
	if media != nil {
		if err := conn.AddLocalMedia(media); err != nil {
			l.log.Warn().Err(err).Msg("Attaching local media failed, link is receive-only")
		}
	}
	for kind, enabled := range sending {
		if !enabled {
			if err := conn.SetSending(kind, false); err != nil {
				l.log.Debug().Err(err).Str("kind", string(kind)).Msg("Pausing track failed")
			}
		}
	}
	return nil
}

// releaseLocked closes the transport and the remote stream. It reports
// whether a stream was held.
func (l *PeerLink) releaseLocked() bool {
	if l.conn != nil {
		if err := l.conn.Close(); err != nil {
			l.log.Debug().Err(err).Msg("Closing transport failed")
		}
		l.conn = nil
	}
	l.remoteSet = false
	l.localReady = false
	l.localQueue = nil

	if l.stream == nil {
		return false
	}
	l.stream.Stop()
	l.stream = nil
	return true
}

func (l *PeerLink) close() {
	l.mu.Lock()
	defer l.unlock()

	if !l.fire(domain.EventClosed) {
		return
	}
	l.releaseLocked()
	l.remoteQueue = nil
	l.notes = append(l.notes, StreamUpdate{UserID: l.userID})
}

func (l *PeerLink) setSending(kind domain.MediaKind, enabled bool) {
	l.mu.Lock()
	defer l.unlock()

	if l.conn == nil {
		return
	}
	if err := l.conn.SetSending(kind, enabled); err != nil {
		l.log.Debug().Err(err).Str("kind", string(kind)).Msg("Changing track sending failed")
	}
}

func (l *PeerLink) onLocalCandidate(gen int, c domain.ICECandidate) {
	l.mu.Lock()
	defer l.unlock()

	if gen != l.gen || l.state == domain.LinkTerminated {
		return
	}
	if !l.localReady {
		l.localQueue = append(l.localQueue, c)
		return
	}
	if err := l.sendLocked(context.Background(), domain.Signal{Type: domain.EventIceCandidate, Candidate: &c}); err != nil {
		l.log.Debug().Err(err).Msg("Sending candidate failed")
	}
}

func (l *PeerLink) onRemoteStream(gen int, s port.RemoteStream) {
	l.mu.Lock()
	defer l.unlock()

	if gen != l.gen || l.state == domain.LinkTerminated {
		s.Stop()
		return
	}
	if l.stream != nil && l.stream != s {
		l.stream.Stop()
	}
	l.stream = s
	l.log.Info().Str("stream_id", s.ID()).Msg("Remote stream available")
	l.notes = append(l.notes, StreamUpdate{UserID: l.userID, Stream: s})
}

func (l *PeerLink) onRemoteStreamEnded(gen int, s port.RemoteStream) {
	l.mu.Lock()
	defer l.unlock()

	if gen != l.gen || l.stream != s {
		return
	}
	l.stream = nil
	l.log.Info().Str("stream_id", s.ID()).Msg("Remote stream ended")
	l.notes = append(l.notes, StreamUpdate{UserID: l.userID})
}

func (l *PeerLink) onTransportState(gen int, st domain.TransportState) {
	l.mu.Lock()
	defer l.unlock()

	if gen != l.gen {
		return
	}
	l.log.Debug().Str("transport", string(st)).Str("state", l.state.String()).Msg("Transport state changed")

	switch {
	case st.Broken():
		if l.fire(domain.EventTransportFailed) {
			l.log.Warn().Err(domain.ErrLinkNegotiationFailed).Str("transport", string(st)).Msg("Link lost, scheduling reconnection")
			l.m.scheduleReconnect(l)
		}
	case st == domain.TransportConnected && l.state == domain.LinkReconnecting:
		l.m.sched.cancel(l.userID)
		l.fire(domain.EventTransportRecovered)
	}
}
