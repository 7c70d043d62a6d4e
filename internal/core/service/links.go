package service

import (
	"context"
	"sync"
	"time"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/Wyydra/meshcall/internal/core/port"
	"github.com/rs/zerolog/log"
)

const DefaultReconnectBackoff = time.Second

// StreamUpdate reports the remote stream of a participant. Stream is nil when
// the stream went away.
type StreamUpdate struct {
	UserID domain.UserID
	Stream port.RemoteStream
}

// PeerLinkManager keeps at most one PeerLink per remote participant for the
// active call.
//
// Lock order: the manager lock is never held while a link lock is taken.
type PeerLinkManager struct {
	self    domain.UserID
	factory port.PeerFactory
	backoff time.Duration
	sched   *scheduler

	mu      sync.Mutex
	callID  domain.CallID
	media   port.LocalMedia
	out     port.SignalSender
	sending map[domain.MediaKind]bool
	links   map[domain.UserID]*PeerLink

	streams subscribers[StreamUpdate]
}

// NewPeerLinkManager creates a manager. A zero backoff selects
// DefaultReconnectBackoff and a nil after uses real timers.
func NewPeerLinkManager(self domain.UserID, factory port.PeerFactory, backoff time.Duration, after AfterFunc) *PeerLinkManager {
	if backoff <= 0 {
		backoff = DefaultReconnectBackoff
	}
	return &PeerLinkManager{
		self:    self,
		factory: factory,
		backoff: backoff,
		sched:   newScheduler(after),
		links:   make(map[domain.UserID]*PeerLink),
		sending: defaultSending(),
	}
}

func defaultSending() map[domain.MediaKind]bool {
	return map[domain.MediaKind]bool{
		domain.MediaAudio: true,
		domain.MediaVideo: true,
	}
}

// Begin binds the manager to a call. Links created from now on carry media
// and signal through out.
func (m *PeerLinkManager) Begin(callID domain.CallID, media port.LocalMedia, out port.SignalSender) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callID = callID
	m.media = media
	m.out = out
	m.sending = defaultSending()
}

func (m *PeerLinkManager) session() (domain.CallID, port.SignalSender) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callID, m.out
}

func (m *PeerLinkManager) localMedia() (port.LocalMedia, map[domain.MediaKind]bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sending := make(map[domain.MediaKind]bool, len(m.sending))
	for k, v := range m.sending {
		sending[k] = v
	}
	return m.media, sending
}

func (m *PeerLinkManager) polite(remote domain.UserID) bool {
	return m.self < remote
}

func (m *PeerLinkManager) lookup(userID domain.UserID) *PeerLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[userID]
}

// EnsureLink creates the link for userID and offers, or retargets an
// existing link when linkID changed. Calling it again with the same linkID
// is a no-op.
func (m *PeerLinkManager) EnsureLink(ctx context.Context, userID domain.UserID, linkID domain.LinkID) {
	if userID == "" || userID == m.self {
		return
	}

	m.mu.Lock()
	if m.callID == "" {
		m.mu.Unlock()
		return
	}
	link, exists := m.links[userID]
	if !exists {
		link = newPeerLink(m, userID, linkID)
		m.links[userID] = link
	}
	m.mu.Unlock()

	if exists {
		link.retarget(ctx, linkID)
		return
	}
	link.start(ctx)
}

// HandleOffer applies a remote offer, creating the link when the sender is
// not known yet.
func (m *PeerLinkManager) HandleOffer(ctx context.Context, userID domain.UserID, linkID domain.LinkID, sdp domain.SessionDescription) {
	if userID == "" || userID == m.self {
		return
	}

	m.mu.Lock()
	if m.callID == "" {
		m.mu.Unlock()
		return
	}
	link, ok := m.links[userID]
	if !ok {
		link = newPeerLink(m, userID, linkID)
		m.links[userID] = link
	}
	m.mu.Unlock()

	link.acceptOffer(ctx, linkID, sdp)
}

func (m *PeerLinkManager) HandleAnswer(_ context.Context, userID domain.UserID, linkID domain.LinkID, sdp domain.SessionDescription) {
	link := m.lookup(userID)
	if link == nil {
		log.Debug().Str("user_id", userID.String()).Msg("Discarding answer for unknown link")
		return
	}
	link.acceptAnswer(linkID, sdp)
}

// HandleICECandidate queues or applies a remote candidate. Candidates for
// unknown participants are discarded.
func (m *PeerLinkManager) HandleICECandidate(_ context.Context, userID domain.UserID, linkID domain.LinkID, c domain.ICECandidate) {
	link := m.lookup(userID)
	if link == nil {
		log.Debug().Str("user_id", userID.String()).Msg("Discarding candidate for unknown link")
		return
	}
	link.addRemoteCandidate(linkID, c)
}

// CloseLink terminates the link for userID, cancels its pending
// reconnection and reports its stream as gone.
func (m *PeerLinkManager) CloseLink(userID domain.UserID) {
	m.sched.cancel(userID)

	m.mu.Lock()
	link, ok := m.links[userID]
	delete(m.links, userID)
	m.mu.Unlock()

	if ok {
		link.close()
	}
}

// CloseAll terminates every link and unbinds the manager from the call.
func (m *PeerLinkManager) CloseAll() {
	m.sched.cancelAll()

	m.mu.Lock()
	links := make([]*PeerLink, 0, len(m.links))
	for id, link := range m.links {
		links = append(links, link)
		delete(m.links, id)
	}
	m.callID = ""
	m.media = nil
	m.out = nil
	m.sending = defaultSending()
	m.mu.Unlock()

	for _, link := range links {
		link.close()
	}
}

// SetSending pauses or resumes transmission of kind on every link, and on
// links created later.
func (m *PeerLinkManager) SetSending(kind domain.MediaKind, enabled bool) {
	m.mu.Lock()
	m.sending[kind] = enabled
	links := make([]*PeerLink, 0, len(m.links))
	for _, link := range m.links {
		links = append(links, link)
	}
	m.mu.Unlock()

	for _, link := range links {
		link.setSending(kind, enabled)
	}
}

func (m *PeerLinkManager) scheduleReconnect(l *PeerLink) {
	m.sched.schedule(l.userID, m.backoff, func() {
		if m.lookup(l.userID) != l {
			return
		}
		l.reconnect(context.Background())
	})
}

// SubscribeStreams registers fn for remote stream changes.
func (m *PeerLinkManager) SubscribeStreams(fn func(StreamUpdate)) (unsubscribe func()) {
	return m.streams.add(fn)
}

func (m *PeerLinkManager) Link(userID domain.UserID) (LinkInfo, bool) {
	link := m.lookup(userID)
	if link == nil {
		return LinkInfo{}, false
	}
	return link.info(), true
}

func (m *PeerLinkManager) Links() []LinkInfo {
	m.mu.Lock()
	links := make([]*PeerLink, 0, len(m.links))
	for _, link := range m.links {
		links = append(links, link)
	}
	m.mu.Unlock()

	infos := make([]LinkInfo, 0, len(links))
	for _, link := range links {
		infos = append(infos, link.info())
	}
	return infos
}

// ReconnectPending reports whether a reconnection is scheduled for userID.
func (m *PeerLinkManager) ReconnectPending(userID domain.UserID) bool {
	return m.sched.pending(userID)
}
