package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/Wyydra/meshcall/internal/core/port"
)

type fakeTrack struct {
	id   string
	kind domain.MediaKind
}

func (t fakeTrack) ID() string                  { return t.id }
func (t fakeTrack) MediaKind() domain.MediaKind { return t.kind }

type fakeMedia struct {
	mu      sync.Mutex
	tracks  []port.LocalTrack
	stopped bool
}

func (m *fakeMedia) Tracks() []port.LocalTrack { return m.tracks }

func (m *fakeMedia) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *fakeMedia) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

type acquireCall struct {
	audio, video bool
}

// fakeSource fails any request that includes a missing device.
type fakeSource struct {
	hasAudio bool
	hasVideo bool

	mu     sync.Mutex
	calls  []acquireCall
	opened []*fakeMedia
}

func (s *fakeSource) Acquire(_ context.Context, audio, video bool) (port.LocalMedia, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, acquireCall{audio, video})
	if (audio && !s.hasAudio) || (video && !s.hasVideo) {
		return nil, fmt.Errorf("device missing (audio=%t video=%t)", audio, video)
	}
	m := &fakeMedia{}
	if audio {
		m.tracks = append(m.tracks, fakeTrack{id: "mic", kind: domain.MediaAudio})
	}
	if video {
		m.tracks = append(m.tracks, fakeTrack{id: "cam", kind: domain.MediaVideo})
	}
	s.opened = append(s.opened, m)
	return m, nil
}

type fakeStream struct {
	id      string
	mu      sync.Mutex
	stopped bool
}

func (s *fakeStream) ID() string                { return s.id }
func (s *fakeStream) Kinds() []domain.MediaKind { return []domain.MediaKind{domain.MediaAudio} }

func (s *fakeStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

type fakeConn struct {
	events port.PeerEvents

	mu          sync.Mutex
	media       port.LocalMedia
	sending     map[domain.MediaKind]bool
	offers      int
	iceRestarts int
	answers     int
	remote      []domain.SessionDescription
	candidates  []domain.ICECandidate
	closed      bool
}

func (c *fakeConn) AddLocalMedia(media port.LocalMedia) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.media = media
	return nil
}

func (c *fakeConn) SetSending(kind domain.MediaKind, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sending[kind] = enabled
	return nil
}

func (c *fakeConn) CreateOffer(iceRestart bool) (domain.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers++
	if iceRestart {
		c.iceRestarts++
	}
	return domain.SessionDescription{Type: domain.SDPOffer, SDP: fmt.Sprintf("offer-%d", c.offers)}, nil
}

func (c *fakeConn) CreateAnswer() (domain.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answers++
	return domain.SessionDescription{Type: domain.SDPAnswer, SDP: fmt.Sprintf("answer-%d", c.answers)}, nil
}

func (c *fakeConn) SetRemoteDescription(desc domain.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = append(c.remote, desc)
	return nil
}

func (c *fakeConn) AddICECandidate(cand domain.ICECandidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, cand)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Sending(kind domain.MediaKind) (enabled, set bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	enabled, set = c.sending[kind]
	return enabled, set
}

func (c *fakeConn) Candidates() []domain.ICECandidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ICECandidate(nil), c.candidates...)
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeFactory fails the next failNext NewPeer calls.
type fakeFactory struct {
	mu       sync.Mutex
	conns    map[domain.UserID][]*fakeConn
	failNext int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{conns: make(map[domain.UserID][]*fakeConn)}
}

func (f *fakeFactory) NewPeer(userID domain.UserID, events port.PeerEvents) (port.PeerConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return nil, errors.New("no transport")
	}
	c := &fakeConn{events: events, sending: make(map[domain.MediaKind]bool)}
	f.conns[userID] = append(f.conns[userID], c)
	return c, nil
}

// last returns the most recent transport created for userID.
func (f *fakeFactory) last(userID domain.UserID) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	cs := f.conns[userID]
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}

func (f *fakeFactory) count(userID domain.UserID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns[userID])
}

// fakeSender records delivered signals and drops the next failNext ones
// with an error.
type fakeSender struct {
	mu       sync.Mutex
	signals  []domain.Signal
	failNext int
}

func (s *fakeSender) SendSignal(_ context.Context, sig domain.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return domain.ErrRelayUnavailable
	}
	s.signals = append(s.signals, sig)
	return nil
}

func (s *fakeSender) sent() []domain.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Signal(nil), s.signals...)
}

func (s *fakeSender) ofType(typ domain.EventType) []domain.Signal {
	var out []domain.Signal
	for _, sig := range s.sent() {
		if sig.Type == typ {
			out = append(out, sig)
		}
	}
	return out
}

// fakeRelay answers joins with resp, or blocks until the context ends when
// hang is set.
type fakeRelay struct {
	fakeSender

	resp    domain.JoinResponse
	joinErr error
	hang    bool

	mu2     sync.Mutex
	joins   []domain.CallConfig
	leaves  []domain.CallConfig
	changes []domain.MediaStateChange
	events  chan domain.Event
}

func newFakeRelay(roster ...domain.RosterEntry) *fakeRelay {
	return &fakeRelay{
		resp:   domain.JoinResponse{Accepted: true, Roster: roster},
		events: make(chan domain.Event, 16),
	}
}

func (r *fakeRelay) Join(ctx context.Context, cfg domain.CallConfig) (domain.JoinResponse, error) {
	r.mu2.Lock()
	r.joins = append(r.joins, cfg)
	r.mu2.Unlock()
	if r.hang {
		<-ctx.Done()
		return domain.JoinResponse{}, ctx.Err()
	}
	return r.resp, r.joinErr
}

func (r *fakeRelay) Leave(_ context.Context, cfg domain.CallConfig) error {
	r.mu2.Lock()
	defer r.mu2.Unlock()
	r.leaves = append(r.leaves, cfg)
	return nil
}

func (r *fakeRelay) BroadcastMediaState(_ context.Context, change domain.MediaStateChange) error {
	r.mu2.Lock()
	defer r.mu2.Unlock()
	r.changes = append(r.changes, change)
	return nil
}

func (r *fakeRelay) Subscribe() (<-chan domain.Event, func()) {
	var once sync.Once
	return r.events, func() { once.Do(func() { close(r.events) }) }
}

func (r *fakeRelay) mediaChanges() []domain.MediaStateChange {
	r.mu2.Lock()
	defer r.mu2.Unlock()
	return append([]domain.MediaStateChange(nil), r.changes...)
}

func (r *fakeRelay) leaveCount() int {
	r.mu2.Lock()
	defer r.mu2.Unlock()
	return len(r.leaves)
}

type manualTimer struct {
	mu      sync.Mutex
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// manualTimers is an AfterFunc whose timers only fire when told to.
type manualTimers struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (m *manualTimers) after(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{d: d, f: f}
	m.timers = append(m.timers, t)
	return t
}

// fire runs every live timer.
func (m *manualTimers) fire() int {
	m.mu.Lock()
	timers := append([]*manualTimer(nil), m.timers...)
	m.mu.Unlock()

	n := 0
	for _, t := range timers {
		t.mu.Lock()
		live := !t.stopped && !t.fired
		t.fired = true
		t.mu.Unlock()
		if live {
			t.f()
			n++
		}
	}
	return n
}

// fireStale runs every timer, including stopped ones, the way a timer that
// already fired when Stop was called would.
func (m *manualTimers) fireStale() {
	m.mu.Lock()
	timers := append([]*manualTimer(nil), m.timers...)
	m.mu.Unlock()
	for _, t := range timers {
		t.f()
	}
}

func (m *manualTimers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

type memoryRepo struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{entries: make(map[string][]byte)}
}

func (r *memoryRepo) Get(_ context.Context, key string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.entries[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func (r *memoryRepo) Put(_ context.Context, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = value
	return nil
}

func (r *memoryRepo) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
	return nil
}

func (r *memoryRepo) has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}
