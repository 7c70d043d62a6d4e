package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/Wyydra/meshcall/internal/core/port"
	"github.com/rs/zerolog/log"
)

const DefaultJoinTimeout = 10 * time.Second

type activeCall struct {
	cfg   domain.CallConfig
	media port.LocalMedia
}

// CallCoordinator is the entry point of a call participant. It owns the
// local media for the duration of a call and wires the relay to the
// directory and the peer links.
type CallCoordinator struct {
	self        domain.UserID
	media       *MediaNegotiator
	snapshots   *SnapshotStore
	directory   *ParticipantDirectory
	links       *PeerLinkManager
	joinTimeout time.Duration

	// op serializes Join and Leave.
	op sync.Mutex

	mu        sync.Mutex
	relay     port.Relay
	stopRelay func()
	call      *activeCall

	mediaSubs subscribers[domain.MediaDeviceState]
}

func NewCallCoordinator(
	self domain.UserID,
	media *MediaNegotiator,
	snapshots *SnapshotStore,
	directory *ParticipantDirectory,
	links *PeerLinkManager,
	joinTimeout time.Duration,
) *CallCoordinator {
	if joinTimeout <= 0 {
		joinTimeout = DefaultJoinTimeout
	}
	return &CallCoordinator{
		self:        self,
		media:       media,
		snapshots:   snapshots,
		directory:   directory,
		links:       links,
		joinTimeout: joinTimeout,
	}
}

// AttachRelay makes relay the signaling channel and starts consuming its
// events. A previously attached relay is detached.
func (c *CallCoordinator) AttachRelay(relay port.Relay) {
	events, cancel := relay.Subscribe()

	c.mu.Lock()
	stop := c.stopRelay
	c.relay = relay
	c.stopRelay = cancel
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	go c.dispatchLoop(events)
}

// DetachRelay stops consuming relay events. Joins fail with
// ErrRelayUnavailable until a relay is attached again.
func (c *CallCoordinator) DetachRelay() {
	c.mu.Lock()
	stop := c.stopRelay
	c.relay = nil
	c.stopRelay = nil
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
}

func (c *CallCoordinator) dispatchLoop(events <-chan domain.Event) {
	for ev := range events {
		c.HandleEvent(context.Background(), ev)
	}
	log.Debug().Msg("Relay event stream closed")
}

func (c *CallCoordinator) current() (*activeCall, port.Relay) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.call, c.relay
}

// Join acquires local media, announces the call to the relay and starts
// negotiating with every participant already present.
func (c *CallCoordinator) Join(ctx context.Context, cfg domain.CallConfig, opts domain.JoinOptions) (domain.JoinResult, error) {
	if err := cfg.Validate(); err != nil {
		return domain.JoinResult{}, err
	}

	c.op.Lock()
	defer c.op.Unlock()

	call, relay := c.current()
	if call != nil {
		return domain.JoinResult{}, fmt.Errorf("%w: %s", domain.ErrAlreadyInCall, call.cfg.CallID)
	}
	if relay == nil {
		return domain.JoinResult{}, fmt.Errorf("%w: no signaling channel attached", domain.ErrRelayUnavailable)
	}

	l := log.With().Str("call_id", cfg.CallID.String()).Str("scope", cfg.Scope()).Logger()

	media, state, err := c.media.Acquire(ctx, opts.WantAudio(), opts.WantVideo())
	if err != nil {
		l.Warn().Err(err).Msg("Join aborted, no usable capture device")
		return domain.JoinResult{}, err
	}
	if err := c.snapshots.Save(ctx, cfg, opts.Title); err != nil {
		l.Warn().Err(err).Msg("Saving session snapshot failed")
	}

	c.mu.Lock()
	c.call = &activeCall{cfg: cfg, media: media}
	c.mu.Unlock()
	c.links.Begin(cfg.CallID, media, relay)
	c.mediaSubs.notify(state)

	jctx, cancel := context.WithTimeout(ctx, c.joinTimeout)
	resp, err := relay.Join(jctx, cfg)
	cancel()
	switch {
	case err != nil && !errors.Is(err, domain.ErrRelayUnavailable) && !errors.Is(err, domain.ErrJoinRejected):
		err = fmt.Errorf("%w: %v", domain.ErrRelayUnavailable, err)
	case err == nil && !resp.Accepted:
		err = fmt.Errorf("%w: %s", domain.ErrJoinRejected, resp.Error)
	}
	if err != nil {
		l.Warn().Err(err).Msg("Join failed")
		c.abort(context.WithoutCancel(ctx))
		return domain.JoinResult{}, err
	}

	if resp.CallID != "" && resp.CallID != cfg.CallID {
		l.Info().Str("room_call_id", resp.CallID.String()).Msg("Room was opened under another call id")
	}
	for _, entry := range resp.Roster {
		if entry.UserID == c.self {
			continue
		}
		c.directory.Upsert(domain.NewParticipant(entry))
	}
	for _, entry := range resp.Roster {
		c.links.EnsureLink(ctx, entry.UserID, entry.LinkID)
	}

	participants := c.directory.Snapshot()
	l.Info().Int("participants", len(participants)).Str("room", resp.Room).Msg("Joined call")
	return domain.JoinResult{Participants: participants, Media: state}, nil
}

// abort undoes a join that did not complete.
func (c *CallCoordinator) abort(ctx context.Context) {
	c.mu.Lock()
	call := c.call
	c.call = nil
	c.mu.Unlock()

	c.links.CloseAll()
	if call != nil {
		call.media.Stop()
	}
	c.directory.Clear()
	c.mediaSubs.notify(c.media.Reset())
	if err := c.snapshots.Clear(ctx); err != nil {
		log.Warn().Err(err).Msg("Clearing session snapshot failed")
	}
}

// Leave ends the current call. It is a no-op when not in a call. Local
// state is always released; the returned error only reports a failed relay
// notification.
func (c *CallCoordinator) Leave(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	call := c.call
	relay := c.relay
	c.call = nil
	c.mu.Unlock()

	if call == nil {
		return nil
	}

	c.links.CloseAll()
	call.media.Stop()
	c.directory.Clear()
	c.mediaSubs.notify(c.media.Reset())
	if err := c.snapshots.Clear(ctx); err != nil {
		log.Warn().Err(err).Msg("Clearing session snapshot failed")
	}

	log.Info().Str("call_id", call.cfg.CallID.String()).Msg("Left call")
	if relay == nil {
		return nil
	}
	if err := relay.Leave(ctx, call.cfg); err != nil {
		return fmt.Errorf("notify relay of leave: %w", err)
	}
	return nil
}

func (c *CallCoordinator) ToggleAudio(ctx context.Context, enabled bool) {
	c.toggle(ctx, domain.MediaAudio, enabled)
}

func (c *CallCoordinator) ToggleVideo(ctx context.Context, enabled bool) {
	c.toggle(ctx, domain.MediaVideo, enabled)
}

// toggle records the local intent, gates transmission and broadcasts the
// intent even when the device is absent.
func (c *CallCoordinator) toggle(ctx context.Context, kind domain.MediaKind, enabled bool) {
	state := c.media.SetEnabled(kind, enabled)
	c.links.SetSending(kind, enabled)
	c.mediaSubs.notify(state)

	call, relay := c.current()
	if call == nil || relay == nil {
		return
	}
	change := domain.MediaStateChange{CallID: call.cfg.CallID, MediaKind: kind, Enabled: enabled}
	if err := relay.BroadcastMediaState(ctx, change); err != nil {
		log.Warn().Err(err).Str("kind", string(kind)).Msg("Broadcasting media state failed")
	}
}

// HandleEvent applies one inbound relay event. Events for another call or
// from the local user are ignored.
func (c *CallCoordinator) HandleEvent(ctx context.Context, ev domain.Event) {
	call, _ := c.current()
	if call == nil || ev.CallID != call.cfg.CallID {
		log.Debug().Str("type", string(ev.Type)).Str("call_id", ev.CallID.String()).Msg("Ignoring event outside the active call")
		return
	}
	if ev.UserID == "" || ev.UserID == c.self {
		return
	}

	switch ev.Type {
	case domain.EventUserJoined:
		if !c.admit(call, ev) {
			return
		}
		c.links.EnsureLink(ctx, ev.UserID, ev.LinkID)

	case domain.EventUserLeft:
		if link, ok := c.links.Link(ev.UserID); ok && ev.LinkID != "" && link.LinkID != ev.LinkID {
			log.Debug().Str("user_id", ev.UserID.String()).Str("link_id", ev.LinkID.String()).Msg("Ignoring stale user-left")
			return
		}
		c.links.CloseLink(ev.UserID)
		c.directory.Remove(ev.UserID)

	case domain.EventOffer:
		if ev.SDP == nil {
			return
		}
		if _, ok := c.directory.Get(ev.UserID); !ok && !c.admit(call, ev) {
			return
		}
		c.links.HandleOffer(ctx, ev.UserID, ev.LinkID, *ev.SDP)

	case domain.EventAnswer:
		if ev.SDP == nil {
			return
		}
		c.links.HandleAnswer(ctx, ev.UserID, ev.LinkID, *ev.SDP)

	case domain.EventIceCandidate:
		if ev.Candidate == nil {
			return
		}
		c.links.HandleICECandidate(ctx, ev.UserID, ev.LinkID, *ev.Candidate)

	case domain.EventMediaState:
		c.directory.SetMediaFlag(ev.UserID, ev.MediaKind, ev.Enabled)

	default:
		log.Debug().Str("type", string(ev.Type)).Msg("Ignoring unknown relay event")
	}
}

// admit adds the sender of ev to the directory. A Leave that overtook the
// event has already cleared the directory; the entry is then withdrawn and
// admit reports false.
func (c *CallCoordinator) admit(call *activeCall, ev domain.Event) bool {
	c.directory.Upsert(domain.NewParticipant(ev.RosterEntry()))
	if active, _ := c.current(); active != call {
		c.directory.Remove(ev.UserID)
		return false
	}
	return true
}

func (c *CallCoordinator) SubscribeParticipants(fn func([]domain.Participant)) (unsubscribe func()) {
	return c.directory.Subscribe(fn)
}

func (c *CallCoordinator) SubscribeStreams(fn func(StreamUpdate)) (unsubscribe func()) {
	return c.links.SubscribeStreams(fn)
}

func (c *CallCoordinator) SubscribeMediaState(fn func(domain.MediaDeviceState)) (unsubscribe func()) {
	return c.mediaSubs.add(fn)
}

// StoredSession returns the recovery snapshot of a call that was not left
// cleanly, or nil.
func (c *CallCoordinator) StoredSession(ctx context.Context) (*domain.SessionSnapshot, error) {
	return c.snapshots.Load(ctx)
}

func (c *CallCoordinator) MediaState() domain.MediaDeviceState {
	return c.media.State()
}

func (c *CallCoordinator) ActiveCall() (domain.CallConfig, bool) {
	call, _ := c.current()
	if call == nil {
		return domain.CallConfig{}, false
	}
	return call.cfg, true
}

func (c *CallCoordinator) Participants() []domain.Participant {
	return c.directory.Snapshot()
}
