package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/Wyydra/meshcall/internal/core/port"
	"github.com/rs/zerolog/log"
)

// room is keyed by scope. callID is the call that opened it; every member
// keeps the call id it joined with and receives events under that id.
type room struct {
	scope   string
	callID  domain.CallID
	members map[domain.LinkID]domain.RosterEntry
	calls   map[domain.LinkID]domain.CallID
	order   []domain.LinkID
}

func (r *room) roster() []domain.RosterEntry {
	out := make([]domain.RosterEntry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.members[id])
	}
	return out
}

func (r *room) remove(link domain.LinkID) {
	delete(r.members, link)
	delete(r.calls, link)
	for i, id := range r.order {
		if id == link {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			return
		}
	}
}

type delivery struct {
	to domain.LinkID
	ev domain.Event
}

// RoomService is the relay side of the signaling protocol: it tracks which
// connection is in which call room and routes messages between them.
type RoomService struct {
	gateway port.LinkGateway

	mu    sync.Mutex
	rooms map[string]*room
	// joined maps a connection to the rooms it is in, keyed by call id.
	joined map[domain.LinkID]map[domain.CallID]string
}

func NewRoomService(gateway port.LinkGateway) *RoomService {
	return &RoomService{
		gateway: gateway,
		rooms:   make(map[string]*room),
		joined:  make(map[domain.LinkID]map[domain.CallID]string),
	}
}

func (s *RoomService) deliver(ctx context.Context, out []delivery) {
	for _, d := range out {
		if err := s.gateway.Deliver(ctx, d.to, d.ev); err != nil {
			log.Warn().Err(err).Str("link_id", d.to.String()).Str("type", string(d.ev.Type)).Msg("Delivery failed")
		}
	}
}

// Join places member in the room of cfg's scope, whatever call id the room
// was opened with. The roster in the response includes the joiner; the other
// members receive user-joined. A previous connection of the same user is
// replaced.
func (s *RoomService) Join(ctx context.Context, member domain.RosterEntry, cfg domain.CallConfig) domain.JoinResponse {
	if err := cfg.Validate(); err != nil {
		return domain.JoinResponse{Error: err.Error()}
	}
	scope := cfg.Scope()

	s.mu.Lock()
	r, ok := s.rooms[scope]
	if !ok {
		r = &room{
			scope:   scope,
			callID:  cfg.CallID,
			members: make(map[domain.LinkID]domain.RosterEntry),
			calls:   make(map[domain.LinkID]domain.CallID),
		}
		s.rooms[scope] = r
	} else if r.callID != cfg.CallID {
		log.Debug().Str("room", scope).Str("call_id", cfg.CallID.String()).Str("room_call_id", r.callID.String()).Msg("Joining room under another call id")
	}

	if prev, ok := r.calls[member.LinkID]; ok && prev != cfg.CallID {
		s.untrackLocked(member.LinkID, prev)
	}
	for link, existing := range r.members {
		if existing.UserID == member.UserID && link != member.LinkID {
			s.untrackLocked(link, r.calls[link])
			r.remove(link)
			log.Info().Str("user_id", member.UserID.String()).Str("old_link_id", link.String()).Msg("Replacing previous connection")
		}
	}
	if _, present := r.members[member.LinkID]; !present {
		r.order = append(r.order, member.LinkID)
	}
	r.members[member.LinkID] = member
	r.calls[member.LinkID] = cfg.CallID
	if s.joined[member.LinkID] == nil {
		s.joined[member.LinkID] = make(map[domain.CallID]string)
	}
	s.joined[member.LinkID][cfg.CallID] = scope

	roster := r.roster()
	out := make([]delivery, 0, len(roster))
	for _, other := range roster {
		if other.LinkID == member.LinkID {
			continue
		}
		out = append(out, delivery{to: other.LinkID, ev: domain.Event{
			Type:   domain.EventUserJoined,
			CallID: r.calls[other.LinkID],
			UserID: member.UserID,
			LinkID: member.LinkID,
			Name:   member.Name,
			Avatar: member.Avatar,
		}})
	}
	s.mu.Unlock()

	log.Info().
		Str("room", scope).
		Str("user_id", member.UserID.String()).
		Str("link_id", member.LinkID.String()).
		Int("members", len(roster)).
		Msg("Member joined room")

	s.deliver(ctx, out)
	return domain.JoinResponse{Accepted: true, Room: scope, CallID: r.callID, Roster: roster}
}

func (s *RoomService) untrackLocked(link domain.LinkID, callID domain.CallID) {
	calls := s.joined[link]
	delete(calls, callID)
	if len(calls) == 0 {
		delete(s.joined, link)
	}
}

// Leave removes link from the room of callID and tells the remaining
// members. It reports whether the connection was in that room.
func (s *RoomService) Leave(ctx context.Context, link domain.LinkID, callID domain.CallID) bool {
	s.mu.Lock()
	out, ok := s.leaveLocked(link, callID)
	s.mu.Unlock()

	s.deliver(ctx, out)
	return ok
}

func (s *RoomService) leaveLocked(link domain.LinkID, callID domain.CallID) ([]delivery, bool) {
	scope, ok := s.joined[link][callID]
	if !ok {
		return nil, false
	}
	s.untrackLocked(link, callID)

	r := s.rooms[scope]
	if r == nil {
		return nil, false
	}
	member, ok := r.members[link]
	if !ok {
		return nil, false
	}
	r.remove(link)

	log.Info().
		Str("room", scope).
		Str("user_id", member.UserID.String()).
		Str("link_id", link.String()).
		Int("members", len(r.order)).
		Msg("Member left room")

	if len(r.order) == 0 {
		delete(s.rooms, scope)
		return nil, true
	}
	out := make([]delivery, 0, len(r.order))
	for _, other := range r.order {
		out = append(out, delivery{to: other, ev: domain.Event{
			Type:   domain.EventUserLeft,
			CallID: r.calls[other],
			UserID: member.UserID,
			LinkID: link,
		}})
	}
	return out, true
}

// Disconnect removes a closed connection from every room it was in.
func (s *RoomService) Disconnect(ctx context.Context, link domain.LinkID) {
	s.mu.Lock()
	var out []delivery
	for callID := range s.joined[link] {
		d, _ := s.leaveLocked(link, callID)
		out = append(out, d...)
	}
	s.mu.Unlock()

	s.deliver(ctx, out)
}

// senderLocked resolves the room and roster entry of a connection in a call.
func (s *RoomService) senderLocked(link domain.LinkID, callID domain.CallID) (*room, domain.RosterEntry, error) {
	scope, ok := s.joined[link][callID]
	if !ok {
		return nil, domain.RosterEntry{}, fmt.Errorf("%w: connection is not in call %s", domain.ErrNotFound, callID)
	}
	r := s.rooms[scope]
	return r, r.members[link], nil
}

// Route forwards an offer, answer or candidate from link. A signal with a
// target goes to that member only; without one it goes to the whole room.
func (s *RoomService) Route(ctx context.Context, from domain.LinkID, sig domain.Signal) error {
	switch sig.Type {
	case domain.EventOffer, domain.EventAnswer, domain.EventIceCandidate:
	default:
		return fmt.Errorf("cannot route %q", sig.Type)
	}

	s.mu.Lock()
	r, sender, err := s.senderLocked(from, sig.CallID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	ev := domain.Event{
		Type:      sig.Type,
		CallID:    sig.CallID,
		UserID:    sender.UserID,
		LinkID:    from,
		Name:      sender.Name,
		Avatar:    sender.Avatar,
		SDP:       sig.SDP,
		Candidate: sig.Candidate,
	}

	var out []delivery
	if sig.TargetLinkID != "" {
		if _, ok := r.members[sig.TargetLinkID]; !ok {
			s.mu.Unlock()
			return fmt.Errorf("%w: link %s is not in room %s", domain.ErrNotFound, sig.TargetLinkID, r.scope)
		}
		ev.CallID = r.calls[sig.TargetLinkID]
		out = append(out, delivery{to: sig.TargetLinkID, ev: ev})
	} else {
		for _, other := range r.order {
			if other != from {
				ev.CallID = r.calls[other]
				out = append(out, delivery{to: other, ev: ev})
			}
		}
	}
	s.mu.Unlock()

	s.deliver(ctx, out)
	return nil
}

// BroadcastMediaState tells every other member of the room about a media
// toggle of link.
func (s *RoomService) BroadcastMediaState(ctx context.Context, from domain.LinkID, change domain.MediaStateChange) error {
	if !change.MediaKind.Valid() {
		return fmt.Errorf("invalid media kind %q", change.MediaKind)
	}

	s.mu.Lock()
	r, sender, err := s.senderLocked(from, change.CallID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	var out []delivery
	for _, other := range r.order {
		if other == from {
			continue
		}
		out = append(out, delivery{to: other, ev: domain.Event{
			Type:      domain.EventMediaState,
			CallID:    r.calls[other],
			UserID:    sender.UserID,
			LinkID:    from,
			MediaKind: change.MediaKind,
			Enabled:   change.Enabled,
		}})
	}
	s.mu.Unlock()

	s.deliver(ctx, out)
	return nil
}

// Members returns the roster of the room with the given scope.
func (s *RoomService) Members(scope string) ([]domain.RosterEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[scope]
	if !ok {
		return nil, false
	}
	return r.roster(), true
}

func (s *RoomService) RoomCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}
