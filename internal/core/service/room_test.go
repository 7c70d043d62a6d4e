package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Wyydra/meshcall/internal/core/domain"
)

type recordingGateway struct {
	mu   sync.Mutex
	sent map[domain.LinkID][]domain.Event
}

func newRecordingGateway() *recordingGateway {
	return &recordingGateway{sent: make(map[domain.LinkID][]domain.Event)}
}

func (g *recordingGateway) Deliver(_ context.Context, link domain.LinkID, ev domain.Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent[link] = append(g.sent[link], ev)
	return nil
}

func (g *recordingGateway) to(link domain.LinkID) []domain.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.Event(nil), g.sent[link]...)
}

var (
	alice = domain.RosterEntry{UserID: "alice", LinkID: "la", Name: "Alice"}
	bob   = domain.RosterEntry{UserID: "bob", LinkID: "lb", Name: "Bob"}
	carol = domain.RosterEntry{UserID: "carol", LinkID: "lc"}
)

func TestRoomJoin(t *testing.T) {
	ctx := context.Background()
	gw := newRecordingGateway()
	s := NewRoomService(gw)

	resp := s.Join(ctx, alice, groupCall)
	if !resp.Accepted || resp.Room != "group:g1" || len(resp.Roster) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}

	resp = s.Join(ctx, bob, groupCall)
	if len(resp.Roster) != 2 || resp.Roster[0] != alice || resp.Roster[1] != bob {
		t.Fatalf("unexpected roster %+v", resp.Roster)
	}

	got := gw.to("la")
	if len(got) != 1 || got[0].Type != domain.EventUserJoined || got[0].UserID != "bob" || got[0].LinkID != "lb" || got[0].Name != "Bob" {
		t.Fatalf("alice not told about bob: %+v", got)
	}
	if len(gw.to("lb")) != 0 {
		t.Fatalf("joiner notified about itself")
	}
	if s.RoomCount() != 1 {
		t.Fatalf("expected one room, got %d", s.RoomCount())
	}
}

func TestRoomJoinRejections(t *testing.T) {
	ctx := context.Background()
	s := NewRoomService(newRecordingGateway())

	if resp := s.Join(ctx, alice, domain.CallConfig{CallID: "c1", Kind: domain.CallGroup}); resp.Accepted || resp.Error == "" {
		t.Fatalf("invalid config accepted: %+v", resp)
	}
}

func TestRoomSharedAcrossCallIDs(t *testing.T) {
	ctx := context.Background()
	gw := newRecordingGateway()
	s := NewRoomService(gw)

	s.Join(ctx, alice, groupCall)
	other := groupCall
	other.CallID = "c2"
	resp := s.Join(ctx, bob, other)
	if !resp.Accepted || resp.Room != "group:g1" || resp.CallID != groupCall.CallID {
		t.Fatalf("second caller not placed in the group room: %+v", resp)
	}
	if len(resp.Roster) != 2 || s.RoomCount() != 1 {
		t.Fatalf("expected one room with both members, roster %+v", resp.Roster)
	}
	if got := gw.to("la"); len(got) != 1 || got[0].CallID != groupCall.CallID {
		t.Fatalf("alice should hear about bob under her call id: %+v", got)
	}

	offer := domain.Signal{Type: domain.EventOffer, CallID: "c2", TargetLinkID: "la", SDP: &remoteOffer}
	if err := s.Route(ctx, "lb", offer); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if got := gw.to("la"); len(got) != 2 || got[1].CallID != groupCall.CallID || got[1].UserID != "bob" {
		t.Fatalf("offer not delivered under alice's call id: %+v", got)
	}

	if err := s.BroadcastMediaState(ctx, "la", domain.MediaStateChange{CallID: groupCall.CallID, MediaKind: domain.MediaVideo}); err != nil {
		t.Fatalf("BroadcastMediaState: %v", err)
	}
	if got := gw.to("lb"); len(got) != 1 || got[0].CallID != "c2" {
		t.Fatalf("bob should hear alice under his call id: %+v", got)
	}

	if !s.Leave(ctx, "lb", "c2") {
		t.Fatalf("bob not in the room under his call id")
	}
	if got := gw.to("la"); len(got) != 3 || got[2].Type != domain.EventUserLeft || got[2].CallID != groupCall.CallID {
		t.Fatalf("alice not told bob left: %+v", got)
	}
}

func TestRoomReplacesPreviousConnection(t *testing.T) {
	ctx := context.Background()
	gw := newRecordingGateway()
	s := NewRoomService(gw)

	s.Join(ctx, alice, groupCall)
	s.Join(ctx, bob, groupCall)
	again := domain.RosterEntry{UserID: "bob", LinkID: "lb2"}
	resp := s.Join(ctx, again, groupCall)

	if len(resp.Roster) != 2 || resp.Roster[1].LinkID != "lb2" {
		t.Fatalf("old connection kept: %+v", resp.Roster)
	}
	if got := gw.to("la"); len(got) != 2 || got[1].LinkID != "lb2" {
		t.Fatalf("alice not told about the new connection: %+v", got)
	}
	if s.Leave(ctx, "lb", groupCall.CallID) {
		t.Fatalf("replaced connection still in the room")
	}
}

func TestRoomLeaveAndDisconnect(t *testing.T) {
	ctx := context.Background()
	gw := newRecordingGateway()
	s := NewRoomService(gw)

	s.Join(ctx, alice, groupCall)
	s.Join(ctx, bob, groupCall)
	s.Join(ctx, carol, groupCall)

	if !s.Leave(ctx, "lb", groupCall.CallID) {
		t.Fatalf("bob was not in the room")
	}
	for _, link := range []domain.LinkID{"la", "lc"} {
		got := gw.to(link)
		last := got[len(got)-1]
		if last.Type != domain.EventUserLeft || last.UserID != "bob" || last.LinkID != "lb" {
			t.Fatalf("%s not told about bob leaving: %+v", link, last)
		}
	}
	if s.Leave(ctx, "lb", groupCall.CallID) {
		t.Fatalf("second leave reported success")
	}

	s.Disconnect(ctx, "lc")
	s.Disconnect(ctx, "la")
	if s.RoomCount() != 0 {
		t.Fatalf("empty room kept")
	}
	if _, ok := s.Members("group:g1"); ok {
		t.Fatalf("members of a deleted room")
	}
}

func TestRoomRoute(t *testing.T) {
	ctx := context.Background()
	gw := newRecordingGateway()
	s := NewRoomService(gw)
	s.Join(ctx, alice, groupCall)
	s.Join(ctx, bob, groupCall)
	s.Join(ctx, carol, groupCall)

	offer := domain.Signal{Type: domain.EventOffer, CallID: "c1", TargetLinkID: "lb", SDP: &remoteOffer}
	if err := s.Route(ctx, "la", offer); err != nil {
		t.Fatalf("Route: %v", err)
	}
	got := gw.to("lb")
	last := got[len(got)-1]
	if last.Type != domain.EventOffer || last.UserID != "alice" || last.LinkID != "la" || last.Name != "Alice" || last.SDP == nil {
		t.Fatalf("offer not stamped with the sender: %+v", last)
	}
	if n := len(gw.to("lc")); n != 0 {
		t.Fatalf("targeted offer leaked to carol")
	}

	cand := domain.Signal{Type: domain.EventIceCandidate, CallID: "c1", Candidate: &domain.ICECandidate{Candidate: "x"}}
	if err := s.Route(ctx, "lc", cand); err != nil {
		t.Fatalf("broadcast Route: %v", err)
	}
	if n := len(gw.to("la")); n != 3 {
		t.Fatalf("expected broadcast to reach alice, got %d events", n)
	}

	missing := offer
	missing.TargetLinkID = "nobody"
	if err := s.Route(ctx, "la", missing); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	outsider := offer
	outsider.CallID = "c9"
	if err := s.Route(ctx, "la", outsider); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another call, got %v", err)
	}
	if err := s.Route(ctx, "la", domain.Signal{Type: domain.EventUserJoined, CallID: "c1"}); err == nil {
		t.Fatalf("routed a non signaling message")
	}
}

func TestRoomBroadcastMediaState(t *testing.T) {
	ctx := context.Background()
	gw := newRecordingGateway()
	s := NewRoomService(gw)
	s.Join(ctx, alice, groupCall)
	s.Join(ctx, bob, groupCall)

	err := s.BroadcastMediaState(ctx, "lb", domain.MediaStateChange{CallID: "c1", MediaKind: domain.MediaAudio})
	if err != nil {
		t.Fatalf("BroadcastMediaState: %v", err)
	}
	got := gw.to("la")
	last := got[len(got)-1]
	if last.Type != domain.EventMediaState || last.UserID != "bob" || last.MediaKind != domain.MediaAudio || last.Enabled {
		t.Fatalf("unexpected media-state %+v", last)
	}
	if len(gw.to("lb")) != 0 {
		t.Fatalf("sender got its own media-state")
	}

	if err := s.BroadcastMediaState(ctx, "lb", domain.MediaStateChange{CallID: "c1", MediaKind: "screen"}); err == nil {
		t.Fatalf("invalid media kind accepted")
	}
}
