package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Wyydra/meshcall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/Wyydra/meshcall/internal/core/service"
)

func newRelayServer(t *testing.T, secret string) (*httptest.Server, *Handler) {
	t.Helper()
	hub := ws.NewHub()
	go hub.Run()
	h := NewHandler(service.NewRoomService(hub), hub, NewAuthenticator(secret), []ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}}, nil)
	srv := httptest.NewServer(h.NewRouter())
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
	})
	return srv, h
}

func dialRelay(t *testing.T, srv *httptest.Server, userID string) *ws.RelayClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user_id=" + userID
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := ws.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial %s: %v", userID, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func nextEvent(t *testing.T, events <-chan domain.Event) domain.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatalf("event stream closed")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("no event received")
	}
	return domain.Event{}
}

func TestRelayRoundTrip(t *testing.T) {
	srv, _ := newRelayServer(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cfg := domain.CallConfig{CallID: "c1", Kind: domain.CallDirect, ConversationID: "conv"}

	alice := dialRelay(t, srv, "alice")
	aliceEvents, stop := alice.Subscribe()
	defer stop()

	resp, err := alice.Join(ctx, cfg)
	if err != nil {
		t.Fatalf("alice Join: %v", err)
	}
	if !resp.Accepted || resp.Room != "direct:conv" || len(resp.Roster) != 1 {
		t.Fatalf("unexpected join response %+v", resp)
	}
	aliceLink := resp.Roster[0].LinkID

	bob := dialRelay(t, srv, "bob")
	resp, err = bob.Join(ctx, cfg)
	if err != nil {
		t.Fatalf("bob Join: %v", err)
	}
	if len(resp.Roster) != 2 || resp.Roster[0].LinkID != aliceLink {
		t.Fatalf("bob got roster %+v", resp.Roster)
	}
	bobLink := resp.Roster[1].LinkID

	joined := nextEvent(t, aliceEvents)
	if joined.Type != domain.EventUserJoined || joined.UserID != "bob" || joined.LinkID != bobLink {
		t.Fatalf("unexpected event %+v", joined)
	}

	err = bob.SendSignal(ctx, domain.Signal{
		Type:         domain.EventOffer,
		CallID:       "c1",
		TargetLinkID: aliceLink,
		SDP:          &domain.SessionDescription{Type: domain.SDPOffer, SDP: "v=0"},
	})
	if err != nil {
		t.Fatalf("SendSignal: %v", err)
	}
	offer := nextEvent(t, aliceEvents)
	if offer.Type != domain.EventOffer || offer.UserID != "bob" || offer.LinkID != bobLink || offer.SDP == nil || offer.SDP.SDP != "v=0" {
		t.Fatalf("unexpected offer %+v", offer)
	}

	if err := bob.BroadcastMediaState(ctx, domain.MediaStateChange{CallID: "c1", MediaKind: domain.MediaVideo, Enabled: true}); err != nil {
		t.Fatalf("BroadcastMediaState: %v", err)
	}
	media := nextEvent(t, aliceEvents)
	if media.Type != domain.EventMediaState || media.MediaKind != domain.MediaVideo || !media.Enabled {
		t.Fatalf("unexpected media-state %+v", media)
	}

	if err := bob.Leave(ctx, cfg); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	left := nextEvent(t, aliceEvents)
	if left.Type != domain.EventUserLeft || left.UserID != "bob" || left.LinkID != bobLink {
		t.Fatalf("unexpected event %+v", left)
	}
}

func TestRelaySharesScopeAcrossCallIDs(t *testing.T) {
	srv, _ := newRelayServer(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := dialRelay(t, srv, "alice")
	events, stop := alice.Subscribe()
	defer stop()
	if _, err := alice.Join(ctx, domain.CallConfig{CallID: "c1", Kind: domain.CallGroup, GroupID: "g"}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	bob := dialRelay(t, srv, "bob")
	resp, err := bob.Join(ctx, domain.CallConfig{CallID: "c2", Kind: domain.CallGroup, GroupID: "g"})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if !resp.Accepted || resp.CallID != "c1" || len(resp.Roster) != 2 {
		t.Fatalf("second caller not admitted to the group room: %+v", resp)
	}

	joined := nextEvent(t, events)
	if joined.Type != domain.EventUserJoined || joined.UserID != "bob" || joined.CallID != "c1" {
		t.Fatalf("unexpected event %+v", joined)
	}
}

func TestRelayDisconnectNotifiesRoom(t *testing.T) {
	srv, _ := newRelayServer(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cfg := domain.CallConfig{CallID: "c1", Kind: domain.CallGroup, GroupID: "g"}

	alice := dialRelay(t, srv, "alice")
	events, stop := alice.Subscribe()
	defer stop()
	if _, err := alice.Join(ctx, cfg); err != nil {
		t.Fatalf("Join: %v", err)
	}

	bob := dialRelay(t, srv, "bob")
	if _, err := bob.Join(ctx, cfg); err != nil {
		t.Fatalf("Join: %v", err)
	}
	nextEvent(t, events)

	bob.Close()
	left := nextEvent(t, events)
	if left.Type != domain.EventUserLeft || left.UserID != "bob" {
		t.Fatalf("unexpected event %+v", left)
	}
}

func TestRelayRequiresToken(t *testing.T) {
	srv, _ := newRelayServer(t, "s3cret")

	resp, err := http.Get(srv.URL + "/ws?user_id=alice")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestHTTPEndpoints(t *testing.T) {
	srv, _ := newRelayServer(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := dialRelay(t, srv, "alice")
	if _, err := alice.Join(ctx, domain.CallConfig{CallID: "c1", Kind: domain.CallGroup, GroupID: "g"}); err != nil {
		t.Fatalf("Join: %v", err)
	}

	var room struct {
		Room    string               `json:"room"`
		Members []domain.RosterEntry `json:"members"`
	}
	getJSON(t, srv.URL+"/api/rooms/group:g", http.StatusOK, &room)
	if room.Room != "group:g" || len(room.Members) != 1 || room.Members[0].UserID != "alice" {
		t.Fatalf("unexpected room %+v", room)
	}
	getJSON(t, srv.URL+"/api/rooms/group:none", http.StatusNotFound, nil)

	var ice struct {
		ICEServers []ICEServer `json:"iceServers"`
	}
	getJSON(t, srv.URL+"/api/ice-servers", http.StatusOK, &ice)
	if len(ice.ICEServers) != 1 || ice.ICEServers[0].URLs[0] != "stun:stun.example.org:3478" {
		t.Fatalf("unexpected ice servers %+v", ice)
	}

	var health map[string]any
	getJSON(t, srv.URL+"/healthz", http.StatusOK, &health)
	if health["status"] != "ok" || health["rooms"] != float64(1) {
		t.Fatalf("unexpected health %+v", health)
	}
}

func getJSON(t *testing.T, url string, status int, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != status {
		t.Fatalf("GET %s: expected %d, got %d", url, status, resp.StatusCode)
	}
	if v == nil {
		return
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}
