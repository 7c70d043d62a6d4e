package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/gorilla/websocket"
)

// refusingRelay answers every request with an error envelope.
func refusingRelay(t *testing.T, reason string) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if err := conn.WriteJSON(ErrorEnvelope(env.ID, errors.New(reason))); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestJoinErrorReplyIsDenial(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, refusingRelay(t, "not invited"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	resp, err := c.Join(ctx, domain.CallConfig{CallID: "c1", Kind: domain.CallGroup, GroupID: "g"})
	if err != nil {
		t.Fatalf("denial reported as a transport error: %v", err)
	}
	if resp.Accepted || resp.Error != "not invited" {
		t.Fatalf("unexpected response %+v", resp)
	}

	err = c.Leave(ctx, domain.CallConfig{CallID: "c1", Kind: domain.CallGroup, GroupID: "g"})
	if err == nil || errors.Is(err, domain.ErrRelayUnavailable) {
		t.Fatalf("expected a relay error for leave, got %v", err)
	}
}
