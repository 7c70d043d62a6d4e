package turn

import (
	"net"
	"strings"
	"testing"

	"github.com/pion/turn/v3"
)

func TestStart(t *testing.T) {
	s, err := Start(Config{Realm: "meshcall", PublicIP: "127.0.0.1"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	creds := s.Credentials()
	if creds.Username != "meshcall" || len(creds.Password) != 24 {
		t.Fatalf("unexpected credentials %+v", creds)
	}
	url := s.URL()
	if !strings.HasPrefix(url, "turn:127.0.0.1:") || !strings.HasSuffix(url, "?transport=udp") || strings.Contains(url, ":0?") {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestAuthHandler(t *testing.T) {
	h := authHandler("alice", "pw")
	src := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 5000}

	key, ok := h("alice", "meshcall", src)
	if !ok || string(key) != string(turn.GenerateAuthKey("alice", "meshcall", "pw")) {
		t.Fatalf("valid user rejected")
	}
	if _, ok := h("mallory", "meshcall", src); ok {
		t.Fatalf("unknown user accepted")
	}
}
