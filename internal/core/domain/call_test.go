package domain

import (
	"errors"
	"testing"
)

func TestCallConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  CallConfig
		ok   bool
	}{
		{"group", CallConfig{CallID: "c1", Kind: CallGroup, GroupID: "g1"}, true},
		{"direct", CallConfig{CallID: "c1", Kind: CallDirect, ConversationID: "d1"}, true},
		{"missing call id", CallConfig{Kind: CallGroup, GroupID: "g1"}, false},
		{"both scopes", CallConfig{CallID: "c1", Kind: CallGroup, GroupID: "g1", ConversationID: "d1"}, false},
		{"no scope", CallConfig{CallID: "c1", Kind: CallGroup}, false},
		{"group kind with conversation", CallConfig{CallID: "c1", Kind: CallGroup, ConversationID: "d1"}, false},
		{"direct kind with group", CallConfig{CallID: "c1", Kind: CallDirect, GroupID: "g1"}, false},
		{"unknown kind", CallConfig{CallID: "c1", Kind: "conference", GroupID: "g1"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidCallConfig) {
				t.Fatalf("expected ErrInvalidCallConfig, got %v", err)
			}
		})
	}
}

func TestCallConfigScope(t *testing.T) {
	group := CallConfig{CallID: "c1", Kind: CallGroup, GroupID: "g1"}
	if got := group.Scope(); got != "group:g1" {
		t.Fatalf("unexpected group scope %q", got)
	}
	direct := CallConfig{CallID: "c2", Kind: CallDirect, ConversationID: "d1"}
	if got := direct.Scope(); got != "direct:d1" {
		t.Fatalf("unexpected direct scope %q", got)
	}
}

func TestJoinOptionsDefaultToWanted(t *testing.T) {
	var opts JoinOptions
	if !opts.WantAudio() || !opts.WantVideo() {
		t.Fatalf("nil flags should mean wanted")
	}
	off := false
	opts = JoinOptions{Video: &off}
	if !opts.WantAudio() || opts.WantVideo() {
		t.Fatalf("explicit false video should only disable video")
	}
}

func TestDeviceUnavailableErrorMatchesSentinel(t *testing.T) {
	cause := errors.New("no camera")
	err := error(&DeviceUnavailableError{Kinds: []MediaKind{MediaVideo}, Err: cause})
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable match")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be unwrapped")
	}
}
