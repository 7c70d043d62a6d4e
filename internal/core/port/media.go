package port

import (
	"context"

	"github.com/Wyydra/meshcall/internal/core/domain"
)

// MediaSource opens local capture devices. Acquire makes exactly one attempt
// for the requested kinds; fallback policy lives in the core.
type MediaSource interface {
	Acquire(ctx context.Context, audio, video bool) (LocalMedia, error)
}

// LocalMedia is the set of captured tracks for the duration of a call.
type LocalMedia interface {
	Tracks() []LocalTrack
	Stop()
}

// LocalTrack is one captured track. Transport adapters may require a
// concrete track type they know how to send.
type LocalTrack interface {
	ID() string
	MediaKind() domain.MediaKind
}
