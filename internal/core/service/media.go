package service

import (
	"context"
	"errors"
	"sync"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/Wyydra/meshcall/internal/core/port"
	"github.com/rs/zerolog/log"
)

// MediaNegotiator acquires local capture devices with the audio-only
// fallback and holds the resulting MediaDeviceState.
type MediaNegotiator struct {
	source port.MediaSource

	mu    sync.Mutex
	state domain.MediaDeviceState
}

func NewMediaNegotiator(source port.MediaSource) *MediaNegotiator {
	return &MediaNegotiator{source: source}
}

// Acquire opens the wanted devices. Audio+video degrades to audio-only when
// the combined request fails; every other failure is fatal.
func (n *MediaNegotiator) Acquire(ctx context.Context, wantAudio, wantVideo bool) (port.LocalMedia, domain.MediaDeviceState, error) {
	var (
		media    port.LocalMedia
		hasAudio bool
		hasVideo bool
		err      error
	)

	switch {
	case wantAudio && wantVideo:
		media, err = n.source.Acquire(ctx, true, true)
		if err == nil {
			hasAudio, hasVideo = true, true
			break
		}
		log.Warn().Err(err).Msg("Audio+video capture failed, falling back to audio only")
		media, err = n.source.Acquire(ctx, true, false)
		if err != nil {
			return nil, domain.MediaDeviceState{}, deviceError(err, domain.MediaAudio)
		}
		hasAudio = true
	case wantAudio:
		media, err = n.source.Acquire(ctx, true, false)
		if err != nil {
			return nil, domain.MediaDeviceState{}, deviceError(err, domain.MediaAudio)
		}
		hasAudio = true
	case wantVideo:
		media, err = n.source.Acquire(ctx, false, true)
		if err != nil {
			return nil, domain.MediaDeviceState{}, deviceError(err, domain.MediaVideo)
		}
		hasVideo = true
	default:
		return nil, domain.MediaDeviceState{}, &domain.DeviceUnavailableError{
			Kinds: []domain.MediaKind{domain.MediaAudio, domain.MediaVideo},
			Err:   errors.New("a call requires at least one media kind"),
		}
	}

	state := domain.NewMediaDeviceState(hasAudio, hasVideo)
	n.mu.Lock()
	n.state = state
	n.mu.Unlock()

	log.Info().
		Bool("audio", hasAudio).
		Bool("video", hasVideo).
		Int("tracks", len(media.Tracks())).
		Msg("Local media acquired")
	return media, state, nil
}

func deviceError(err error, kinds ...domain.MediaKind) error {
	var de *domain.DeviceUnavailableError
	if errors.As(err, &de) {
		return err
	}
	return &domain.DeviceUnavailableError{Kinds: kinds, Err: err}
}

func (n *MediaNegotiator) State() domain.MediaDeviceState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// SetEnabled records the user's intent for kind. It has no effect when the
// device is absent.
func (n *MediaNegotiator) SetEnabled(kind domain.MediaKind, enabled bool) domain.MediaDeviceState {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state = n.state.WithEnabled(kind, enabled)
	return n.state
}

func (n *MediaNegotiator) Reset() domain.MediaDeviceState {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state = domain.MediaDeviceState{}
	return n.state
}
