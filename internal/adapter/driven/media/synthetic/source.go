// Package synthetic provides capture devices that do not need hardware:
// an Opus track that sends silence and an idle VP8 track. Devices can be
// marked missing to exercise the capture fallback.
package synthetic

import (
	"context"
	"errors"
	"fmt"
	"time"

	pionmedia "github.com/Wyydra/meshcall/internal/adapter/driven/media/pion"
	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/Wyydra/meshcall/internal/core/port"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const frameDuration = 20 * time.Millisecond

// Opus TOC byte for a 20ms CELT frame followed by a silent payload.
var silentOpusFrame = []byte{0xf8, 0xff, 0xfe}

var ErrNoDevice = errors.New("device not present")

type Source struct {
	HasAudio bool
	HasVideo bool
}

// NewSource returns a source with the given devices present.
func NewSource(hasAudio, hasVideo bool) *Source {
	return &Source{HasAudio: hasAudio, HasVideo: hasVideo}
}

func (s *Source) Acquire(ctx context.Context, audio, video bool) (port.LocalMedia, error) {
	if audio && !s.HasAudio {
		return nil, fmt.Errorf("microphone: %w", ErrNoDevice)
	}
	if video && !s.HasVideo {
		return nil, fmt.Errorf("camera: %w", ErrNoDevice)
	}

	streamID := "synthetic-" + uuid.NewString()
	var tracks []*pionmedia.Track
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	if audio {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", streamID,
		)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("create audio track: %w", err)
		}
		tracks = append(tracks, pionmedia.NewTrack(domain.MediaAudio, t))
		go writeSilence(ctx, t)
	}
	if video {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", streamID,
		)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("create video track: %w", err)
		}
		tracks = append(tracks, pionmedia.NewTrack(domain.MediaVideo, t))
	}

	log.Debug().Str("stream_id", streamID).Bool("audio", audio).Bool("video", video).Msg("Synthetic media opened")
	return pionmedia.NewMedia(tracks, cancel), nil
}

func writeSilence(ctx context.Context, t *webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.WriteSample(media.Sample{Data: silentOpusFrame, Duration: frameDuration}); err != nil {
				log.Debug().Err(err).Msg("Writing silence failed")
				return
			}
		}
	}
}
