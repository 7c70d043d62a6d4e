//go:build linux

package device

import (
	"context"
	"fmt"

	pionmedia "github.com/Wyydra/meshcall/internal/adapter/driven/media/pion"
	"github.com/Wyydra/meshcall/internal/core/port"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog/log"
)

// Source captures the local camera and microphone with pion/mediadevices.
type Source struct {
	selector *mediadevices.CodecSelector
}

func NewSource() (*Source, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_000_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return &Source{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// Acquire makes a single GetUserMedia attempt for the requested kinds.
func (s *Source) Acquire(_ context.Context, audio, video bool) (port.LocalMedia, error) {
	devices := mediadevices.EnumerateDevices()
	for _, d := range devices {
		log.Debug().Str("kind", fmt.Sprint(d.Kind)).Str("label", d.Label).Msg("Media device")
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: s.selector}
	if video {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		}
	}
	if audio {
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("get user media: %w", err)
	}

	captured := stream.GetTracks()
	tracks := make([]*pionmedia.Track, 0, len(captured))
	for _, t := range captured {
		t.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("track_id", t.ID()).Msg("Local track ended")
			}
		})
		tracks = append(tracks, pionmedia.NewTrack(pionmedia.KindOf(t.Kind()), t))
	}

	return pionmedia.NewMedia(tracks, func() {
		for _, t := range captured {
			if err := t.Close(); err != nil {
				log.Debug().Err(err).Str("track_id", t.ID()).Msg("Closing local track failed")
			}
		}
	}), nil
}
