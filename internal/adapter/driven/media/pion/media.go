package pion

import (
	"sync"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/Wyydra/meshcall/internal/core/port"
	"github.com/pion/webrtc/v4"
)

// Track is a local track the transport knows how to send.
type Track struct {
	kind  domain.MediaKind
	local webrtc.TrackLocal
}

func NewTrack(kind domain.MediaKind, local webrtc.TrackLocal) *Track {
	return &Track{kind: kind, local: local}
}

func (t *Track) ID() string {
	return t.local.ID()
}

func (t *Track) MediaKind() domain.MediaKind {
	return t.kind
}

func (t *Track) TrackLocal() webrtc.TrackLocal {
	return t.local
}

// KindOf maps a pion codec type to a media kind.
func KindOf(t webrtc.RTPCodecType) domain.MediaKind {
	if t == webrtc.RTPCodecTypeVideo {
		return domain.MediaVideo
	}
	return domain.MediaAudio
}

func codecType(kind domain.MediaKind) webrtc.RTPCodecType {
	if kind == domain.MediaVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

// Media is a set of local tracks released together.
type Media struct {
	tracks []port.LocalTrack
	once   sync.Once
	stop   func()
}

// NewMedia bundles tracks. stop releases the capture and may be nil.
func NewMedia(tracks []*Track, stop func()) *Media {
	m := &Media{stop: stop}
	for _, t := range tracks {
		m.tracks = append(m.tracks, t)
	}
	return m
}

func (m *Media) Tracks() []port.LocalTrack {
	return m.tracks
}

func (m *Media) Stop() {
	m.once.Do(func() {
		if m.stop != nil {
			m.stop()
		}
	})
}
