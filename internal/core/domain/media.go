package domain

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == MediaAudio || k == MediaVideo
}

// MediaDeviceState describes the local capture devices. HasX reports whether
// a device was obtained, XEnabled the user's intent. XEnabled is never true
// while HasX is false.
type MediaDeviceState struct {
	HasAudio     bool `json:"hasAudio"`
	HasVideo     bool `json:"hasVideo"`
	AudioEnabled bool `json:"audioEnabled"`
	VideoEnabled bool `json:"videoEnabled"`
}

// NewMediaDeviceState returns the state right after acquisition: every
// obtained device starts enabled.
func NewMediaDeviceState(hasAudio, hasVideo bool) MediaDeviceState {
	return MediaDeviceState{
		HasAudio:     hasAudio,
		HasVideo:     hasVideo,
		AudioEnabled: hasAudio,
		VideoEnabled: hasVideo,
	}
}

// WithEnabled returns a copy with the intent for kind set. The flag only
// changes when the matching device exists.
func (s MediaDeviceState) WithEnabled(kind MediaKind, enabled bool) MediaDeviceState {
	switch kind {
	case MediaAudio:
		if s.HasAudio {
			s.AudioEnabled = enabled
		}
	case MediaVideo:
		if s.HasVideo {
			s.VideoEnabled = enabled
		}
	}
	return s
}

func (s MediaDeviceState) Enabled(kind MediaKind) bool {
	if kind == MediaAudio {
		return s.AudioEnabled
	}
	return s.VideoEnabled
}
