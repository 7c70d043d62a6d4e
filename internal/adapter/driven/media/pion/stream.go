package pion

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// remoteStream aggregates the tracks a participant sends us. Packets are
// drained and counted; rendering is left to the view layer.
type remoteStream struct {
	id string

	mu     sync.Mutex
	kinds  []domain.MediaKind
	tracks []*webrtc.TrackRemote
	live   int
	ended  func(*remoteStream)

	stopped atomic.Bool
	packets atomic.Uint64
	bytes   atomic.Uint64
	lastSeq atomic.Uint32
}

// newRemoteStream creates a stream; ended runs once the last of its tracks
// stops delivering packets, unless the stream was stopped first.
func newRemoteStream(id string, ended func(*remoteStream)) *remoteStream {
	return &remoteStream{id: id, ended: ended}
}

func (s *remoteStream) ID() string {
	return s.id
}

func (s *remoteStream) Kinds() []domain.MediaKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.MediaKind, len(s.kinds))
	copy(out, s.kinds)
	return out
}

func (s *remoteStream) Stop() {
	s.stopped.Store(true)
}

// Packets returns the number of RTP packets received so far.
func (s *remoteStream) Packets() uint64 {
	return s.packets.Load()
}

func (s *remoteStream) Bytes() uint64 {
	return s.bytes.Load()
}

func (s *remoteStream) add(track *webrtc.TrackRemote) {
	kind := KindOf(track.Kind())
	s.mu.Lock()
	s.tracks = append(s.tracks, track)
	s.live++
	for _, k := range s.kinds {
		if k == kind {
			s.mu.Unlock()
			return
		}
	}
	s.kinds = append(s.kinds, kind)
	s.mu.Unlock()
}

// LastSequence returns the sequence number of the newest RTP packet.
func (s *remoteStream) LastSequence() uint16 {
	return uint16(s.lastSeq.Load())
}

func (s *remoteStream) record(pkt *rtp.Packet) {
	s.packets.Add(1)
	s.bytes.Add(uint64(len(pkt.Payload)))
	s.lastSeq.Store(uint32(pkt.SequenceNumber))
}

// trackEnded accounts for one finished track. The last one reports the
// stream as ended.
func (s *remoteStream) trackEnded() {
	s.mu.Lock()
	s.live--
	last := s.live == 0
	s.mu.Unlock()

	if last && !s.stopped.Load() && s.ended != nil {
		s.ended(s)
	}
}

// drain reads track until the connection closes or the stream is stopped.
func (s *remoteStream) drain(track *webrtc.TrackRemote) {
	defer s.trackEnded()
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("stream_id", s.id).Msg("Remote track read ended")
			}
			return
		}
		if s.stopped.Load() {
			return
		}
		s.record(pkt)
	}
}
