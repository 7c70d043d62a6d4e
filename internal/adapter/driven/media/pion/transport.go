package pion

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/Wyydra/meshcall/internal/core/port"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Transport implements port.PeerFactory with pion PeerConnections.
type Transport struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func NewTransport(iceServers []webrtc.ICEServer) (*Transport, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(5*time.Second, 25*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)
	return &Transport{
		api:    api,
		config: webrtc.Configuration{ICEServers: iceServers},
	}, nil
}

type sender struct {
	rtp   *webrtc.RTPSender
	track webrtc.TrackLocal
}

type peer struct {
	userID domain.UserID
	pc     *webrtc.PeerConnection
	events port.PeerEvents
	log    zerolog.Logger
	closed atomic.Bool

	mu      sync.Mutex
	senders map[domain.MediaKind]*sender
	stream  *remoteStream
}

func (t *Transport) NewPeer(userID domain.UserID, events port.PeerEvents) (port.PeerConn, error) {
	pc, err := t.api.NewPeerConnection(t.config)
	if err != nil {
		return nil, err
	}

	p := &peer{
		userID:  userID,
		pc:      pc,
		events:  events,
		log:     log.With().Str("user_id", userID.String()).Logger(),
		senders: make(map[domain.MediaKind]*sender),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || p.closed.Load() || events.OnICECandidate == nil {
			return
		}
		init := c.ToJSON()
		events.OnICECandidate(domain.ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if p.closed.Load() || events.OnStateChange == nil {
			return
		}
		events.OnStateChange(transportState(s))
	})

	pc.OnTrack(p.onTrack)

	return p, nil
}

func transportState(s webrtc.PeerConnectionState) domain.TransportState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return domain.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.TransportFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.TransportClosed
	default:
		return domain.TransportNew
	}
}

func (p *peer) onTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	if p.closed.Load() {
		return
	}
	p.log.Debug().Str("kind", track.Kind().String()).Str("codec", track.Codec().MimeType).Msg("Received remote track")

	p.mu.Lock()
	if p.stream == nil {
		p.stream = newRemoteStream(track.StreamID(), p.onStreamEnded)
	}
	s := p.stream
	p.mu.Unlock()

	s.add(track)
	go s.drain(track)

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		// Ask for a keyframe right away so the first frames are decodable.
		if err := p.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
		}); err != nil {
			p.log.Debug().Err(err).Msg("Sending PLI failed")
		}
	}

	if p.events.OnRemoteStream != nil {
		p.events.OnRemoteStream(s)
	}
}

// onStreamEnded forgets s so a later track starts a fresh stream, then
// reports it.
func (p *peer) onStreamEnded(s *remoteStream) {
	p.mu.Lock()
	if p.stream == s {
		p.stream = nil
	}
	p.mu.Unlock()

	if p.closed.Load() {
		return
	}
	p.log.Debug().Str("stream_id", s.ID()).Msg("Remote stream ended")
	if p.events.OnRemoteStreamEnded != nil {
		p.events.OnRemoteStreamEnded(s)
	}
}

type trackLocal interface {
	TrackLocal() webrtc.TrackLocal
}

func (p *peer) AddLocalMedia(media port.LocalMedia) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, t := range media.Tracks() {
		tl, ok := t.(trackLocal)
		if !ok {
			errs = append(errs, fmt.Errorf("track %s: unsupported track type %T", t.ID(), t))
			continue
		}
		rtpSender, err := p.pc.AddTrack(tl.TrackLocal())
		if err != nil {
			errs = append(errs, fmt.Errorf("track %s: %w", t.ID(), err))
			continue
		}
		p.senders[t.MediaKind()] = &sender{rtp: rtpSender, track: tl.TrackLocal()}

		// Read incoming RTCP so interceptors keep working.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := rtpSender.Read(buf); err != nil {
					return
				}
			}
		}()
	}
	return errors.Join(errs...)
}

func (p *peer) SetSending(kind domain.MediaKind, enabled bool) error {
	p.mu.Lock()
	s, ok := p.senders[kind]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	if enabled {
		return s.rtp.ReplaceTrack(s.track)
	}
	return s.rtp.ReplaceTrack(nil)
}

// ensureReceivers adds a receive-only transceiver for every kind we do not
// send, so the offer always has audio and video sections.
func (p *peer) ensureReceivers() error {
	have := map[webrtc.RTPCodecType]bool{}
	for _, tr := range p.pc.GetTransceivers() {
		have[tr.Kind()] = true
	}
	for _, kind := range []domain.MediaKind{domain.MediaAudio, domain.MediaVideo} {
		if have[codecType(kind)] {
			continue
		}
		if _, err := p.pc.AddTransceiverFromKind(codecType(kind), webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *peer) CreateOffer(iceRestart bool) (domain.SessionDescription, error) {
	if err := p.ensureReceivers(); err != nil {
		return domain.SessionDescription{}, err
	}
	if p.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		if err := p.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			return domain.SessionDescription{}, fmt.Errorf("rollback: %w", err)
		}
	}

	offer, err := p.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, err
	}
	return domain.SessionDescription{Type: domain.SDPOffer, SDP: offer.SDP}, nil
}

func (p *peer) CreateAnswer() (domain.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, err
	}
	return domain.SessionDescription{Type: domain.SDPAnswer, SDP: answer.SDP}, nil
}

func (p *peer) SetRemoteDescription(desc domain.SessionDescription) error {
	typ := webrtc.NewSDPType(desc.Type)
	if typ == webrtc.SDPTypeUnknown {
		return fmt.Errorf("unknown sdp type %q", desc.Type)
	}
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: desc.SDP})
}

func (p *peer) AddICECandidate(c domain.ICECandidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (p *peer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.pc.Close()
}
