package webrtc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Bayrooo/webrtc-photo-booth-client/internal/domain"
	"github.com/Bayrooo/webrtc-photo-booth-client/internal/media"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/interceptor/pkg/nack"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	vp8PayloadType = 96
	mtu            = 1200
)

// Options configures every peer created by a factory.
type Options struct {
	ICEServers []domain.ICEServer
	// PLIInterval asks the sender for a key frame this often so captures
	// see a fresh remote picture.
	PLIInterval time.Duration
}

// Peer wraps a Pion PeerConnection carrying one video call.
type Peer struct {
	pc           *pion.PeerConnection
	connectionID string

	remoteDescSet  chan struct{}
	remoteDescOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	readers []media.PacketReader
}

// NewFactory returns a PeerFactory bound to opts.
func NewFactory(opts Options) domain.PeerFactory {
	return func(connectionID string) (domain.Peer, error) {
		return NewPeer(opts, connectionID)
	}
}

// NewPeer creates a PeerConnection with VP8 registered and NACK/PLI interceptors.
func NewPeer(opts Options, connectionID string) (*Peer, error) {
	m := &pion.MediaEngine{}

	vp8Codec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:  pion.MimeTypeVP8,
			ClockRate: 90000,
			RTCPFeedback: []pion.RTCPFeedback{
				{Type: "nack"},
				{Type: "nack", Parameter: "pli"},
				{Type: "ccm", Parameter: "fir"},
			},
		},
		PayloadType: vp8PayloadType,
	}
	if err := m.RegisterCodec(vp8Codec, pion.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register VP8: %w", err)
	}

	i := &interceptor.Registry{}
	responderFactory, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responderFactory)
	generatorFactory, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generatorFactory)
	if opts.PLIInterval > 0 {
		pliFactory, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(opts.PLIInterval))
		if err != nil {
			return nil, fmt.Errorf("create pli generator: %w", err)
		}
		i.Add(pliFactory)
	}

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
	)

	var servers []pion.ICEServer
	for _, s := range opts.ICEServers {
		servers = append(servers, pion.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Peer{
		pc:            pc,
		connectionID:  connectionID,
		remoteDescSet: make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("connection_id", connectionID).Str("ice_state", state.String()).Msg("ICE state")
	})

	return p, nil
}

// AddStream sends the local stream on this call. The stream must be able to
// produce RTP packets.
func (p *Peer) AddStream(s domain.Stream) error {
	src, ok := s.(media.PacketSource)
	if !ok {
		return fmt.Errorf("stream %s cannot be sent: %T", s.ID(), s)
	}

	track, err := pion.NewTrackLocalStaticRTP(pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8}, "video", s.ID())
	if err != nil {
		return fmt.Errorf("create local track: %w", err)
	}
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}

	params := sender.GetParameters()
	if len(params.Encodings) == 0 {
		return errors.New("sender has no encodings")
	}
	ssrc := uint32(params.Encodings[0].SSRC)

	codec := strings.TrimPrefix(pion.MimeTypeVP8, "video/")
	reader, err := src.NewPacketReader(codec, ssrc, mtu)
	if err != nil {
		return fmt.Errorf("open packet reader: %w", err)
	}

	p.mu.Lock()
	p.readers = append(p.readers, reader)
	p.mu.Unlock()

	go p.forward(reader, track)
	go p.drainRTCP(sender)
	return nil
}

func (p *Peer) forward(reader media.PacketReader, track *pion.TrackLocalStaticRTP) {
	for {
		pkts, release, err := reader.Read()
		if err != nil {
			select {
			case <-p.ctx.Done():
			default:
				log.Warn().Str("module", "webrtc").Str("connection_id", p.connectionID).Err(err).Msg("local packet read")
			}
			return
		}
		for _, pkt := range pkts {
			if err := track.WriteRTP(pkt); err != nil && !errors.Is(err, context.Canceled) {
				log.Debug().Str("module", "webrtc").Err(err).Msg("write rtp")
			}
		}
		if release != nil {
			release()
		}
	}
}

// drainRTCP reads RTCP so interceptors such as the NACK responder run.
func (p *Peer) drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// SetOnStream delivers each remote video track as a stream.
func (p *Peer) SetOnStream(fn func(remote domain.Stream)) {
	p.pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		codec := track.Codec()
		log.Info().Str("module", "webrtc").
			Str("connection_id", p.connectionID).
			Str("kind", track.Kind().String()).
			Str("codec", codec.MimeType).
			Msg("got track")

		if track.Kind() != pion.RTPCodecTypeVideo {
			return
		}

		remote := newRemoteStream(track, receiver)
		go remote.run()
		fn(remote)
	})
}

// SetOnStateChange reports connection state transitions.
func (p *Peer) SetOnStateChange(fn func(state domain.PeerState)) {
	p.pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("connection_id", p.connectionID).Str("state", state.String()).Msg("peer connection state")
		switch state {
		case pion.PeerConnectionStateConnected:
			fn(domain.PeerConnected)
		case pion.PeerConnectionStateDisconnected:
			fn(domain.PeerDisconnected)
		case pion.PeerConnectionStateFailed:
			fn(domain.PeerFailed)
		case pion.PeerConnectionStateClosed:
			fn(domain.PeerClosed)
		default:
			fn(domain.PeerConnecting)
		}
	})
}

// SetOnICECandidate registers the callback for locally discovered ICE candidates.
func (p *Peer) SetOnICECandidate(send func(candidate domain.ICECandidatePayload)) {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			log.Debug().Str("module", "webrtc").Str("connection_id", p.connectionID).Msg("ICE gathering complete")
			return
		}

		init := c.ToJSON()
		if isLoopback(init.Candidate) {
			log.Debug().Str("module", "webrtc").Msg("filtering loopback ICE candidate")
			return
		}

		payload := domain.ICECandidatePayload{
			Candidate:        init.Candidate,
			UsernameFragment: init.UsernameFragment,
		}
		if init.SDPMid != nil {
			payload.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			payload.SDPMLineIndex = int(*init.SDPMLineIndex)
		}

		send(payload)
	})
}

// CreateOffer creates an SDP offer and sets it as the local description.
func (p *Peer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}

	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	log.Debug().Str("module", "webrtc").Str("connection_id", p.connectionID).Msg("local SDP offer set")
	return offer.SDP, nil
}

// CreateAnswer applies a remote offer and returns the local answer.
func (p *Peer) CreateAnswer(offer string) (string, error) {
	if err := p.SetRemoteDescription(domain.SDPPayload{Type: "offer", SDP: offer}); err != nil {
		return "", err
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	log.Debug().Str("module", "webrtc").Str("connection_id", p.connectionID).Msg("local SDP answer set")
	return answer.SDP, nil
}

// SetRemoteDescription applies the remote SDP and unblocks remote ICE candidate addition.
func (p *Peer) SetRemoteDescription(sdp domain.SDPPayload) error {
	desc := pion.SessionDescription{
		Type: pion.NewSDPType(sdp.Type),
		SDP:  sdp.SDP,
	}
	if desc.Type == pion.SDPTypeUnknown {
		return fmt.Errorf("set remote description: unknown sdp type %q", sdp.Type)
	}

	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	log.Debug().Str("module", "webrtc").Str("connection_id", p.connectionID).Str("type", sdp.Type).Msg("remote SDP set")
	p.remoteDescOnce.Do(func() { close(p.remoteDescSet) })
	return nil
}

// AddRemoteICECandidate waits for the remote description to be set, then adds the candidate.
func (p *Peer) AddRemoteICECandidate(candidate domain.ICECandidatePayload) error {
	select {
	case <-p.remoteDescSet:
	case <-p.ctx.Done():
		return errors.New("peer closed")
	}

	sdpMLineIndex := uint16(candidate.SDPMLineIndex)
	init := pion.ICECandidateInit{
		Candidate:        candidate.Candidate,
		SDPMid:           &candidate.SDPMid,
		SDPMLineIndex:    &sdpMLineIndex,
		UsernameFragment: candidate.UsernameFragment,
	}

	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}

	log.Debug().Str("module", "webrtc").Str("connection_id", p.connectionID).Msg("added remote ICE candidate")
	return nil
}

// Close stops the packet readers and shuts down the PeerConnection.
func (p *Peer) Close() {
	p.cancel()

	p.mu.Lock()
	readers := p.readers
	p.readers = nil
	p.mu.Unlock()
	for _, r := range readers {
		r.Close()
	}

	if p.pc != nil {
		if err := p.pc.Close(); err != nil {
			log.Warn().Str("module", "webrtc").Str("connection_id", p.connectionID).Err(err).Msg("close error")
		}
	}
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}
