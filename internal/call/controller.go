package call

import (
	"fmt"
	"sync"

	"github.com/Bayrooo/webrtc-photo-booth-client/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// connectionPrefix marks media connection ids on the relay.
const connectionPrefix = "mc_"

// Call is one negotiated media call.
type Call struct {
	ConnectionID string
	Remote       domain.PeerID
	Role         domain.Role

	peer   domain.Peer
	stream domain.Stream
	closed bool
}

// Options wires a Controller to the relay and the session.
type Options struct {
	Signaler domain.Signaler
	NewPeer  domain.PeerFactory
	// OnStream is called with the remote stream of a live call. A second
	// stream on the same call replaces the first.
	OnStream func(c *Call, remote domain.Stream)
	// OnClosed is called once when the media connection of a call fails
	// or is closed underneath it. Closes the caller asks for through
	// Terminate or HandleLeave are reported by their return value instead.
	OnClosed func(c *Call)
}

// Controller holds at most one active call.
type Controller struct {
	opts Options

	mu      sync.Mutex
	current *Call
}

// New creates a Controller.
func New(opts Options) *Controller {
	return &Controller{opts: opts}
}

// active returns the current call, or nil.
func (c *Controller) active() *Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Closed reports whether call has been closed.
func (c *Controller) Closed(call *Call) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return call.closed
}

// remoteStream returns the remote stream of call, or nil.
func (c *Controller) remoteStream(call *Call) domain.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return call.stream
}

// OnIncoming answers an inbound offer with the local stream.
func (c *Controller) OnIncoming(remote domain.PeerID, connectionID, offer string, local domain.Stream) (*Call, error) {
	log.Info().Str("module", "call").Str("remote", string(remote)).Str("connection_id", connectionID).Msg("answering call")

	call, err := c.open(remote, connectionID, domain.RoleHost, local)
	if err != nil {
		return nil, err
	}

	answer, err := call.peer.CreateAnswer(offer)
	if err != nil {
		c.abort(call)
		return nil, fmt.Errorf("answer %s: %w", connectionID, err)
	}
	if err := c.opts.Signaler.SendAnswer(remote, connectionID, answer); err != nil {
		c.abort(call)
		return nil, fmt.Errorf("send answer: %w", err)
	}
	return call, nil
}

// Dial places a call to target with the local stream.
func (c *Controller) Dial(target domain.PeerID, local domain.Stream) (*Call, error) {
	connectionID := connectionPrefix + uuid.NewString()
	log.Info().Str("module", "call").Str("target", string(target)).Str("connection_id", connectionID).Msg("dialing")

	call, err := c.open(target, connectionID, domain.RoleJoiner, local)
	if err != nil {
		return nil, err
	}

	offer, err := call.peer.CreateOffer()
	if err != nil {
		c.abort(call)
		return nil, fmt.Errorf("offer %s: %w", connectionID, err)
	}
	if err := c.opts.Signaler.SendOffer(target, connectionID, offer); err != nil {
		c.abort(call)
		return nil, fmt.Errorf("send offer: %w", err)
	}
	return call, nil
}

// open builds the peer for a new call and makes it current.
func (c *Controller) open(remote domain.PeerID, connectionID string, role domain.Role, local domain.Stream) (*Call, error) {
	peer, err := c.opts.NewPeer(connectionID)
	if err != nil {
		return nil, fmt.Errorf("create peer: %w", err)
	}

	call := &Call{
		ConnectionID: connectionID,
		Remote:       remote,
		Role:         role,
		peer:         peer,
	}

	peer.SetOnICECandidate(func(candidate domain.ICECandidatePayload) {
		if err := c.opts.Signaler.SendCandidate(remote, connectionID, candidate); err != nil {
			log.Warn().Str("module", "call").Str("connection_id", connectionID).Err(err).Msg("send candidate")
		}
	})
	peer.SetOnStream(func(s domain.Stream) { c.deliver(call, s) })
	peer.SetOnStateChange(func(state domain.PeerState) { c.stateChanged(call, state) })

	if err := peer.AddStream(local); err != nil {
		peer.Close()
		return nil, fmt.Errorf("add local stream: %w", err)
	}

	c.mu.Lock()
	prev := c.current
	c.current = call
	c.mu.Unlock()

	if prev != nil {
		// callers terminate first; this only guards against a leaked call
		log.Warn().Str("module", "call").Str("connection_id", prev.ConnectionID).Msg("replacing call that was still open")
		c.close(prev)
	}
	return call, nil
}

func (c *Controller) deliver(call *Call, s domain.Stream) {
	c.mu.Lock()
	if call.closed {
		c.mu.Unlock()
		log.Debug().Str("module", "call").Str("connection_id", call.ConnectionID).Msg("dropping stream of closed call")
		s.Stop()
		return
	}
	prev := call.stream
	call.stream = s
	c.mu.Unlock()

	if prev != nil && prev != s {
		log.Warn().Str("module", "call").Str("connection_id", call.ConnectionID).Msg("second remote stream replaces the first")
		prev.Stop()
	}

	log.Info().Str("module", "call").Str("connection_id", call.ConnectionID).Str("stream_id", s.ID()).Msg("remote stream")
	if c.opts.OnStream != nil {
		c.opts.OnStream(call, s)
	}
}

func (c *Controller) stateChanged(call *Call, state domain.PeerState) {
	switch state {
	case domain.PeerConnected:
		log.Info().Str("module", "call").Str("connection_id", call.ConnectionID).Msg("media connected")
	case domain.PeerDisconnected:
		// ICE may recover; an unrecovered connection moves on to failed
		log.Info().Str("module", "call").Str("connection_id", call.ConnectionID).Msg("media interrupted")
	case domain.PeerFailed, domain.PeerClosed:
		if c.close(call) && c.opts.OnClosed != nil {
			c.opts.OnClosed(call)
		}
	}
}

// HandleAnswer applies the answer for the active call.
func (c *Controller) HandleAnswer(src domain.PeerID, answer domain.MediaPayload) {
	call := c.match(src, answer.ConnectionID)
	if call == nil {
		log.Debug().Str("module", "call").Str("connection_id", answer.ConnectionID).Msg("answer for unknown call")
		return
	}
	if err := call.peer.SetRemoteDescription(answer.SDP); err != nil {
		log.Warn().Str("module", "call").Str("connection_id", call.ConnectionID).Err(err).Msg("set remote description")
	}
}

// HandleCandidate adds a remote ICE candidate to the active call. It does
// not block while the remote description is still pending.
func (c *Controller) HandleCandidate(src domain.PeerID, candidate domain.CandidatePayload) {
	call := c.match(src, candidate.ConnectionID)
	if call == nil {
		log.Debug().Str("module", "call").Str("connection_id", candidate.ConnectionID).Msg("candidate for unknown call")
		return
	}
	go func() {
		if err := call.peer.AddRemoteICECandidate(candidate.Candidate); err != nil {
			log.Warn().Str("module", "call").Str("connection_id", call.ConnectionID).Err(err).Msg("add remote ICE candidate")
		}
	}()
}

// HandleLeave closes the active call when src hung up. It returns the
// closed call, or nil.
func (c *Controller) HandleLeave(src domain.PeerID) *Call {
	c.mu.Lock()
	call := c.current
	c.mu.Unlock()
	if call == nil || call.Remote != src {
		return nil
	}
	log.Info().Str("module", "call").Str("remote", string(src)).Msg("remote hung up")
	if !c.close(call) {
		return nil
	}
	return call
}

// Terminate hangs up the active call. It returns the closed call, or nil
// when there was none.
func (c *Controller) Terminate() *Call {
	c.mu.Lock()
	call := c.current
	c.mu.Unlock()
	if call == nil {
		return nil
	}
	if !c.close(call) {
		return nil
	}
	if err := c.opts.Signaler.SendLeave(call.Remote); err != nil {
		log.Debug().Str("module", "call").Str("remote", string(call.Remote)).Err(err).Msg("send leave")
	}
	log.Info().Str("module", "call").Str("connection_id", call.ConnectionID).Msg("call terminated")
	return call
}

func (c *Controller) match(src domain.PeerID, connectionID string) *Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	call := c.current
	if call == nil || call.ConnectionID != connectionID || call.Remote != src {
		return nil
	}
	return call
}

// abort drops a call whose negotiation never got off the ground.
func (c *Controller) abort(call *Call) {
	c.close(call)
}

// close marks call closed exactly once, stops its remote stream and shuts
// the peer down in the background. It reports whether this was the close.
func (c *Controller) close(call *Call) bool {
	c.mu.Lock()
	if call.closed {
		c.mu.Unlock()
		return false
	}
	call.closed = true
	if c.current == call {
		c.current = nil
	}
	stream := call.stream
	call.stream = nil
	c.mu.Unlock()

	if stream != nil {
		stream.Stop()
	}
	go call.peer.Close()
	return true
}
