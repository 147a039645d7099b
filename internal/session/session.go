package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Bayrooo/webrtc-photo-booth-client/internal/call"
	"github.com/Bayrooo/webrtc-photo-booth-client/internal/domain"

	"github.com/rs/zerolog/log"
)

// Options wires a Session. OnStatus and OnRemoteStream run while the
// session is locked and must not call back into it.
type Options struct {
	Signalers   domain.SignalerFactory
	Peers       domain.PeerFactory
	DialTimeout time.Duration

	OnStatus func(domain.Status)
	// OnRemoteStream receives the remote stream when a call connects and
	// nil when it goes away.
	OnRemoteStream func(domain.Stream)
}

// Session owns one relay identity and plays either the host or the joiner
// side of a two-party call. Signaling and call callbacks are turned into
// events and applied by dispatch under the session lock.
type Session struct {
	opts Options

	mu     sync.Mutex
	epoch  uint64
	state  domain.SessionState
	role   domain.Role
	id     domain.PeerID
	target domain.PeerID
	local  domain.Stream
	remote domain.Stream
	status domain.Status

	sig   domain.Signaler
	calls *call.Controller
	call  *call.Call
	timer *time.Timer
}

// New creates an idle Session.
func New(opts Options) *Session {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 30 * time.Second
	}
	return &Session{opts: opts, state: domain.Idle}
}

// State returns the current session state.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID returns the registered identity, or "".
func (s *Session) ID() domain.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Role returns the side this session plays.
func (s *Session) Role() domain.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// RemoteStream returns the connected remote stream, or nil.
func (s *Session) RemoteStream() domain.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// Status returns the last status reported.
func (s *Session) Status() domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// CameraStarted moves an idle or closed session to CameraReady.
func (s *Session) CameraStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == domain.Idle || s.state == domain.Closed {
		s.setState(domain.CameraReady)
	}
	s.report(domain.NewStatus(domain.StatusCameraReady, nil))
}

// CameraFailed reports a camera that could not be opened. The state is
// left alone.
func (s *Session) CameraFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report(domain.NewStatus(domain.StatusCameraUnavailable, err))
}

// CameraStopped tears down any open session and returns to Idle.
func (s *Session) CameraStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.teardown(true)
	s.local = nil
	s.setState(domain.Idle)
	s.report(domain.NewStatus(domain.StatusCameraStopped, nil))
}

// CreateRoom registers a new identity and waits for inbound calls. Any
// session already open is torn down first.
func (s *Session) CreateRoom(ctx context.Context, local domain.Stream) error {
	if local == nil {
		s.fail(domain.ErrNoCamera)
		return domain.ErrNoCamera
	}
	sig, epoch := s.begin(domain.RoleHost, "", local)
	id, err := sig.Register(ctx)
	return s.dispatch(event{kind: evRegistered, epoch: epoch, src: id, err: err})
}

// JoinRoom registers an identity and dials target. Any session already
// open is torn down first.
func (s *Session) JoinRoom(ctx context.Context, local domain.Stream, target domain.PeerID) error {
	if local == nil {
		s.fail(domain.ErrNoCamera)
		return domain.ErrNoCamera
	}
	target = domain.PeerID(strings.TrimSpace(string(target)))
	if target == "" {
		s.fail(domain.ErrMissingTarget)
		return domain.ErrMissingTarget
	}
	sig, epoch := s.begin(domain.RoleJoiner, target, local)
	id, err := sig.Register(ctx)
	return s.dispatch(event{kind: evRegistered, epoch: epoch, src: id, err: err})
}

// Leave hangs up, releases the identity and moves to Closed. Calling it
// without an open session does nothing.
func (s *Session) Leave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sig == nil {
		return
	}
	log.Info().Str("module", "session").Str("peer_id", string(s.id)).Msg("leaving")
	s.epoch++
	s.teardown(true)
	s.setState(domain.Closed)
}

// begin supersedes the open session and installs a fresh signaler and
// call controller bound to a new epoch.
func (s *Session) begin(role domain.Role, target domain.PeerID, local domain.Stream) (domain.Signaler, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sig != nil {
		log.Info().Str("module", "session").Str("peer_id", string(s.id)).Msg("superseding open session")
	}
	s.epoch++
	s.teardown(true)
	epoch := s.epoch

	sig := s.opts.Signalers(&relayHandler{s: s, epoch: epoch})
	s.sig = sig
	s.calls = call.New(call.Options{
		Signaler: sig,
		NewPeer:  s.opts.Peers,
		OnStream: func(c *call.Call, remote domain.Stream) {
			s.dispatch(event{kind: evRemoteStream, epoch: epoch, call: c, stream: remote})
		},
		OnClosed: func(c *call.Call) {
			s.dispatch(event{kind: evCallClosed, epoch: epoch, call: c})
		},
	})
	s.role = role
	s.target = target
	s.local = local
	s.setState(domain.CameraReady)
	return sig, epoch
}

// teardown hangs up the call, closes the signaler and forgets the
// identity. The caller holds the lock and picks the next state.
func (s *Session) teardown(reportClosed bool) {
	s.stopTimer()
	if s.calls != nil {
		if closed := s.calls.Terminate(); closed != nil && reportClosed {
			s.report(domain.NewStatus(domain.StatusCallClosed, nil))
		}
	}
	s.clearRemote()
	if s.sig != nil {
		s.sig.Close()
	}
	s.sig = nil
	s.calls = nil
	s.call = nil
	s.id = ""
	s.target = ""
	s.role = domain.RoleNone
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportErr(err)
}

func (s *Session) setState(next domain.SessionState) {
	if s.state == next {
		return
	}
	log.Info().Str("module", "session").Str("from", s.state.String()).Str("to", next.String()).Msg("state")
	s.state = next
}

func (s *Session) report(st domain.Status) {
	ev := log.Info()
	if st.Err != nil {
		ev = log.Warn().Err(st.Err)
	}
	ev.Str("module", "session").Str("status", string(st.Kind)).Msg(st.Text)
	s.status = st
	if s.opts.OnStatus != nil {
		s.opts.OnStatus(st)
	}
}

func (s *Session) reportErr(err error) {
	kind, ok := domain.StatusForError(err)
	if !ok {
		kind = domain.StatusDisconnected
	}
	s.report(domain.NewStatus(kind, err))
}

func (s *Session) clearRemote() {
	if s.remote == nil {
		return
	}
	s.remote = nil
	if s.opts.OnRemoteStream != nil {
		s.opts.OnRemoteStream(nil)
	}
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// unreachable drops the session back to CameraReady after a failed dial.
func (s *Session) unreachable(err error) {
	s.epoch++
	s.teardown(false)
	s.setState(domain.CameraReady)
	s.reportErr(fmt.Errorf("%w: %v", domain.ErrCallUnreachable, err))
}

// relayHandler forwards relay events tagged with the epoch of the
// session that registered them.
type relayHandler struct {
	s     *Session
	epoch uint64
}

func (h *relayHandler) OnOffer(src domain.PeerID, offer domain.MediaPayload) {
	h.s.dispatch(event{kind: evIncomingCall, epoch: h.epoch, src: src, media: offer})
}

func (h *relayHandler) OnAnswer(src domain.PeerID, answer domain.MediaPayload) {
	h.s.dispatch(event{kind: evAnswer, epoch: h.epoch, src: src, media: answer})
}

func (h *relayHandler) OnCandidate(src domain.PeerID, candidate domain.CandidatePayload) {
	h.s.dispatch(event{kind: evCandidate, epoch: h.epoch, src: src, candidate: candidate})
}

func (h *relayHandler) OnLeave(src domain.PeerID) {
	h.s.dispatch(event{kind: evRemoteLeft, epoch: h.epoch, src: src})
}

func (h *relayHandler) OnExpire(dst domain.PeerID) {
	h.s.dispatch(event{kind: evPeerUnavailable, epoch: h.epoch, src: dst})
}

func (h *relayHandler) OnDisconnected(err error) {
	h.s.dispatch(event{kind: evSignalingLost, epoch: h.epoch, err: err})
}
