package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/Bayrooo/webrtc-photo-booth-client/internal/call"
	"github.com/Bayrooo/webrtc-photo-booth-client/internal/domain"

	"github.com/rs/zerolog/log"
)

type eventKind int

const (
	evRegistered eventKind = iota
	evIncomingCall
	evAnswer
	evCandidate
	evRemoteStream
	evRemoteLeft
	evCallClosed
	evPeerUnavailable
	evSignalingLost
	evDialTimeout
)

func (k eventKind) String() string {
	switch k {
	case evRegistered:
		return "registered"
	case evIncomingCall:
		return "incomingCall"
	case evAnswer:
		return "answer"
	case evCandidate:
		return "candidate"
	case evRemoteStream:
		return "remoteStream"
	case evRemoteLeft:
		return "remoteLeft"
	case evCallClosed:
		return "callClosed"
	case evPeerUnavailable:
		return "peerUnavailable"
	case evSignalingLost:
		return "signalingLost"
	case evDialTimeout:
		return "dialTimeout"
	default:
		return "unknown"
	}
}

// event is one signaling, call or timer occurrence. epoch ties it to the
// session that produced it.
type event struct {
	kind      eventKind
	epoch     uint64
	src       domain.PeerID
	media     domain.MediaPayload
	candidate domain.CandidatePayload
	call      *call.Call
	stream    domain.Stream
	err       error
}

// dispatch applies ev to the session. Only evRegistered produces an error
// for the caller; everything else is reported through status.
func (s *Session) dispatch(ev event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.epoch != s.epoch {
		log.Debug().Str("module", "session").Str("event", ev.kind.String()).Msg("dropping event from superseded session")
		if ev.kind == evRegistered {
			return domain.ErrSessionSuperseded
		}
		return nil
	}

	switch ev.kind {
	case evRegistered:
		return s.registered(ev)

	case evIncomingCall:
		s.incomingCall(ev)

	case evAnswer:
		if s.calls != nil {
			s.calls.HandleAnswer(ev.src, ev.media)
		}

	case evCandidate:
		if s.calls != nil {
			s.calls.HandleCandidate(ev.src, ev.candidate)
		}

	case evRemoteStream:
		s.remoteStream(ev)

	case evRemoteLeft:
		if s.calls == nil {
			return nil
		}
		if closed := s.calls.HandleLeave(ev.src); closed != nil {
			s.callEnded(closed)
		}

	case evCallClosed:
		if ev.call != s.call {
			return nil
		}
		if s.state == domain.JoinDialing {
			s.unreachable(errors.New("media connection failed"))
			return nil
		}
		s.callEnded(ev.call)

	case evPeerUnavailable:
		if s.role == domain.RoleJoiner && ev.src == s.target && s.state == domain.JoinDialing {
			s.unreachable(fmt.Errorf("peer %s is not connected", ev.src))
		}

	case evSignalingLost:
		log.Warn().Str("module", "session").Err(ev.err).Msg("relay connection lost")
		s.epoch++
		s.teardown(true)
		s.setState(domain.CameraReady)
		s.reportErr(fmt.Errorf("%w: %v", domain.ErrSignalingUnavailable, ev.err))

	case evDialTimeout:
		if ev.call == s.call && s.state == domain.JoinDialing {
			s.unreachable(errors.New("dial timed out"))
		}
	}
	return nil
}

func (s *Session) registered(ev event) error {
	if ev.err != nil {
		s.teardown(false)
		s.setState(domain.CameraReady)
		err := ev.err
		if !errors.Is(err, domain.ErrSignalingUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrSignalingUnavailable, err)
		}
		s.reportErr(err)
		return err
	}

	s.id = ev.src
	log.Info().Str("module", "session").Str("peer_id", string(s.id)).Str("role", s.role.String()).Msg("registered")

	if s.role == domain.RoleHost {
		if !s.state.Active() {
			s.setState(domain.HostWaiting)
		}
		s.report(domain.NewStatus(domain.StatusRoomCreated, nil))
		return nil
	}

	c, err := s.calls.Dial(s.target, s.local)
	if err != nil {
		s.unreachable(err)
		return fmt.Errorf("%w: %v", domain.ErrCallUnreachable, err)
	}
	s.call = c
	s.setState(domain.JoinDialing)
	s.report(domain.NewStatus(domain.StatusCalling, nil))

	epoch := s.epoch
	s.timer = time.AfterFunc(s.opts.DialTimeout, func() {
		s.dispatch(event{kind: evDialTimeout, epoch: epoch, call: c})
	})
	return nil
}

// incomingCall answers an inbound offer with no prompt. An active call is
// hung up first.
func (s *Session) incomingCall(ev event) {
	if s.role != domain.RoleHost || s.calls == nil {
		log.Info().Str("module", "session").Str("src", string(ev.src)).Msg("ignoring call while not hosting")
		return
	}

	if closed := s.calls.Terminate(); closed != nil {
		s.report(domain.NewStatus(domain.StatusCallClosed, nil))
	}
	s.clearRemote()
	s.call = nil
	s.setState(domain.HostWaiting)

	c, err := s.calls.OnIncoming(ev.src, ev.media.ConnectionID, ev.media.SDP.SDP, s.local)
	if err != nil {
		log.Warn().Str("module", "session").Str("src", string(ev.src)).Err(err).Msg("answer failed")
		if !errors.Is(err, domain.ErrCallUnreachable) {
			err = fmt.Errorf("%w: %v", domain.ErrCallUnreachable, err)
		}
		s.reportErr(err)
		return
	}
	s.call = c
}

// remoteStream is the only way into a connected state.
func (s *Session) remoteStream(ev event) {
	if ev.call != s.call || s.calls == nil || s.calls.Closed(ev.call) {
		return
	}
	s.stopTimer()

	s.remote = ev.stream
	if s.opts.OnRemoteStream != nil {
		s.opts.OnRemoteStream(ev.stream)
	}
	if s.role == domain.RoleHost {
		s.setState(domain.HostConnected)
	} else {
		s.setState(domain.JoinConnected)
	}
	s.report(domain.NewStatus(domain.StatusConnected, nil))
}

// callEnded handles a call that closed while the session stays current.
// The host keeps its room open; the joiner releases everything.
func (s *Session) callEnded(c *call.Call) {
	if c != s.call {
		return
	}
	s.call = nil
	s.stopTimer()
	s.clearRemote()

	if s.role == domain.RoleHost {
		s.setState(domain.HostWaiting)
		s.report(domain.NewStatus(domain.StatusCallClosed, nil))
		return
	}

	s.epoch++
	s.teardown(false)
	s.setState(domain.Closed)
	s.report(domain.NewStatus(domain.StatusCallClosed, nil))
}
