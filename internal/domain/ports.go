package domain

import (
	"context"
	"image"
)

// IdentityFetcher asks the relay for a fresh peer identity.
type IdentityFetcher interface {
	FetchID(ctx context.Context) (PeerID, error)
}

// Signaler manages the relay connection for one registered identity.
type Signaler interface {
	// Register obtains an identity and blocks until the relay confirms it.
	Register(ctx context.Context) (PeerID, error)
	SendOffer(dst PeerID, connectionID string, sdp string) error
	SendAnswer(dst PeerID, connectionID string, sdp string) error
	SendCandidate(dst PeerID, connectionID string, candidate ICECandidatePayload) error
	SendLeave(dst PeerID) error
	Close()
}

// Handler receives relay events.
type Handler interface {
	OnOffer(src PeerID, offer MediaPayload)
	OnAnswer(src PeerID, answer MediaPayload)
	OnCandidate(src PeerID, candidate CandidatePayload)
	OnLeave(src PeerID)
	OnExpire(dst PeerID)
	OnDisconnected(err error)
}

// SignalerFactory builds a Signaler that reports to h.
type SignalerFactory func(h Handler) Signaler

// PeerState is the coarse connection state reported by a Peer.
type PeerState int

const (
	PeerConnecting PeerState = iota
	PeerConnected
	PeerDisconnected
	PeerFailed
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerConnecting:
		return "connecting"
	case PeerConnected:
		return "connected"
	case PeerDisconnected:
		return "disconnected"
	case PeerFailed:
		return "failed"
	case PeerClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Peer manages the media connection for one call.
type Peer interface {
	AddStream(s Stream) error
	SetOnStream(fn func(remote Stream))
	SetOnICECandidate(send func(candidate ICECandidatePayload))
	SetOnStateChange(fn func(state PeerState))
	CreateOffer() (string, error)
	CreateAnswer(offer string) (string, error)
	SetRemoteDescription(sdp SDPPayload) error
	AddRemoteICECandidate(candidate ICECandidatePayload) error
	Close()
}

// PeerFactory builds a Peer for the call identified by connectionID.
type PeerFactory func(connectionID string) (Peer, error)

// FrameSource yields the current instantaneous video frame, if any.
type FrameSource interface {
	Frame() (image.Image, bool)
}

// Stream is a local or remote video stream.
type Stream interface {
	FrameSource
	ID() string
	// Stop ends every track of the stream. Safe to call more than once.
	Stop()
}
