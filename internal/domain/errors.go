package domain

import "errors"

var (
	// ErrCameraUnavailable means camera permission was denied or no device exists.
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrSignalingUnavailable means the relay is unreachable or refused registration.
	ErrSignalingUnavailable = errors.New("signaling unavailable")
	// ErrNoCamera means the action needs a camera that has not been started.
	ErrNoCamera = errors.New("camera not started")
	// ErrMissingTarget means a join was attempted without a room identifier.
	ErrMissingTarget = errors.New("missing room id")
	// ErrCallUnreachable means the outbound call could not be negotiated.
	ErrCallUnreachable = errors.New("call unreachable")
	// ErrOverlayUnavailable means the frame overlay could not be loaded at capture time.
	ErrOverlayUnavailable = errors.New("frame overlay unavailable")
	// ErrSessionSuperseded means a newer session replaced this one while it was registering.
	ErrSessionSuperseded = errors.New("session superseded")
)
