package domain

import "errors"

// StatusKind names a user-visible status transition.
type StatusKind string

const (
	StatusCameraReady          StatusKind = "CameraReady"
	StatusCameraUnavailable    StatusKind = "CameraUnavailable"
	StatusCameraStopped        StatusKind = "CameraStopped"
	StatusNoCamera             StatusKind = "NoCamera"
	StatusMissingTarget        StatusKind = "MissingTarget"
	StatusSignalingUnavailable StatusKind = "SignalingUnavailable"
	StatusRoomCreated          StatusKind = "RoomCreated"
	StatusCalling              StatusKind = "Calling"
	StatusConnected            StatusKind = "Connected"
	StatusCallUnreachable      StatusKind = "CallUnreachable"
	StatusCallClosed           StatusKind = "CallClosed"
	StatusDisconnected         StatusKind = "Disconnected"
)

var statusText = map[StatusKind]string{
	StatusCameraReady:          "Camera ready.",
	StatusCameraUnavailable:    "Failed to access camera. Allow permission.",
	StatusCameraStopped:        "Camera stopped.",
	StatusNoCamera:             "Start camera first.",
	StatusMissingTarget:        "Enter Room ID to join.",
	StatusSignalingUnavailable: "Signaling server unavailable.",
	StatusRoomCreated:          "Room created. Share your ID.",
	StatusCalling:              "Calling host...",
	StatusConnected:            "Connected.",
	StatusCallUnreachable:      "Could not reach the other side.",
	StatusCallClosed:           "Call closed.",
	StatusDisconnected:         "Disconnected.",
}

// Status is a user-visible status update.
type Status struct {
	Kind StatusKind `json:"kind"`
	Text string     `json:"text"`
	Err  error      `json:"-"`
}

// NewStatus builds a Status with the stock text for kind.
func NewStatus(kind StatusKind, err error) Status {
	return Status{Kind: kind, Text: statusText[kind], Err: err}
}

// StatusForError maps a taxonomy error to its status kind.
func StatusForError(err error) (StatusKind, bool) {
	switch {
	case errors.Is(err, ErrCameraUnavailable):
		return StatusCameraUnavailable, true
	case errors.Is(err, ErrSignalingUnavailable):
		return StatusSignalingUnavailable, true
	case errors.Is(err, ErrNoCamera):
		return StatusNoCamera, true
	case errors.Is(err, ErrMissingTarget):
		return StatusMissingTarget, true
	case errors.Is(err, ErrCallUnreachable):
		return StatusCallUnreachable, true
	default:
		return "", false
	}
}
