package domain

// StateKind is the top-level session state.
type StateKind int

const (
	StateIdle StateKind = iota
	StateCameraReady
	StateHosting
	StateJoining
	StateClosed
)

func (k StateKind) String() string {
	switch k {
	case StateIdle:
		return "idle"
	case StateCameraReady:
		return "camera_ready"
	case StateHosting:
		return "hosting"
	case StateJoining:
		return "joining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Phase refines the Hosting and Joining states.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseWaiting
	PhaseDialing
	PhaseConnected
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseDialing:
		return "dialing"
	case PhaseConnected:
		return "connected"
	default:
		return ""
	}
}

// SessionState is a tagged session state. Phase is only meaningful for
// StateHosting and StateJoining.
type SessionState struct {
	Kind  StateKind
	Phase Phase
}

var (
	Idle          = SessionState{Kind: StateIdle}
	CameraReady   = SessionState{Kind: StateCameraReady}
	HostWaiting   = SessionState{Kind: StateHosting, Phase: PhaseWaiting}
	HostConnected = SessionState{Kind: StateHosting, Phase: PhaseConnected}
	JoinDialing   = SessionState{Kind: StateJoining, Phase: PhaseDialing}
	JoinConnected = SessionState{Kind: StateJoining, Phase: PhaseConnected}
	Closed        = SessionState{Kind: StateClosed}
)

func (s SessionState) String() string {
	if s.Phase == PhaseNone {
		return s.Kind.String()
	}
	return s.Kind.String() + "(" + s.Phase.String() + ")"
}

// Active reports whether the session holds a relay registration.
func (s SessionState) Active() bool {
	return s.Kind == StateHosting || s.Kind == StateJoining
}

// Connected reports whether a remote stream is flowing.
func (s SessionState) Connected() bool {
	return s.Active() && s.Phase == PhaseConnected
}

// Role is the side a session plays in a call.
type Role int

const (
	RoleNone Role = iota
	RoleHost
	RoleJoiner
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleJoiner:
		return "joiner"
	default:
		return "none"
	}
}
