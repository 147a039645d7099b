package domain

// PeerID is the identity assigned by the relay to a registered client.
type PeerID string

// Relay message types.
const (
	MsgOpen      = "OPEN"
	MsgIDTaken   = "ID-TAKEN"
	MsgError     = "ERROR"
	MsgHeartbeat = "HEARTBEAT"
	MsgOffer     = "OFFER"
	MsgAnswer    = "ANSWER"
	MsgCandidate = "CANDIDATE"
	MsgLeave     = "LEAVE"
	MsgExpire    = "EXPIRE"
)

// ConnectionTypeMedia marks a payload as belonging to a media call.
const ConnectionTypeMedia = "media"

// SDPPayload is the JSON structure for SDP offer/answer messages.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidatePayload is the JSON structure for ICE candidate messages.
type ICECandidatePayload struct {
	Candidate        string  `json:"candidate"`
	SDPMid           string  `json:"sdpMid"`
	SDPMLineIndex    int     `json:"sdpMLineIndex"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// MediaPayload carries an offer or answer for one media connection.
type MediaPayload struct {
	SDP          SDPPayload `json:"sdp"`
	Type         string     `json:"type"`
	ConnectionID string     `json:"connectionId"`
}

// CandidatePayload carries one trickled candidate for a media connection.
type CandidatePayload struct {
	Candidate    ICECandidatePayload `json:"candidate"`
	Type         string              `json:"type"`
	ConnectionID string              `json:"connectionId"`
}

// ErrorPayload is sent by the relay with ERROR and ID-TAKEN frames.
type ErrorPayload struct {
	Msg string `json:"msg"`
}
