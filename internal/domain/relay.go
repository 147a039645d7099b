package domain

import (
	"fmt"
	"net"
	"strconv"
)

// DefaultRelayKey is the API key used by a stock relay deployment.
const DefaultRelayKey = "peerjs"

// RelayConfig is the fully resolved address of the signaling relay.
// It is built once from configuration and never changed afterwards.
type RelayConfig struct {
	Host   string
	Port   int
	Path   string // always ends with "/"
	Secure bool
	Key    string
}

func (r RelayConfig) hostPort() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// HTTPBase returns the base URL for the relay's HTTP endpoints.
func (r RelayConfig) HTTPBase() string {
	scheme := "http"
	if r.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, r.hostPort(), r.Path)
}

// SocketBase returns the base URL for the relay's WebSocket endpoint.
func (r RelayConfig) SocketBase() string {
	scheme := "ws"
	if r.Secure {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s%s", scheme, r.hostPort(), r.Path)
}

// ICEServer holds STUN/TURN server configuration.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}
