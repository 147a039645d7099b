package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Bayrooo/webrtc-photo-booth-client/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

// message is the generic relay envelope.
type message struct {
	Type    string          `json:"type"`
	Src     domain.PeerID   `json:"src,omitempty"`
	Dst     domain.PeerID   `json:"dst,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Options tune a Client. Zero values fall back to defaults.
type Options struct {
	Heartbeat time.Duration
	Dialer    *websocket.Dialer
}

// Client manages the WebSocket connection to the signaling relay.
type Client struct {
	relay     domain.RelayConfig
	ids       domain.IdentityFetcher
	handler   domain.Handler
	dialer    *websocket.Dialer
	heartbeat time.Duration
	token     string

	mu   sync.Mutex
	conn *websocket.Conn
	id   domain.PeerID

	opened    chan error
	openOnce  sync.Once
	isOpen    bool
	closed    chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new signaling client. The relay address is fixed for
// the lifetime of the client.
func NewClient(relay domain.RelayConfig, ids domain.IdentityFetcher, handler domain.Handler, opts Options) *Client {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 5 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{
		relay:     relay,
		ids:       ids,
		handler:   handler,
		dialer:    opts.Dialer,
		heartbeat: opts.Heartbeat,
		token:     uuid.NewString(),
		opened:    make(chan error, 1),
		closed:    make(chan struct{}),
	}
}

// ID returns the registered identity, or "" before registration.
func (c *Client) ID() domain.PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Register obtains an identity from the relay, opens the socket and waits
// for the relay to confirm it with OPEN.
func (c *Client) Register(ctx context.Context) (domain.PeerID, error) {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: client already registered", domain.ErrSignalingUnavailable)
	}
	c.mu.Unlock()

	id, err := c.ids.FetchID(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: fetch id: %v", domain.ErrSignalingUnavailable, err)
	}

	q := url.Values{}
	q.Set("key", c.relay.Key)
	q.Set("id", string(id))
	q.Set("token", c.token)
	u := c.relay.SocketBase() + "peerjs?" + q.Encode()

	log.Info().Str("module", "signal").Str("url", c.relay.SocketBase()).Str("peer_id", string(id)).Msg("connecting")

	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return "", fmt.Errorf("%w: websocket dial: %v", domain.ErrSignalingUnavailable, err)
	}

	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		conn.Close()
		return "", fmt.Errorf("%w: client closed", domain.ErrSignalingUnavailable)
	default:
	}
	c.conn = conn
	c.id = id
	c.mu.Unlock()

	go c.readLoop()

	select {
	case err := <-c.opened:
		if err != nil {
			c.Close()
			return "", fmt.Errorf("%w: %v", domain.ErrSignalingUnavailable, err)
		}
	case <-ctx.Done():
		c.Close()
		return "", fmt.Errorf("%w: %v", domain.ErrSignalingUnavailable, ctx.Err())
	}

	go c.heartbeatLoop()

	log.Info().Str("module", "signal").Str("peer_id", string(id)).Msg("registered")
	return id, nil
}

// Close shuts down the WebSocket connection. The relay releases the
// identity when the socket goes away.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.signalOpen(errors.New("client closed"))

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		c.mu.Lock()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		c.mu.Unlock()
		conn.Close()
		log.Info().Str("module", "signal").Str("peer_id", string(c.ID())).Msg("disconnected")
	})
}

func (c *Client) signalOpen(err error) {
	c.openOnce.Do(func() {
		if err == nil {
			c.mu.Lock()
			c.isOpen = true
			c.mu.Unlock()
		}
		c.opened <- err
	})
}

func (c *Client) registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isOpen
}

func (c *Client) sendJSON(msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("send %s: %w", msg.Type, domain.ErrSignalingUnavailable)
	}
	log.Debug().Str("module", "signal").Msgf(">>> %s", data)
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

func (c *Client) send(typ string, dst domain.PeerID, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return c.sendJSON(message{Type: typ, Dst: dst, Payload: raw})
}

// SendOffer relays an SDP offer for a new media connection.
func (c *Client) SendOffer(dst domain.PeerID, connectionID string, sdp string) error {
	return c.send(domain.MsgOffer, dst, domain.MediaPayload{
		SDP:          domain.SDPPayload{Type: "offer", SDP: sdp},
		Type:         domain.ConnectionTypeMedia,
		ConnectionID: connectionID,
	})
}

// SendAnswer relays the SDP answer for an inbound media connection.
func (c *Client) SendAnswer(dst domain.PeerID, connectionID string, sdp string) error {
	return c.send(domain.MsgAnswer, dst, domain.MediaPayload{
		SDP:          domain.SDPPayload{Type: "answer", SDP: sdp},
		Type:         domain.ConnectionTypeMedia,
		ConnectionID: connectionID,
	})
}

// SendCandidate relays a local ICE candidate.
func (c *Client) SendCandidate(dst domain.PeerID, connectionID string, candidate domain.ICECandidatePayload) error {
	return c.send(domain.MsgCandidate, dst, domain.CandidatePayload{
		Candidate:    candidate,
		Type:         domain.ConnectionTypeMedia,
		ConnectionID: connectionID,
	})
}

// SendLeave tells dst that this side has hung up.
func (c *Client) SendLeave(dst domain.PeerID) error {
	return c.sendJSON(message{Type: domain.MsgLeave, Dst: dst})
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			log.Warn().Str("module", "signal").Err(err).Msg("read error")
			if c.registered() {
				c.handler.OnDisconnected(err)
			} else {
				c.signalOpen(err)
			}
			return
		}

		log.Debug().Str("module", "signal").Msgf("<<< %s", data)

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Str("module", "signal").Err(err).Msg("unmarshal error")
			continue
		}

		if stop := c.dispatch(msg); stop {
			return
		}
	}
}

// dispatch routes one relay frame. It reports whether the read loop must stop.
func (c *Client) dispatch(msg message) bool {
	switch msg.Type {
	case domain.MsgOpen:
		c.signalOpen(nil)

	case domain.MsgIDTaken, domain.MsgError:
		var p domain.ErrorPayload
		_ = json.Unmarshal(msg.Payload, &p)
		err := fmt.Errorf("relay %s: %s", msg.Type, p.Msg)
		log.Warn().Str("module", "signal").Err(err).Msg("relay rejected client")
		if c.registered() {
			c.handler.OnDisconnected(err)
		} else {
			c.signalOpen(err)
		}
		return true

	case domain.MsgHeartbeat:
		// no-op

	case domain.MsgOffer:
		var p domain.MediaPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.Warn().Str("module", "signal").Err(err).Msg("decode OFFER")
			return false
		}
		if p.Type != "" && p.Type != domain.ConnectionTypeMedia {
			log.Info().Str("module", "signal").Str("type", p.Type).Msg("ignoring non-media offer")
			return false
		}
		c.handler.OnOffer(msg.Src, p)

	case domain.MsgAnswer:
		var p domain.MediaPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.Warn().Str("module", "signal").Err(err).Msg("decode ANSWER")
			return false
		}
		c.handler.OnAnswer(msg.Src, p)

	case domain.MsgCandidate:
		var p domain.CandidatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.Warn().Str("module", "signal").Err(err).Msg("decode CANDIDATE")
			return false
		}
		c.handler.OnCandidate(msg.Src, p)

	case domain.MsgLeave:
		c.handler.OnLeave(msg.Src)

	case domain.MsgExpire:
		// the relay reports the unreachable destination in src
		c.handler.OnExpire(msg.Src)

	default:
		log.Info().Str("module", "signal").Str("type", msg.Type).Msg("unhandled message")
	}
	return false
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if err := c.sendJSON(message{Type: domain.MsgHeartbeat}); err != nil {
				select {
				case <-c.closed:
				default:
					log.Warn().Str("module", "signal").Err(err).Msg("heartbeat error")
				}
				return
			}
		}
	}
}
