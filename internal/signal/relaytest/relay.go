// Package relaytest runs an in-process signaling relay speaking the same
// protocol as the production relay, for tests.
package relaytest

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Bayrooo/webrtc-photo-booth-client/internal/domain"

	"github.com/gorilla/websocket"
)

type frame struct {
	Type    string          `json:"type"`
	Src     string          `json:"src,omitempty"`
	Dst     string          `json:"dst,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(f frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteJSON(f)
}

// Relay is a minimal in-memory relay.
type Relay struct {
	Key string

	srv      *httptest.Server
	upgrader websocket.Upgrader
	nextID   atomic.Int64

	mu      sync.Mutex
	clients map[string]*client
	frames  []frame
	// queued ids are handed out before generated ones
	nextIDs []string
	// answer every socket with ERROR
	reject bool
}

// New starts a relay. Close it with Close.
func New() *Relay {
	r := &Relay{
		Key:     domain.DefaultRelayKey,
		clients: make(map[string]*client),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/peerjs/", r.route)
	r.srv = httptest.NewServer(mux)
	return r
}

// Close stops the relay and drops all clients.
func (r *Relay) Close() {
	r.mu.Lock()
	for _, c := range r.clients {
		c.conn.Close()
	}
	r.mu.Unlock()
	r.srv.Close()
}

// Config returns the RelayConfig pointing at this relay.
func (r *Relay) Config() domain.RelayConfig {
	host, port, _ := net.SplitHostPort(r.srv.Listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return domain.RelayConfig{Host: host, Port: p, Path: "/peerjs/", Key: r.Key}
}

// QueueIDs makes the identity endpoint return ids in order.
func (r *Relay) QueueIDs(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextIDs = append(r.nextIDs, ids...)
}

// RejectAll makes every new socket fail registration with ERROR.
func (r *Relay) RejectAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reject = true
}

// Connected reports whether id currently holds a socket.
func (r *Relay) Connected(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[id]
	return ok
}

// Count returns how many frames of type typ the relay received from clients.
func (r *Relay) Count(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.frames {
		if f.Type == typ {
			n++
		}
	}
	return n
}

// Send pushes a raw frame to a connected client.
func (r *Relay) Send(id, typ, src string, payload any) error {
	r.mu.Lock()
	c, ok := r.clients[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("no client %q", id)
	}
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = b
	}
	c.send(frame{Type: typ, Src: src, Dst: id, Payload: raw})
	return nil
}

// Drop closes id's socket from the relay side.
func (r *Relay) Drop(id string) {
	r.mu.Lock()
	c, ok := r.clients[id]
	delete(r.clients, id)
	r.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}

func (r *Relay) route(w http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.Path, "/peerjs/")
	switch {
	case rest == r.Key+"/id":
		w.Write([]byte(r.allocate()))
	case rest == "peerjs":
		r.serveSocket(w, req)
	default:
		http.NotFound(w, req)
	}
}

func (r *Relay) allocate() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.nextIDs) > 0 {
		id := r.nextIDs[0]
		r.nextIDs = r.nextIDs[1:]
		return id
	}
	return "peer" + strconv.FormatInt(r.nextID.Add(1), 10)
}

func (r *Relay) serveSocket(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	id := q.Get("id")
	if q.Get("key") != r.Key || id == "" || q.Get("token") == "" {
		http.Error(w, "bad handshake", http.StatusBadRequest)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn}

	r.mu.Lock()
	_, taken := r.clients[id]
	reject := r.reject
	if !taken && !reject {
		r.clients[id] = c
	}
	r.mu.Unlock()

	switch {
	case reject:
		c.send(frame{Type: domain.MsgError, Payload: json.RawMessage(`{"msg":"rejected"}`)})
		conn.Close()
		return
	case taken:
		c.send(frame{Type: domain.MsgIDTaken, Payload: json.RawMessage(`{"msg":"ID is taken"}`)})
		conn.Close()
		return
	}

	c.send(frame{Type: domain.MsgOpen})
	r.readLoop(id, c)
}

func (r *Relay) readLoop(id string, c *client) {
	defer func() {
		r.mu.Lock()
		if r.clients[id] == c {
			delete(r.clients, id)
		}
		r.mu.Unlock()
		c.conn.Close()
	}()

	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}

		r.mu.Lock()
		r.frames = append(r.frames, f)
		dst, ok := r.clients[f.Dst]
		r.mu.Unlock()

		switch f.Type {
		case domain.MsgHeartbeat:
			continue
		case domain.MsgOffer, domain.MsgAnswer, domain.MsgCandidate, domain.MsgLeave:
			if !ok {
				if f.Type == domain.MsgOffer {
					c.send(frame{Type: domain.MsgExpire, Src: f.Dst, Dst: id})
				}
				continue
			}
			dst.send(frame{Type: f.Type, Src: id, Dst: f.Dst, Payload: f.Payload})
		}
	}
}
