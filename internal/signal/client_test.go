package signal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Bayrooo/webrtc-photo-booth-client/internal/api"
	"github.com/Bayrooo/webrtc-photo-booth-client/internal/domain"
	"github.com/Bayrooo/webrtc-photo-booth-client/internal/signal/relaytest"
)

// recordingHandler records relay events for verification.
type recordingHandler struct {
	mu           sync.Mutex
	offers       []domain.MediaPayload
	offerSrc     domain.PeerID
	answers      []domain.MediaPayload
	candidates   []domain.CandidatePayload
	leaves       []domain.PeerID
	expired      []domain.PeerID
	disconnected chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{disconnected: make(chan error, 1)}
}

func (h *recordingHandler) OnOffer(src domain.PeerID, offer domain.MediaPayload) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.offerSrc = src
	h.offers = append(h.offers, offer)
}

func (h *recordingHandler) OnAnswer(src domain.PeerID, answer domain.MediaPayload) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.answers = append(h.answers, answer)
}

func (h *recordingHandler) OnCandidate(src domain.PeerID, c domain.CandidatePayload) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.candidates = append(h.candidates, c)
}

func (h *recordingHandler) OnLeave(src domain.PeerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaves = append(h.leaves, src)
}

func (h *recordingHandler) OnExpire(dst domain.PeerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.expired = append(h.expired, dst)
}

func (h *recordingHandler) OnDisconnected(err error) {
	select {
	case h.disconnected <- err:
	default:
	}
}

func (h *recordingHandler) snapshot() recordingHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return recordingHandler{
		offers:     append([]domain.MediaPayload(nil), h.offers...),
		offerSrc:   h.offerSrc,
		answers:    append([]domain.MediaPayload(nil), h.answers...),
		candidates: append([]domain.CandidatePayload(nil), h.candidates...),
		leaves:     append([]domain.PeerID(nil), h.leaves...),
		expired:    append([]domain.PeerID(nil), h.expired...),
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestClient(relay *relaytest.Relay, h domain.Handler) *Client {
	cfg := relay.Config()
	return NewClient(cfg, api.NewClient(cfg, time.Second), h, Options{Heartbeat: 20 * time.Millisecond})
}

func TestRegister_ReturnsRelayID(t *testing.T) {
	relay := relaytest.New()
	defer relay.Close()
	relay.QueueIDs("abc123")

	c := newTestClient(relay, newRecordingHandler())
	defer c.Close()

	id, err := c.Register(context.Background())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id != "abc123" || c.ID() != "abc123" {
		t.Errorf("expected abc123, got %q / %q", id, c.ID())
	}
	if !relay.Connected("abc123") {
		t.Error("expected relay to hold the socket")
	}
}

func TestRegister_SendsHeartbeats(t *testing.T) {
	relay := relaytest.New()
	defer relay.Close()

	c := newTestClient(relay, newRecordingHandler())
	defer c.Close()
	if _, err := c.Register(context.Background()); err != nil {
		t.Fatal(err)
	}

	eventually(t, func() bool { return relay.Count(domain.MsgHeartbeat) >= 2 })
}

func TestRegister_RelayDown(t *testing.T) {
	relay := relaytest.New()
	cfg := relay.Config()
	relay.Close()

	c := NewClient(cfg, api.NewClient(cfg, 500*time.Millisecond), newRecordingHandler(), Options{})
	_, err := c.Register(context.Background())
	if !errors.Is(err, domain.ErrSignalingUnavailable) {
		t.Fatalf("expected ErrSignalingUnavailable, got %v", err)
	}
}

func TestRegister_IDTaken(t *testing.T) {
	relay := relaytest.New()
	defer relay.Close()
	relay.QueueIDs("dup", "dup")

	first := newTestClient(relay, newRecordingHandler())
	defer first.Close()
	if _, err := first.Register(context.Background()); err != nil {
		t.Fatal(err)
	}

	second := newTestClient(relay, newRecordingHandler())
	defer second.Close()
	_, err := second.Register(context.Background())
	if !errors.Is(err, domain.ErrSignalingUnavailable) {
		t.Fatalf("expected ErrSignalingUnavailable, got %v", err)
	}
}

func TestRegister_RelayError(t *testing.T) {
	relay := relaytest.New()
	defer relay.Close()
	relay.RejectAll()

	c := newTestClient(relay, newRecordingHandler())
	defer c.Close()
	if _, err := c.Register(context.Background()); !errors.Is(err, domain.ErrSignalingUnavailable) {
		t.Fatalf("expected ErrSignalingUnavailable, got %v", err)
	}
}

func TestRegister_ContextTimeout(t *testing.T) {
	relay := relaytest.New()
	defer relay.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(relay, newRecordingHandler())
	if _, err := c.Register(ctx); !errors.Is(err, domain.ErrSignalingUnavailable) {
		t.Fatalf("expected ErrSignalingUnavailable, got %v", err)
	}
}

func TestOfferAnswerCandidateRelay(t *testing.T) {
	relay := relaytest.New()
	defer relay.Close()
	relay.QueueIDs("host", "joiner")

	hostH := newRecordingHandler()
	host := newTestClient(relay, hostH)
	defer host.Close()
	if _, err := host.Register(context.Background()); err != nil {
		t.Fatal(err)
	}

	joinH := newRecordingHandler()
	joiner := newTestClient(relay, joinH)
	defer joiner.Close()
	if _, err := joiner.Register(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := joiner.SendOffer("host", "mc_1", "v=0\r\noffer"); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return len(hostH.snapshot().offers) == 1 })
	got := hostH.snapshot()
	if got.offerSrc != "joiner" {
		t.Errorf("expected offer from joiner, got %q", got.offerSrc)
	}
	if got.offers[0].ConnectionID != "mc_1" || got.offers[0].SDP.SDP != "v=0\r\noffer" || got.offers[0].SDP.Type != "offer" {
		t.Errorf("unexpected offer payload: %+v", got.offers[0])
	}

	if err := host.SendAnswer("joiner", "mc_1", "v=0\r\nanswer"); err != nil {
		t.Fatal(err)
	}
	if err := host.SendCandidate("joiner", "mc_1", domain.ICECandidatePayload{Candidate: "candidate:1", SDPMid: "0"}); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool {
		s := joinH.snapshot()
		return len(s.answers) == 1 && len(s.candidates) == 1
	})
	s := joinH.snapshot()
	if s.answers[0].SDP.Type != "answer" {
		t.Errorf("expected answer type, got %q", s.answers[0].SDP.Type)
	}
	if s.candidates[0].ConnectionID != "mc_1" || s.candidates[0].Candidate.Candidate != "candidate:1" {
		t.Errorf("unexpected candidate: %+v", s.candidates[0])
	}

	if err := joiner.SendLeave("host"); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return len(hostH.snapshot().leaves) == 1 })
}

func TestOfferToUnknownPeerExpires(t *testing.T) {
	relay := relaytest.New()
	defer relay.Close()

	h := newRecordingHandler()
	c := newTestClient(relay, h)
	defer c.Close()
	if _, err := c.Register(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := c.SendOffer("ghost", "mc_2", "v=0"); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return len(h.snapshot().expired) == 1 })
	if got := h.snapshot().expired[0]; got != "ghost" {
		t.Errorf("expected EXPIRE for ghost, got %q", got)
	}
}

func TestRelayDropReportsDisconnect(t *testing.T) {
	relay := relaytest.New()
	defer relay.Close()
	relay.QueueIDs("solo")

	h := newRecordingHandler()
	c := newTestClient(relay, h)
	defer c.Close()
	if _, err := c.Register(context.Background()); err != nil {
		t.Fatal(err)
	}

	relay.Drop("solo")

	select {
	case <-h.disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("expected OnDisconnected after relay drop")
	}
}

func TestCloseIsIdempotentAndSilent(t *testing.T) {
	relay := relaytest.New()
	defer relay.Close()
	relay.QueueIDs("bye")

	h := newRecordingHandler()
	c := newTestClient(relay, h)
	if _, err := c.Register(context.Background()); err != nil {
		t.Fatal(err)
	}

	c.Close()
	c.Close()

	eventually(t, func() bool { return !relay.Connected("bye") })
	select {
	case err := <-h.disconnected:
		t.Fatalf("unexpected OnDisconnected after local close: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	if err := c.SendLeave("x"); err == nil {
		t.Error("expected send after close to fail")
	}
}

func TestSendBeforeRegisterFails(t *testing.T) {
	c := NewClient(domain.RelayConfig{Host: "localhost", Port: 1, Path: "/"}, nil, newRecordingHandler(), Options{})
	if err := c.SendLeave("x"); !errors.Is(err, domain.ErrSignalingUnavailable) {
		t.Fatalf("expected ErrSignalingUnavailable, got %v", err)
	}
}
