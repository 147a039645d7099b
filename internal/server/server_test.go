package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Bayrooo/webrtc-photo-booth-client/internal/compositor"
	"github.com/Bayrooo/webrtc-photo-booth-client/internal/domain"
	"github.com/Bayrooo/webrtc-photo-booth-client/internal/media"
	"github.com/Bayrooo/webrtc-photo-booth-client/internal/session"
)

// fakeDevice serves one solid frame and then blocks until closed.
type fakeDevice struct {
	once   sync.Once
	served bool
	closed chan struct{}
}

func (d *fakeDevice) ID() string { return "cam0" }

func (d *fakeDevice) ReadFrame() (image.Image, func(), error) {
	if !d.served {
		d.served = true
		img := image.NewRGBA(image.Rect(0, 0, 8, 8))
		for i := range img.Pix {
			img.Pix[i] = 0xff
		}
		return img, nil, nil
	}
	<-d.closed
	return nil, nil, io.EOF
}

func (d *fakeDevice) NewPacketReader(string, uint32, int) (media.PacketReader, error) {
	return nil, errors.New("not supported")
}

func (d *fakeDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

// stubSignaler registers as id or fails with err.
type stubSignaler struct {
	id  domain.PeerID
	err error
}

func (s *stubSignaler) Register(ctx context.Context) (domain.PeerID, error) { return s.id, s.err }
func (s *stubSignaler) SendOffer(domain.PeerID, string, string) error       { return nil }
func (s *stubSignaler) SendAnswer(domain.PeerID, string, string) error      { return nil }
func (s *stubSignaler) SendCandidate(domain.PeerID, string, domain.ICECandidatePayload) error {
	return nil
}
func (s *stubSignaler) SendLeave(domain.PeerID) error { return nil }
func (s *stubSignaler) Close()                        {}

// overlayLoader returns img or err for every reference.
type overlayLoader struct {
	img image.Image
	err error
}

func (l *overlayLoader) Load(ctx context.Context, ref string) (image.Image, error) {
	return l.img, l.err
}

type harness struct {
	srv    *Server
	camera *media.Manager
	sess   *session.Session
	loader *overlayLoader
}

type harnessOpts struct {
	cameraErr error
	relayErr  error
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	camera := media.NewManager(func(ctx context.Context) (media.Device, error) {
		if o.cameraErr != nil {
			return nil, o.cameraErr
		}
		return &fakeDevice{closed: make(chan struct{})}, nil
	})
	sess := session.New(session.Options{
		Signalers: func(h domain.Handler) domain.Signaler {
			return &stubSignaler{id: "abc123", err: o.relayErr}
		},
		Peers: func(connectionID string) (domain.Peer, error) {
			return nil, errors.New("no peers in this test")
		},
	})
	loader := &overlayLoader{img: image.NewRGBA(image.Rect(0, 0, compositor.Width, compositor.Height))}
	srv := New(camera, sess, compositor.NewStudio(loader), Options{Mode: "test"})
	t.Cleanup(camera.Stop)
	return &harness{srv: srv, camera: camera, sess: sess, loader: loader}
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func waitFrame(t *testing.T, camera *media.Manager) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := camera.Local(); s != nil {
			if _, ok := s.Frame(); ok {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("camera frame never arrived")
}

func TestCameraStart_Denied(t *testing.T) {
	h := newHarness(t, harnessOpts{cameraErr: errors.New("permission denied")})

	w := h.do(t, http.MethodPost, "/api/camera/start", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	if body["kind"] != string(domain.StatusCameraUnavailable) {
		t.Errorf("unexpected body %v", body)
	}
	if h.sess.Status().Kind != domain.StatusCameraUnavailable {
		t.Errorf("expected session status CameraUnavailable, got %s", h.sess.Status().Kind)
	}
}

func TestRoomLifecycle(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	if w := h.do(t, http.MethodPost, "/api/room", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without camera, got %d", w.Code)
	}

	w := h.do(t, http.MethodPost, "/api/camera/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("camera start: %d %s", w.Code, w.Body)
	}
	if v := decode[sessionView](t, w); v.State != "camera_ready" || !v.Camera {
		t.Errorf("unexpected view %+v", v)
	}

	w = h.do(t, http.MethodPost, "/api/room", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create room: %d %s", w.Code, w.Body)
	}
	v := decode[sessionView](t, w)
	if v.ID != "abc123" || v.Role != "host" || v.State != "hosting(waiting)" {
		t.Errorf("unexpected view %+v", v)
	}
	if v.Status.Kind != domain.StatusRoomCreated || v.Connected {
		t.Errorf("unexpected status %+v connected=%v", v.Status, v.Connected)
	}

	w = h.do(t, http.MethodPost, "/api/room/leave", "")
	if v := decode[sessionView](t, w); v.State != "closed" || v.ID != "" {
		t.Errorf("unexpected view after leave %+v", v)
	}

	w = h.do(t, http.MethodPost, "/api/camera/stop", "")
	if v := decode[sessionView](t, w); v.State != "idle" || v.Camera {
		t.Errorf("unexpected view after stop %+v", v)
	}
}

func TestJoinRoom_Errors(t *testing.T) {
	h := newHarness(t, harnessOpts{relayErr: fmt.Errorf("%w: dial refused", domain.ErrSignalingUnavailable)})
	h.do(t, http.MethodPost, "/api/camera/start", "")

	if w := h.do(t, http.MethodPost, "/api/room/join", `{"target":"  "}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for blank target, got %d", w.Code)
	}
	if w := h.do(t, http.MethodPost, "/api/room/join", `{"target":`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", w.Code)
	}

	w := h.do(t, http.MethodPost, "/api/room/join", `{"target":"abc123"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	if v := decode[sessionView](t, h.do(t, http.MethodGet, "/api/session", "")); v.State != "camera_ready" {
		t.Errorf("expected camera_ready after relay failure, got %+v", v)
	}
}

func TestComposition(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	w := h.do(t, http.MethodPut, "/api/composition", `{"filter":"sepia(1)","frame":"/frames/frame1.png"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("set composition: %d %s", w.Code, w.Body)
	}
	cfg := decode[compositor.Config](t, w)
	if cfg.Filter != compositor.FilterSepia || cfg.Frame != "frame1.png" {
		t.Errorf("unexpected config %+v", cfg)
	}

	// absent fields are left alone
	w = h.do(t, http.MethodPut, "/api/composition", `{"filter":"none"}`)
	if cfg := decode[compositor.Config](t, w); cfg.Filter != compositor.FilterNone || cfg.Frame != "frame1.png" {
		t.Errorf("unexpected config %+v", cfg)
	}

	if w := h.do(t, http.MethodPut, "/api/composition", `{"filter":"blur(2px)"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown filter, got %d", w.Code)
	}

	w = h.do(t, http.MethodGet, "/api/filters", "")
	if !strings.Contains(w.Body.String(), compositor.FilterGrayscale) {
		t.Errorf("expected grayscale listed, got %s", w.Body)
	}
}

func TestCaptureAndDownload(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	if w := h.do(t, http.MethodGet, "/api/photo", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 before capture, got %d", w.Code)
	}
	if w := h.do(t, http.MethodPost, "/api/capture", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without camera, got %d", w.Code)
	}

	h.do(t, http.MethodPost, "/api/camera/start", "")
	waitFrame(t, h.camera)

	w := h.do(t, http.MethodPost, "/api/capture", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("capture: %d %s", w.Code, w.Body)
	}
	if pv := decode[photoView](t, w); pv.Duo || pv.Width != compositor.Width || pv.Bytes == 0 {
		t.Errorf("unexpected photo %+v", pv)
	}

	w = h.do(t, http.MethodGet, "/api/photo", "")
	if w.Code != http.StatusOK {
		t.Fatalf("photo: %d", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "vintage_photo.png") {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}
	img, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() != compositor.Width || img.Bounds().Dy() != compositor.Height {
		t.Errorf("unexpected size %v", img.Bounds())
	}
	// left margin of the solo layout shows the canvas background
	if got := color.RGBAModel.Convert(img.At(10, 200)).(color.RGBA); got != compositor.Background {
		t.Errorf("expected background at margin, got %v", got)
	}

	w = h.do(t, http.MethodGet, "/api/photo/datauri", "")
	body := decode[map[string]string](t, w)
	if !strings.HasPrefix(body["uri"], "data:image/png;base64,") || body["filename"] != compositor.Filename {
		t.Errorf("unexpected data uri body %v", body)
	}
}

func TestCapture_OverlayUnavailable(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.loader.img = nil
	h.loader.err = errors.New("not found")
	h.do(t, http.MethodPost, "/api/camera/start", "")
	h.do(t, http.MethodPut, "/api/composition", `{"frame":"frame2"}`)

	w := h.do(t, http.MethodPost, "/api/capture", "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", w.Code, w.Body)
	}
	if w := h.do(t, http.MethodGet, "/api/photo", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected no photo after failed capture, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.do(t, http.MethodGet, "/api/session", "")

	w := h.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `photobooth_http_requests_total{method="GET",path="/api/session"`) {
		t.Error("expected request counter for /api/session")
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrNoCamera, http.StatusBadRequest},
		{domain.ErrMissingTarget, http.StatusBadRequest},
		{fmt.Errorf("%w: denied", domain.ErrCameraUnavailable), http.StatusConflict},
		{domain.ErrSessionSuperseded, http.StatusConflict},
		{fmt.Errorf("register: %w", domain.ErrSignalingUnavailable), http.StatusBadGateway},
		{domain.ErrCallUnreachable, http.StatusGatewayTimeout},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{domain.ErrOverlayUnavailable, http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
