package media

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Bayrooo/webrtc-photo-booth-client/internal/domain"
)

// fakeDevice serves frames pushed on its channel.
type fakeDevice struct {
	frames chan image.Image
	once   sync.Once
	closed chan struct{}
	closes int
	mu     sync.Mutex
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{frames: make(chan image.Image, 4), closed: make(chan struct{})}
}

func (d *fakeDevice) ID() string { return "cam0" }

func (d *fakeDevice) ReadFrame() (image.Image, func(), error) {
	select {
	case img := <-d.frames:
		return img, func() {}, nil
	case <-d.closed:
		return nil, nil, io.EOF
	}
}

func (d *fakeDevice) NewPacketReader(codec string, ssrc uint32, mtu int) (PacketReader, error) {
	return nil, errors.New("not supported")
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	d.closes++
	d.mu.Unlock()
	d.once.Do(func() { close(d.closed) })
	return nil
}

func (d *fakeDevice) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// fakeRemote records Stop calls.
type fakeRemote struct{ stopped int }

func (r *fakeRemote) ID() string                 { return "remote" }
func (r *fakeRemote) Frame() (image.Image, bool) { return nil, false }
func (r *fakeRemote) Stop()                      { r.stopped++ }

func solid(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestStart_CameraDenied(t *testing.T) {
	m := NewManager(func(ctx context.Context) (Device, error) {
		return nil, errors.New("permission denied")
	})

	s, err := m.Start(context.Background())
	if !errors.Is(err, domain.ErrCameraUnavailable) {
		t.Fatalf("expected ErrCameraUnavailable, got %v", err)
	}
	if s != nil {
		t.Error("expected no stream on failure")
	}
	if m.Ready() || m.Local() != nil {
		t.Error("expected manager to stay idle")
	}
}

func TestStart_LatchesFrames(t *testing.T) {
	dev := newFakeDevice()
	m := NewManager(func(ctx context.Context) (Device, error) { return dev, nil })

	s, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	if _, ok := s.Frame(); ok {
		t.Error("expected no frame before the camera delivers one")
	}

	red := solid(color.RGBA{R: 255, A: 255})
	dev.frames <- red

	deadline := time.Now().Add(time.Second)
	for {
		if img, ok := s.Frame(); ok {
			if img != red {
				t.Error("expected latched frame to be the delivered frame")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("frame never latched")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !m.Ready() || m.Local() == nil {
		t.Error("expected manager to be ready")
	}
}

func TestStart_Twice_ReturnsSameStream(t *testing.T) {
	opens := 0
	m := NewManager(func(ctx context.Context) (Device, error) {
		opens++
		return newFakeDevice(), nil
	})
	defer m.Stop()

	a, err := m.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if a != b || opens != 1 {
		t.Errorf("expected one open and the same stream, got opens=%d", opens)
	}
}

func TestStop_IdempotentAndStopsRemotes(t *testing.T) {
	dev := newFakeDevice()
	m := NewManager(func(ctx context.Context) (Device, error) { return dev, nil })

	// safe with nothing running
	m.Stop()

	s, err := m.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	remote := &fakeRemote{}
	m.Adopt(remote)

	m.Stop()
	m.Stop()

	if dev.closeCount() != 1 {
		t.Errorf("expected camera closed once, got %d", dev.closeCount())
	}
	if remote.stopped != 1 {
		t.Errorf("expected remote stopped once, got %d", remote.stopped)
	}
	if s.Live() {
		t.Error("expected local stream to be stopped")
	}
	if _, ok := s.Frame(); ok {
		t.Error("expected no frame after stop")
	}
	if m.Ready() {
		t.Error("expected manager idle after stop")
	}
}

func TestRelease_ForgetsRemote(t *testing.T) {
	m := NewManager(func(ctx context.Context) (Device, error) { return newFakeDevice(), nil })
	remote := &fakeRemote{}
	m.Adopt(remote)
	m.Release(remote)
	m.Stop()
	if remote.stopped != 0 {
		t.Error("released remote must not be stopped")
	}
}
