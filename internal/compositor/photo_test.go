package compositor

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/Bayrooo/webrtc-photo-booth-client/internal/domain"
)

func TestDataURI(t *testing.T) {
	p := &Photo{PNG: []byte{0x89, 'P', 'N', 'G'}}
	uri := p.DataURI()
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(uri, prefix) {
		t.Fatalf("unexpected uri %q", uri)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, prefix))
	if err != nil || string(raw) != string(p.PNG) {
		t.Errorf("payload does not round trip: %v", err)
	}
	if Filename != "vintage_photo.png" {
		t.Errorf("unexpected filename %q", Filename)
	}
}

func TestStudio_UsesSettingsAtCapture(t *testing.T) {
	s := NewStudio(&staticLoader{img: frameOverlay()})
	src := Sources{Local: newSolid(red, 8, 8)}

	if err := s.SetFilter("sepia(1)"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetFrame("/frames/frame2.png"); err != nil {
		t.Fatal(err)
	}
	if cfg := s.Config(); cfg.Filter != FilterSepia || cfg.Frame != "frame2.png" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	first, err := s.Capture(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if first.Filter != FilterSepia || first.Frame != "frame2.png" {
		t.Errorf("unexpected photo settings %q %q", first.Filter, first.Frame)
	}

	s.SetFilter("none")
	s.SetFrame("none")
	second, err := s.Capture(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if second.Filter != FilterNone || second.Frame != "" {
		t.Errorf("unexpected photo settings %q %q", second.Filter, second.Frame)
	}
	if s.Photo() != second {
		t.Error("expected latest photo to replace the previous one")
	}
}

func TestStudio_FailedCaptureKeepsPhoto(t *testing.T) {
	loader := &staticLoader{img: frameOverlay()}
	s := NewStudio(loader)
	src := Sources{Local: newSolid(red, 8, 8)}

	first, err := s.Capture(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}

	loader.err = errors.New("gone")
	loader.img = nil
	s.SetFrame("frame1")
	if _, err := s.Capture(context.Background(), src); !errors.Is(err, domain.ErrOverlayUnavailable) {
		t.Fatalf("expected ErrOverlayUnavailable, got %v", err)
	}
	if s.Photo() != first {
		t.Error("expected previous photo kept after a failed capture")
	}
}

func TestStudio_RejectsBadSettings(t *testing.T) {
	s := NewStudio(nil)
	if err := s.SetFilter("blur(2px)"); err == nil {
		t.Error("expected unknown filter rejected")
	}
	if err := s.SetFrame("frame.jpg"); err == nil {
		t.Error("expected non-png frame rejected")
	}
	if cfg := s.Config(); cfg.Filter != FilterNone || cfg.Frame != "" {
		t.Errorf("expected defaults kept, got %+v", cfg)
	}
	if s.Photo() != nil {
		t.Error("expected no photo yet")
	}
}
