package compositor

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Filename is the download name of a photo.
const Filename = "vintage_photo.png"

// Photo is one encoded capture. It is never modified after Compose returns.
type Photo struct {
	PNG    []byte
	Width  int
	Height int
	Filter string
	Frame  string
	// Duo is set when the remote feed was drawn beside the local one.
	Duo     bool
	TakenAt time.Time
}

// DataURI returns the photo as a data: URI.
func (p *Photo) DataURI() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(p.PNG)
}

// Studio holds the composition settings and the latest photo.
type Studio struct {
	loader OverlayLoader

	mu    sync.RWMutex
	cfg   Config
	photo *Photo
}

// NewStudio creates a Studio with no filter and no frame.
func NewStudio(loader OverlayLoader) *Studio {
	return &Studio{loader: loader, cfg: Config{Filter: FilterNone}}
}

// SetFilter selects the filter for later captures.
func (s *Studio) SetFilter(name string) error {
	n, err := ParseFilter(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg.Filter = n
	s.mu.Unlock()
	return nil
}

// SetFrame selects the overlay for later captures. "" or "none" clears it.
func (s *Studio) SetFrame(ref string) error {
	r, err := NormalizeFrame(ref)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg.Frame = r
	s.mu.Unlock()
	return nil
}

// Config returns the current composition settings.
func (s *Studio) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Photo returns the latest photo, or nil.
func (s *Studio) Photo() *Photo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.photo
}

// Capture composes a photo with the settings current at the time of the
// call. A failed capture leaves the previous photo in place.
func (s *Studio) Capture(ctx context.Context, src Sources) (*Photo, error) {
	cfg := s.Config()

	p, err := Compose(ctx, src, cfg, s.loader)
	if err != nil {
		log.Warn().Str("module", "compositor").Err(err).Msg("capture failed")
		return nil, err
	}

	s.mu.Lock()
	s.photo = p
	s.mu.Unlock()

	log.Info().Str("module", "compositor").Str("filter", p.Filter).Str("frame", p.Frame).Msg("photo captured")
	return p, nil
}
