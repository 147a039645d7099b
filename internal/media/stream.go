package media

import (
	"image"
	"sync"

	"github.com/rs/zerolog/log"
)

// LocalStream is the camera stream. It latches the most recent frame so a
// capture can read it at any time.
type LocalStream struct {
	dev Device

	mu    sync.RWMutex
	frame image.Image

	done     chan struct{}
	stopOnce sync.Once
}

func newLocalStream(dev Device) *LocalStream {
	s := &LocalStream{
		dev:  dev,
		done: make(chan struct{}),
	}
	go s.latch()
	return s
}

func (s *LocalStream) latch() {
	for {
		img, release, err := s.dev.ReadFrame()
		if err != nil {
			select {
			case <-s.done:
			default:
				log.Warn().Str("module", "media").Err(err).Msg("camera read stopped")
			}
			return
		}
		s.mu.Lock()
		s.frame = img
		s.mu.Unlock()
		if release != nil {
			release()
		}
	}
}

// ID returns the camera track id.
func (s *LocalStream) ID() string { return s.dev.ID() }

// Frame returns the latest camera frame.
func (s *LocalStream) Frame() (image.Image, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame, s.frame != nil
}

// Live reports whether the stream has not been stopped.
func (s *LocalStream) Live() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// NewPacketReader opens an encoded RTP reader for one call.
func (s *LocalStream) NewPacketReader(codec string, ssrc uint32, mtu int) (PacketReader, error) {
	return s.dev.NewPacketReader(codec, ssrc, mtu)
}

// Stop closes the camera track.
func (s *LocalStream) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if err := s.dev.Close(); err != nil {
			log.Warn().Str("module", "media").Err(err).Msg("close camera")
		}
		s.mu.Lock()
		s.frame = nil
		s.mu.Unlock()
	})
}
