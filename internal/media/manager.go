package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Bayrooo/webrtc-photo-booth-client/internal/domain"

	"github.com/rs/zerolog/log"
)

// Manager acquires and owns the local camera stream, and stops any remote
// streams handed to it.
type Manager struct {
	open Opener

	mu      sync.Mutex
	local   *LocalStream
	remotes map[domain.Stream]struct{}
}

// NewManager creates a Manager that opens cameras with open.
func NewManager(open Opener) *Manager {
	return &Manager{
		open:    open,
		remotes: make(map[domain.Stream]struct{}),
	}
}

// Start opens the camera. Starting an already running camera returns the
// existing stream. On failure the manager stays idle.
func (m *Manager) Start(ctx context.Context) (*LocalStream, error) {
	m.mu.Lock()
	if m.local != nil {
		s := m.local
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	dev, err := m.open(ctx)
	if err != nil {
		log.Warn().Str("module", "media").Err(err).Msg("camera unavailable")
		if errors.Is(err, domain.ErrCameraUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrCameraUnavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local != nil {
		// lost a race with a concurrent Start
		dev.Close()
		return m.local, nil
	}
	m.local = newLocalStream(dev)
	log.Info().Str("module", "media").Str("track_id", dev.ID()).Msg("camera ready")
	return m.local, nil
}

// Ready reports whether a local stream is running.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local != nil
}

// Local returns the running local stream, or nil.
func (m *Manager) Local() domain.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local == nil {
		return nil
	}
	return m.local
}

// Adopt registers a remote stream so Stop also ends it.
func (m *Manager) Adopt(s domain.Stream) {
	if s == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remotes[s] = struct{}{}
}

// Release forgets a remote stream without stopping it.
func (m *Manager) Release(s domain.Stream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.remotes, s)
}

// Stop stops the local stream and every adopted remote stream. It is safe
// to call when nothing is running.
func (m *Manager) Stop() {
	m.mu.Lock()
	local := m.local
	m.local = nil
	remotes := m.remotes
	m.remotes = make(map[domain.Stream]struct{})
	m.mu.Unlock()

	if local != nil {
		local.Stop()
		log.Info().Str("module", "media").Msg("camera stopped")
	}
	for s := range remotes {
		s.Stop()
	}
}
