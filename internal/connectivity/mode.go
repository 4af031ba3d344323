package connectivity

import (
	"sync"

	"go.uber.org/zap"
)

// Mode classifies the device by whether a UI client is attached.
type Mode string

const (
	// ModeDriving means no UI client is attached; the vehicle is in motion
	// and the device only monitors passively.
	ModeDriving Mode = "driving"

	// ModeStopped means at least one UI client is attached and the device
	// actively seeks the hotspot.
	ModeStopped Mode = "stopped"
)

// ModeTracker derives the mode from the attached UI client count. The mode
// is never stored, only computed; the edge transitions trigger the hooks.
type ModeTracker struct {
	log *zap.Logger

	// onStopped fires on the driving -> stopped edge (first client attached).
	onStopped func()
	// onDriving fires on the stopped -> driving edge (last client detached).
	onDriving func()

	mu      sync.Mutex
	clients int
}

// NewModeTracker creates a tracker starting with zero clients.
func NewModeTracker(log *zap.Logger, onStopped, onDriving func()) *ModeTracker {
	return &ModeTracker{
		log:       log.Named("mode"),
		onStopped: onStopped,
		onDriving: onDriving,
	}
}

// SetClientCount updates the attached client count. Edge hooks run outside
// the tracker's lock, after the count is visible to readers.
func (t *ModeTracker) SetClientCount(n int) {
	if n < 0 {
		n = 0
	}

	t.mu.Lock()
	prev := t.clients
	t.clients = n
	t.mu.Unlock()

	switch {
	case prev == 0 && n > 0:
		t.log.Info("client attached, now stopped", zap.Int("clients", n))
		if t.onStopped != nil {
			t.onStopped()
		}
	case prev > 0 && n == 0:
		t.log.Info("last client detached, now driving")
		if t.onDriving != nil {
			t.onDriving()
		}
	}
}

// ClientCount returns the attached UI client count.
func (t *ModeTracker) ClientCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clients
}

// Mode returns the derived mode.
func (t *ModeTracker) Mode() Mode {
	if t.ClientCount() > 0 {
		return ModeStopped
	}
	return ModeDriving
}
