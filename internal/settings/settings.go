// Package settings persists device settings that outlive the process:
// the hotspot target credentials, the fallback network record, and the
// onboarding flag.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// HotspotConfig is the network the device seeks while a companion app wants
// to talk to it.
type HotspotConfig struct {
	SSID      string    `yaml:"ssid"`
	Password  string    `yaml:"password"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// FallbackNetwork records the network the device was on before it started
// seeking the hotspot. At most one record exists; it is overwritten, never
// appended.
type FallbackNetwork struct {
	SSID    string    `yaml:"ssid"`
	SavedAt time.Time `yaml:"saved_at"`
}

// Store is the persistence contract the connectivity core depends on.
type Store interface {
	HotspotConfig() HotspotConfig
	SetHotspotConfig(cfg HotspotConfig) error

	FallbackNetwork() (FallbackNetwork, bool)
	SetFallbackNetwork(fb FallbackNetwork) error
	ClearFallbackNetwork() error

	OnboardingCompleted() bool
	SetOnboardingCompleted(done bool) error
}

type fileData struct {
	Hotspot    HotspotConfig    `yaml:"hotspot"`
	Fallback   *FallbackNetwork `yaml:"fallback,omitempty"`
	Onboarding bool             `yaml:"onboarding_completed"`
}

// FileStore is a YAML-file backed Store. Every mutation is flushed with a
// write-temp-rename so a power cut mid-write cannot corrupt the file.
type FileStore struct {
	path string

	mu   sync.Mutex
	data fileData
}

var _ Store = (*FileStore)(nil)

// Open loads the settings file, creating an in-memory default when the file
// does not exist yet. defaults supplies the factory hotspot credentials used
// until the user configures their own.
func Open(path string, defaults HotspotConfig) (*FileStore, error) {
	s := &FileStore{
		path: path,
		data: fileData{Hotspot: defaults},
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var data fileData
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if data.Hotspot.SSID == "" {
		data.Hotspot = defaults
	}
	s.data = data
	return s, nil
}

// HotspotConfig returns the current hotspot target.
func (s *FileStore) HotspotConfig() HotspotConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Hotspot
}

// SetHotspotConfig persists a new hotspot target.
func (s *FileStore) SetHotspotConfig(cfg HotspotConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = time.Now()
	}
	s.data.Hotspot = cfg
	return s.flushLocked()
}

// FallbackNetwork returns the saved fallback record, if any.
func (s *FileStore) FallbackNetwork() (FallbackNetwork, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.Fallback == nil {
		return FallbackNetwork{}, false
	}
	return *s.data.Fallback, true
}

// SetFallbackNetwork overwrites the fallback record.
func (s *FileStore) SetFallbackNetwork(fb FallbackNetwork) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fb.SavedAt.IsZero() {
		fb.SavedAt = time.Now()
	}
	s.data.Fallback = &fb
	return s.flushLocked()
}

// ClearFallbackNetwork deletes the fallback record.
func (s *FileStore) ClearFallbackNetwork() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.Fallback == nil {
		return nil
	}
	s.data.Fallback = nil
	return s.flushLocked()
}

// OnboardingCompleted reports whether first-run onboarding has finished.
func (s *FileStore) OnboardingCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Onboarding
}

// SetOnboardingCompleted persists the onboarding flag.
func (s *FileStore) SetOnboardingCompleted(done bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Onboarding = done
	return s.flushLocked()
}

func (s *FileStore) flushLocked() error {
	raw, err := yaml.Marshal(&s.data)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
