package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/mmolhoek/papertrail-sub001/internal/settings"
	"github.com/mmolhoek/papertrail-sub001/internal/wifi"
)

// fakeControl is a scriptable wifi.Control. Unset hooks behave like a
// disconnected station with nothing visible.
type fakeControl struct {
	mu sync.Mutex

	scanFn       func(ctx context.Context) ([]wifi.Network, error)
	currentFn    func(ctx context.Context) (*wifi.Connection, error)
	connectFn    func(ctx context.Context, ssid, passphrase string) error
	disconnectFn func(ctx context.Context) error
	visibleFn    func(ctx context.Context, ssid string) (bool, error)

	connectCalls    []connectCall
	disconnectCalls int
}

type connectCall struct {
	SSID       string
	Passphrase string
}

func (f *fakeControl) Scan(ctx context.Context) ([]wifi.Network, error) {
	f.mu.Lock()
	fn := f.scanFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx)
}

func (f *fakeControl) CurrentConnection(ctx context.Context) (*wifi.Connection, error) {
	f.mu.Lock()
	fn := f.currentFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx)
}

func (f *fakeControl) Connect(ctx context.Context, ssid, passphrase string) error {
	f.mu.Lock()
	f.connectCalls = append(f.connectCalls, connectCall{SSID: ssid, Passphrase: passphrase})
	fn := f.connectFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, ssid, passphrase)
}

func (f *fakeControl) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	f.disconnectCalls++
	fn := f.disconnectFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func (f *fakeControl) IsVisible(ctx context.Context, ssid string) (bool, error) {
	f.mu.Lock()
	fn := f.visibleFn
	f.mu.Unlock()
	if fn == nil {
		return false, nil
	}
	return fn(ctx, ssid)
}

func (f *fakeControl) ListSaved(ctx context.Context) ([]wifi.SavedNetwork, error) {
	return nil, nil
}

func (f *fakeControl) RemoveSaved(ctx context.Context, ssid string) error { return nil }

func (f *fakeControl) SaveProfile(ctx context.Context, p wifi.Profile) error { return nil }

func (f *fakeControl) connectedTo(ssid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentFn = func(context.Context) (*wifi.Connection, error) {
		return &wifi.Connection{SSID: ssid, IPAddress: "10.0.0.2"}, nil
	}
}

func (f *fakeControl) disconnected() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentFn = nil
}

func (f *fakeControl) connects() []connectCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]connectCall, len(f.connectCalls))
	copy(out, f.connectCalls)
	return out
}

// memStore is an in-memory settings.Store for tests.
type memStore struct {
	mu         sync.Mutex
	hotspot    settings.HotspotConfig
	fallback   *settings.FallbackNetwork
	onboarding bool
}

var _ settings.Store = (*memStore)(nil)

func newMemStore(ssid, password string) *memStore {
	return &memStore{
		hotspot:    settings.HotspotConfig{SSID: ssid, Password: password},
		onboarding: true,
	}
}

func (s *memStore) HotspotConfig() settings.HotspotConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hotspot
}

func (s *memStore) SetHotspotConfig(cfg settings.HotspotConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hotspot = cfg
	return nil
}

func (s *memStore) FallbackNetwork() (settings.FallbackNetwork, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fallback == nil {
		return settings.FallbackNetwork{}, false
	}
	return *s.fallback, true
}

func (s *memStore) SetFallbackNetwork(fb settings.FallbackNetwork) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = &fb
	return nil
}

func (s *memStore) ClearFallbackNetwork() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = nil
	return nil
}

func (s *memStore) OnboardingCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onboarding
}

func (s *memStore) SetOnboardingCompleted(done bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onboarding = done
	return nil
}

// testTimings keeps every delay tiny so tests settle fast.
func testTimings() Timings {
	return Timings{
		PollInterval:     50 * time.Millisecond,
		MonitorInterval:  20 * time.Millisecond,
		GracePeriod:      100 * time.Millisecond,
		SettleDelay:      10 * time.Millisecond,
		AttemptTimeout:   200 * time.Millisecond,
		VerifyDelay:      5 * time.Millisecond,
		VerifyRetryDelay: 10 * time.Millisecond,
	}
}
