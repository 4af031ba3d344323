package connectivity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (*Service, *fakeControl, *memStore) {
	t.Helper()
	ctrl := &fakeControl{}
	store := newMemStore("Papertrail-Setup", "secret123")
	svc := New(Options{
		Control: ctrl,
		Store:   store,
		Logger:  zap.NewNop(),
		Timings: testTimings(),
	})
	return svc, ctrl, store
}

func TestServiceRequiresInitialize(t *testing.T) {
	svc, _, _ := newTestService(t)

	assert.True(t, errors.Is(svc.SetClientCount(1), ErrNotInitialized))
	assert.True(t, errors.Is(svc.SetHotspotConfig("Net", "password1"), ErrNotInitialized))
}

func TestServiceInitializeIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	require.NoError(t, svc.Initialize())
	require.NoError(t, svc.Initialize())
	svc.Dispose()
	// Dispose twice is safe too.
	svc.Dispose()
}

func TestServiceDisposeClearsObservers(t *testing.T) {
	svc, _, _ := newTestService(t)
	require.NoError(t, svc.Initialize())

	calls := 0
	svc.OnStateChange(func(State, State) { calls++ })
	svc.Dispose()

	svc.machine.SetState(StateDisconnected)
	assert.Zero(t, calls)
}

func TestServiceClientDetachAbortsSeeking(t *testing.T) {
	svc, ctrl, _ := newTestService(t)
	ctrl.visibleFn = func(context.Context, string) (bool, error) { return false, nil }
	require.NoError(t, svc.Initialize())
	defer svc.Dispose()

	require.NoError(t, svc.SetClientCount(1))
	assert.Equal(t, ModeStopped, svc.GetMode())

	// The attach triggers an immediate evaluation; invisible hotspot parks
	// the machine in waiting.
	require.Eventually(t, func() bool {
		return svc.GetState() == StateWaitingForHotspot
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, svc.SetClientCount(0))
	assert.Equal(t, ModeDriving, svc.GetMode())
	assert.Equal(t, StateIdle, svc.GetState(),
		"seeking is pointless with no client attached")
}

func TestServiceSetHotspotConfigValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	require.NoError(t, svc.Initialize())
	defer svc.Dispose()

	assert.True(t, errors.Is(svc.SetHotspotConfig("", "password1"), ErrValidation))
	assert.True(t, errors.Is(svc.SetHotspotConfig("   ", "password1"), ErrValidation))
	assert.True(t, errors.Is(svc.SetHotspotConfig("Net", "short"), ErrValidation))
}

func TestServiceSetHotspotConfigInvalidatesCurrentConnection(t *testing.T) {
	svc, ctrl, store := newTestService(t)
	ctrl.connectedTo("HomeNet")
	require.NoError(t, svc.Initialize())
	defer svc.Dispose()

	require.NoError(t, svc.SetHotspotConfig("NewPhone", "newsecret"))

	cfg := store.HotspotConfig()
	assert.Equal(t, "NewPhone", cfg.SSID)
	assert.Equal(t, "newsecret", cfg.Password)

	fb, ok := store.FallbackNetwork()
	require.True(t, ok, "the network we were on becomes the fallback")
	assert.Equal(t, "HomeNet", fb.SSID)

	assert.Equal(t, StateWaitingForHotspot, svc.GetState())
	assert.Equal(t, 1, ctrl.disconnectCalls)
}

func TestServiceNotifyConnectedScreenDisplayed(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.machine.SetState(StateConnected)
	assert.False(t, svc.machine.ScreenShown())

	svc.NotifyConnectedScreenDisplayed()
	assert.True(t, svc.machine.ScreenShown())
}

func TestServiceOnboardingAccessor(t *testing.T) {
	svc, _, store := newTestService(t)
	assert.True(t, svc.OnboardingCompleted())
	require.NoError(t, store.SetOnboardingCompleted(false))
	assert.False(t, svc.OnboardingCompleted())
}

func TestTimingsDefaults(t *testing.T) {
	got := Timings{}.withDefaults()
	assert.Equal(t, DefaultTimings(), got)

	custom := Timings{PollInterval: time.Second}.withDefaults()
	assert.Equal(t, time.Second, custom.PollInterval)
	assert.Equal(t, DefaultTimings().MonitorInterval, custom.MonitorInterval)
}
