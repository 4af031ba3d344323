package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmolhoek/papertrail-sub001/internal/settings"
	"github.com/mmolhoek/papertrail-sub001/internal/wifi"
)

func newTestOrchestrator(ctrl *fakeControl, store *memStore, timings Timings) (*Orchestrator, *Machine) {
	log := zap.NewNop()
	machine := NewMachine(log, nil)
	fallback := NewFallbackManager(ctrl, store, log)
	orch := NewOrchestrator(machine, ctrl, fallback, store, timings, log, nil)
	return orch, machine
}

func TestAttemptHappyPath(t *testing.T) {
	ctrl := &fakeControl{
		visibleFn: func(context.Context, string) (bool, error) { return true, nil },
	}
	ctrl.connectFn = func(ctx context.Context, ssid, pass string) error {
		ctrl.connectedTo(ssid)
		return nil
	}
	store := newMemStore("Papertrail-Setup", "secret123")
	require.NoError(t, store.SetFallbackNetwork(settings.FallbackNetwork{SSID: "HomeNet"}))
	orch, machine := newTestOrchestrator(ctrl, store, testTimings())

	err := orch.AttemptConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateConnected, machine.State())

	calls := ctrl.connects()
	require.Len(t, calls, 1)
	assert.Equal(t, "Papertrail-Setup", calls[0].SSID)
	assert.Equal(t, "secret123", calls[0].Passphrase)

	_, ok := store.FallbackNetwork()
	assert.False(t, ok, "fallback record clears after a verified join")
}

func TestAttemptNotVisibleLeavesStateAlone(t *testing.T) {
	ctrl := &fakeControl{}
	store := newMemStore("Papertrail-Setup", "secret123")
	orch, machine := newTestOrchestrator(ctrl, store, testTimings())
	machine.SetState(StateWaitingForHotspot)

	err := orch.AttemptConnection(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetworkNotFound))
	assert.Equal(t, StateWaitingForHotspot, machine.State())
	assert.Empty(t, ctrl.connects())
}

func TestAttemptRejectsConcurrentAttempt(t *testing.T) {
	release := make(chan struct{})
	ctrl := &fakeControl{
		visibleFn: func(context.Context, string) (bool, error) { return true, nil },
		connectFn: func(ctx context.Context, ssid, pass string) error {
			<-release
			return nil
		},
	}
	store := newMemStore("Papertrail-Setup", "secret123")
	orch, _ := newTestOrchestrator(ctrl, store, testTimings())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		orch.AttemptConnection(context.Background())
	}()

	require.Eventually(t, orch.InFlight, time.Second, time.Millisecond)

	err := orch.AttemptConnection(context.Background())
	assert.True(t, errors.Is(err, ErrAlreadyInProgress))

	close(release)
	wg.Wait()
	assert.False(t, orch.InFlight())
}

func TestAttemptConnectFailureSetsError(t *testing.T) {
	ctrl := &fakeControl{
		visibleFn: func(context.Context, string) (bool, error) { return true, nil },
		connectFn: func(context.Context, string, string) error {
			return wifi.ErrAuthFailed
		},
	}
	store := newMemStore("Papertrail-Setup", "wrongpass")
	orch, machine := newTestOrchestrator(ctrl, store, testTimings())

	err := orch.AttemptConnection(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, wifi.ErrAuthFailed))
	assert.Equal(t, StateError, machine.State())
}

func TestAttemptVerificationFailureWaitsForRetry(t *testing.T) {
	// Connect reports success but the station never lands on the target.
	ctrl := &fakeControl{
		visibleFn: func(context.Context, string) (bool, error) { return true, nil },
	}
	ctrl.connectedTo("HomeNet")
	store := newMemStore("Papertrail-Setup", "secret123")
	orch, machine := newTestOrchestrator(ctrl, store, testTimings())

	err := orch.AttemptConnection(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVerificationFailed))
	assert.Equal(t, StateWaitingForHotspot, machine.State())
}

func TestAttemptVerificationSucceedsOnSecondCheck(t *testing.T) {
	ctrl := &fakeControl{
		visibleFn: func(context.Context, string) (bool, error) { return true, nil },
	}
	var queries int
	ctrl.currentFn = func(context.Context) (*wifi.Connection, error) {
		queries++
		if queries < 2 {
			return nil, nil
		}
		return &wifi.Connection{SSID: "Papertrail-Setup"}, nil
	}
	store := newMemStore("Papertrail-Setup", "secret123")
	orch, machine := newTestOrchestrator(ctrl, store, testTimings())

	require.NoError(t, orch.AttemptConnection(context.Background()))
	assert.Equal(t, StateConnected, machine.State())
}

func TestAttemptTimeoutReconnectsFallback(t *testing.T) {
	ctrl := &fakeControl{
		visibleFn: func(context.Context, string) (bool, error) { return true, nil },
	}
	ctrl.connectFn = func(ctx context.Context, ssid, pass string) error {
		if ssid == "Papertrail-Setup" {
			<-ctx.Done() // hotspot join hangs past the deadline
			return ctx.Err()
		}
		return nil
	}
	store := newMemStore("Papertrail-Setup", "secret123")
	require.NoError(t, store.SetFallbackNetwork(settings.FallbackNetwork{SSID: "HomeNet"}))
	orch, machine := newTestOrchestrator(ctrl, store, testTimings())

	err := orch.AttemptConnection(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, StateDisconnected, machine.State())

	calls := ctrl.connects()
	require.Len(t, calls, 2)
	assert.Equal(t, "HomeNet", calls[1].SSID)
}

func TestAttemptTimeoutWithFailedFallbackSetsError(t *testing.T) {
	ctrl := &fakeControl{
		visibleFn: func(context.Context, string) (bool, error) { return true, nil },
		connectFn: func(ctx context.Context, ssid, pass string) error {
			if ssid == "Papertrail-Setup" {
				<-ctx.Done()
				return ctx.Err()
			}
			return wifi.ErrConnectionFailed
		},
	}
	store := newMemStore("Papertrail-Setup", "secret123")
	require.NoError(t, store.SetFallbackNetwork(settings.FallbackNetwork{SSID: "HomeNet"}))
	orch, machine := newTestOrchestrator(ctrl, store, testTimings())

	err := orch.AttemptConnection(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, StateError, machine.State())
}

func TestAttemptCancelAbortsWithoutStateChange(t *testing.T) {
	started := make(chan struct{})
	ctrl := &fakeControl{
		visibleFn: func(context.Context, string) (bool, error) { return true, nil },
		connectFn: func(ctx context.Context, ssid, pass string) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	}
	store := newMemStore("Papertrail-Setup", "secret123")
	orch, machine := newTestOrchestrator(ctrl, store, testTimings())

	errCh := make(chan error, 1)
	go func() { errCh <- orch.AttemptConnection(context.Background()) }()

	<-started
	orch.Cancel()

	err := <-errCh
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAborted))
	// The canceller decides the next state; the orchestrator leaves the
	// machine wherever the attempt put it.
	assert.Equal(t, StateConnecting, machine.State())
}

func TestOutcomeLabels(t *testing.T) {
	cases := map[string]error{
		"success":             nil,
		"rejected":            ErrAlreadyInProgress,
		"not_visible":         ErrNetworkNotFound,
		"timeout":             ErrTimeout,
		"verification_failed": ErrVerificationFailed,
		"aborted":             ErrAborted,
		"error":               wifi.ErrConnectionFailed,
	}
	for want, err := range cases {
		assert.Equal(t, want, outcomeLabel(err))
	}
}
