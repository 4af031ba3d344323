package connectivity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmolhoek/papertrail-sub001/internal/settings"
	"github.com/mmolhoek/papertrail-sub001/internal/wifi"
)

func TestFallbackSnapshotSavesCurrentNetwork(t *testing.T) {
	ctrl := &fakeControl{}
	ctrl.connectedTo("HomeNet")
	store := newMemStore("Papertrail-Setup", "secret123")
	fm := NewFallbackManager(ctrl, store, zap.NewNop())

	require.NoError(t, fm.SnapshotCurrent(context.Background()))

	fb, ok := store.FallbackNetwork()
	require.True(t, ok)
	assert.Equal(t, "HomeNet", fb.SSID)
}

func TestFallbackSnapshotSkipsWhenDisconnected(t *testing.T) {
	ctrl := &fakeControl{}
	store := newMemStore("Papertrail-Setup", "secret123")
	fm := NewFallbackManager(ctrl, store, zap.NewNop())

	require.NoError(t, fm.SnapshotCurrent(context.Background()))
	_, ok := store.FallbackNetwork()
	assert.False(t, ok)
}

func TestFallbackSnapshotSkipsHotspotItself(t *testing.T) {
	ctrl := &fakeControl{}
	ctrl.connectedTo("Papertrail-Setup")
	store := newMemStore("Papertrail-Setup", "secret123")
	fm := NewFallbackManager(ctrl, store, zap.NewNop())

	require.NoError(t, fm.SnapshotCurrent(context.Background()))
	_, ok := store.FallbackNetwork()
	assert.False(t, ok, "the hotspot target must never become its own fallback")
}

func TestFallbackReconnectWithoutRecordSucceeds(t *testing.T) {
	ctrl := &fakeControl{}
	store := newMemStore("Papertrail-Setup", "secret123")
	fm := NewFallbackManager(ctrl, store, zap.NewNop())

	require.NoError(t, fm.Reconnect(context.Background()))
	assert.Empty(t, ctrl.connects())
}

func TestFallbackReconnectUsesSavedCredentials(t *testing.T) {
	ctrl := &fakeControl{}
	store := newMemStore("Papertrail-Setup", "secret123")
	require.NoError(t, store.SetFallbackNetwork(settings.FallbackNetwork{SSID: "HomeNet"}))
	fm := NewFallbackManager(ctrl, store, zap.NewNop())

	require.NoError(t, fm.Reconnect(context.Background()))

	calls := ctrl.connects()
	require.Len(t, calls, 1)
	assert.Equal(t, "HomeNet", calls[0].SSID)
	assert.Empty(t, calls[0].Passphrase, "fallback join relies on credentials iwd already knows")
}

func TestFallbackReconnectFailureKeepsRecord(t *testing.T) {
	ctrl := &fakeControl{
		connectFn: func(context.Context, string, string) error {
			return wifi.ErrConnectionFailed
		},
	}
	store := newMemStore("Papertrail-Setup", "secret123")
	require.NoError(t, store.SetFallbackNetwork(settings.FallbackNetwork{SSID: "HomeNet"}))
	fm := NewFallbackManager(ctrl, store, zap.NewNop())

	err := fm.Reconnect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFallbackReconnectFailed))

	_, ok := store.FallbackNetwork()
	assert.True(t, ok, "record survives so a later attempt can retry")
}

func TestFallbackClear(t *testing.T) {
	ctrl := &fakeControl{}
	store := newMemStore("Papertrail-Setup", "secret123")
	require.NoError(t, store.SetFallbackNetwork(settings.FallbackNetwork{SSID: "HomeNet"}))
	fm := NewFallbackManager(ctrl, store, zap.NewNop())

	require.NoError(t, fm.Clear())
	_, ok := store.FallbackNetwork()
	assert.False(t, ok)
}
