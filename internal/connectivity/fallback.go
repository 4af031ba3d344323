package connectivity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmolhoek/papertrail-sub001/internal/settings"
	"github.com/mmolhoek/papertrail-sub001/internal/wifi"
)

// FallbackManager remembers the network the device was on before it started
// seeking the hotspot, and reconnects to it when a hotspot join fails.
type FallbackManager struct {
	ctrl  wifi.Control
	store settings.Store
	log   *zap.Logger
}

// NewFallbackManager creates a manager over the given control plane and store.
func NewFallbackManager(ctrl wifi.Control, store settings.Store, log *zap.Logger) *FallbackManager {
	return &FallbackManager{
		ctrl:  ctrl,
		store: store,
		log:   log.Named("fallback"),
	}
}

// SnapshotCurrent persists the currently joined network as the fallback
// record, overwriting any previous one. Nothing is written when the device
// is disconnected or already on the hotspot target.
func (f *FallbackManager) SnapshotCurrent(ctx context.Context) error {
	cur, err := f.ctrl.CurrentConnection(ctx)
	if err != nil {
		return fmt.Errorf("query current connection: %w", err)
	}
	if cur == nil || cur.SSID == "" {
		return nil
	}
	if cur.SSID == f.store.HotspotConfig().SSID {
		return nil
	}

	f.log.Info("saving fallback network", zap.String("ssid", cur.SSID))
	if err := f.store.SetFallbackNetwork(settings.FallbackNetwork{SSID: cur.SSID}); err != nil {
		return fmt.Errorf("persist fallback network: %w", err)
	}
	return nil
}

// Reconnect rejoins the saved fallback network. Succeeds trivially when no
// record exists. The record is kept on failure so a later attempt can still
// use it; credentials are assumed known to the control plane from the prior
// join.
func (f *FallbackManager) Reconnect(ctx context.Context) error {
	fb, ok := f.store.FallbackNetwork()
	if !ok {
		f.log.Debug("no fallback network saved, nothing to do")
		return nil
	}

	f.log.Info("reconnecting to fallback network", zap.String("ssid", fb.SSID))
	if err := f.ctrl.Disconnect(ctx); err != nil && !errors.Is(err, wifi.ErrNotConnected) {
		f.log.Warn("disconnect before fallback reconnect failed", zap.Error(err))
	}
	if err := f.ctrl.Connect(ctx, fb.SSID, ""); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFallbackReconnectFailed, fb.SSID, err)
	}
	return nil
}

// Clear deletes the fallback record.
func (f *FallbackManager) Clear() error {
	return f.store.ClearFallbackNetwork()
}
