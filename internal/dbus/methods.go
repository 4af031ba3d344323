package dbus

import (
	"context"
	"errors"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/mmolhoek/papertrail-sub001/internal/connectivity"
	"github.com/mmolhoek/papertrail-sub001/internal/wifi"
)

const queryTimeout = 5 * time.Second

// Method implementations for nl.papertrail.Connectivity1.

// GetState returns the current connectivity state.
func (s *Service) GetState() (string, *dbus.Error) {
	return string(s.svc.GetState()), nil
}

// GetMode returns the derived driving/stopped mode.
func (s *Service) GetMode() (string, *dbus.Error) {
	return string(s.svc.GetMode()), nil
}

// SetClientCount reports how many UI clients are attached.
func (s *Service) SetClientCount(count int32) *dbus.Error {
	if count < 0 {
		return dbus.NewError(Interface+".Error.InvalidArgs",
			[]interface{}{"client count must not be negative"})
	}
	if err := s.svc.SetClientCount(int(count)); err != nil {
		return s.mapError(err)
	}
	return nil
}

// SetHotspotConfig updates the hotspot target credentials.
func (s *Service) SetHotspotConfig(ssid, password string) *dbus.Error {
	if err := s.svc.SetHotspotConfig(ssid, password); err != nil {
		return s.mapError(err)
	}
	return nil
}

// NotifyConnectedScreenDisplayed acknowledges the connected confirmation
// screen has been rendered.
func (s *Service) NotifyConnectedScreenDisplayed() *dbus.Error {
	s.svc.NotifyConnectedScreenDisplayed()
	return nil
}

// GetStatus returns a one-shot snapshot of the device's network status.
func (s *Service) GetStatus() (map[string]dbus.Variant, *dbus.Error) {
	status := map[string]dbus.Variant{
		"State":       dbus.MakeVariant(string(s.svc.GetState())),
		"Mode":        dbus.MakeVariant(string(s.svc.GetMode())),
		"ClientCount": dbus.MakeVariant(int32(s.svc.ClientCount())),
		"HotspotSSID": dbus.MakeVariant(s.svc.HotspotConfig().SSID),
	}

	if s.tracker != nil {
		snap := s.tracker.Snapshot()
		status["InterfaceName"] = dbus.MakeVariant(snap.InterfaceName)
		status["MacAddress"] = dbus.MakeVariant(snap.MACAddress)
		status["IpAddress"] = dbus.MakeVariant(snap.IPAddress)
		status["Gateway"] = dbus.MakeVariant(snap.Gateway)
		status["TrafficIn"] = dbus.MakeVariant(snap.RxBytesPerSec)
		status["TrafficOut"] = dbus.MakeVariant(snap.TxBytesPerSec)
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	if cur, err := s.ctrl.CurrentConnection(ctx); err == nil && cur != nil {
		status["CurrentSSID"] = dbus.MakeVariant(cur.SSID)
		status["SignalStrength"] = dbus.MakeVariant(cur.Signal)
	}

	return status, nil
}

// ListSavedNetworks returns the network profiles the control plane knows.
func (s *Service) ListSavedNetworks() ([]map[string]dbus.Variant, *dbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	saved, err := s.ctrl.ListSaved(ctx)
	if err != nil {
		return nil, dbus.NewError(Interface+".Error.Failed", []interface{}{err.Error()})
	}

	out := make([]map[string]dbus.Variant, 0, len(saved))
	for _, n := range saved {
		out = append(out, map[string]dbus.Variant{
			"SSID":        dbus.MakeVariant(n.SSID),
			"AutoConnect": dbus.MakeVariant(n.AutoConnect),
		})
	}
	return out, nil
}

// ForgetNetwork removes a stored network profile.
func (s *Service) ForgetNetwork(ssid string) *dbus.Error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	if err := s.ctrl.RemoveSaved(ctx, ssid); err != nil {
		return dbus.NewError(Interface+".Error.Failed", []interface{}{err.Error()})
	}
	return nil
}

// ProvisionNetwork stores a profile so the network can be joined later
// without the UI staying attached.
func (s *Service) ProvisionNetwork(ssid, passphrase string) *dbus.Error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	err := s.ctrl.SaveProfile(ctx, wifi.Profile{
		SSID:        ssid,
		Passphrase:  passphrase,
		AutoConnect: true,
	})
	if err != nil {
		return dbus.NewError(Interface+".Error.Failed", []interface{}{err.Error()})
	}
	return nil
}

// mapError translates connectivity errors into named D-Bus errors so the UI
// can distinguish rejection causes without string matching.
func (s *Service) mapError(err error) *dbus.Error {
	switch {
	case errors.Is(err, connectivity.ErrValidation):
		return dbus.NewError(Interface+".Error.InvalidArgs", []interface{}{err.Error()})
	case errors.Is(err, connectivity.ErrNotInitialized):
		return dbus.NewError(Interface+".Error.NotInitialized", []interface{}{err.Error()})
	case errors.Is(err, connectivity.ErrAlreadyInProgress):
		return dbus.NewError(Interface+".Error.InProgress", []interface{}{err.Error()})
	default:
		return dbus.NewError(Interface+".Error.Failed", []interface{}{err.Error()})
	}
}
