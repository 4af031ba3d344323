package dbus

import (
	"context"

	"github.com/godbus/dbus/v5"
)

// Properties interface implementation for org.freedesktop.DBus.Properties

// Get implements org.freedesktop.DBus.Properties.Get
func (s *Service) Get(iface, propName string) (dbus.Variant, *dbus.Error) {
	if iface != Interface {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface",
			[]interface{}{"Unknown interface"})
	}

	props, derr := s.GetAll(iface)
	if derr != nil {
		return dbus.Variant{}, derr
	}
	v, ok := props[propName]
	if !ok {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownProperty",
			[]interface{}{"Unknown property: " + propName})
	}
	return v, nil
}

// GetAll implements org.freedesktop.DBus.Properties.GetAll
func (s *Service) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != Interface {
		return nil, dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface",
			[]interface{}{"Unknown interface"})
	}

	var snap struct {
		iface, mac, ip, gw string
		rx, tx             uint64
	}
	if s.tracker != nil {
		t := s.tracker.Snapshot()
		snap.iface, snap.mac, snap.ip, snap.gw = t.InterfaceName, t.MACAddress, t.IPAddress, t.Gateway
		snap.rx, snap.tx = t.RxBytesPerSec, t.TxBytesPerSec
	}

	currentSSID := ""
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	if cur, err := s.ctrl.CurrentConnection(ctx); err == nil && cur != nil {
		currentSSID = cur.SSID
	}

	return map[string]dbus.Variant{
		"State":               dbus.MakeVariant(string(s.svc.GetState())),
		"Mode":                dbus.MakeVariant(string(s.svc.GetMode())),
		"ClientCount":         dbus.MakeVariant(int32(s.svc.ClientCount())),
		"HotspotSSID":         dbus.MakeVariant(s.svc.HotspotConfig().SSID),
		"CurrentSSID":         dbus.MakeVariant(currentSSID),
		"OnboardingCompleted": dbus.MakeVariant(s.svc.OnboardingCompleted()),
		"InterfaceName":       dbus.MakeVariant(snap.iface),
		"MacAddress":          dbus.MakeVariant(snap.mac),
		"IpAddress":           dbus.MakeVariant(snap.ip),
		"Gateway":             dbus.MakeVariant(snap.gw),
		"TrafficIn":           dbus.MakeVariant(snap.rx),
		"TrafficOut":          dbus.MakeVariant(snap.tx),
	}, nil
}

// Set implements org.freedesktop.DBus.Properties.Set (read-only, returns error)
func (s *Service) Set(iface, propName string, value dbus.Variant) *dbus.Error {
	return dbus.NewError("org.freedesktop.DBus.Error.PropertyReadOnly",
		[]interface{}{"Properties are read-only"})
}
