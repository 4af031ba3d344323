// Package dbus exposes the connectivity service to the UI process over the
// message bus.
package dbus

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"go.uber.org/zap"

	"github.com/mmolhoek/papertrail-sub001/internal/connectivity"
	"github.com/mmolhoek/papertrail-sub001/internal/netstat"
	"github.com/mmolhoek/papertrail-sub001/internal/wifi"
)

const (
	ServiceName = "nl.papertrail.Connectivity1"
	ObjectPath  = "/nl/papertrail/Connectivity1"
	Interface   = "nl.papertrail.Connectivity1"
)

// Service is the exported D-Bus object.
type Service struct {
	conn    *dbus.Conn
	svc     *connectivity.Service
	ctrl    wifi.Control
	tracker *netstat.Tracker
	log     *zap.Logger

	unsubState func()
	unsubConn  func()
}

// NewService connects to the requested bus, claims the service name, and
// exports the object with introspection. State and connection edges from the
// connectivity core are relayed as signals.
func NewService(busType string, svc *connectivity.Service, ctrl wifi.Control,
	tracker *netstat.Tracker, log *zap.Logger) (*Service, error) {
	var conn *dbus.Conn
	var err error
	if busType == "system" {
		conn, err = dbus.ConnectSystemBus()
	} else {
		conn, err = dbus.ConnectSessionBus()
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s bus: %w", busType, err)
	}

	s := &Service{
		conn:    conn,
		svc:     svc,
		ctrl:    ctrl,
		tracker: tracker,
		log:     log.Named("dbus"),
	}

	reply, err := conn.RequestName(ServiceName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("request name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("name %s already taken", ServiceName)
	}

	if err := conn.Export(s, ObjectPath, Interface); err != nil {
		conn.Close()
		return nil, fmt.Errorf("export object: %w", err)
	}
	if err := conn.Export(s, ObjectPath, "org.freedesktop.DBus.Properties"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("export properties: %w", err)
	}

	node := &introspect.Node{
		Name: ObjectPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:       Interface,
				Methods:    s.methods(),
				Properties: s.propertyDefs(),
				Signals:    s.signals(),
			},
		},
	}
	conn.Export(introspect.NewIntrospectable(node), ObjectPath, "org.freedesktop.DBus.Introspectable")

	s.unsubState = svc.OnStateChange(s.onStateChange)
	s.unsubConn = svc.OnConnectionChange(s.onConnectionChange)

	return s, nil
}

// Close unsubscribes from the connectivity core and drops the bus connection.
func (s *Service) Close() {
	if s.unsubState != nil {
		s.unsubState()
	}
	if s.unsubConn != nil {
		s.unsubConn()
	}
	s.conn.Close()
}

func (s *Service) onStateChange(newState, previous connectivity.State) {
	s.emit("StateChanged", string(newState), string(previous))
	s.emitPropertiesChanged(map[string]dbus.Variant{
		"State": dbus.MakeVariant(string(newState)),
	})
}

func (s *Service) onConnectionChange(connected bool, ssid string) {
	s.emit("ConnectionChanged", connected, ssid)
}

func (s *Service) emit(name string, values ...interface{}) {
	if err := s.conn.Emit(ObjectPath, Interface+"."+name, values...); err != nil {
		s.log.Warn("signal emit failed", zap.String("signal", name), zap.Error(err))
	}
}

func (s *Service) emitPropertiesChanged(changed map[string]dbus.Variant) {
	err := s.conn.Emit(ObjectPath, "org.freedesktop.DBus.Properties.PropertiesChanged",
		Interface, changed, []string{})
	if err != nil {
		s.log.Warn("PropertiesChanged emit failed", zap.Error(err))
	}
}

// methods returns introspection method definitions
func (s *Service) methods() []introspect.Method {
	return []introspect.Method{
		{Name: "GetState", Args: []introspect.Arg{
			{Name: "state", Type: "s", Direction: "out"},
		}},
		{Name: "GetMode", Args: []introspect.Arg{
			{Name: "mode", Type: "s", Direction: "out"},
		}},
		{Name: "SetClientCount", Args: []introspect.Arg{
			{Name: "count", Type: "i", Direction: "in"},
		}},
		{Name: "SetHotspotConfig", Args: []introspect.Arg{
			{Name: "ssid", Type: "s", Direction: "in"},
			{Name: "password", Type: "s", Direction: "in"},
		}},
		{Name: "NotifyConnectedScreenDisplayed"},
		{Name: "GetStatus", Args: []introspect.Arg{
			{Name: "status", Type: "a{sv}", Direction: "out"},
		}},
		{Name: "ListSavedNetworks", Args: []introspect.Arg{
			{Name: "networks", Type: "aa{sv}", Direction: "out"},
		}},
		{Name: "ForgetNetwork", Args: []introspect.Arg{
			{Name: "ssid", Type: "s", Direction: "in"},
		}},
		{Name: "ProvisionNetwork", Args: []introspect.Arg{
			{Name: "ssid", Type: "s", Direction: "in"},
			{Name: "passphrase", Type: "s", Direction: "in"},
		}},
	}
}

// propertyDefs returns introspection property definitions
func (s *Service) propertyDefs() []introspect.Property {
	return []introspect.Property{
		{Name: "State", Type: "s", Access: "read"},
		{Name: "Mode", Type: "s", Access: "read"},
		{Name: "ClientCount", Type: "i", Access: "read"},
		{Name: "HotspotSSID", Type: "s", Access: "read"},
		{Name: "CurrentSSID", Type: "s", Access: "read"},
		{Name: "OnboardingCompleted", Type: "b", Access: "read"},
		{Name: "InterfaceName", Type: "s", Access: "read"},
		{Name: "MacAddress", Type: "s", Access: "read"},
		{Name: "IpAddress", Type: "s", Access: "read"},
		{Name: "Gateway", Type: "s", Access: "read"},
		{Name: "TrafficIn", Type: "t", Access: "read"},
		{Name: "TrafficOut", Type: "t", Access: "read"},
	}
}

// signals returns introspection signal definitions
func (s *Service) signals() []introspect.Signal {
	return []introspect.Signal{
		{Name: "StateChanged", Args: []introspect.Arg{
			{Name: "state", Type: "s"},
			{Name: "previous", Type: "s"},
		}},
		{Name: "ConnectionChanged", Args: []introspect.Arg{
			{Name: "connected", Type: "b"},
			{Name: "ssid", Type: "s"},
		}},
	}
}
