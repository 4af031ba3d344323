package wifi

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	iwdService        = "net.connman.iwd"
	stationIface      = "net.connman.iwd.Station"
	deviceIface       = "net.connman.iwd.Device"
	networkIface      = "net.connman.iwd.Network"
	knownNetworkIface = "net.connman.iwd.KnownNetwork"

	// iwd reports RSSI in 1/100 dBm units.
	rssiScale = 100

	scanTimeout = 15 * time.Second

	provisionDir = "/var/lib/iwd"
)

// IWDClient implements Control on top of iwd's D-Bus API.
type IWDClient struct {
	conn *dbus.Conn
	log  *zap.Logger

	mu            sync.Mutex
	devicePath    dbus.ObjectPath
	stationPath   dbus.ObjectPath
	interfaceName string
	initialized   bool

	agent *Agent
}

var _ Control = (*IWDClient)(nil)

// NewIWDClient connects to the system bus and binds to the first WiFi
// station iwd exposes. iwd itself may not be running yet; the client
// re-initializes when the service appears on the bus.
func NewIWDClient(log *zap.Logger) (*IWDClient, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}

	c := &IWDClient{
		conn: conn,
		log:  log.Named("iwd"),
	}
	c.agent = NewAgent(conn, c.log)

	if err := c.watchLifecycle(); err != nil {
		c.log.Warn("cannot watch iwd lifecycle", zap.Error(err))
	}
	if err := c.maybeInit(); err != nil {
		c.log.Info("iwd not available yet, waiting for it to appear", zap.Error(err))
	}

	return c, nil
}

// Close closes the D-Bus connection.
func (c *IWDClient) Close() error {
	return c.conn.Close()
}

// watchLifecycle subscribes to NameOwnerChanged for the iwd service and
// InterfacesAdded so a station appearing after boot triggers initialization.
func (c *IWDClient) watchLifecycle() error {
	rule := "type='signal',sender='org.freedesktop.DBus',interface='org.freedesktop.DBus',member='NameOwnerChanged',arg0='net.connman.iwd'"
	if err := c.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		return err
	}

	ifaceRule := "type='signal',sender='net.connman.iwd',interface='org.freedesktop.DBus.ObjectManager',member='InterfacesAdded'"
	if err := c.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, ifaceRule).Err; err != nil {
		c.log.Warn("cannot subscribe to InterfacesAdded", zap.Error(err))
	}

	ch := make(chan *dbus.Signal, 10)
	c.conn.Signal(ch)

	go func() {
		for sig := range ch {
			switch sig.Name {
			case "org.freedesktop.DBus.NameOwnerChanged":
				if len(sig.Body) != 3 {
					continue
				}
				name, _ := sig.Body[0].(string)
				oldOwner, _ := sig.Body[1].(string)
				newOwner, _ := sig.Body[2].(string)
				if name != iwdService {
					continue
				}
				if oldOwner == "" && newOwner != "" {
					c.log.Info("iwd appeared, initializing")
					if err := c.maybeInit(); err != nil {
						c.log.Warn("iwd init failed", zap.Error(err))
					}
				} else if oldOwner != "" && newOwner == "" {
					c.log.Warn("iwd disappeared")
					c.handleDisappear()
				}

			case "org.freedesktop.DBus.ObjectManager.InterfacesAdded":
				if len(sig.Body) < 2 {
					continue
				}
				ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
				if !ok {
					continue
				}
				if _, hasStation := ifaces[stationIface]; hasStation {
					if err := c.maybeInit(); err != nil {
						c.log.Warn("iwd init after station appeared failed", zap.Error(err))
					}
				}
			}
		}
	}()

	return nil
}

// maybeInit locates the WiFi station and registers the credentials agent.
// Idempotent.
func (c *IWDClient) maybeInit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}

	if err := c.findStation(); err != nil {
		return err
	}

	if err := c.agent.Register(); err != nil {
		// Saved networks can still connect without an agent.
		c.log.Warn("agent registration failed", zap.Error(err))
	}

	c.initialized = true
	c.log.Info("iwd station bound",
		zap.String("station", string(c.stationPath)),
		zap.String("interface", c.interfaceName))
	return nil
}

func (c *IWDClient) handleDisappear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = false
	c.devicePath = ""
	c.stationPath = ""
	c.interfaceName = ""
}

// findStation walks iwd's managed objects for a Station interface.
// Caller holds c.mu.
func (c *IWDClient) findStation() error {
	obj := c.conn.Object(iwdService, "/")

	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := obj.Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&objects); err != nil {
		return fmt.Errorf("get managed objects: %w", err)
	}

	for path, ifaces := range objects {
		if _, ok := ifaces[stationIface]; !ok {
			continue
		}
		c.stationPath = path
		if devProps, ok := ifaces[deviceIface]; ok {
			c.devicePath = path
			if v, ok := devProps["Name"]; ok {
				c.interfaceName, _ = v.Value().(string)
			}
		}
		return nil
	}

	return fmt.Errorf("no wifi station found: %w", ErrUnavailable)
}

func (c *IWDClient) station() (dbus.ObjectPath, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized || c.stationPath == "" {
		return "", ErrUnavailable
	}
	return c.stationPath, nil
}

// Scan triggers a station scan and returns the ordered results. Scan
// completion is detected through the Scanning property change signal, with a
// timeout fallback because iwd occasionally drops the edge.
func (c *IWDClient) Scan(ctx context.Context) ([]Network, error) {
	station, err := c.station()
	if err != nil {
		return nil, err
	}

	obj := c.conn.Object(iwdService, station)
	if err := obj.CallWithContext(ctx, stationIface+".Scan", 0).Err; err != nil {
		// Busy means a scan is already running; wait for that one.
		if !strings.Contains(err.Error(), "Busy") {
			return nil, fmt.Errorf("%w: %v", ErrScanFailed, err)
		}
	}

	if err := c.waitScanDone(ctx, station); err != nil {
		return nil, err
	}

	networks, err := c.orderedNetworks(ctx, station)
	if err != nil {
		return nil, err
	}
	// iwd sometimes needs a moment to populate results after the signal.
	if len(networks) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
		networks, err = c.orderedNetworks(ctx, station)
	}
	return networks, err
}

// waitScanDone blocks until the station's Scanning property goes false.
func (c *IWDClient) waitScanDone(ctx context.Context, station dbus.ObjectPath) error {
	matchRule := fmt.Sprintf("type='signal',interface='org.freedesktop.DBus.Properties',member='PropertiesChanged',path='%s',arg0='%s'", station, stationIface)
	c.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchRule)

	sigCh := make(chan *dbus.Signal, 10)
	c.conn.Signal(sigCh)
	defer func() {
		c.conn.RemoveSignal(sigCh)
		c.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, matchRule)
	}()

	timeout := time.NewTimer(scanTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			c.log.Debug("scan completion signal missed, proceeding")
			return nil
		case sig := <-sigCh:
			if sig == nil || sig.Name != "org.freedesktop.DBus.Properties.PropertiesChanged" || sig.Path != station {
				continue
			}
			if len(sig.Body) < 2 {
				continue
			}
			changed, ok := sig.Body[1].(map[string]dbus.Variant)
			if !ok {
				continue
			}
			if v, ok := changed["Scanning"]; ok {
				if scanning, ok := v.Value().(bool); ok && !scanning {
					return nil
				}
			}
		}
	}
}

// orderedNetworks fetches GetOrderedNetworks and resolves each entry's
// network properties.
func (c *IWDClient) orderedNetworks(ctx context.Context, station dbus.ObjectPath) ([]Network, error) {
	obj := c.conn.Object(iwdService, station)

	var ordered []struct {
		Path dbus.ObjectPath
		RSSI int16
	}
	if err := obj.CallWithContext(ctx, stationIface+".GetOrderedNetworks", 0).Store(&ordered); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScanFailed, err)
	}

	networks := make([]Network, 0, len(ordered))
	for _, entry := range ordered {
		var props map[string]dbus.Variant
		netObj := c.conn.Object(iwdService, entry.Path)
		if err := netObj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.GetAll", 0, networkIface).Store(&props); err != nil {
			continue
		}
		dBm := entry.RSSI / rssiScale
		n := Network{
			SignalDBm: dBm,
			Signal:    DBmToPercent(dBm),
		}
		if v, ok := props["Name"]; ok {
			n.SSID, _ = v.Value().(string)
		}
		if v, ok := props["Type"]; ok {
			n.Security, _ = v.Value().(string)
		}
		networks = append(networks, n)
	}
	return networks, nil
}

// findNetwork resolves a visible SSID to its iwd object path and security
// type using the most recent scan results.
func (c *IWDClient) findNetwork(ctx context.Context, station dbus.ObjectPath, ssid string) (dbus.ObjectPath, string, error) {
	obj := c.conn.Object(iwdService, station)

	var ordered []struct {
		Path dbus.ObjectPath
		RSSI int16
	}
	if err := obj.CallWithContext(ctx, stationIface+".GetOrderedNetworks", 0).Store(&ordered); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrScanFailed, err)
	}

	for _, entry := range ordered {
		var props map[string]dbus.Variant
		netObj := c.conn.Object(iwdService, entry.Path)
		if err := netObj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.GetAll", 0, networkIface).Store(&props); err != nil {
			continue
		}
		name := ""
		if v, ok := props["Name"]; ok {
			name, _ = v.Value().(string)
		}
		if name != ssid {
			continue
		}
		security := ""
		if v, ok := props["Type"]; ok {
			security, _ = v.Value().(string)
		}
		return entry.Path, security, nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrNetworkNotFound, ssid)
}

// CurrentConnection reads the station's connected network. IP and MAC come
// from the kernel interface, since iwd does not own addressing.
func (c *IWDClient) CurrentConnection(ctx context.Context) (*Connection, error) {
	station, err := c.station()
	if err != nil {
		return nil, err
	}

	obj := c.conn.Object(iwdService, station)
	var props map[string]dbus.Variant
	if err := obj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.GetAll", 0, stationIface).Store(&props); err != nil {
		return nil, fmt.Errorf("read station properties: %w", err)
	}

	if v, ok := props["State"]; ok {
		if s, _ := v.Value().(string); s != "connected" && s != "roaming" {
			return nil, nil
		}
	}

	netPath := dbus.ObjectPath("")
	if v, ok := props["ConnectedNetwork"]; ok {
		netPath, _ = v.Value().(dbus.ObjectPath)
	}
	if netPath == "" {
		return nil, nil
	}

	conn := &Connection{}

	var netProps map[string]dbus.Variant
	netObj := c.conn.Object(iwdService, netPath)
	if err := netObj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.GetAll", 0, networkIface).Store(&netProps); err == nil {
		if v, ok := netProps["Name"]; ok {
			conn.SSID, _ = v.Value().(string)
		}
	}

	// Signal strength for the active network comes from the ordered list.
	var ordered []struct {
		Path dbus.ObjectPath
		RSSI int16
	}
	if err := obj.CallWithContext(ctx, stationIface+".GetOrderedNetworks", 0).Store(&ordered); err == nil {
		for _, entry := range ordered {
			if entry.Path == netPath {
				conn.SignalDBm = entry.RSSI / rssiScale
				conn.Signal = DBmToPercent(conn.SignalDBm)
				break
			}
		}
	}

	c.mu.Lock()
	ifaceName := c.interfaceName
	c.mu.Unlock()
	if ifaceName != "" {
		if iface, err := net.InterfaceByName(ifaceName); err == nil {
			conn.MACAddress = iface.HardwareAddr.String()
			if addrs, err := iface.Addrs(); err == nil {
				for _, a := range addrs {
					if ipNet, ok := a.(*net.IPNet); ok && ipNet.IP.To4() != nil {
						conn.IPAddress = ipNet.IP.String()
						break
					}
				}
			}
		}
	}

	return conn, nil
}

// Connect joins the network by SSID. A non-empty passphrase is handed to iwd
// through the registered agent; an empty one relies on a stored profile.
func (c *IWDClient) Connect(ctx context.Context, ssid, passphrase string) error {
	station, err := c.station()
	if err != nil {
		return err
	}

	netPath, security, err := c.findNetwork(ctx, station, ssid)
	if err != nil {
		return err
	}

	if passphrase != "" && security != "open" {
		c.agent.SetPending(netPath, passphrase)
		defer c.agent.ClearPending(netPath)
	}

	c.log.Info("connecting", zap.String("ssid", ssid), zap.String("security", security))
	netObj := c.conn.Object(iwdService, netPath)
	if err := netObj.CallWithContext(ctx, networkIface+".Connect", 0).Err; err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return mapConnectError(err)
	}
	return nil
}

// Disconnect leaves the current network.
func (c *IWDClient) Disconnect(ctx context.Context) error {
	station, err := c.station()
	if err != nil {
		return err
	}

	obj := c.conn.Object(iwdService, station)
	if err := obj.CallWithContext(ctx, stationIface+".Disconnect", 0).Err; err != nil {
		if strings.Contains(err.Error(), "NotConnected") {
			return ErrNotConnected
		}
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// IsVisible scans and reports whether the SSID is in range. iwd keeps the
// current association while scanning, so this never drops the connection.
func (c *IWDClient) IsVisible(ctx context.Context, ssid string) (bool, error) {
	networks, err := c.Scan(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range networks {
		if n.SSID == ssid {
			return true, nil
		}
	}
	return false, nil
}

// ListSaved returns iwd's known networks.
func (c *IWDClient) ListSaved(ctx context.Context) ([]SavedNetwork, error) {
	if _, err := c.station(); err != nil {
		return nil, err
	}

	obj := c.conn.Object(iwdService, "/")
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := obj.CallWithContext(ctx, "org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&objects); err != nil {
		return nil, fmt.Errorf("get managed objects: %w", err)
	}

	var saved []SavedNetwork
	for _, ifaces := range objects {
		knProps, ok := ifaces[knownNetworkIface]
		if !ok {
			continue
		}
		s := SavedNetwork{AutoConnect: true}
		if v, ok := knProps["Name"]; ok {
			s.SSID, _ = v.Value().(string)
		}
		if v, ok := knProps["AutoConnect"]; ok {
			s.AutoConnect, _ = v.Value().(bool)
		}
		saved = append(saved, s)
	}
	return saved, nil
}

// RemoveSaved forgets a known network.
func (c *IWDClient) RemoveSaved(ctx context.Context, ssid string) error {
	if _, err := c.station(); err != nil {
		return err
	}

	obj := c.conn.Object(iwdService, "/")
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := obj.CallWithContext(ctx, "org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&objects); err != nil {
		return fmt.Errorf("get managed objects: %w", err)
	}

	for path, ifaces := range objects {
		knProps, ok := ifaces[knownNetworkIface]
		if !ok {
			continue
		}
		if v, ok := knProps["Name"]; ok && v.Value() == ssid {
			knObj := c.conn.Object(iwdService, path)
			return knObj.CallWithContext(ctx, knownNetworkIface+".Forget", 0).Err
		}
	}
	return fmt.Errorf("%w: %s", ErrNetworkNotFound, ssid)
}

// SaveProfile writes an iwd provisioning file so the network can be joined
// later without going through the agent.
func (c *IWDClient) SaveProfile(_ context.Context, p Profile) error {
	security := p.Security
	if security == "" {
		security = "psk"
	}

	var b strings.Builder
	if p.Passphrase != "" {
		fmt.Fprintf(&b, "[Security]\nPassphrase=%s\n", p.Passphrase)
	}
	if !p.AutoConnect {
		b.WriteString("\n[Settings]\nAutoConnect=false\n")
	}

	path := filepath.Join(provisionDir, fmt.Sprintf("%s.%s", p.SSID, security))
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write provisioning file: %w", err)
	}
	c.log.Info("provisioned network profile", zap.String("ssid", p.SSID))
	return nil
}

// mapConnectError translates iwd D-Bus errors into the control plane
// taxonomy. iwd reports a rejected passphrase either through the agent being
// re-asked (which we decline) or as a generic Failed after the 4-way
// handshake, so Failed right after an agent hand-off is treated as auth.
func mapConnectError(err error) error {
	dbusErr, ok := err.(dbus.Error)
	if !ok {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	switch {
	case strings.HasSuffix(dbusErr.Name, ".InvalidFormat"),
		strings.HasSuffix(dbusErr.Name, ".Failed"),
		strings.Contains(dbusErr.Name, "Agent"):
		return fmt.Errorf("%w: %s", ErrAuthFailed, dbusErr.Name)
	case strings.HasSuffix(dbusErr.Name, ".NotFound"):
		return fmt.Errorf("%w: %s", ErrNetworkNotFound, dbusErr.Name)
	case strings.HasSuffix(dbusErr.Name, ".ServiceUnknown"):
		return fmt.Errorf("%w: %s", ErrUnavailable, dbusErr.Name)
	default:
		return fmt.Errorf("%w: %s", ErrConnectionFailed, dbusErr.Name)
	}
}
