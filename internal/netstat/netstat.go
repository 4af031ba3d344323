// Package netstat tracks the wireless interface's kernel-side status (name,
// addresses, gateway, traffic rates) for the device status surface. WiFi
// association state is owned by the connectivity core; this package only
// reports what the kernel says about the interface.
package netstat

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"
	"go.uber.org/zap"
)

const (
	sysClassNet    = "/sys/class/net"
	sampleInterval = 1 * time.Second
)

// Snapshot is a point-in-time view of the wireless interface.
type Snapshot struct {
	InterfaceName string
	MACAddress    string
	IPAddress     string
	Gateway       string
	RxBytesPerSec uint64
	TxBytesPerSec uint64
}

// Tracker follows rtnetlink link/address events and samples sysfs traffic
// counters. Runs as a supervised service.
type Tracker struct {
	conn *netlink.Conn   // raw connection for multicast events
	rt   *rtnetlink.Conn // dump connection for list operations
	log  *zap.Logger

	mu     sync.Mutex
	snap   Snapshot
	lastRx uint64
	lastTx uint64
}

// NewTracker dials the netlink route sockets.
func NewTracker(log *zap.Logger) (*Tracker, error) {
	conn, err := netlink.Dial(syscall.NETLINK_ROUTE, &netlink.Config{
		Groups: 0x1 | 0x10, // RTMGRP_LINK | RTMGRP_IPV4_IFADDR
	})
	if err != nil {
		return nil, fmt.Errorf("dial netlink: %w", err)
	}
	rt, err := rtnetlink.Dial(nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("dial rtnetlink: %w", err)
	}
	return &Tracker{
		conn: conn,
		rt:   rt,
		log:  log.Named("netstat"),
	}, nil
}

// Snapshot returns the current view.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// Serve implements suture.Service. It seeds the snapshot from a full dump,
// then follows events and samples traffic until the context is cancelled.
func (t *Tracker) Serve(ctx context.Context) error {
	t.seed()

	msgs := make(chan []netlink.Message)
	recvErr := make(chan error, 1)
	go func() {
		for {
			m, err := t.conn.Receive()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case msgs <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.conn.Close()
			t.rt.Close()
			return ctx.Err()
		case err := <-recvErr:
			return fmt.Errorf("netlink receive: %w", err)
		case batch := <-msgs:
			for _, msg := range batch {
				t.handleMessage(msg)
			}
		case <-ticker.C:
			t.sampleTraffic()
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (t *Tracker) String() string {
	return "netstat-tracker"
}

// seed loads the initial interface and address state from a dump.
func (t *Tracker) seed() {
	links, err := t.rt.Link.List()
	if err != nil {
		t.log.Warn("link dump failed", zap.Error(err))
		return
	}

	for _, link := range links {
		name := link.Attributes.Name
		if name == "lo" || !isWirelessInterface(name) {
			continue
		}
		t.mu.Lock()
		t.snap.InterfaceName = name
		t.snap.MACAddress = net.HardwareAddr(link.Attributes.Address).String()
		t.mu.Unlock()
		break
	}

	ifName := t.interfaceName()
	if ifName == "" {
		return
	}

	if addrs, err := t.rt.Address.List(); err == nil {
		for _, addr := range addrs {
			for _, link := range links {
				if link.Index == addr.Index && link.Attributes.Name == ifName {
					if addr.Attributes.Address != nil && addr.Attributes.Address.To4() != nil {
						t.mu.Lock()
						t.snap.IPAddress = addr.Attributes.Address.String()
						t.mu.Unlock()
					}
				}
			}
		}
	}
	t.refreshGateway()
}

func (t *Tracker) interfaceName() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.InterfaceName
}

func (t *Tracker) handleMessage(msg netlink.Message) {
	switch msg.Header.Type {
	case syscall.RTM_NEWLINK:
		t.handleLink(msg.Data, false)
	case syscall.RTM_DELLINK:
		t.handleLink(msg.Data, true)
	case syscall.RTM_NEWADDR:
		t.handleAddr(msg.Data, false)
	case syscall.RTM_DELADDR:
		t.handleAddr(msg.Data, true)
	}
}

func (t *Tracker) handleLink(data []byte, removed bool) {
	var msg rtnetlink.LinkMessage
	if err := msg.UnmarshalBinary(data); err != nil {
		t.log.Debug("bad link message", zap.Error(err))
		return
	}

	name := msg.Attributes.Name
	if name == "" || name == "lo" || !isWirelessInterface(name) {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if removed {
		if t.snap.InterfaceName == name {
			t.snap = Snapshot{}
			t.lastRx, t.lastTx = 0, 0
		}
		return
	}
	t.snap.InterfaceName = name
	t.snap.MACAddress = net.HardwareAddr(msg.Attributes.Address).String()
}

func (t *Tracker) handleAddr(data []byte, removed bool) {
	var msg rtnetlink.AddressMessage
	if err := msg.UnmarshalBinary(data); err != nil {
		t.log.Debug("bad address message", zap.Error(err))
		return
	}
	if msg.Attributes.Address == nil || msg.Attributes.Address.To4() == nil {
		return
	}

	links, err := t.rt.Link.List()
	if err != nil {
		return
	}
	var name string
	for _, link := range links {
		if link.Index == msg.Index {
			name = link.Attributes.Name
			break
		}
	}
	if name == "" || name != t.interfaceName() {
		return
	}

	t.mu.Lock()
	if removed {
		if t.snap.IPAddress == msg.Attributes.Address.String() {
			t.snap.IPAddress = ""
			t.snap.Gateway = ""
		}
		t.mu.Unlock()
		return
	}
	t.snap.IPAddress = msg.Attributes.Address.String()
	t.mu.Unlock()

	t.log.Debug("address changed", zap.String("iface", name), zap.String("ip", msg.Attributes.Address.String()))
	t.refreshGateway()
}

func (t *Tracker) refreshGateway() {
	routes, err := t.rt.Route.List()
	if err != nil {
		return
	}
	for _, route := range routes {
		// Default route: no destination, a gateway set.
		if route.Attributes.Dst == nil && route.Attributes.Gateway != nil {
			t.mu.Lock()
			t.snap.Gateway = route.Attributes.Gateway.String()
			t.mu.Unlock()
			return
		}
	}
}

// sampleTraffic computes per-second byte deltas from sysfs counters.
func (t *Tracker) sampleTraffic() {
	ifName := t.interfaceName()
	if ifName == "" {
		return
	}

	rx := readUint64File(filepath.Join(sysClassNet, ifName, "statistics/rx_bytes"))
	tx := readUint64File(filepath.Join(sysClassNet, ifName, "statistics/tx_bytes"))
	if rx == 0 && tx == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastRx > 0 && rx >= t.lastRx {
		t.snap.RxBytesPerSec = rx - t.lastRx
	}
	if t.lastTx > 0 && tx >= t.lastTx {
		t.snap.TxBytesPerSec = tx - t.lastTx
	}
	t.lastRx, t.lastTx = rx, tx
}

// isWirelessInterface checks the kernel-standard marker:
// /sys/class/net/<iface>/wireless exists for WiFi interfaces.
func isWirelessInterface(name string) bool {
	_, err := os.Stat(filepath.Join(sysClassNet, name, "wireless"))
	return err == nil
}

func readUint64File(path string) uint64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	val, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return val
}
