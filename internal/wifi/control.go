package wifi

import (
	"context"
	"errors"
)

// Control plane errors. Higher layers match these with errors.Is.
var (
	// ErrUnavailable means the underlying WiFi management service (iwd)
	// is not running or has no usable station.
	ErrUnavailable = errors.New("wifi control plane unavailable")

	// ErrNotConnected is returned by Disconnect when no network is joined.
	ErrNotConnected = errors.New("not connected")

	// ErrNetworkNotFound means the requested SSID is not visible.
	ErrNetworkNotFound = errors.New("network not found")

	// ErrAuthFailed means the network rejected the credentials.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrConnectionFailed covers join failures other than authentication.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrScanFailed means the station could not complete a scan.
	ErrScanFailed = errors.New("scan failed")
)

// Network is a WiFi network seen in a scan.
type Network struct {
	SSID      string
	Security  string // "open", "psk", "sae", "8021x"
	SignalDBm int16
	Signal    uint8 // derived percentage 0-100
	Frequency uint32
}

// Connection describes the currently joined network.
type Connection struct {
	SSID       string
	IPAddress  string
	MACAddress string
	SignalDBm  int16
	Signal     uint8
}

// SavedNetwork is a stored network profile known to the control plane.
type SavedNetwork struct {
	SSID        string
	AutoConnect bool
	Priority    int32
}

// Profile is a network profile to be provisioned ahead of time.
type Profile struct {
	SSID        string
	Passphrase  string
	Security    string // defaults to "psk"
	AutoConnect bool
}

// Control is the narrow interface to the OS WiFi stack. Implementations may
// be slow (seconds) and may fail unpredictably; callers must pass a context
// and treat every operation as blocking.
type Control interface {
	// Scan triggers a scan and returns the visible networks.
	Scan(ctx context.Context) ([]Network, error)

	// CurrentConnection returns the joined network, or nil when disconnected.
	CurrentConnection(ctx context.Context) (*Connection, error)

	// Connect joins the given network. An empty passphrase connects using
	// credentials the control plane already knows from a prior join.
	Connect(ctx context.Context, ssid, passphrase string) error

	// Disconnect leaves the current network.
	Disconnect(ctx context.Context) error

	// IsVisible reports whether the SSID shows up in a scan. It never
	// disconnects from the current network.
	IsVisible(ctx context.Context, ssid string) (bool, error)

	// ListSaved returns the stored network profiles.
	ListSaved(ctx context.Context) ([]SavedNetwork, error)

	// RemoveSaved forgets a stored network profile.
	RemoveSaved(ctx context.Context, ssid string) error

	// SaveProfile provisions a network profile without connecting to it.
	SaveProfile(ctx context.Context, p Profile) error
}

// DBmToPercent converts raw RSSI to a 0-100 percentage.
// Linear scale: -100 dBm = 0%, -50 dBm = 100%.
func DBmToPercent(dBm int16) uint8 {
	if dBm <= -100 {
		return 0
	}
	if dBm >= -50 {
		return 100
	}
	return uint8(2 * (int(dBm) + 100))
}

// FrequencyToBand returns the band name for a frequency in MHz.
func FrequencyToBand(freq uint32) string {
	if freq >= 2400 && freq < 2500 {
		return "2.4GHz"
	}
	if freq >= 5000 && freq < 6000 {
		return "5GHz"
	}
	if freq >= 6000 {
		return "6GHz"
	}
	return "unknown"
}
