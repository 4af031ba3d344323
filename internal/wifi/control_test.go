package wifi

import (
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
)

func TestDBmToPercent(t *testing.T) {
	cases := []struct {
		dBm  int16
		want uint8
	}{
		{-100, 0},
		{-120, 0},
		{-75, 50},
		{-50, 100},
		{-30, 100},
		{-90, 20},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, DBmToPercent(c.dBm), "dBm=%d", c.dBm)
	}
}

func TestFrequencyToBand(t *testing.T) {
	assert.Equal(t, "2.4GHz", FrequencyToBand(2412))
	assert.Equal(t, "2.4GHz", FrequencyToBand(2484))
	assert.Equal(t, "5GHz", FrequencyToBand(5180))
	assert.Equal(t, "6GHz", FrequencyToBand(6435))
	assert.Equal(t, "unknown", FrequencyToBand(900))
}

func TestMapConnectError(t *testing.T) {
	cases := []struct {
		name string
		want error
	}{
		{"net.connman.iwd.InvalidFormat", ErrAuthFailed},
		{"net.connman.iwd.Failed", ErrAuthFailed},
		{"net.connman.iwd.Agent.Error.Canceled", ErrAuthFailed},
		{"net.connman.iwd.NotFound", ErrNetworkNotFound},
		{"org.freedesktop.DBus.Error.ServiceUnknown", ErrUnavailable},
		{"net.connman.iwd.Busy", ErrConnectionFailed},
	}
	for _, c := range cases {
		got := mapConnectError(dbus.Error{Name: c.name})
		assert.True(t, errors.Is(got, c.want), "dbus error %s mapped to %v", c.name, got)
	}

	// Non-dbus errors fall through to a generic connection failure.
	got := mapConnectError(errors.New("socket closed"))
	assert.True(t, errors.Is(got, ErrConnectionFailed))
}
