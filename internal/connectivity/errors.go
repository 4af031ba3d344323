package connectivity

import (
	"errors"

	"github.com/mmolhoek/papertrail-sub001/internal/wifi"
)

// Errors raised by the connectivity core. Control plane conditions are
// aliased from the wifi package so callers match a single taxonomy with
// errors.Is regardless of which layer produced the failure.
var (
	// ErrNotInitialized means Initialize has not been called (or Dispose has).
	ErrNotInitialized = errors.New("connectivity service not initialized")

	// ErrTimeout means a connection attempt hit its deadline. Fallback
	// recovery has already run by the time this is returned.
	ErrTimeout = errors.New("connection attempt timed out")

	// ErrVerificationFailed means the connect call reported success but the
	// device is not actually joined to the hotspot target.
	ErrVerificationFailed = errors.New("post-connect verification failed")

	// ErrAborted means the attempt's abort capability was triggered. The
	// canceller owns the resulting state.
	ErrAborted = errors.New("connection attempt aborted")

	// ErrAlreadyInProgress means an attempt is in flight; requests are
	// rejected rather than queued.
	ErrAlreadyInProgress = errors.New("connection attempt already in progress")

	// ErrFallbackReconnectFailed means recovery onto the saved fallback
	// network did not succeed. The record is kept for a later attempt.
	ErrFallbackReconnectFailed = errors.New("fallback reconnect failed")

	// ErrValidation rejects a bad SSID or password on configuration input.
	ErrValidation = errors.New("invalid hotspot configuration")

	ErrControlPlaneUnavailable = wifi.ErrUnavailable
	ErrScanFailed              = wifi.ErrScanFailed
	ErrNetworkNotFound         = wifi.ErrNetworkNotFound
	ErrAuthFailed              = wifi.ErrAuthFailed
	ErrConnectionFailed        = wifi.ErrConnectionFailed
)
