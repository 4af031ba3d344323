package connectivity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmolhoek/papertrail-sub001/internal/settings"
	"github.com/mmolhoek/papertrail-sub001/internal/wifi"
)

// Orchestrator drives one cancellable, timed connection attempt at a time,
// including post-connect verification and timeout recovery onto the fallback
// network. A second request while one is in flight fails fast with
// ErrAlreadyInProgress; attempts are never queued because a queued attempt
// would be stale by the time it ran.
type Orchestrator struct {
	machine  *Machine
	ctrl     wifi.Control
	fallback *FallbackManager
	store    settings.Store
	timings  Timings
	log      *zap.Logger
	metrics  *Metrics

	mu       sync.Mutex
	inflight context.CancelFunc // nil when no attempt is running
}

// NewOrchestrator wires an orchestrator. metrics may be nil.
func NewOrchestrator(machine *Machine, ctrl wifi.Control, fallback *FallbackManager,
	store settings.Store, timings Timings, log *zap.Logger, metrics *Metrics) *Orchestrator {
	return &Orchestrator{
		machine:  machine,
		ctrl:     ctrl,
		fallback: fallback,
		store:    store,
		timings:  timings,
		log:      log.Named("attempt"),
		metrics:  metrics,
	}
}

// InFlight reports whether an attempt is currently running.
func (o *Orchestrator) InFlight() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inflight != nil
}

// Cancel triggers the in-flight attempt's abort capability, if any.
// Idempotent and safe to call after the attempt has settled. Cancel itself
// sets no state: the caller decides the resulting state, since cancellation
// reasons differ (mode switch, config change, shutdown).
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight != nil {
		o.inflight()
	}
}

// AttemptConnection runs one full attempt against the configured hotspot
// target: visibility pre-check, connect race (completion vs. deadline vs.
// abort), then verification. The machine always ends in a well-defined state
// before this returns.
func (o *Orchestrator) AttemptConnection(ctx context.Context) error {
	o.mu.Lock()
	if o.inflight != nil {
		o.mu.Unlock()
		return ErrAlreadyInProgress
	}
	attemptCtx, cancel := context.WithCancel(ctx)
	o.inflight = cancel
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.inflight = nil
		o.mu.Unlock()
		cancel()
	}()

	err := o.run(attemptCtx)
	o.metrics.AttemptFinished(outcomeLabel(err))
	return err
}

func (o *Orchestrator) run(ctx context.Context) error {
	target := o.store.HotspotConfig()

	// The target may have disappeared between scheduling and firing.
	visible, err := o.ctrl.IsVisible(ctx, target.SSID)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
		}
		return fmt.Errorf("visibility pre-check: %w", err)
	}
	if !visible {
		return fmt.Errorf("%w: %s", ErrNetworkNotFound, target.SSID)
	}

	o.machine.SetState(StateConnecting)
	o.log.Info("connection attempt started", zap.String("ssid", target.SSID))

	connectErr := make(chan error, 1)
	go func() {
		connectErr <- o.ctrl.Connect(ctx, target.SSID, target.Password)
	}()

	deadline := time.NewTimer(o.timings.AttemptTimeout)
	defer deadline.Stop()

	select {
	case <-ctx.Done():
		// The canceller owns the resulting state.
		return fmt.Errorf("%w: %v", ErrAborted, context.Cause(ctx))

	case <-deadline.C:
		o.log.Warn("connection attempt timed out", zap.Duration("after", o.timings.AttemptTimeout))
		o.machine.SetState(StateReconnectingFallback)
		if err := o.fallback.Reconnect(ctx); err != nil {
			o.log.Error("fallback reconnect failed", zap.Error(err))
			o.machine.SetState(StateError)
		} else {
			o.machine.SetState(StateDisconnected)
		}
		return fmt.Errorf("%w after %s", ErrTimeout, o.timings.AttemptTimeout)

	case err := <-connectErr:
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrAborted, context.Cause(ctx))
			}
			o.machine.SetState(StateError)
			return fmt.Errorf("connect %q: %w", target.SSID, err)
		}
	}

	return o.verify(ctx, target.SSID)
}

// verify confirms the device is actually joined to the target. Connect can
// report success optimistically, so the check runs after a short settle and
// once more after a longer one before giving up.
func (o *Orchestrator) verify(ctx context.Context, ssid string) error {
	if err := sleepCtx(ctx, o.timings.VerifyDelay); err != nil {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	joined := o.joinedTo(ctx, ssid)
	if !joined {
		o.log.Debug("verification check failed, retrying once", zap.String("ssid", ssid))
		if err := sleepCtx(ctx, o.timings.VerifyRetryDelay); err != nil {
			return fmt.Errorf("%w: %v", ErrAborted, err)
		}
		joined = o.joinedTo(ctx, ssid)
	}

	if !joined {
		// The next poller tick retries the whole sequence.
		o.machine.SetState(StateWaitingForHotspot)
		return fmt.Errorf("%w: not joined to %q", ErrVerificationFailed, ssid)
	}

	o.machine.SetState(StateConnected)
	if err := o.fallback.Clear(); err != nil {
		o.log.Warn("could not clear fallback record", zap.Error(err))
	}
	o.log.Info("connected to hotspot", zap.String("ssid", ssid))
	return nil
}

func (o *Orchestrator) joinedTo(ctx context.Context, ssid string) bool {
	cur, err := o.ctrl.CurrentConnection(ctx)
	if err != nil {
		o.log.Debug("verification query failed", zap.Error(err))
		return false
	}
	return cur != nil && cur.SSID == ssid
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrAlreadyInProgress):
		return "rejected"
	case errors.Is(err, ErrNetworkNotFound):
		return "not_visible"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrVerificationFailed):
		return "verification_failed"
	case errors.Is(err, ErrAborted):
		return "aborted"
	default:
		return "error"
	}
}
