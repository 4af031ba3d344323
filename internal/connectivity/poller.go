package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmolhoek/papertrail-sub001/internal/settings"
	"github.com/mmolhoek/papertrail-sub001/internal/wifi"
)

// Poller is the decision loop. Every tick it reads current connectivity, the
// mode, and the state, and decides whether to seek the hotspot, wait, retry,
// or stand down. It is the only component that schedules connection attempts.
type Poller struct {
	machine  *Machine
	ctrl     wifi.Control
	store    settings.Store
	fallback *FallbackManager
	orch     *Orchestrator
	mode     *ModeTracker
	timings  Timings
	log      *zap.Logger
	metrics  *Metrics

	trigger chan struct{}

	mu          sync.Mutex
	serveCtx    context.Context
	settleTimer *time.Timer // non-nil while an attempt is scheduled
}

// NewPoller wires a poller. metrics may be nil.
func NewPoller(machine *Machine, ctrl wifi.Control, store settings.Store,
	fallback *FallbackManager, orch *Orchestrator, mode *ModeTracker,
	timings Timings, log *zap.Logger, metrics *Metrics) *Poller {
	return &Poller{
		machine:  machine,
		ctrl:     ctrl,
		store:    store,
		fallback: fallback,
		orch:     orch,
		mode:     mode,
		timings:  timings,
		log:      log.Named("poller"),
		metrics:  metrics,
		trigger:  make(chan struct{}, 1),
	}
}

// Serve implements suture.Service: a fixed-cadence tick plus the on-demand
// trigger, until the context is cancelled.
func (p *Poller) Serve(ctx context.Context) error {
	p.mu.Lock()
	p.serveCtx = ctx
	p.mu.Unlock()

	ticker := time.NewTicker(p.timings.PollInterval)
	defer ticker.Stop()
	defer p.CancelScheduled()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.evaluate(ctx)
		case <-p.trigger:
			p.evaluate(ctx)
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (p *Poller) String() string {
	return "hotspot-poller"
}

// TriggerNow requests one out-of-band evaluation without waiting for the
// next scheduled tick. Coalesces when one is already pending.
func (p *Poller) TriggerNow() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// CancelScheduled stops a pending settle-delayed attempt, if one exists.
func (p *Poller) CancelScheduled() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settleTimer != nil {
		p.settleTimer.Stop()
		p.settleTimer = nil
	}
}

// seeking reports whether hotspot-seeking should be active: a client is
// attached, or onboarding has never completed (the device must stay
// reachable for first-time setup regardless of mode).
func (p *Poller) seeking() bool {
	return p.mode.Mode() == ModeStopped || !p.store.OnboardingCompleted()
}

func (p *Poller) evaluate(ctx context.Context) {
	p.metrics.PollerEvaluated()

	target := p.store.HotspotConfig().SSID

	cur, err := p.ctrl.CurrentConnection(ctx)
	if err != nil {
		p.log.Debug("connectivity query failed, skipping tick", zap.Error(err))
		return
	}

	// Already on the hotspot: make sure the state says so. When the UI has
	// not yet managed to render the confirmation screen and no client is
	// attached, nudge it again.
	if cur != nil && cur.SSID == target {
		if p.machine.State() != StateConnected {
			p.machine.SetState(StateConnected)
		} else if p.mode.ClientCount() == 0 && !p.machine.ScreenShown() {
			p.machine.Reannounce()
		}
		return
	}

	// Not on the hotspot but the machine says CONNECTED: tolerate query
	// flapping for a short window after the join before reacting.
	if p.machine.State() == StateConnected {
		if time.Since(p.machine.ConnectedAt()) < p.timings.GracePeriod {
			return
		}
		p.machine.SetState(StateWaitingForHotspot)
	}

	if !p.seeking() {
		p.reconcilePassive(cur)
		return
	}

	state := p.machine.State()
	if state == StateError {
		// Allow a fresh attempt cycle.
		p.machine.SetState(StateIdle)
		state = StateIdle
	}
	if state == StateConnecting || state == StateReconnectingFallback {
		return
	}

	visible, err := p.ctrl.IsVisible(ctx, target)
	if err != nil {
		p.log.Debug("hotspot visibility check failed", zap.Error(err))
		p.machine.SetState(StateWaitingForHotspot)
		return
	}
	if !visible {
		// Stay on the current network and retry next tick.
		p.machine.SetState(StateWaitingForHotspot)
		return
	}

	if err := p.fallback.SnapshotCurrent(ctx); err != nil {
		p.log.Warn("fallback snapshot failed", zap.Error(err))
	}
	p.machine.SetState(StateWaitingForHotspot)
	p.scheduleAttempt()
}

// reconcilePassive keeps the state truthful while seeking is inactive,
// without initiating anything.
func (p *Poller) reconcilePassive(cur *wifi.Connection) {
	state := p.machine.State()
	if state == StateConnected {
		p.machine.SetState(StateDisconnected)
		return
	}
	if state == StateIdle || state == StateDisconnected {
		return
	}
	if cur != nil {
		p.machine.SetState(StateIdle)
	} else {
		p.machine.SetState(StateDisconnected)
	}
}

// scheduleAttempt arms the settle-delay timer. The delay lets the radio
// settle after the visibility scan; preconditions are re-validated at fire
// time because the world may have changed in the interim.
func (p *Poller) scheduleAttempt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settleTimer != nil {
		return
	}
	p.log.Info("hotspot visible, scheduling connection attempt",
		zap.Duration("settle", p.timings.SettleDelay))
	p.settleTimer = time.AfterFunc(p.timings.SettleDelay, p.fireScheduled)
}

func (p *Poller) fireScheduled() {
	p.mu.Lock()
	p.settleTimer = nil
	ctx := p.serveCtx
	p.mu.Unlock()

	if ctx == nil || ctx.Err() != nil {
		return
	}
	if !p.seeking() || p.machine.State() != StateWaitingForHotspot {
		p.log.Debug("scheduled attempt skipped, preconditions changed")
		return
	}

	if err := p.orch.AttemptConnection(ctx); err != nil {
		p.log.Info("connection attempt failed", zap.Error(err))
	}
}
