// Package connectivity decides, continuously and unattended, which network
// the device should be joined to. It normally rides whatever network is
// available; when a companion app wants to talk to the device it finds and
// joins the configured mobile hotspot, verifies the join, and recovers onto
// the previous network if that fails.
package connectivity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"

	"github.com/mmolhoek/papertrail-sub001/internal/settings"
	"github.com/mmolhoek/papertrail-sub001/internal/wifi"
)

const minPasswordLen = 8

// Timings tunes the machine's cadences and delays. Zero fields are replaced
// by the shipped defaults.
type Timings struct {
	PollInterval     time.Duration
	MonitorInterval  time.Duration
	GracePeriod      time.Duration
	SettleDelay      time.Duration
	AttemptTimeout   time.Duration
	VerifyDelay      time.Duration
	VerifyRetryDelay time.Duration
}

// DefaultTimings returns the device's shipped behavior.
func DefaultTimings() Timings {
	return Timings{
		PollInterval:     10 * time.Second,
		MonitorInterval:  5 * time.Second,
		GracePeriod:      5 * time.Second,
		SettleDelay:      5 * time.Second,
		AttemptTimeout:   60 * time.Second,
		VerifyDelay:      2 * time.Second,
		VerifyRetryDelay: 3 * time.Second,
	}
}

func (t Timings) withDefaults() Timings {
	def := DefaultTimings()
	if t.PollInterval <= 0 {
		t.PollInterval = def.PollInterval
	}
	if t.MonitorInterval <= 0 {
		t.MonitorInterval = def.MonitorInterval
	}
	if t.GracePeriod <= 0 {
		t.GracePeriod = def.GracePeriod
	}
	if t.SettleDelay <= 0 {
		t.SettleDelay = def.SettleDelay
	}
	if t.AttemptTimeout <= 0 {
		t.AttemptTimeout = def.AttemptTimeout
	}
	if t.VerifyDelay <= 0 {
		t.VerifyDelay = def.VerifyDelay
	}
	if t.VerifyRetryDelay <= 0 {
		t.VerifyRetryDelay = def.VerifyRetryDelay
	}
	return t
}

// Options configures a Service.
type Options struct {
	Control wifi.Control
	Store   settings.Store
	Logger  *zap.Logger
	Timings Timings
	Metrics *Metrics // optional
}

// Service is the connectivity core's facade: one injectable instance owned
// by the composition root. Initialize starts the monitor and poller loops
// under a supervisor; Dispose stops them, cancels any in-flight attempt, and
// clears all observers.
type Service struct {
	log     *zap.Logger
	ctrl    wifi.Control
	store   settings.Store
	timings Timings
	metrics *Metrics

	machine  *Machine
	monitor  *Monitor
	poller   *Poller
	orch     *Orchestrator
	fallback *FallbackManager
	mode     *ModeTracker
	sup      *suture.Supervisor

	mu          sync.Mutex
	initialized bool
	baseCtx     context.Context
	cancel      context.CancelFunc
	done        <-chan error
}

// New wires a Service from its collaborators. Nothing runs until Initialize.
func New(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("connectivity")
	timings := opts.Timings.withDefaults()

	s := &Service{
		log:     log,
		ctrl:    opts.Control,
		store:   opts.Store,
		timings: timings,
		metrics: opts.Metrics,
	}

	s.machine = NewMachine(log, opts.Metrics)
	s.fallback = NewFallbackManager(opts.Control, opts.Store, log)
	s.orch = NewOrchestrator(s.machine, opts.Control, s.fallback, opts.Store, timings, log, opts.Metrics)
	s.monitor = NewMonitor(opts.Control, timings.MonitorInterval, log)
	s.mode = NewModeTracker(log, s.onStopped, s.onDriving)
	s.poller = NewPoller(s.machine, opts.Control, opts.Store, s.fallback, s.orch, s.mode, timings, log, opts.Metrics)

	s.sup = suture.New("connectivity", suture.Spec{
		EventHook: func(e suture.Event) {
			switch e.Type() {
			case suture.EventTypeServiceTerminate, suture.EventTypeBackoff:
				log.Warn("supervisor event", zap.String("event", e.String()))
			default:
				log.Debug("supervisor event", zap.String("event", e.String()))
			}
		},
	})
	s.sup.Add(s.monitor)
	s.sup.Add(s.poller)

	return s
}

// onStopped handles the driving -> stopped edge: evaluate immediately
// instead of waiting for the next scheduled tick.
func (s *Service) onStopped() {
	s.poller.TriggerNow()
}

// onDriving handles the stopped -> driving edge: a hotspot search in
// progress is pointless with no client attached, so abort it and go idle.
func (s *Service) onDriving() {
	state := s.machine.State()
	if state != StateWaitingForHotspot && state != StateConnecting {
		return
	}
	s.poller.CancelScheduled()
	s.orch.Cancel()
	s.machine.SetState(StateIdle)
}

// Initialize starts the monitor and poller loops. Idempotent.
func (s *Service) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.baseCtx = ctx
	s.cancel = cancel
	s.done = s.sup.ServeBackground(ctx)
	s.initialized = true
	s.log.Info("connectivity service started",
		zap.Duration("poll_interval", s.timings.PollInterval),
		zap.Duration("monitor_interval", s.timings.MonitorInterval))
	return nil
}

// Dispose stops both loops, cancels any in-flight attempt and pending settle
// timer, and clears all observers.
func (s *Service) Dispose() {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return
	}
	s.initialized = false
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	if done != nil {
		<-done
	}
	s.poller.CancelScheduled()
	s.orch.Cancel()
	s.machine.ClearObservers()
	s.monitor.ClearObservers()
	s.log.Info("connectivity service stopped")
}

// GetState returns the current connectivity state.
func (s *Service) GetState() State {
	return s.machine.State()
}

// GetMode returns the derived driving/stopped mode.
func (s *Service) GetMode() Mode {
	return s.mode.Mode()
}

// ClientCount returns the attached UI client count.
func (s *Service) ClientCount() int {
	return s.mode.ClientCount()
}

// SetClientCount updates the attached UI client count; called whenever a UI
// client attaches or detaches.
func (s *Service) SetClientCount(n int) error {
	if !s.isInitialized() {
		return ErrNotInitialized
	}
	s.mode.SetClientCount(n)
	s.metrics.ClientsChanged(s.mode.ClientCount())
	return nil
}

// OnStateChange registers a state observer; the returned func unsubscribes.
func (s *Service) OnStateChange(fn StateObserver) func() {
	return s.machine.Subscribe(fn)
}

// OnConnectionChange registers a connection edge observer; the returned func
// unsubscribes.
func (s *Service) OnConnectionChange(fn ConnectionObserver) func() {
	return s.monitor.Subscribe(fn)
}

// NotifyConnectedScreenDisplayed is called by the UI layer once it has
// rendered the connected confirmation screen.
func (s *Service) NotifyConnectedScreenDisplayed() {
	s.machine.MarkScreenShown()
}

// HotspotConfig returns the currently configured hotspot target.
func (s *Service) HotspotConfig() settings.HotspotConfig {
	return s.store.HotspotConfig()
}

// OnboardingCompleted reports whether first-time setup has finished.
func (s *Service) OnboardingCompleted() bool {
	return s.store.OnboardingCompleted()
}

// SetHotspotConfig validates and persists a new hotspot target. The current
// connection is intentionally invalidated: the previous network is saved as
// fallback, the device disconnects, and seeking starts over. An attempt
// in flight against the old target is cancelled.
func (s *Service) SetHotspotConfig(ssid, password string) error {
	if !s.isInitialized() {
		return ErrNotInitialized
	}
	if strings.TrimSpace(ssid) == "" {
		return fmt.Errorf("%w: ssid must not be empty", ErrValidation)
	}
	if len(password) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLen)
	}

	s.poller.CancelScheduled()
	s.orch.Cancel()

	ctx, cancelCtx := context.WithTimeout(s.serveContext(), 30*time.Second)
	defer cancelCtx()

	if err := s.store.SetHotspotConfig(settings.HotspotConfig{SSID: ssid, Password: password}); err != nil {
		return fmt.Errorf("persist hotspot config: %w", err)
	}
	if err := s.fallback.SnapshotCurrent(ctx); err != nil {
		s.log.Warn("fallback snapshot failed during config update", zap.Error(err))
	}
	if err := s.ctrl.Disconnect(ctx); err != nil && !errors.Is(err, wifi.ErrNotConnected) {
		s.log.Warn("disconnect failed during config update", zap.Error(err))
	}

	s.machine.SetState(StateWaitingForHotspot)
	s.machine.ResetScreenShown()
	s.log.Info("hotspot target updated", zap.String("ssid", ssid))
	return nil
}

func (s *Service) isInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *Service) serveContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}
