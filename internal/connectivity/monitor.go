package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmolhoek/papertrail-sub001/internal/wifi"
)

// ConnectionObserver receives connected/disconnected edges.
type ConnectionObserver func(connected bool, ssid string)

// Monitor polls the control plane on a fixed cadence and notifies observers
// only when the boolean connected value changes between ticks. It is a pure
// edge detector: it never reads or writes the state machine.
type Monitor struct {
	ctrl     wifi.Control
	interval time.Duration
	log      *zap.Logger

	mu           sync.Mutex
	last         *bool
	observers    map[uint64]ConnectionObserver
	nextObserver uint64
}

// NewMonitor creates a monitor polling at the given interval.
func NewMonitor(ctrl wifi.Control, interval time.Duration, log *zap.Logger) *Monitor {
	return &Monitor{
		ctrl:      ctrl,
		interval:  interval,
		log:       log.Named("monitor"),
		observers: make(map[uint64]ConnectionObserver),
	}
}

// Serve implements suture.Service and runs until the context is cancelled.
func (m *Monitor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (m *Monitor) String() string {
	return "connection-monitor"
}

func (m *Monitor) tick(ctx context.Context) {
	cur, err := m.ctrl.CurrentConnection(ctx)
	if err != nil {
		m.log.Debug("connectivity query failed", zap.Error(err))
		return
	}

	connected := cur != nil
	ssid := ""
	if connected {
		ssid = cur.SSID
	}

	m.mu.Lock()
	// First tick establishes the baseline; there is no previous value to
	// differ from.
	if m.last == nil {
		m.last = &connected
		m.mu.Unlock()
		return
	}
	if *m.last == connected {
		m.mu.Unlock()
		return
	}
	m.last = &connected
	observers := make([]ConnectionObserver, 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.mu.Unlock()

	m.log.Info("connectivity changed", zap.Bool("connected", connected), zap.String("ssid", ssid))
	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("connection observer panicked", zap.Any("panic", r))
				}
			}()
			fn(connected, ssid)
		}()
	}
}

// Subscribe registers a connection observer and returns its unsubscribe func.
func (m *Monitor) Subscribe(fn ConnectionObserver) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextObserver
	m.nextObserver++
	m.observers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}

// ClearObservers drops all registered observers.
func (m *Monitor) ClearObservers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = make(map[uint64]ConnectionObserver)
}
