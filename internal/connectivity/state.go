package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// State is the connectivity state the UI renders against.
type State string

const (
	StateIdle                 State = "idle"
	StateDisconnected         State = "disconnected"
	StateConnecting           State = "connecting"
	StateConnected            State = "connected"
	StateWaitingForHotspot    State = "waiting_for_hotspot"
	StateReconnectingFallback State = "reconnecting_fallback"
	StateError                State = "error"
)

var allStates = []State{
	StateIdle,
	StateDisconnected,
	StateConnecting,
	StateConnected,
	StateWaitingForHotspot,
	StateReconnectingFallback,
	StateError,
}

// StateObserver receives every transition as (new, previous).
type StateObserver func(newState, previous State)

// Machine holds the connectivity state. SetState is the only writer; every
// transition fans out to the registered observers. Entry into
// StateConnected records a timestamp (for the grace period) and clears the
// connected-screen flag; leaving it clears the timestamp.
type Machine struct {
	log     *zap.Logger
	metrics *Metrics

	mu           sync.Mutex
	fsm          *fsm.FSM
	connectedAt  time.Time
	screenShown  bool
	observers    map[uint64]StateObserver
	nextObserver uint64
}

// enterEvent names the fsm event that moves into a state. Every state is
// reachable from every other, so there is one event per destination.
func enterEvent(s State) string {
	return "enter_" + string(s)
}

// NewMachine creates a machine starting in StateIdle.
func NewMachine(log *zap.Logger, metrics *Metrics) *Machine {
	m := &Machine{
		log:       log.Named("state"),
		metrics:   metrics,
		observers: make(map[uint64]StateObserver),
	}

	events := make(fsm.Events, 0, len(allStates))
	for _, dst := range allStates {
		src := make([]string, 0, len(allStates)-1)
		for _, s := range allStates {
			if s != dst {
				src = append(src, string(s))
			}
		}
		events = append(events, fsm.EventDesc{Name: enterEvent(dst), Src: src, Dst: string(dst)})
	}

	// The callback runs synchronously inside SetState while m.mu is held.
	callbacks := fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			if State(e.Dst) == StateConnected {
				m.connectedAt = time.Now()
				m.screenShown = false
			} else if State(e.Src) == StateConnected {
				m.connectedAt = time.Time{}
			}
		},
	}

	m.fsm = fsm.NewFSM(string(StateIdle), events, callbacks)
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State(m.fsm.Current())
}

// SetState transitions to next. A no-op when next equals the current state:
// no observer fires and the CONNECTED entry timestamp is untouched.
func (m *Machine) SetState(next State) {
	m.mu.Lock()
	prev := State(m.fsm.Current())
	if prev == next {
		m.mu.Unlock()
		return
	}
	if err := m.fsm.Event(context.Background(), enterEvent(next)); err != nil {
		// Every state pair is wired; this would be a programming error.
		m.mu.Unlock()
		m.log.Error("state transition rejected",
			zap.String("from", string(prev)), zap.String("to", string(next)), zap.Error(err))
		return
	}
	observers := m.snapshotObserversLocked()
	m.mu.Unlock()

	m.log.Info("state changed", zap.String("from", string(prev)), zap.String("to", string(next)))
	m.metrics.StateChanged(prev, next)
	m.notify(observers, next, prev)
}

// Reannounce re-emits a CONNECTED -> CONNECTED notification so the UI can
// retry rendering the confirmation screen. No transition takes place.
func (m *Machine) Reannounce() {
	m.mu.Lock()
	if State(m.fsm.Current()) != StateConnected {
		m.mu.Unlock()
		return
	}
	observers := m.snapshotObserversLocked()
	m.mu.Unlock()

	m.log.Debug("re-announcing connected state")
	m.notify(observers, StateConnected, StateConnected)
}

// ConnectedAt returns when the machine entered StateConnected, or the zero
// time if it is not connected.
func (m *Machine) ConnectedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectedAt
}

// ScreenShown reports whether the UI has rendered the connected screen since
// the last entry into StateConnected.
func (m *Machine) ScreenShown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screenShown
}

// MarkScreenShown is called by the UI layer once the confirmation screen has
// been rendered.
func (m *Machine) MarkScreenShown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.screenShown = true
}

// ResetScreenShown forces the confirmation screen to render again on the
// next successful join.
func (m *Machine) ResetScreenShown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.screenShown = false
}

// Subscribe registers a state observer and returns its unsubscribe func.
func (m *Machine) Subscribe(fn StateObserver) func() {
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
func (m *Machine) ClearObservers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = make(map[uint64]StateObserver)
}

func (m *Machine) snapshotObserversLocked() []StateObserver {
	observers := make([]StateObserver, 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	return observers
}

// notify delivers to every observer. A panicking observer is logged and
// never blocks delivery to the rest.
func (m *Machine) notify(observers []StateObserver, newState, previous State) {
	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("state observer panicked", zap.Any("panic", r))
				}
			}()
			fn(newState, previous)
		}()
	}
}
