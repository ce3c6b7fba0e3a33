package turn

import (
	"sync"
	"sync/atomic"
	"time"
)

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Event     EventKind
	Action    Action
	Timestamp time.Time
}

// StateListener observes turn state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// stateMachine applies Next and tells listeners about state changes. Only the
// controller goroutine fires events; State may be read from anywhere.
type stateMachine struct {
	current atomic.Int32

	mu        sync.RWMutex
	listeners []StateListener
}

func newStateMachine() *stateMachine {
	sm := &stateMachine{}
	sm.current.Store(int32(StateListening))
	return sm
}

// State returns the current state.
func (sm *stateMachine) State() State {
	return State(sm.current.Load())
}

// Fire moves the machine for ev and returns the action set to perform.
func (sm *stateMachine) Fire(ev EventKind) (StateChange, bool) {
	from := sm.State()
	to, action := Next(from, ev)
	sm.current.Store(int32(to))
	change := StateChange{FromState: from, ToState: to, Event: ev, Action: action, Timestamp: time.Now()}
	if from == to {
		return change, false
	}

	sm.mu.RLock()
	listeners := make([]StateListener, len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.RUnlock()

	for _, listener := range listeners {
		listener.OnStateChange(change)
	}
	return change, true
}

// AddListener registers a listener for state change events.
func (sm *stateMachine) AddListener(listener StateListener) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, listener)
}
