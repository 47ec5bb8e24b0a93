package session

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hbruning/xgw/internal/bus"
)

// State represents a session's legacy connection state.
type State string

const (
	Unauthenticated State = "UNAUTHENTICATED"
	Authenticating  State = "AUTHENTICATING"
	Ready           State = "READY"
	Disconnected    State = "DISCONNECTED"
	Reconnecting    State = "RECONNECTING"
	Terminated      State = "TERMINATED"
)

// validTransitions defines allowed state transitions. Authenticating
// re-enters itself on multi-step pairing flows; Terminated is final.
var validTransitions = map[State][]State{
	Unauthenticated: {Authenticating, Terminated},
	Authenticating:  {Authenticating, Ready, Disconnected, Terminated},
	Ready:           {Disconnected, Terminated},
	Disconnected:    {Reconnecting, Authenticating, Ready, Terminated},
	Reconnecting:    {Reconnecting, Ready, Disconnected, Terminated},
	Terminated:      {},
}

// Machine tracks and enforces one session's state transitions, and
// publishes every change on the bus.
type Machine struct {
	mu      sync.RWMutex
	current State
	user    string
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Unauthenticated.
func NewMachine(user string, b *bus.Bus) *Machine {
	return &Machine{
		current: Unauthenticated,
		user:    user,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "session.status_changed",
			User:      m.user,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
