// Package status tracks the push channel connection state. The delta
// controller watches transitions into Connected to catch up on
// anything missed while the channel was down.
package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/terracrypt/chatsync/internal/bus"
)

// State is the process-wide connection state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
)

// validTransitions defines allowed state transitions. Heartbeat
// timeout and socket close both land on Disconnected.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Disconnected},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Disconnected, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsConnected reports whether the push channel is up.
func (m *Machine) IsConnected() bool {
	return m.Current() == Connected
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid; the state is unchanged in that case.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.New(bus.KindConnState, Change{From: from, To: to}))
	}
	return nil
}

// Change is the payload for connection state change events.
type Change struct {
	From State
	To   State
}
