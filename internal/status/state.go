package status

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/penguinchat/penguinchat/internal/bus"
)

// State is the state of a relay link.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Joined       State = "JOINED"
)

var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Joined, Disconnected},
	Joined:       {Disconnected},
}

// Machine tracks the link state and rejects transitions the link loop should never make.
type Machine struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	changed chan struct{}
	bus     *bus.Bus
}

// NewMachine creates a machine in the Disconnected state. b may be nil.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		since:   time.Now(),
		changed: make(chan struct{}),
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Transition moves to the given state or returns an error if that move is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.current
	if !slices.Contains(validTransitions[from], to) {
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	m.current = to
	m.since = time.Now()
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Emit(bus.KindLinkStatus, StatusChange{From: from, To: to})
	}
	return nil
}

// Drop moves to Disconnected from whatever state the link was in. It is a
// no-op when already disconnected.
func (m *Machine) Drop() {
	if m.Current() == Disconnected {
		return
	}
	_ = m.Transition(Disconnected)
}

// Wait blocks until the machine is in state want or ctx is done.
func (m *Machine) Wait(ctx context.Context, want State) error {
	for {
		m.mu.RLock()
		cur, ch := m.current, m.changed
		m.mu.RUnlock()
		if cur == want {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s (now %s): %w", want, cur, ctx.Err())
		}
	}
}

// StatusChange is the payload of link.status_changed events.
type StatusChange struct {
	From State
	To   State
}
