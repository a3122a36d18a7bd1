package status

import (
	"testing"
	"time"

	"github.com/terracrypt/chatsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
	if m.IsConnected() {
		t.Error("IsConnected should be false initially")
	}
}

func TestValidTransitions(t *testing.T) {
	m := NewMachine(nil)
	steps := []State{Connecting, Connected, Disconnected, Connecting, Disconnected}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition(%s) error = %v", s, err)
		}
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Connected); err == nil {
		t.Error("Transition(DISCONNECTED -> CONNECTED) should fail without Connecting")
	}
	if m.Current() != Disconnected {
		t.Errorf("state after failed transition = %s, want DISCONNECTED", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.NewBus()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(Change)
		if !ok {
			t.Fatalf("payload type = %T, want Change", evt.Payload)
		}
		if change.From != Disconnected || change.To != Connecting {
			t.Errorf("change = %v -> %v", change.From, change.To)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}
