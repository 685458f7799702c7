package status

import (
	"context"
	"testing"
	"time"

	"github.com/penguinchat/penguinchat/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
}

func TestLinkLifecycle(t *testing.T) {
	m := NewMachine(nil)
	for _, to := range []State{Connecting, Connected, Joined, Disconnected, Connecting, Disconnected} {
		if err := m.Transition(to); err != nil {
			t.Fatalf("Transition(%s) error = %v", to, err)
		}
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		walk []State
		to   State
	}{
		{nil, Joined},
		{nil, Connected},
		{[]State{Connecting}, Joined},
		{[]State{Connecting, Connected, Joined}, Connecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			for _, s := range tt.walk {
				if err := m.Transition(s); err != nil {
					t.Fatal(err)
				}
			}
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", m.Current(), tt.to)
			}
		})
	}
}

func TestDrop(t *testing.T) {
	m := NewMachine(nil)
	m.Drop()
	if m.Current() != Disconnected {
		t.Fatalf("state = %s", m.Current())
	}
	_ = m.Transition(Connecting)
	_ = m.Transition(Connected)
	m.Drop()
	if m.Current() != Disconnected {
		t.Fatalf("state = %s, want DISCONNECTED", m.Current())
	}
}

func TestWait(t *testing.T) {
	m := NewMachine(nil)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = m.Transition(Connecting)
		_ = m.Transition(Connected)
		_ = m.Transition(Joined)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Wait(ctx, Joined); err != nil {
		t.Fatal(err)
	}

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	if err := m.Wait(short, Connecting); err == nil {
		t.Fatal("Wait should time out")
	}
}

func TestTransitionPublishesEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("link.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		sc, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
		}
		if sc.From != Disconnected || sc.To != Connecting {
			t.Errorf("change = %s -> %s, want DISCONNECTED -> CONNECTING", sc.From, sc.To)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status event")
	}
}
