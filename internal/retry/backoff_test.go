package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy() Policy {
	return Policy{
		Attempts:       3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	want := errors.New("still down")
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		return want
	}, nil)
	if !errors.Is(err, want) {
		t.Errorf("Do() error = %v, want %v", err, want)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	perm := errors.New("rejected")
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		return perm
	}, func(error) bool { return false })
	if !errors.Is(err, perm) {
		t.Errorf("Do() error = %v, want %v", err, perm)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry of permanent error)", calls)
	}
}

func TestDoHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := fastPolicy().Do(ctx, func() error { return errors.New("x") }, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
}

func TestDelayGrowsAndCaps(t *testing.T) {
	p := Policy{
		Attempts:       10,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     40 * time.Millisecond,
		Multiplier:     2.0,
	}
	if d := p.Delay(1); d != 10*time.Millisecond {
		t.Errorf("Delay(1) = %v, want 10ms", d)
	}
	if d := p.Delay(2); d != 20*time.Millisecond {
		t.Errorf("Delay(2) = %v, want 20ms", d)
	}
	if d := p.Delay(5); d != 40*time.Millisecond {
		t.Errorf("Delay(5) = %v, want capped 40ms", d)
	}
}

func TestDelayJitterBounds(t *testing.T) {
	p := Policy{
		Attempts:       3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
		Jitter:         true,
	}
	for i := 0; i < 100; i++ {
		d := p.Delay(2)
		if d < 50*time.Millisecond || d > time.Second {
			t.Fatalf("Delay(2) = %v, outside jitter bounds", d)
		}
	}
}
