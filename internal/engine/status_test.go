package engine

import "testing"

func TestCanAdvanceForward(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusQueued, StatusSent, true},
		{StatusQueued, StatusDelivered, true},
		{StatusQueued, StatusRead, true},
		{StatusSent, StatusDelivered, true},
		{StatusDelivered, StatusRead, true},

		// Backward or same-rank transitions are dropped.
		{StatusSent, StatusQueued, false},
		{StatusDelivered, StatusSent, false},
		{StatusRead, StatusDelivered, false},
		{StatusRead, StatusRead, false},
		{StatusSent, StatusSent, false},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			if got := canAdvance(tt.from, tt.to); got != tt.want {
				t.Errorf("canAdvance(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestCanAdvanceFailed(t *testing.T) {
	// A message can fail before delivery...
	if !canAdvance(StatusQueued, StatusFailed) {
		t.Error("queued -> failed should be allowed")
	}
	if !canAdvance(StatusSent, StatusFailed) {
		t.Error("sent -> failed should be allowed")
	}
	// ...but never after.
	if canAdvance(StatusDelivered, StatusFailed) {
		t.Error("delivered -> failed should be dropped")
	}
	if canAdvance(StatusRead, StatusFailed) {
		t.Error("read -> failed should be dropped")
	}
	// A retried failed send comes back via its ack.
	if !canAdvance(StatusFailed, StatusSent) {
		t.Error("failed -> sent should be allowed for retries")
	}
}

func TestCanAdvanceUnknownStatus(t *testing.T) {
	if canAdvance(StatusQueued, "bogus") {
		t.Error("unknown target status should be dropped")
	}
	if canAdvance("bogus", StatusRead) {
		t.Error("unknown source status should be dropped")
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []string{StatusQueued, StatusSent, StatusDelivered, StatusRead, StatusFailed} {
		if !ValidStatus(s) {
			t.Errorf("ValidStatus(%s) = false", s)
		}
	}
	if ValidStatus("pending") {
		t.Error("ValidStatus(pending) = true")
	}
}
