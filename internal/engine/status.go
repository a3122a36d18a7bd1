package engine

// Delivery states of a message. The lattice is monotonic:
//
//	queued -> sent -> delivered -> read
//	queued -> failed
//	sent   -> failed
//
// A delivered or read message never becomes failed, and a stale or
// replayed status event never moves a message backward.
const (
	StatusQueued    = "queued"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// statusRank orders the delivery lattice. failed sits below queued so
// that a retried send's acknowledgment can lift a failed message back
// into the lattice.
func statusRank(s string) (int, bool) {
	switch s {
	case StatusFailed:
		return -1, true
	case StatusQueued:
		return 0, true
	case StatusSent:
		return 1, true
	case StatusDelivered:
		return 2, true
	case StatusRead:
		return 3, true
	}
	return 0, false
}

// ValidStatus reports whether s is a known delivery state.
func ValidStatus(s string) bool {
	_, ok := statusRank(s)
	return ok
}

// canAdvance reports whether a message may move from one status to
// another. Transitions into failed are only allowed before delivery.
func canAdvance(from, to string) bool {
	fromRank, ok := statusRank(from)
	if !ok {
		return false
	}
	toRank, ok := statusRank(to)
	if !ok {
		return false
	}
	if to == StatusFailed {
		return from == StatusQueued || from == StatusSent
	}
	return toRank > fromRank
}
