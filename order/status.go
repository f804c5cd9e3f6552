package order

// Status is the order lifecycle state. Transitions are monotonic along the
// graph below; dispute resolution is the only path out of Disputed.
type Status string

const (
	StatusOpen             Status = "open"
	StatusAccepted         Status = "accepted"
	StatusFunded           Status = "funded"
	StatusPaymentConfirmed Status = "payment_confirmed"
	StatusCompleted        Status = "completed"
	StatusCancelled        Status = "cancelled"
	StatusDisputed         Status = "disputed"
	StatusPartialRefund    Status = "partial_refund"
)

// transitions enumerates every legal edge. Re-cancelling a cancelled order is
// deliberately absent: the refund it would re-trigger no longer exists in
// escrow, so the edge fails closed.
var transitions = map[Status][]Status{
	StatusOpen:             {StatusAccepted},
	StatusAccepted:         {StatusFunded},
	StatusFunded:           {StatusPaymentConfirmed, StatusCancelled, StatusDisputed},
	StatusPaymentConfirmed: {StatusCompleted, StatusDisputed},
	StatusDisputed:         {StatusCompleted, StatusCancelled, StatusPartialRefund},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions exist from s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0 && s.Valid()
}

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusAccepted, StatusFunded, StatusPaymentConfirmed,
		StatusCompleted, StatusCancelled, StatusDisputed, StatusPartialRefund:
		return true
	default:
		return false
	}
}
