package order

import "testing"

func TestCanTransition_HappyPath(t *testing.T) {
	path := []Status{StatusOpen, StatusAccepted, StatusFunded, StatusPaymentConfirmed, StatusCompleted}
	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Fatalf("expected %s -> %s to be legal", path[i], path[i+1])
		}
	}
}

func TestCanTransition_DisputeEdges(t *testing.T) {
	for _, from := range []Status{StatusFunded, StatusPaymentConfirmed} {
		if !CanTransition(from, StatusDisputed) {
			t.Fatalf("expected %s -> disputed to be legal", from)
		}
	}
	for _, to := range []Status{StatusCompleted, StatusCancelled, StatusPartialRefund} {
		if !CanTransition(StatusDisputed, to) {
			t.Fatalf("expected disputed -> %s to be legal", to)
		}
	}
}

func TestCanTransition_NoBackwardEdges(t *testing.T) {
	illegal := [][2]Status{
		{StatusAccepted, StatusOpen},
		{StatusFunded, StatusAccepted},
		{StatusCompleted, StatusPaymentConfirmed},
		{StatusCancelled, StatusCancelled}, // re-cancel fails closed
		{StatusCancelled, StatusFunded},
		{StatusPartialRefund, StatusDisputed},
		{StatusOpen, StatusFunded}, // no skipping
		{StatusAccepted, StatusPaymentConfirmed},
	}
	for _, edge := range illegal {
		if CanTransition(edge[0], edge[1]) {
			t.Fatalf("expected %s -> %s to be illegal", edge[0], edge[1])
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusPartialRefund} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	for _, s := range []Status{StatusOpen, StatusAccepted, StatusFunded, StatusPaymentConfirmed, StatusDisputed} {
		if s.Terminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
	if Status("bogus").Terminal() {
		t.Fatal("unknown status must not be terminal")
	}
}
