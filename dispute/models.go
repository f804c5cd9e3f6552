package dispute

import (
	"errors"
	"time"

	"escrowflow/order"
)

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

var (
	// ErrNotFound signals no dispute exists for the order.
	ErrNotFound = errors.New("dispute: not found")
	// ErrAlreadyExists signals a dispute is already open for the order.
	ErrAlreadyExists = errors.New("dispute: already exists")
	// ErrAlreadyResolved signals a second resolution attempt.
	ErrAlreadyResolved = errors.New("dispute: already resolved")
	// ErrInvalidResolution signals an unknown resolution value.
	ErrInvalidResolution = errors.New("dispute: invalid resolution")
)

// Dispute mirrors the disputes table. One dispute per order; Bond is the
// anti-spam deposit held from the initiator until resolution.
type Dispute struct {
	OrderID         string
	Initiator       string
	Reason          string
	Evidence        string
	Bond            int64
	Status          Status
	Resolver        *string
	Resolution      *order.Resolution
	ResolutionNotes *string
	CreatedAt       time.Time
	ResolvedAt      *time.Time
}

func validResolution(r order.Resolution) bool {
	switch r {
	case order.ResolutionFavorBuyer, order.ResolutionFavorSeller, order.ResolutionSplit:
		return true
	default:
		return false
	}
}
