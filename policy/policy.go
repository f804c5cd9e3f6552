package policy

import (
	"errors"
	"math"
	"time"
)

// Platform-wide limits and defaults. Amounts are integer base units with six
// implied decimals on the fiat side.
const (
	// MaxFiatTransaction caps a single order at 9,000.000000 fiat units.
	MaxFiatTransaction int64 = 9_000_000_000
	// DefaultFeeBps is the platform fee applied when none is configured (0.5%).
	DefaultFeeBps int64 = 50
	// MaxFeeBps bounds a fee rate at 100%.
	MaxFeeBps int64 = 10_000
	// DisputeBond is the fixed anti-spam deposit taken when a dispute opens.
	DisputeBond int64 = 10_000_000
	// ReleaseTimeout is how long after fiat confirmation anyone may release.
	ReleaseTimeout = 24 * time.Hour
)

var (
	// ErrArithmeticOverflow signals a fee computation that would wrap.
	ErrArithmeticOverflow = errors.New("policy: arithmetic overflow")
	// ErrInvalidFeeRate signals a fee rate outside [0, 10000] basis points.
	ErrInvalidFeeRate = errors.New("policy: fee rate out of range")
	// ErrInvalidAmount signals a non-positive amount.
	ErrInvalidAmount = errors.New("policy: amount must be positive")
)

// ComputeFee returns the platform fee and the net amount left for the
// counterparty: fee = floor(amount*feeBps/10000), net = amount - fee.
// The multiplication is overflow-checked and fails closed.
func ComputeFee(amount, feeBps int64) (fee, net int64, err error) {
	if amount <= 0 {
		return 0, 0, ErrInvalidAmount
	}
	if feeBps < 0 || feeBps > MaxFeeBps {
		return 0, 0, ErrInvalidFeeRate
	}
	if feeBps != 0 && amount > math.MaxInt64/feeBps {
		return 0, 0, ErrArithmeticOverflow
	}
	fee = amount * feeBps / MaxFeeBps
	return fee, amount - fee, nil
}

// SplitNet divides a net amount equally between seller and buyer. The seller
// takes the floor half; the remainder unit on odd amounts goes to the buyer.
func SplitNet(net int64) (sellerShare, buyerShare int64) {
	sellerShare = net / 2
	return sellerShare, net - sellerShare
}

// ReleaseAuthorized reports whether actor may release escrowed funds: either
// the actor is the platform authority, or fiat payment was confirmed longer
// ago than the release timeout.
func ReleaseAuthorized(actor, authority string, paymentConfirmedAt *time.Time, now time.Time) bool {
	if actor == authority {
		return true
	}
	if paymentConfirmedAt == nil {
		return false
	}
	return now.Sub(*paymentConfirmedAt) > ReleaseTimeout
}
