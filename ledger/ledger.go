// Package ledger holds the custodial balance tables and the transfer
// primitive every disbursement goes through. Escrow and bond accounts are
// plain ledger entries addressed by keys derived from the order id, so only
// code holding the derivation can touch them.
package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Asset identifies which custodial balance table a transfer runs against.
type Asset string

const (
	AssetNative Asset = "native"
	AssetTokenA Asset = "token_a"
	AssetTokenB Asset = "token_b"
)

// Valid reports whether the asset is one of the supported kinds.
func (a Asset) Valid() bool {
	switch a {
	case AssetNative, AssetTokenA, AssetTokenB:
		return true
	default:
		return false
	}
}

var (
	// ErrInsufficientFunds signals a debit larger than the source balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrUnknownAsset signals an asset kind without a registered mover.
	ErrUnknownAsset = errors.New("ledger: unknown asset")
)

// EscrowKey derives the custodial account key bound to an order's escrow.
func EscrowKey(orderID string) string {
	return "escrow:" + orderID
}

// BondKey derives the account key holding a dispute's anti-spam bond.
func BondKey(orderID string) string {
	return "bond:" + orderID
}

// Querier is the subset of pgx.Tx / pgxpool.Pool the ledger needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger moves units between custodial accounts. A Move either fully applies
// or leaves both balances untouched; callers compose multi-leg disbursements
// by running every leg on the same transaction.
type Ledger interface {
	Move(ctx context.Context, q Querier, asset Asset, from, to string, amount int64) error
	Credit(ctx context.Context, q Querier, asset Asset, key string, amount int64) error
	Balance(ctx context.Context, q Querier, asset Asset, key string) (int64, error)
}
