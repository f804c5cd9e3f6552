package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrAlreadyInitialized signals a second initialize attempt.
	ErrAlreadyInitialized = errors.New("platform: already initialized")
	// ErrNotInitialized signals the singleton row is missing.
	ErrNotInitialized = errors.New("platform: not initialized")
)

// Querier is satisfied by pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository reads and seeds the platform singleton row.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Insert creates the singleton row. The table carries a `check (id = 1)`
// constraint, so concurrent initializers collapse into one winner.
func (r *Repository) Insert(ctx context.Context, q Querier, p Platform) error {
	_, err := q.Exec(ctx, `
		INSERT INTO platform (id, authority, treasury_key, fee_bps, total_volume, total_transactions, is_active)
		VALUES (1, $1, $2, $3, 0, 0, true)
	`, p.Authority, p.Treasury, p.FeeBps)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyInitialized
		}
		return fmt.Errorf("platform: insert: %w", err)
	}
	return nil
}

// Get loads the singleton row through the given querier so callers inside a
// transaction see a consistent snapshot.
func (r *Repository) Get(ctx context.Context, q Querier) (Platform, error) {
	var p Platform
	err := q.QueryRow(ctx, `
		SELECT authority, treasury_key, fee_bps, total_volume, total_transactions, is_active, created_at
		FROM platform WHERE id = 1
	`).Scan(&p.Authority, &p.Treasury, &p.FeeBps, &p.TotalVolume, &p.TotalTransactions, &p.IsActive, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Platform{}, ErrNotInitialized
	}
	if err != nil {
		return Platform{}, fmt.Errorf("platform: get: %w", err)
	}
	return p, nil
}
