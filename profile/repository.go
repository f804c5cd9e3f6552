package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrAlreadyExists signals a second profile for the same owner.
	ErrAlreadyExists = errors.New("profile: already exists")
	// ErrNotFound signals no profile exists for the owner.
	ErrNotFound = errors.New("profile: not found")
)

// Repository handles data access for user profiles.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a fresh profile with zeroed counters.
func (r *Repository) Create(ctx context.Context, p Profile) (Profile, error) {
	const insertSQL = `
		INSERT INTO user_profiles (owner, kyc_verified, kyc_credential_ref, is_active)
		VALUES ($1, $2, $3, true)
		RETURNING owner, kyc_verified, kyc_credential_ref, total_trades, successful_trades, disputed_trades, is_active, created_at
	`

	created, err := scanProfile(r.pool.QueryRow(ctx, insertSQL, p.Owner, p.KYCVerified, p.KYCCredentialRef))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Profile{}, ErrAlreadyExists
		}
		return Profile{}, fmt.Errorf("profile: create: %w", err)
	}
	return created, nil
}

// Get fetches a profile by its owner key.
func (r *Repository) Get(ctx context.Context, owner string) (Profile, error) {
	const selectSQL = `
		SELECT owner, kyc_verified, kyc_credential_ref, total_trades, successful_trades, disputed_trades, is_active, created_at
		FROM user_profiles
		WHERE owner = $1
	`

	p, err := scanProfile(r.pool.QueryRow(ctx, selectSQL, owner))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("profile: get: %w", err)
	}
	return p, nil
}

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(
		&p.Owner,
		&p.KYCVerified,
		&p.KYCCredentialRef,
		&p.TotalTrades,
		&p.SuccessfulTrades,
		&p.DisputedTrades,
		&p.IsActive,
		&p.CreatedAt,
	)
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}
