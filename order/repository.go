package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/ledger"
	"escrowflow/platform"
	"escrowflow/profile"
)

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const orderColumns = `
	order_id, seller, buyer, amount, amount_fiat, asset, payment_method,
	status, fiat_reference, fiat_transaction_id, oracle_confirmed, escrow_key,
	created_at, accepted_at, funded_at, payment_confirmed_at, completed_at
`

// Insert persists a new order row.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, o Order) (Order, error) {
	insertSQL := `
		INSERT INTO orders (order_id, seller, amount, amount_fiat, asset, payment_method, status, fiat_reference, escrow_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + orderColumns

	created, err := scanOrder(tx.QueryRow(ctx, insertSQL,
		o.OrderID,
		o.Seller,
		o.Amount,
		o.AmountFiat,
		string(o.Asset),
		string(o.PaymentMethod),
		string(o.Status),
		o.FiatReference,
		o.EscrowKey,
		o.CreatedAt,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Order{}, ErrAlreadyExists
		}
		return Order{}, fmt.Errorf("order: insert: %w", err)
	}
	return created, nil
}

// GetForUpdate locks the order row for the duration of the transaction so
// conflicting transitions on the same order serialize.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (Order, error) {
	selectSQL := `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1 FOR UPDATE`

	o, err := scanOrder(tx.QueryRow(ctx, selectSQL, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: get for update: %w", err)
	}
	return o, nil
}

// Get fetches an order without locking, for read-only callers.
func (r *PGRepository) Get(ctx context.Context, orderID string) (Order, error) {
	selectSQL := `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1`

	o, err := scanOrder(r.pool.QueryRow(ctx, selectSQL, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: get: %w", err)
	}
	return o, nil
}

// Update writes back every mutable order field.
func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, o Order) error {
	const updateSQL = `
		UPDATE orders
		SET buyer = $2,
		    status = $3,
		    fiat_transaction_id = $4,
		    oracle_confirmed = $5,
		    accepted_at = $6,
		    funded_at = $7,
		    payment_confirmed_at = $8,
		    completed_at = $9
		WHERE order_id = $1
	`
	tag, err := tx.Exec(ctx, updateSQL,
		o.OrderID,
		o.Buyer,
		string(o.Status),
		o.FiatTransactionID,
		o.OracleConfirmed,
		o.AcceptedAt,
		o.FundedAt,
		o.PaymentConfirmedAt,
		o.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("order: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Profile loads a trading profile with the row locked, so the counter
// updates later in the same transaction cannot race.
func (r *PGRepository) Profile(ctx context.Context, tx pgx.Tx, owner string) (profile.Profile, error) {
	const selectSQL = `
		SELECT owner, kyc_verified, kyc_credential_ref, total_trades, successful_trades, disputed_trades, is_active, created_at
		FROM user_profiles
		WHERE owner = $1
		FOR UPDATE
	`

	var p profile.Profile
	err := tx.QueryRow(ctx, selectSQL, owner).Scan(
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
		if errors.Is(err, pgx.ErrNoRows) {
			return profile.Profile{}, profile.ErrNotFound
		}
		return profile.Profile{}, fmt.Errorf("order: load profile: %w", err)
	}
	return p, nil
}

// RecordSuccessfulTrade bumps both trade counters for one party of a
// completed order.
func (r *PGRepository) RecordSuccessfulTrade(ctx context.Context, tx pgx.Tx, owner string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE user_profiles
		SET total_trades = total_trades + 1,
		    successful_trades = successful_trades + 1
		WHERE owner = $1
	`, owner)
	if err != nil {
		return fmt.Errorf("order: record successful trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return profile.ErrNotFound
	}
	return nil
}

// Platform reads the singleton configuration inside the transaction.
func (r *PGRepository) Platform(ctx context.Context, tx pgx.Tx) (platform.Platform, error) {
	return platform.NewRepository().Get(ctx, tx)
}

// DisputeResolution reports the recorded outcome of the order's dispute, if
// it has been resolved.
func (r *PGRepository) DisputeResolution(ctx context.Context, tx pgx.Tx, orderID string) (Resolution, bool, error) {
	var (
		status     string
		resolution *string
	)
	err := tx.QueryRow(ctx, `
		SELECT status, resolution FROM disputes WHERE order_id = $1
	`, orderID).Scan(&status, &resolution)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("order: load dispute resolution: %w", err)
	}
	if status != "resolved" || resolution == nil {
		return "", false, nil
	}
	return Resolution(*resolution), true, nil
}

// AppendEvent writes an immutable audit event for the order in the same
// transaction as the state change it records.
func (r *PGRepository) AppendEvent(ctx context.Context, tx pgx.Tx, orderID, eventType, actor string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("order: marshal event payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO order_events (order_id, type, actor, payload)
		VALUES ($1, $2, $3, $4::jsonb)
	`, orderID, eventType, actor, body); err != nil {
		return fmt.Errorf("order: insert event: %w", err)
	}
	return nil
}

// EnqueueOutbox stores a message for downstream delivery, committed with the
// transition that produced it.
func (r *PGRepository) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("order: marshal outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, body); err != nil {
		return fmt.Errorf("order: enqueue outbox: %w", err)
	}
	return nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o             Order
		asset         string
		paymentMethod string
		status        string
	)
	err := row.Scan(
		&o.OrderID,
		&o.Seller,
		&o.Buyer,
		&o.Amount,
		&o.AmountFiat,
		&asset,
		&paymentMethod,
		&status,
		&o.FiatReference,
		&o.FiatTransactionID,
		&o.OracleConfirmed,
		&o.EscrowKey,
		&o.CreatedAt,
		&o.AcceptedAt,
		&o.FundedAt,
		&o.PaymentConfirmedAt,
		&o.CompletedAt,
	)
	if err != nil {
		return Order{}, err
	}
	o.Asset = ledger.Asset(asset)
	o.PaymentMethod = PaymentMethod(paymentMethod)
	o.Status = Status(status)
	return o, nil
}
