package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/order"
	"escrowflow/platform"
)

// PGRepository stores disputes in Postgres and delegates order, platform, and
// event access to the order repository so both packages share one SQL surface.
type PGRepository struct {
	pool   *pgxpool.Pool
	orders *order.PGRepository
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, orders: order.NewRepository(pool)}
}

const disputeColumns = `order_id, initiator, reason, evidence, bond, status, resolver, resolution, resolution_notes, created_at, resolved_at`

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, d Dispute) (Dispute, error) {
	const query = `
		INSERT INTO disputes (order_id, initiator, reason, evidence, bond, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.Exec(ctx, query, d.OrderID, d.Initiator, d.Reason, d.Evidence, d.Bond, string(d.Status), d.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Dispute{}, ErrAlreadyExists
		}
		return Dispute{}, fmt.Errorf("dispute: insert: %w", err)
	}
	return d, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (Dispute, error) {
	row := tx.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE order_id = $1 FOR UPDATE`, orderID)
	return scanDispute(row)
}

// Get reads a dispute outside any lifecycle transaction.
func (r *PGRepository) Get(ctx context.Context, orderID string) (Dispute, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE order_id = $1`, orderID)
	return scanDispute(row)
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, d Dispute) error {
	const query = `
		UPDATE disputes
		SET status = $2, resolver = $3, resolution = $4, resolution_notes = $5, resolved_at = $6
		WHERE order_id = $1
	`
	var resolution *string
	if d.Resolution != nil {
		s := string(*d.Resolution)
		resolution = &s
	}
	tag, err := tx.Exec(ctx, query, d.OrderID, string(d.Status), d.Resolver, resolution, d.ResolutionNotes, d.ResolvedAt)
	if err != nil {
		return fmt.Errorf("dispute: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) OrderForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (order.Order, error) {
	return r.orders.GetForUpdate(ctx, tx, orderID)
}

func (r *PGRepository) UpdateOrder(ctx context.Context, tx pgx.Tx, o order.Order) error {
	return r.orders.Update(ctx, tx, o)
}

func (r *PGRepository) Platform(ctx context.Context, tx pgx.Tx) (platform.Platform, error) {
	return r.orders.Platform(ctx, tx)
}

func (r *PGRepository) RecordDisputedTrade(ctx context.Context, tx pgx.Tx, owner string) error {
	const query = `
		UPDATE user_profiles
		SET total_trades = total_trades + 1, disputed_trades = disputed_trades + 1
		WHERE owner = $1
	`
	tag, err := tx.Exec(ctx, query, owner)
	if err != nil {
		return fmt.Errorf("dispute: record disputed trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dispute: record disputed trade: no profile for %s", owner)
	}
	return nil
}

func (r *PGRepository) AppendEvent(ctx context.Context, tx pgx.Tx, orderID, eventType, actor string, payload map[string]any) error {
	return r.orders.AppendEvent(ctx, tx, orderID, eventType, actor, payload)
}

func (r *PGRepository) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	return r.orders.EnqueueOutbox(ctx, tx, topic, payload)
}

func scanDispute(row pgx.Row) (Dispute, error) {
	var (
		d          Dispute
		status     string
		resolution *string
	)
	err := row.Scan(&d.OrderID, &d.Initiator, &d.Reason, &d.Evidence, &d.Bond, &status, &d.Resolver, &resolution, &d.ResolutionNotes, &d.CreatedAt, &d.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: scan: %w", err)
	}
	d.Status = Status(status)
	if resolution != nil {
		res := order.Resolution(*resolution)
		d.Resolution = &res
	}
	return d, nil
}
