package actors

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/dispute"
	"escrowflow/ledger"
	"escrowflow/order"
)

// Trade identifies one seeded order and its parties.
type Trade struct {
	OrderID string
	Seller  string
	Buyer   string
}

// benign reports whether an error is an expected outcome under contention:
// domain guard failures, or infrastructure noise from chaos killing backends.
func benign(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, order.ErrInvalidOrderStatus),
		errors.Is(err, order.ErrOrderNotOpen),
		errors.Is(err, order.ErrUnauthorized),
		errors.Is(err, order.ErrUnauthorizedSeller),
		errors.Is(err, order.ErrUnauthorizedBuyer),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, dispute.ErrAlreadyExists),
		errors.Is(err, dispute.ErrAlreadyResolved),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, ledger.ErrInsufficientFunds):
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	}
	// A definite SQL failure (constraint violation, bad statement) means the
	// services let something malformed through; that should fail the run.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 57P01/57P02: backend killed by chaos, not a logic failure.
		return pgErr.Code == "57P01" || pgErr.Code == "57P02"
	}
	// Everything else is connection-level noise from chaos terminating
	// backends. The oracles catch any state damage it could cause.
	return true
}

// Releaser hammers Release on random trades as the platform authority.
// Exactly one disbursement per order must ever take effect.
func Releaser(ctx context.Context, svc *order.Service, authority string, trades []Trade, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		t := trades[rand.Intn(len(trades))]
		if _, err := svc.Release(ctx, authority, t.OrderID); !benign(err) {
			return err
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Canceller races Release by cancelling the same trades as their sellers.
func Canceller(ctx context.Context, svc *order.Service, trades []Trade, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		t := trades[rand.Intn(len(trades))]
		if _, err := svc.Cancel(ctx, t.Seller, t.OrderID); !benign(err) {
			return err
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Disputer opens disputes as the buyer, resolves them as the authority with a
// random verdict, and runs the matching disbursement.
func Disputer(ctx context.Context, orders *order.Service, disputes *dispute.Service, authority string, trades []Trade, stop <-chan struct{}) error {
	verdicts := []order.Resolution{order.ResolutionFavorBuyer, order.ResolutionFavorSeller, order.ResolutionSplit}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		t := trades[rand.Intn(len(trades))]

		if _, err := disputes.Open(ctx, t.Buyer, t.OrderID, "stress dispute", ""); !benign(err) {
			return err
		}

		verdict := verdicts[rand.Intn(len(verdicts))]
		if _, err := disputes.Resolve(ctx, authority, t.OrderID, verdict, "stress verdict"); !benign(err) {
			return err
		}

		var err error
		switch verdict {
		case order.ResolutionFavorBuyer:
			_, err = orders.Release(ctx, authority, t.OrderID)
		case order.ResolutionFavorSeller:
			_, err = orders.Cancel(ctx, authority, t.OrderID)
		case order.ResolutionSplit:
			_, err = disputes.ResolveSplit(ctx, authority, t.OrderID)
		}
		if !benign(err) {
			return err
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// OutboxWorker drains unpublished outbox rows with SKIP LOCKED, standing in
// for the event publisher.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE published_at IS NULL ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]int64, 0, 10)
		for rows.Next() {
			var id int64
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			_, _ = tx.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE id = $1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
