package dispute

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"escrowflow/ledger"
	"escrowflow/order"
	"escrowflow/platform"
	"escrowflow/policy"
)

// Repository defines the record access a dispute operation needs. Dispute
// operations touch order rows too, so both run on the caller's transaction.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, d Dispute) (Dispute, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (Dispute, error)
	Update(ctx context.Context, tx pgx.Tx, d Dispute) error
	OrderForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (order.Order, error)
	UpdateOrder(ctx context.Context, tx pgx.Tx, o order.Order) error
	Platform(ctx context.Context, tx pgx.Tx) (platform.Platform, error)
	RecordDisputedTrade(ctx context.Context, tx pgx.Tx, owner string) error
	AppendEvent(ctx context.Context, tx pgx.Tx, orderID, eventType, actor string, payload map[string]any) error
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service arbitrates disputed orders. Resolution is two-step: Resolve records
// the verdict and returns the bond, then the matching disbursement runs on the
// order (Release for favor-buyer, Cancel for favor-seller, ResolveSplit here).
type Service struct {
	pool   order.TxBeginner
	repo   Repository
	ledger ledger.Ledger
	now    func() time.Time
}

func NewService(pool order.TxBeginner, repo Repository, l ledger.Ledger) *Service {
	return &Service{
		pool:   pool,
		repo:   repo,
		ledger: l,
		now:    time.Now,
	}
}

// WithClock overrides the wall clock, primarily for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Open raises a dispute on a funded or payment-confirmed order. The initiator
// must be a party to the trade and posts a fixed bond held until resolution.
// Evidence is an opaque reference the arbiter can follow, not interpreted here.
func (s *Service) Open(ctx context.Context, initiator, orderID, reason, evidence string) (Dispute, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.repo.OrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return Dispute{}, err
	}
	if o.Status == order.StatusDisputed {
		return Dispute{}, ErrAlreadyExists
	}
	if !order.CanTransition(o.Status, order.StatusDisputed) {
		return Dispute{}, order.ErrInvalidOrderStatus
	}
	if initiator != o.Seller && !o.IsBuyer(initiator) {
		return Dispute{}, order.ErrUnauthorized
	}

	// Bond is always posted in the native asset regardless of what the
	// order trades.
	if err := s.ledger.Move(ctx, tx, ledger.AssetNative, initiator, ledger.BondKey(orderID), policy.DisputeBond); err != nil {
		return Dispute{}, err
	}

	d, err := s.repo.Insert(ctx, tx, Dispute{
		OrderID:   orderID,
		Initiator: initiator,
		Reason:    reason,
		Evidence:  evidence,
		Bond:      policy.DisputeBond,
		Status:    StatusOpen,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return Dispute{}, err
	}

	o.Status = order.StatusDisputed
	if err := s.repo.UpdateOrder(ctx, tx, o); err != nil {
		return Dispute{}, err
	}
	if err := s.repo.RecordDisputedTrade(ctx, tx, initiator); err != nil {
		return Dispute{}, err
	}

	if err := s.repo.AppendEvent(ctx, tx, orderID, "DISPUTE_OPENED", initiator, map[string]any{"reason": reason, "bond": policy.DisputeBond}); err != nil {
		return Dispute{}, err
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, "dispute.opened", map[string]any{"order_id": orderID, "initiator": initiator}); err != nil {
		return Dispute{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit open: %w", err)
	}
	return d, nil
}

// Resolve records the authority's verdict and returns the bond to the
// initiator. The order stays Disputed until the disbursement that matches the
// verdict runs.
func (s *Service) Resolve(ctx context.Context, actor, orderID string, resolution order.Resolution, notes string) (Dispute, error) {
	if !validResolution(resolution) {
		return Dispute{}, ErrInvalidResolution
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	plat, err := s.repo.Platform(ctx, tx)
	if err != nil {
		return Dispute{}, err
	}
	if actor != plat.Authority {
		return Dispute{}, order.ErrUnauthorized
	}

	d, err := s.repo.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return Dispute{}, err
	}
	if d.Status == StatusResolved {
		return Dispute{}, ErrAlreadyResolved
	}

	if err := s.ledger.Move(ctx, tx, ledger.AssetNative, ledger.BondKey(orderID), d.Initiator, d.Bond); err != nil {
		return Dispute{}, err
	}

	now := s.now().UTC()
	d.Status = StatusResolved
	d.Resolver = &actor
	d.Resolution = &resolution
	d.ResolvedAt = &now
	if notes != "" {
		d.ResolutionNotes = &notes
	}
	if err := s.repo.Update(ctx, tx, d); err != nil {
		return Dispute{}, err
	}

	if err := s.repo.AppendEvent(ctx, tx, orderID, "DISPUTE_RESOLVED", actor, map[string]any{"resolution": string(resolution)}); err != nil {
		return Dispute{}, err
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, "dispute.resolved", map[string]any{"order_id": orderID, "resolution": string(resolution)}); err != nil {
		return Dispute{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit resolve: %w", err)
	}
	return d, nil
}

// ResolveSplit disburses a split-resolved dispute: the platform fee comes off
// the top, then the remainder is halved between seller and buyer with the odd
// unit going to the buyer. The order moves to PartialRefund.
func (s *Service) ResolveSplit(ctx context.Context, actor, orderID string) (order.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return order.Order{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	plat, err := s.repo.Platform(ctx, tx)
	if err != nil {
		return order.Order{}, err
	}
	if actor != plat.Authority {
		return order.Order{}, order.ErrUnauthorized
	}

	o, err := s.repo.OrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return order.Order{}, err
	}
	if o.Status != order.StatusDisputed || o.Buyer == nil {
		return order.Order{}, order.ErrInvalidOrderStatus
	}

	d, err := s.repo.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return order.Order{}, err
	}
	if d.Status != StatusResolved || d.Resolution == nil || *d.Resolution != order.ResolutionSplit {
		return order.Order{}, order.ErrInvalidOrderStatus
	}

	fee, net, err := policy.ComputeFee(o.Amount, plat.FeeBps)
	if err != nil {
		return order.Order{}, err
	}
	sellerShare, buyerShare := policy.SplitNet(net)

	if fee > 0 {
		if err := s.ledger.Move(ctx, tx, o.Asset, o.EscrowKey, plat.Treasury, fee); err != nil {
			return order.Order{}, err
		}
	}
	if sellerShare > 0 {
		if err := s.ledger.Move(ctx, tx, o.Asset, o.EscrowKey, o.Seller, sellerShare); err != nil {
			return order.Order{}, err
		}
	}
	if buyerShare > 0 {
		if err := s.ledger.Move(ctx, tx, o.Asset, o.EscrowKey, *o.Buyer, buyerShare); err != nil {
			return order.Order{}, err
		}
	}

	now := s.now().UTC()
	o.Status = order.StatusPartialRefund
	o.CompletedAt = &now
	if err := s.repo.UpdateOrder(ctx, tx, o); err != nil {
		return order.Order{}, err
	}

	payload := map[string]any{"fee": fee, "seller_share": sellerShare, "buyer_share": buyerShare}
	if err := s.repo.AppendEvent(ctx, tx, orderID, "FUNDS_SPLIT", actor, payload); err != nil {
		return order.Order{}, err
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, "order.partial_refund", map[string]any{"order_id": orderID}); err != nil {
		return order.Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return order.Order{}, fmt.Errorf("dispute: commit split: %w", err)
	}
	return o, nil
}
