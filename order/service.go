package order

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"escrowflow/ledger"
	"escrowflow/platform"
	"escrowflow/policy"
	"escrowflow/profile"
)

// Resolution is a dispute outcome projected onto the order state machine.
// It lives here because each value names the terminal order transition it
// authorizes.
type Resolution string

const (
	ResolutionFavorBuyer  Resolution = "favor_buyer"
	ResolutionFavorSeller Resolution = "favor_seller"
	ResolutionSplit       Resolution = "split"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the record access an order transition needs. Every
// method runs on the caller's transaction so a transition commits atomically
// or not at all.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, o Order) (Order, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (Order, error)
	Update(ctx context.Context, tx pgx.Tx, o Order) error
	Profile(ctx context.Context, tx pgx.Tx, owner string) (profile.Profile, error)
	RecordSuccessfulTrade(ctx context.Context, tx pgx.Tx, owner string) error
	Platform(ctx context.Context, tx pgx.Tx) (platform.Platform, error)
	DisputeResolution(ctx context.Context, tx pgx.Tx, orderID string) (Resolution, bool, error)
	AppendEvent(ctx context.Context, tx pgx.Tx, orderID, eventType, actor string, payload map[string]any) error
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service drives the order lifecycle. Each operation is one transaction that
// locks the order row, re-checks status, applies the transition, and runs any
// disbursement legs on the same transaction.
type Service struct {
	pool   TxBeginner
	repo   Repository
	ledger ledger.Ledger
	now    func() time.Time
}

func NewService(pool TxBeginner, repo Repository, l ledger.Ledger) *Service {
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

// CreateParams carries the seller-chosen order terms.
type CreateParams struct {
	OrderID       string
	Amount        int64
	AmountFiat    int64
	Asset         ledger.Asset
	PaymentMethod PaymentMethod
	FiatReference string
}

// Create registers a sell order in Open status. The seller must hold a
// verified, active profile.
func (s *Service) Create(ctx context.Context, seller string, params CreateParams) (Order, error) {
	if params.OrderID == "" {
		return Order{}, fmt.Errorf("order: order id required")
	}
	if params.Amount <= 0 {
		return Order{}, ErrInvalidAmount
	}
	if params.AmountFiat <= 0 || params.AmountFiat > policy.MaxFiatTransaction {
		return Order{}, ErrExceedsMaxLimit
	}
	if !params.Asset.Valid() {
		return Order{}, ErrInvalidTokenType
	}
	if !params.PaymentMethod.Valid() {
		return Order{}, fmt.Errorf("order: invalid payment method %q", params.PaymentMethod)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	sellerProfile, err := s.repo.Profile(ctx, tx, seller)
	if err != nil {
		return Order{}, err
	}
	if !sellerProfile.KYCVerified {
		return Order{}, ErrKYCRequired
	}
	if !sellerProfile.IsActive {
		return Order{}, ErrUserNotActive
	}

	created, err := s.repo.Insert(ctx, tx, Order{
		OrderID:       params.OrderID,
		Seller:        seller,
		Amount:        params.Amount,
		AmountFiat:    params.AmountFiat,
		Asset:         params.Asset,
		PaymentMethod: params.PaymentMethod,
		Status:        StatusOpen,
		FiatReference: params.FiatReference,
		EscrowKey:     ledger.EscrowKey(params.OrderID),
		CreatedAt:     s.now().UTC(),
	})
	if err != nil {
		return Order{}, err
	}

	payload := map[string]any{
		"amount":      params.Amount,
		"amount_fiat": params.AmountFiat,
		"asset":       string(params.Asset),
	}
	if err := s.repo.AppendEvent(ctx, tx, created.OrderID, "ORDER_CREATED", seller, payload); err != nil {
		return Order{}, err
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, "order.created", map[string]any{"order_id": created.OrderID, "seller": seller}); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit create: %w", err)
	}
	return created, nil
}

// Accept binds a buyer to an Open order.
func (s *Service) Accept(ctx context.Context, buyer, orderID string) (Order, error) {
	return s.transition(ctx, orderID, func(ctx context.Context, tx pgx.Tx, o *Order) error {
		if o.Status != StatusOpen {
			return ErrOrderNotOpen
		}
		buyerProfile, err := s.repo.Profile(ctx, tx, buyer)
		if err != nil {
			return err
		}
		if !buyerProfile.KYCVerified {
			return ErrKYCRequired
		}
		if !buyerProfile.IsActive {
			return ErrUserNotActive
		}
		if o.Seller == buyer {
			return ErrCannotTradeWithSelf
		}

		now := s.now().UTC()
		o.Buyer = &buyer
		o.Status = StatusAccepted
		o.AcceptedAt = &now

		if err := s.repo.AppendEvent(ctx, tx, o.OrderID, "ORDER_ACCEPTED", buyer, nil); err != nil {
			return err
		}
		return s.repo.EnqueueOutbox(ctx, tx, "order.accepted", map[string]any{"order_id": o.OrderID, "buyer": buyer})
	})
}

// Deposit moves the order amount from the seller's custodial account into
// escrow and marks the order Funded.
func (s *Service) Deposit(ctx context.Context, seller, orderID string) (Order, error) {
	return s.transition(ctx, orderID, func(ctx context.Context, tx pgx.Tx, o *Order) error {
		if o.Status != StatusAccepted {
			return ErrInvalidOrderStatus
		}
		if o.Seller != seller {
			return ErrUnauthorizedSeller
		}
		if !o.Asset.Valid() {
			return ErrInvalidTokenType
		}

		if err := s.ledger.Move(ctx, tx, o.Asset, o.Seller, o.EscrowKey, o.Amount); err != nil {
			return err
		}

		now := s.now().UTC()
		o.Status = StatusFunded
		o.FundedAt = &now

		if err := s.repo.AppendEvent(ctx, tx, o.OrderID, "ESCROW_FUNDED", seller, map[string]any{"amount": o.Amount}); err != nil {
			return err
		}
		return s.repo.EnqueueOutbox(ctx, tx, "order.funded", map[string]any{"order_id": o.OrderID})
	})
}

// ConfirmFiatPayment records the buyer's claim that fiat was sent.
func (s *Service) ConfirmFiatPayment(ctx context.Context, buyer, orderID, fiatTransactionID string) (Order, error) {
	if fiatTransactionID == "" {
		return Order{}, fmt.Errorf("order: fiat transaction id required")
	}
	return s.transition(ctx, orderID, func(ctx context.Context, tx pgx.Tx, o *Order) error {
		if o.Status != StatusFunded {
			return ErrInvalidOrderStatus
		}
		if !o.IsBuyer(buyer) {
			return ErrUnauthorizedBuyer
		}

		now := s.now().UTC()
		o.FiatTransactionID = &fiatTransactionID
		o.Status = StatusPaymentConfirmed
		o.PaymentConfirmedAt = &now

		if err := s.repo.AppendEvent(ctx, tx, o.OrderID, "PAYMENT_CONFIRMED", buyer, map[string]any{"fiat_transaction_id": fiatTransactionID}); err != nil {
			return err
		}
		return s.repo.EnqueueOutbox(ctx, tx, "order.payment_confirmed", map[string]any{"order_id": o.OrderID})
	})
}

// Release disburses escrow to the buyer minus the platform fee. It is the
// only path to Completed: either from PaymentConfirmed under the oracle or
// timeout rule, or from Disputed when the recorded resolution favors the
// buyer.
func (s *Service) Release(ctx context.Context, actor, orderID string) (Order, error) {
	return s.transition(ctx, orderID, func(ctx context.Context, tx pgx.Tx, o *Order) error {
		plat, err := s.repo.Platform(ctx, tx)
		if err != nil {
			return err
		}

		switch o.Status {
		case StatusPaymentConfirmed:
			if !policy.ReleaseAuthorized(actor, plat.Authority, o.PaymentConfirmedAt, s.now()) {
				return ErrUnauthorized
			}
		case StatusDisputed:
			resolution, resolved, err := s.repo.DisputeResolution(ctx, tx, o.OrderID)
			if err != nil {
				return err
			}
			if !resolved || resolution != ResolutionFavorBuyer {
				return ErrInvalidOrderStatus
			}
			if actor != plat.Authority {
				return ErrUnauthorized
			}
		default:
			return ErrInvalidOrderStatus
		}

		if o.Buyer == nil {
			return ErrInvalidOrderStatus
		}
		fee, net, err := policy.ComputeFee(o.Amount, plat.FeeBps)
		if err != nil {
			return err
		}

		if err := s.ledger.Move(ctx, tx, o.Asset, o.EscrowKey, *o.Buyer, net); err != nil {
			return err
		}
		if fee > 0 {
			if err := s.ledger.Move(ctx, tx, o.Asset, o.EscrowKey, plat.Treasury, fee); err != nil {
				return err
			}
		}

		happyPath := o.Status == StatusPaymentConfirmed

		now := s.now().UTC()
		o.Status = StatusCompleted
		o.CompletedAt = &now
		o.OracleConfirmed = true

		if happyPath {
			if err := s.repo.RecordSuccessfulTrade(ctx, tx, o.Seller); err != nil {
				return err
			}
			if err := s.repo.RecordSuccessfulTrade(ctx, tx, *o.Buyer); err != nil {
				return err
			}
		}

		payload := map[string]any{"net": net, "fee": fee}
		if err := s.repo.AppendEvent(ctx, tx, o.OrderID, "FUNDS_RELEASED", actor, payload); err != nil {
			return err
		}
		return s.repo.EnqueueOutbox(ctx, tx, "order.completed", map[string]any{"order_id": o.OrderID, "net": net, "fee": fee})
	})
}

// Cancel refunds the full escrowed amount to the seller: from Funded by the
// seller, or from Disputed when the recorded resolution favors the seller.
func (s *Service) Cancel(ctx context.Context, actor, orderID string) (Order, error) {
	return s.transition(ctx, orderID, func(ctx context.Context, tx pgx.Tx, o *Order) error {
		switch o.Status {
		case StatusFunded:
			if o.Seller != actor {
				return ErrUnauthorizedSeller
			}
		case StatusDisputed:
			resolution, resolved, err := s.repo.DisputeResolution(ctx, tx, o.OrderID)
			if err != nil {
				return err
			}
			if !resolved || resolution != ResolutionFavorSeller {
				return ErrInvalidOrderStatus
			}
			plat, err := s.repo.Platform(ctx, tx)
			if err != nil {
				return err
			}
			if actor != o.Seller && actor != plat.Authority {
				return ErrUnauthorizedSeller
			}
		default:
			// Includes Cancelled: a second cancel would re-trigger a refund
			// that no longer exists in escrow.
			return ErrInvalidOrderStatus
		}

		if err := s.ledger.Move(ctx, tx, o.Asset, o.EscrowKey, o.Seller, o.Amount); err != nil {
			return err
		}

		o.Status = StatusCancelled

		if err := s.repo.AppendEvent(ctx, tx, o.OrderID, "ORDER_CANCELLED", actor, map[string]any{"refund": o.Amount}); err != nil {
			return err
		}
		return s.repo.EnqueueOutbox(ctx, tx, "order.cancelled", map[string]any{"order_id": o.OrderID})
	})
}

// UpdateOracleStatus records the payment oracle's observation. The flag is
// advisory; release authorization runs through policy.ReleaseAuthorized.
func (s *Service) UpdateOracleStatus(ctx context.Context, oracle, orderID string, confirmed bool) (Order, error) {
	return s.transition(ctx, orderID, func(ctx context.Context, tx pgx.Tx, o *Order) error {
		plat, err := s.repo.Platform(ctx, tx)
		if err != nil {
			return err
		}
		if oracle != plat.Authority {
			return ErrUnauthorized
		}

		o.OracleConfirmed = confirmed
		return s.repo.AppendEvent(ctx, tx, o.OrderID, "ORACLE_STATUS_UPDATED", oracle, map[string]any{"confirmed": confirmed})
	})
}

// transition runs mutate inside a single transaction with the order row
// locked, then persists the mutated order.
func (s *Service) transition(ctx context.Context, orderID string, mutate func(ctx context.Context, tx pgx.Tx, o *Order) error) (Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.repo.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return Order{}, err
	}

	if err := mutate(ctx, tx, &o); err != nil {
		return Order{}, err
	}

	if err := s.repo.Update(ctx, tx, o); err != nil {
		return Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit transition: %w", err)
	}
	return o, nil
}
