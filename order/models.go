package order

import (
	"errors"
	"time"

	"escrowflow/ledger"
)

// PaymentMethod names the off-chain fiat rail the buyer will pay through.
// The rail itself is external; the value is carried for correlation only.
type PaymentMethod string

const (
	MethodBankTransfer    PaymentMethod = "bank_transfer"
	MethodInstantTransfer PaymentMethod = "instant_transfer"
	MethodCash            PaymentMethod = "cash"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodBankTransfer, MethodInstantTransfer, MethodCash:
		return true
	default:
		return false
	}
}

var (
	// ErrInvalidAmount signals a non-positive asset amount.
	ErrInvalidAmount = errors.New("order: invalid amount")
	// ErrExceedsMaxLimit signals a fiat amount outside the allowed range.
	ErrExceedsMaxLimit = errors.New("order: fiat amount exceeds maximum limit")
	// ErrKYCRequired signals the actor lacks a verified identity credential.
	ErrKYCRequired = errors.New("order: kyc verification required")
	// ErrUserNotActive signals the actor's profile is deactivated.
	ErrUserNotActive = errors.New("order: user is not active")
	// ErrOrderNotOpen signals acceptance of an order that already left Open.
	ErrOrderNotOpen = errors.New("order: order is not open")
	// ErrInvalidOrderStatus signals the operation is invalid in the current status.
	ErrInvalidOrderStatus = errors.New("order: invalid order status")
	// ErrInvalidTokenType signals an asset-kind routing mismatch.
	ErrInvalidTokenType = errors.New("order: invalid token type")
	// ErrUnauthorizedSeller signals a seller-only operation called by someone else.
	ErrUnauthorizedSeller = errors.New("order: unauthorized seller")
	// ErrUnauthorizedBuyer signals a buyer-only operation called by someone else.
	ErrUnauthorizedBuyer = errors.New("order: unauthorized buyer")
	// ErrCannotTradeWithSelf signals seller and buyer are the same actor.
	ErrCannotTradeWithSelf = errors.New("order: cannot trade with yourself")
	// ErrUnauthorized signals the actor holds no release/oracle authority.
	ErrUnauthorized = errors.New("order: unauthorized")
	// ErrAlreadyExists signals a duplicate order id.
	ErrAlreadyExists = errors.New("order: already exists")
	// ErrNotFound signals no order exists for the id.
	ErrNotFound = errors.New("order: not found")
)

// Order mirrors the orders table. The escrow account has no independent
// identity: its key is derived from the order id and its balance lives in the
// ledger tables.
type Order struct {
	OrderID            string
	Seller             string
	Buyer              *string
	Amount             int64
	AmountFiat         int64
	Asset              ledger.Asset
	PaymentMethod      PaymentMethod
	Status             Status
	FiatReference      string
	FiatTransactionID  *string
	OracleConfirmed    bool
	EscrowKey          string
	CreatedAt          time.Time
	AcceptedAt         *time.Time
	FundedAt           *time.Time
	PaymentConfirmedAt *time.Time
	CompletedAt        *time.Time
}

// IsBuyer reports whether actor is the order's buyer.
func (o Order) IsBuyer(actor string) bool {
	return o.Buyer != nil && *o.Buyer == actor
}
