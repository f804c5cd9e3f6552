package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"escrowflow/auth"
	"escrowflow/dispute"
	"escrowflow/ledger"
	"escrowflow/order"
	"escrowflow/platform"
	"escrowflow/profile"
)

type ctxKey int

const ctxKeyIdentity ctxKey = iota

type orderService interface {
	Create(ctx context.Context, seller string, params order.CreateParams) (order.Order, error)
	Accept(ctx context.Context, buyer, orderID string) (order.Order, error)
	Deposit(ctx context.Context, seller, orderID string) (order.Order, error)
	ConfirmFiatPayment(ctx context.Context, buyer, orderID, fiatTransactionID string) (order.Order, error)
	Release(ctx context.Context, actor, orderID string) (order.Order, error)
	Cancel(ctx context.Context, actor, orderID string) (order.Order, error)
	UpdateOracleStatus(ctx context.Context, oracle, orderID string, confirmed bool) (order.Order, error)
}

type orderStore interface {
	Get(ctx context.Context, orderID string) (order.Order, error)
}

type disputeService interface {
	Open(ctx context.Context, initiator, orderID, reason, evidence string) (dispute.Dispute, error)
	Resolve(ctx context.Context, actor, orderID string, resolution order.Resolution, notes string) (dispute.Dispute, error)
	ResolveSplit(ctx context.Context, actor, orderID string) (order.Order, error)
}

type disputeStore interface {
	Get(ctx context.Context, orderID string) (dispute.Dispute, error)
}

type profileService interface {
	Create(ctx context.Context, owner string, kycVerified bool, credentialRef *string) (profile.Profile, error)
	Get(ctx context.Context, owner string) (profile.Profile, error)
}

type platformService interface {
	Initialize(ctx context.Context, authority, treasury string, feeBps int64) (platform.Platform, error)
	Get(ctx context.Context) (platform.Platform, error)
}

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Identity, error)
}

// Server routes HTTP requests to the lifecycle services.
type Server struct {
	orderService    orderService
	orders          orderStore
	disputeService  disputeService
	disputes        disputeStore
	profileService  profileService
	platformService platformService
	authService     authService
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/api/platform", s.handleInitializePlatform)
		r.Get("/api/platform", s.handlePlatform)

		r.Post("/api/profiles", s.handleCreateProfile)
		r.Get("/api/profiles/{owner}", s.handleProfile)

		r.Post("/api/orders", s.handleCreateOrder)
		r.Get("/api/orders/{orderID}", s.handleOrder)
		r.Post("/api/orders/{orderID}/accept", s.handleAcceptOrder)
		r.Post("/api/orders/{orderID}/deposit", s.handleDeposit)
		r.Post("/api/orders/{orderID}/confirm-payment", s.handleConfirmPayment)
		r.Post("/api/orders/{orderID}/release", s.handleRelease)
		r.Post("/api/orders/{orderID}/cancel", s.handleCancel)
		r.Post("/api/orders/{orderID}/oracle", s.handleOracleStatus)

		r.Post("/api/orders/{orderID}/dispute", s.handleOpenDispute)
		r.Get("/api/orders/{orderID}/dispute", s.handleDispute)
		r.Post("/api/orders/{orderID}/dispute/resolve", s.handleResolveDispute)
		r.Post("/api/orders/{orderID}/dispute/split", s.handleResolveSplit)
	})

	return r
}

// authenticate verifies the bearer token and stores the caller identity in
// the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		identity, err := s.authService.VerifyToken(token)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyIdentity, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFrom(r *http.Request) (auth.Identity, bool) {
	identity, ok := r.Context().Value(ctxKeyIdentity).(auth.Identity)
	return identity, ok
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, userResponse{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		AccountKey:  user.AccountKey,
		Role:        string(user.Role),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token: result.Token,
		User: userResponse{
			ID:          result.User.ID,
			Email:       result.User.Email,
			DisplayName: result.User.DisplayName,
			AccountKey:  result.User.AccountKey,
			Role:        string(result.User.Role),
		},
	})
}

func (s *Server) handleInitializePlatform(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Authority string `json:"authority"`
		Treasury  string `json:"treasury"`
		FeeBps    int64  `json:"feeBps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.platformService.Initialize(r.Context(), req.Authority, req.Treasury, req.FeeBps)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPlatformResponse(p))
}

func (s *Server) handlePlatform(w http.ResponseWriter, r *http.Request) {
	p, err := s.platformService.Get(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlatformResponse(p))
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var req struct {
		KYCVerified   bool    `json:"kycVerified"`
		CredentialRef *string `json:"credentialRef"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.profileService.Create(r.Context(), identity.AccountKey, req.KYCVerified, req.CredentialRef)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProfileResponse(p))
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	if owner == "" {
		writeJSONError(w, http.StatusBadRequest, "owner is required")
		return
	}

	p, err := s.profileService.Get(r.Context(), owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var req struct {
		OrderID       string `json:"orderId"`
		Amount        int64  `json:"amount"`
		AmountFiat    int64  `json:"amountFiat"`
		Asset         string `json:"asset"`
		PaymentMethod string `json:"paymentMethod"`
		FiatReference string `json:"fiatReference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := s.orderService.Create(r.Context(), identity.AccountKey, order.CreateParams{
		OrderID:       req.OrderID,
		Amount:        req.Amount,
		AmountFiat:    req.AmountFiat,
		Asset:         ledger.Asset(req.Asset),
		PaymentMethod: order.PaymentMethod(req.PaymentMethod),
		FiatReference: req.FiatReference,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.orders.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// handleOrderAction covers the transitions whose request is just the actor
// and the order id.
func (s *Server) handleOrderAction(w http.ResponseWriter, r *http.Request, act func(ctx context.Context, actor, orderID string) (order.Order, error)) {
	identity, ok := identityFrom(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	o, err := act(r.Context(), identity.AccountKey, chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleAcceptOrder(w http.ResponseWriter, r *http.Request) {
	s.handleOrderAction(w, r, s.orderService.Accept)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleOrderAction(w, r, s.orderService.Deposit)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	s.handleOrderAction(w, r, s.orderService.Release)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.handleOrderAction(w, r, s.orderService.Cancel)
}

func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var req struct {
		FiatTransactionID string `json:"fiatTransactionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := s.orderService.ConfirmFiatPayment(r.Context(), identity.AccountKey, chi.URLParam(r, "orderID"), req.FiatTransactionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleOracleStatus(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var req struct {
		Confirmed bool `json:"confirmed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := s.orderService.UpdateOracleStatus(r.Context(), identity.AccountKey, chi.URLParam(r, "orderID"), req.Confirmed)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleOpenDispute(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var req struct {
		Reason   string `json:"reason"`
		Evidence string `json:"evidence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := s.disputeService.Open(r.Context(), identity.AccountKey, chi.URLParam(r, "orderID"), req.Reason, req.Evidence)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisputeResponse(d))
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	d, err := s.disputes.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var req struct {
		Resolution string `json:"resolution"`
		Notes      string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := s.disputeService.Resolve(r.Context(), identity.AccountKey, chi.URLParam(r, "orderID"), order.Resolution(req.Resolution), req.Notes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (s *Server) handleResolveSplit(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	o, err := s.disputeService.ResolveSplit(r.Context(), identity.AccountKey, chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, profile.ErrNotFound),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, platform.ErrNotInitialized),
		errors.Is(err, auth.ErrUserNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrAlreadyExists),
		errors.Is(err, profile.ErrAlreadyExists),
		errors.Is(err, dispute.ErrAlreadyExists),
		errors.Is(err, platform.ErrAlreadyInitialized),
		errors.Is(err, auth.ErrDuplicateEmail):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, order.ErrOrderNotOpen),
		errors.Is(err, order.ErrInvalidOrderStatus),
		errors.Is(err, dispute.ErrAlreadyResolved),
		errors.Is(err, ledger.ErrInsufficientFunds):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, order.ErrUnauthorized),
		errors.Is(err, order.ErrUnauthorizedSeller),
		errors.Is(err, order.ErrUnauthorizedBuyer):
		writeJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeJSONError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, order.ErrInvalidAmount),
		errors.Is(err, order.ErrExceedsMaxLimit),
		errors.Is(err, order.ErrKYCRequired),
		errors.Is(err, order.ErrUserNotActive),
		errors.Is(err, order.ErrInvalidTokenType),
		errors.Is(err, order.ErrCannotTradeWithSelf),
		errors.Is(err, dispute.ErrInvalidResolution),
		errors.Is(err, auth.ErrWeakPassword):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("internal error: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

type userResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	AccountKey  string `json:"accountKey"`
	Role        string `json:"role"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type platformResponse struct {
	Authority         string `json:"authority"`
	Treasury          string `json:"treasury"`
	FeeBps            int64  `json:"feeBps"`
	TotalVolume       int64  `json:"totalVolume"`
	TotalTransactions int64  `json:"totalTransactions"`
	IsActive          bool   `json:"isActive"`
	CreatedAt         string `json:"createdAt"`
}

func toPlatformResponse(p platform.Platform) platformResponse {
	return platformResponse{
		Authority:         p.Authority,
		Treasury:          p.Treasury,
		FeeBps:            p.FeeBps,
		TotalVolume:       p.TotalVolume,
		TotalTransactions: p.TotalTransactions,
		IsActive:          p.IsActive,
		CreatedAt:         p.CreatedAt.Format(time.RFC3339),
	}
}

type profileResponse struct {
	Owner            string  `json:"owner"`
	KYCVerified      bool    `json:"kycVerified"`
	KYCCredentialRef *string `json:"kycCredentialRef,omitempty"`
	TotalTrades      int64   `json:"totalTrades"`
	SuccessfulTrades int64   `json:"successfulTrades"`
	DisputedTrades   int64   `json:"disputedTrades"`
	IsActive         bool    `json:"isActive"`
	CreatedAt        string  `json:"createdAt"`
}

func toProfileResponse(p profile.Profile) profileResponse {
	return profileResponse{
		Owner:            p.Owner,
		KYCVerified:      p.KYCVerified,
		KYCCredentialRef: p.KYCCredentialRef,
		TotalTrades:      p.TotalTrades,
		SuccessfulTrades: p.SuccessfulTrades,
		DisputedTrades:   p.DisputedTrades,
		IsActive:         p.IsActive,
		CreatedAt:        p.CreatedAt.Format(time.RFC3339),
	}
}

type orderResponse struct {
	OrderID           string  `json:"orderId"`
	Seller            string  `json:"seller"`
	Buyer             *string `json:"buyer,omitempty"`
	Amount            int64   `json:"amount"`
	AmountFiat        int64   `json:"amountFiat"`
	Asset             string  `json:"asset"`
	PaymentMethod     string  `json:"paymentMethod"`
	Status            string  `json:"status"`
	FiatReference     string  `json:"fiatReference,omitempty"`
	FiatTransactionID *string `json:"fiatTransactionId,omitempty"`
	OracleConfirmed   bool    `json:"oracleConfirmed"`
	CreatedAt         string  `json:"createdAt"`
	CompletedAt       *string `json:"completedAt,omitempty"`
}

func toOrderResponse(o order.Order) orderResponse {
	resp := orderResponse{
		OrderID:           o.OrderID,
		Seller:            o.Seller,
		Buyer:             o.Buyer,
		Amount:            o.Amount,
		AmountFiat:        o.AmountFiat,
		Asset:             string(o.Asset),
		PaymentMethod:     string(o.PaymentMethod),
		Status:            string(o.Status),
		FiatReference:     o.FiatReference,
		FiatTransactionID: o.FiatTransactionID,
		OracleConfirmed:   o.OracleConfirmed,
		CreatedAt:         o.CreatedAt.Format(time.RFC3339),
	}
	if o.CompletedAt != nil {
		completed := o.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &completed
	}
	return resp
}

type disputeResponse struct {
	OrderID         string  `json:"orderId"`
	Initiator       string  `json:"initiator"`
	Reason          string  `json:"reason"`
	Evidence        string  `json:"evidence,omitempty"`
	Bond            int64   `json:"bond"`
	Status          string  `json:"status"`
	Resolver        *string `json:"resolver,omitempty"`
	Resolution      *string `json:"resolution,omitempty"`
	ResolutionNotes *string `json:"resolutionNotes,omitempty"`
	CreatedAt       string  `json:"createdAt"`
	ResolvedAt      *string `json:"resolvedAt,omitempty"`
}

func toDisputeResponse(d dispute.Dispute) disputeResponse {
	resp := disputeResponse{
		OrderID:         d.OrderID,
		Initiator:       d.Initiator,
		Reason:          d.Reason,
		Evidence:        d.Evidence,
		Bond:            d.Bond,
		Status:          string(d.Status),
		Resolver:        d.Resolver,
		ResolutionNotes: d.ResolutionNotes,
		CreatedAt:       d.CreatedAt.Format(time.RFC3339),
	}
	if d.Resolution != nil {
		res := string(*d.Resolution)
		resp.Resolution = &res
	}
	if d.ResolvedAt != nil {
		resolved := d.ResolvedAt.Format(time.RFC3339)
		resp.ResolvedAt = &resolved
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
