package platform

import (
	"context"
	"fmt"

	"escrowflow/policy"
)

// Store abstracts the repository for testability.
type Store interface {
	Insert(ctx context.Context, q Querier, p Platform) error
	Get(ctx context.Context, q Querier) (Platform, error)
}

// Service exposes the platform initialization and read paths.
type Service struct {
	q    Querier
	repo Store
}

func NewService(q Querier, repo Store) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{q: q, repo: repo}
}

// Initialize seeds the singleton configuration. feeBps <= 0 falls back to the
// platform default; anything above 10000 bps is rejected.
func (s *Service) Initialize(ctx context.Context, authority, treasury string, feeBps int64) (Platform, error) {
	if authority == "" || treasury == "" {
		return Platform{}, fmt.Errorf("platform: authority and treasury are required")
	}
	if feeBps <= 0 {
		feeBps = policy.DefaultFeeBps
	}
	if feeBps > policy.MaxFeeBps {
		return Platform{}, policy.ErrInvalidFeeRate
	}

	p := Platform{
		Authority: authority,
		Treasury:  treasury,
		FeeBps:    feeBps,
		IsActive:  true,
	}
	if err := s.repo.Insert(ctx, s.q, p); err != nil {
		return Platform{}, err
	}
	return s.repo.Get(ctx, s.q)
}

// Get returns the current platform configuration.
func (s *Service) Get(ctx context.Context) (Platform, error) {
	return s.repo.Get(ctx, s.q)
}
