package profile

import (
	"context"
	"fmt"
)

// Store abstracts repository operations for the service.
type Store interface {
	Create(ctx context.Context, p Profile) (Profile, error)
	Get(ctx context.Context, owner string) (Profile, error)
}

// Service exposes profile registration and lookup. Counter mutation is not a
// caller-facing operation; it happens inside order and dispute transactions
// at their controlled increment points.
type Service struct {
	repo Store
}

func NewService(repo Store) *Service {
	return &Service{repo: repo}
}

// Create registers a trading profile for the actor. The KYC flag and
// credential reference come from the external credential issuer.
func (s *Service) Create(ctx context.Context, owner string, kycVerified bool, credentialRef *string) (Profile, error) {
	if owner == "" {
		return Profile{}, fmt.Errorf("profile: owner required")
	}
	if credentialRef != nil && *credentialRef == "" {
		credentialRef = nil
	}
	return s.repo.Create(ctx, Profile{
		Owner:            owner,
		KYCVerified:      kycVerified,
		KYCCredentialRef: credentialRef,
	})
}

// Get returns the profile for the owner key.
func (s *Service) Get(ctx context.Context, owner string) (Profile, error) {
	return s.repo.Get(ctx, owner)
}
