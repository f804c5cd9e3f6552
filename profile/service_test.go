package profile

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeStore struct {
	profiles map[string]Profile
}

func newFakeStore() *fakeStore {
	return &fakeStore{profiles: make(map[string]Profile)}
}

func (f *fakeStore) Create(_ context.Context, p Profile) (Profile, error) {
	if _, exists := f.profiles[p.Owner]; exists {
		return Profile{}, ErrAlreadyExists
	}
	p.IsActive = true
	p.CreatedAt = time.Now().UTC()
	f.profiles[p.Owner] = p
	return p, nil
}

func (f *fakeStore) Get(_ context.Context, owner string) (Profile, error) {
	p, ok := f.profiles[owner]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func TestCreate_Succeeds(t *testing.T) {
	svc := NewService(newFakeStore())

	ref := "credential-123"
	p, err := svc.Create(context.Background(), "alice", true, &ref)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !p.KYCVerified || p.KYCCredentialRef == nil || *p.KYCCredentialRef != ref {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if p.TotalTrades != 0 || p.SuccessfulTrades != 0 || p.DisputedTrades != 0 {
		t.Fatalf("expected zeroed counters, got %+v", p)
	}
	if !p.IsActive {
		t.Fatal("expected active profile")
	}
}

func TestCreate_Duplicate(t *testing.T) {
	svc := NewService(newFakeStore())

	if _, err := svc.Create(context.Background(), "alice", true, nil); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := svc.Create(context.Background(), "alice", false, nil); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestCreate_EmptyCredentialRefIsDropped(t *testing.T) {
	svc := NewService(newFakeStore())

	empty := ""
	p, err := svc.Create(context.Background(), "bob", false, &empty)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.KYCCredentialRef != nil {
		t.Fatalf("expected nil credential ref, got %q", *p.KYCCredentialRef)
	}
}

func TestCanTrade(t *testing.T) {
	cases := []struct {
		kyc, active, want bool
	}{
		{true, true, true},
		{true, false, false},
		{false, true, false},
		{false, false, false},
	}
	for _, tc := range cases {
		p := Profile{KYCVerified: tc.kyc, IsActive: tc.active}
		if p.CanTrade() != tc.want {
			t.Fatalf("CanTrade kyc=%v active=%v: want %v", tc.kyc, tc.active, tc.want)
		}
	}
}
