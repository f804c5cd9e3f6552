package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestMemory_MoveAndBalance(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	if err := l.Credit(ctx, nil, AssetNative, "seller", 1000); err != nil {
		t.Fatalf("credit: %v", err)
	}

	if err := l.Move(ctx, nil, AssetNative, "seller", EscrowKey("O1"), 1000); err != nil {
		t.Fatalf("move: %v", err)
	}

	escrow, err := l.Balance(ctx, nil, AssetNative, EscrowKey("O1"))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if escrow != 1000 {
		t.Fatalf("expected escrow balance 1000, got %d", escrow)
	}

	seller, _ := l.Balance(ctx, nil, AssetNative, "seller")
	if seller != 0 {
		t.Fatalf("expected seller balance 0, got %d", seller)
	}
}

func TestMemory_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	if err := l.Credit(ctx, nil, AssetTokenA, "seller", 100); err != nil {
		t.Fatalf("credit: %v", err)
	}

	err := l.Move(ctx, nil, AssetTokenA, "seller", "buyer", 101)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// Failed move must leave both balances untouched.
	seller, _ := l.Balance(ctx, nil, AssetTokenA, "seller")
	buyer, _ := l.Balance(ctx, nil, AssetTokenA, "buyer")
	if seller != 100 || buyer != 0 {
		t.Fatalf("balances changed on failed move: seller=%d buyer=%d", seller, buyer)
	}
}

func TestMemory_AssetsAreIsolated(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	if err := l.Credit(ctx, nil, AssetTokenA, "alice", 50); err != nil {
		t.Fatalf("credit: %v", err)
	}

	b, err := l.Balance(ctx, nil, AssetTokenB, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if b != 0 {
		t.Fatalf("token_b balance should be 0, got %d", b)
	}
}

func TestMemory_RejectsUnknownAsset(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	if err := l.Credit(ctx, nil, Asset("doge"), "alice", 1); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
	if err := l.Move(ctx, nil, Asset(""), "a", "b", 1); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
}

func TestDerivedKeys(t *testing.T) {
	if EscrowKey("O1") == BondKey("O1") {
		t.Fatal("escrow and bond keys must not collide")
	}
	if EscrowKey("O1") == EscrowKey("O2") {
		t.Fatal("escrow keys must be order-unique")
	}
}
