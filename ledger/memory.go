package ledger

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process ledger used by unit tests and local development.
// It ignores the Querier since it owns its own state.
type Memory struct {
	mu       sync.Mutex
	balances map[Asset]map[string]int64
}

func NewMemory() *Memory {
	return &Memory{balances: make(map[Asset]map[string]int64)}
}

func (l *Memory) Move(ctx context.Context, _ Querier, asset Asset, from, to string, amount int64) error {
	if !asset.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	if amount <= 0 {
		return fmt.Errorf("ledger: move amount must be positive, got %d", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	accounts := l.accounts(asset)
	if accounts[from] < amount {
		return ErrInsufficientFunds
	}
	accounts[from] -= amount
	accounts[to] += amount
	return nil
}

func (l *Memory) Credit(ctx context.Context, _ Querier, asset Asset, key string, amount int64) error {
	if !asset.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	if amount <= 0 {
		return fmt.Errorf("ledger: credit amount must be positive, got %d", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts(asset)[key] += amount
	return nil
}

func (l *Memory) Balance(ctx context.Context, _ Querier, asset Asset, key string) (int64, error) {
	if !asset.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts(asset)[key], nil
}

func (l *Memory) accounts(asset Asset) map[string]int64 {
	accounts, ok := l.balances[asset]
	if !ok {
		accounts = make(map[string]int64)
		l.balances[asset] = accounts
	}
	return accounts
}
