package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// mover implements the transfer primitive for one asset kind.
type mover interface {
	move(ctx context.Context, q Querier, from, to string, amount int64) error
	credit(ctx context.Context, q Querier, key string, amount int64) error
	balance(ctx context.Context, q Querier, key string) (int64, error)
}

// Postgres is the production ledger backed by the native_accounts and
// token_accounts tables.
type Postgres struct {
	native mover
	tokens map[Asset]mover
}

// NewPostgres wires one mover per supported asset kind.
func NewPostgres() *Postgres {
	return &Postgres{
		native: nativeMover{},
		tokens: map[Asset]mover{
			AssetTokenA: tokenMover{token: AssetTokenA},
			AssetTokenB: tokenMover{token: AssetTokenB},
		},
	}
}

func (l *Postgres) forAsset(asset Asset) (mover, error) {
	if asset == AssetNative {
		return l.native, nil
	}
	if m, ok := l.tokens[asset]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
}

func (l *Postgres) Move(ctx context.Context, q Querier, asset Asset, from, to string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("ledger: move amount must be positive, got %d", amount)
	}
	m, err := l.forAsset(asset)
	if err != nil {
		return err
	}
	return m.move(ctx, q, from, to, amount)
}

func (l *Postgres) Credit(ctx context.Context, q Querier, asset Asset, key string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("ledger: credit amount must be positive, got %d", amount)
	}
	m, err := l.forAsset(asset)
	if err != nil {
		return err
	}
	return m.credit(ctx, q, key, amount)
}

func (l *Postgres) Balance(ctx context.Context, q Querier, asset Asset, key string) (int64, error) {
	m, err := l.forAsset(asset)
	if err != nil {
		return 0, err
	}
	return m.balance(ctx, q, key)
}

// nativeMover transfers against the native_accounts table.
type nativeMover struct{}

func (nativeMover) move(ctx context.Context, q Querier, from, to string, amount int64) error {
	tag, err := q.Exec(ctx, `
		UPDATE native_accounts
		SET balance = balance - $1
		WHERE account_key = $2 AND balance >= $1
	`, amount, from)
	if err != nil {
		return fmt.Errorf("ledger: debit native %s: %w", from, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}
	return nativeMover{}.credit(ctx, q, to, amount)
}

func (nativeMover) credit(ctx context.Context, q Querier, key string, amount int64) error {
	if _, err := q.Exec(ctx, `
		INSERT INTO native_accounts (account_key, balance)
		VALUES ($1, $2)
		ON CONFLICT (account_key) DO UPDATE SET balance = native_accounts.balance + EXCLUDED.balance
	`, key, amount); err != nil {
		return fmt.Errorf("ledger: credit native %s: %w", key, err)
	}
	return nil
}

func (nativeMover) balance(ctx context.Context, q Querier, key string) (int64, error) {
	var balance int64
	err := q.QueryRow(ctx, `SELECT balance FROM native_accounts WHERE account_key = $1`, key).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: native balance %s: %w", key, err)
	}
	return balance, nil
}

// tokenMover transfers one token kind against the token_accounts table.
type tokenMover struct {
	token Asset
}

func (m tokenMover) move(ctx context.Context, q Querier, from, to string, amount int64) error {
	tag, err := q.Exec(ctx, `
		UPDATE token_accounts
		SET balance = balance - $1
		WHERE account_key = $2 AND token = $3 AND balance >= $1
	`, amount, from, string(m.token))
	if err != nil {
		return fmt.Errorf("ledger: debit %s %s: %w", m.token, from, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}
	return m.credit(ctx, q, to, amount)
}

func (m tokenMover) credit(ctx context.Context, q Querier, key string, amount int64) error {
	if _, err := q.Exec(ctx, `
		INSERT INTO token_accounts (account_key, token, balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_key, token) DO UPDATE SET balance = token_accounts.balance + EXCLUDED.balance
	`, key, string(m.token), amount); err != nil {
		return fmt.Errorf("ledger: credit %s %s: %w", m.token, key, err)
	}
	return nil
}

func (m tokenMover) balance(ctx context.Context, q Querier, key string) (int64, error) {
	var balance int64
	err := q.QueryRow(ctx, `
		SELECT balance FROM token_accounts WHERE account_key = $1 AND token = $2
	`, key, string(m.token)).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: %s balance %s: %w", m.token, key, err)
	}
	return balance, nil
}
