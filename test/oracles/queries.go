package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant queries. Each must return zero rows on a healthy
// database; any row is a violation sample.
func All() []Oracle {
	return []Oracle{
		{
			// Once an order reaches a terminal status its escrow account
			// must be fully drained: funds went out exactly once.
			Name: "O1_terminal_escrow_drained",
			SQL: `SELECT o.order_id, o.status, a.balance
                  FROM orders o
                  JOIN native_accounts a ON a.account_key = o.escrow_key
                  WHERE o.asset = 'native'
                    AND o.status IN ('completed', 'cancelled', 'partial_refund')
                    AND a.balance <> 0`,
		},
		{
			// While an order is live its escrow holds exactly the order
			// amount: no partial leaks in either direction.
			Name: "O2_live_escrow_intact",
			SQL: `SELECT o.order_id, o.status, o.amount, a.balance
                  FROM orders o
                  JOIN native_accounts a ON a.account_key = o.escrow_key
                  WHERE o.asset = 'native'
                    AND o.status IN ('funded', 'payment_confirmed', 'disputed')
                    AND a.balance <> o.amount`,
		},
		{
			// The native ledger is closed under transfers: the grand total
			// never drifts from the seeded checkpoint.
			Name: "O3_native_conservation",
			SQL: `SELECT COALESCE(SUM(balance), 0) AS total, c.native_total
                  FROM native_accounts, ledger_checkpoints c
                  WHERE c.id = 1
                  GROUP BY c.native_total
                  HAVING COALESCE(SUM(balance), 0) <> c.native_total`,
		},
		{
			// A resolved dispute has returned its bond.
			Name: "O4_bond_returned",
			SQL: `SELECT d.order_id, a.balance
                  FROM disputes d
                  JOIN native_accounts a ON a.account_key = 'bond:' || d.order_id
                  WHERE d.status = 'resolved' AND a.balance <> 0`,
		},
		{
			Name: "O5_resolved_has_resolution",
			SQL:  `SELECT order_id FROM disputes WHERE status = 'resolved' AND resolution IS NULL`,
		},
		{
			Name: "O6_counter_sanity",
			SQL: `SELECT owner, total_trades, successful_trades, disputed_trades
                  FROM user_profiles
                  WHERE successful_trades + disputed_trades > total_trades`,
		},
		{
			Name: "O7_completed_has_timestamp",
			SQL:  `SELECT order_id FROM orders WHERE status IN ('completed', 'partial_refund') AND completed_at IS NULL`,
		},
		{
			// A disputed or partially refunded order must carry a dispute row.
			Name: "O8_disputed_has_record",
			SQL: `SELECT o.order_id FROM orders o
                  LEFT JOIN disputes d ON d.order_id = o.order_id
                  WHERE o.status IN ('disputed', 'partial_refund') AND d.order_id IS NULL`,
		},
		{
			Name: "O9_stale_outbox",
			SQL: `SELECT id, topic FROM outbox
                  WHERE published_at IS NULL AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
