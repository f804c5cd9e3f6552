package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"escrowflow/dispute"
	"escrowflow/ledger"
	"escrowflow/order"
	"escrowflow/platform"
	"escrowflow/policy"
	"escrowflow/profile"
	"escrowflow/test/actors"
	"escrowflow/test/chaos"
	"escrowflow/test/infra"
	"escrowflow/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actors")
	flOrders      = flag.Int("orders", 16, "number of seeded orders to fight over")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

const (
	authorityKey = "authority"
	treasuryKey  = "treasury"
	tradeAmount  = 1000
)

func seedRNG(seed int64) { rand.Seed(seed) }

func TestEscrowConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	seedRNG(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	led := ledger.NewPostgres()
	orderSvc := order.NewService(pool, order.NewRepository(pool), led)
	disputeSvc := dispute.NewService(pool, dispute.NewRepository(pool), led)

	trades := mustSeed(t, ctx, pool, led, orderSvc)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	// releasers and cancellers battling over the same escrows
	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error { return actors.Releaser(ctx2, orderSvc, authorityKey, trades, stop) })
		g.Go(func() error { return actors.Canceller(ctx2, orderSvc, trades, stop) })
	}

	// disputer runs the full open/resolve/disburse cycle
	g.Go(func() error { return actors.Disputer(ctx2, orderSvc, disputeSvc, authorityKey, trades, stop) })
	// outbox worker
	g.Go(func() error { return actors.OutboxWorker(ctx2, pool, stop) })
	// chaos: kill random backend
	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

// mustSeed initializes the platform, funds the parties, and walks every
// order to Funded, with every second one carried on to PaymentConfirmed.
func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool, led ledger.Ledger, orderSvc *order.Service) []actors.Trade {
	t.Helper()

	if _, err := platform.NewService(pool, nil).Initialize(ctx, authorityKey, treasuryKey, 50); err != nil {
		t.Fatalf("seed platform: %v", err)
	}

	profileSvc := profile.NewService(profile.NewRepository(pool))
	trades := make([]actors.Trade, 0, *flOrders)

	for i := 0; i < *flOrders; i++ {
		tr := actors.Trade{
			OrderID: fmt.Sprintf("stress-%d", i),
			Seller:  fmt.Sprintf("seller-%d", i),
			Buyer:   fmt.Sprintf("buyer-%d", i),
		}

		for _, owner := range []string{tr.Seller, tr.Buyer} {
			if _, err := profileSvc.Create(ctx, owner, true, nil); err != nil {
				t.Fatalf("seed profile %s: %v", owner, err)
			}
		}
		if err := led.Credit(ctx, pool, ledger.AssetNative, tr.Seller, tradeAmount); err != nil {
			t.Fatalf("seed seller balance: %v", err)
		}
		// enough bond headroom that repeated disputes never bottom out
		if err := led.Credit(ctx, pool, ledger.AssetNative, tr.Buyer, 100*policy.DisputeBond); err != nil {
			t.Fatalf("seed buyer balance: %v", err)
		}

		if _, err := orderSvc.Create(ctx, tr.Seller, order.CreateParams{
			OrderID:       tr.OrderID,
			Amount:        tradeAmount,
			AmountFiat:    500_000_000,
			Asset:         ledger.AssetNative,
			PaymentMethod: order.MethodBankTransfer,
			FiatReference: fmt.Sprintf("ref-%d", i),
		}); err != nil {
			t.Fatalf("seed order %s: %v", tr.OrderID, err)
		}
		if _, err := orderSvc.Accept(ctx, tr.Buyer, tr.OrderID); err != nil {
			t.Fatalf("seed accept %s: %v", tr.OrderID, err)
		}
		if _, err := orderSvc.Deposit(ctx, tr.Seller, tr.OrderID); err != nil {
			t.Fatalf("seed deposit %s: %v", tr.OrderID, err)
		}
		if i%2 == 1 {
			if _, err := orderSvc.ConfirmFiatPayment(ctx, tr.Buyer, tr.OrderID, fmt.Sprintf("fiat-%d", i)); err != nil {
				t.Fatalf("seed confirm %s: %v", tr.OrderID, err)
			}
		}

		trades = append(trades, tr)
	}

	// checkpoint the grand total for the conservation oracle
	if _, err := pool.Exec(ctx, `
		INSERT INTO ledger_checkpoints (id, native_total)
		SELECT 1, COALESCE(SUM(balance), 0) FROM native_accounts
	`); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	return trades
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"orders", `SELECT order_id, status, amount, oracle_confirmed, completed_at FROM orders ORDER BY order_id LIMIT 50`},
		{"disputes", `SELECT order_id, initiator, status, resolution, resolved_at FROM disputes ORDER BY order_id LIMIT 50`},
		{"order_events", `SELECT id, order_id, type, actor, created_at FROM order_events ORDER BY id DESC LIMIT 50`},
		{"native_accounts", `SELECT account_key, balance FROM native_accounts ORDER BY account_key LIMIT 50`},
		{"outbox", `SELECT id, topic, created_at, published_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
