// Package chaos injects connection-level failures into a running stress test.
package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const killSQL = `
	SELECT pg_terminate_backend(pid)
	FROM pg_stat_activity
	WHERE datname = current_database() AND pid <> pg_backend_pid()
	ORDER BY random()
	LIMIT 1`

// TerminateRandomBackend kills, with 20% probability every couple of seconds,
// one random database backend belonging to the test database. Actors must
// survive the dropped connections without corrupting ledger state.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(5) != 0 {
				continue
			}
			_, _ = pool.Exec(ctx, killSQL)
		}
	}
}
