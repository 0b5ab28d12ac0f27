package chaos

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"gigflow/escrow"
)

// TerminateRandomBackend periodically kills a random backend of the current
// database so the store sees dropped connections mid-transition.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, rng *rand.Rand, stop <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rng.Intn(5) == 0 {
				_, _ = pool.Exec(ctx, `SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = current_database() AND pid <> pg_backend_pid() ORDER BY random() LIMIT 1`)
			}
		}
	}
}

var errInjected = errors.New("chaos: injected ledger failure")

// LedgerFaults queues transient failures and dropped acknowledgements on the
// simulated ledger. Dropped acks leave the ledger ahead of the job store,
// which reconciliation must repair.
func LedgerFaults(ctx context.Context, ledger *escrow.SimulatedLedger, rng *rand.Rand, stop <-chan struct{}) {
	ops := []string{escrow.OpCreateAndFund, escrow.OpRelease, escrow.OpRefund, escrow.OpFetchState}
	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			op := ops[rng.Intn(len(ops))]
			switch rng.Intn(4) {
			case 0:
				ledger.FailNext(op, errInjected)
			case 1:
				if op != escrow.OpFetchState {
					ledger.DropAck(op)
				}
			}
		}
	}
}
