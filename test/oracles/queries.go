package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"gigflow/escrow"
	"gigflow/job"
)

type Oracle struct {
	Name string
	SQL  string
}

// All lists the store-level invariants; each query returns offending rows.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_legal_edges_only",
			SQL: `SELECT job_id, seq, from_status, to_status FROM job_events
                  WHERE from_status IS NOT NULL
                    AND (from_status, to_status) NOT IN (
                        ('pending','accepted'), ('pending','cancelled'),
                        ('accepted','completed'), ('accepted','disputed'), ('accepted','cancelled'),
                        ('disputed','completed'), ('disputed','cancelled'))`,
		},
		{
			Name: "O2_event_seq_gapless",
			SQL: `SELECT job_id, MIN(seq), MAX(seq), COUNT(*) FROM job_events
                  GROUP BY job_id HAVING MIN(seq) <> 1 OR MAX(seq) <> COUNT(*)`,
		},
		{
			Name: "O3_first_event_is_pending",
			SQL: `SELECT job_id FROM job_events
                  WHERE seq = 1 AND (from_status IS NOT NULL OR to_status <> 'pending')`,
		},
		{
			Name: "O4_status_matches_last_event",
			SQL: `SELECT j.id, j.status, e.to_status FROM jobs j
                  JOIN LATERAL (
                      SELECT to_status FROM job_events WHERE job_id = j.id ORDER BY seq DESC LIMIT 1
                  ) e ON true
                  WHERE e.to_status <> j.status`,
		},
		{
			Name: "O5_escrow_present_past_pending",
			SQL: `SELECT id, status FROM jobs
                  WHERE status IN ('accepted','completed','disputed') AND escrow_account IS NULL`,
		},
		{
			Name: "O6_dispute_record_consistent",
			SQL: `SELECT id, status FROM jobs
                  WHERE (status = 'disputed' AND (dispute_raised_by IS NULL OR dispute_decision IS NOT NULL))
                     OR (dispute_decision IS NOT NULL AND status NOT IN ('completed','cancelled'))
                     OR (dispute_decision = 'release' AND status <> 'completed')
                     OR (dispute_decision = 'refund' AND status <> 'cancelled')`,
		},
		{
			Name: "O7_job_guard_trigger_present",
			SQL: `SELECT 'missing_jobs_guard_trg' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'jobs_guard_trg')`,
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

// Ledger cross-checks terminal jobs against the escrow ledger: a completed job
// was released on-chain and a cancelled funded job was refunded.
func Ledger(ctx context.Context, jobs []job.Job, ledger escrow.Gateway) (string, string, error) {
	for _, j := range jobs {
		if !j.Funded() || !j.Status.Terminal() {
			continue
		}
		state, err := fetchState(ctx, ledger, j.EscrowAccount)
		if err != nil {
			return "", "", fmt.Errorf("oracle ledger: fetch %s: %w", j.ID, err)
		}
		want := escrow.StateReleased
		if j.Status == job.StatusCancelled {
			want = escrow.StateRefunded
		}
		if state.State != want {
			return "L1_terminal_matches_ledger", fmt.Sprintf("job=%s status=%s chain=%s", j.ID, j.Status, state.State), nil
		}
	}
	return "", "", nil
}

// fetchState tolerates a few transient failures still queued by chaos.
func fetchState(ctx context.Context, ledger escrow.Gateway, ref escrow.AccountRef) (escrow.OnChainState, error) {
	var (
		state escrow.OnChainState
		err   error
	)
	for attempt := 0; attempt < 5; attempt++ {
		state, err = ledger.FetchState(ctx, ref)
		if err == nil || !escrow.IsTransient(err) {
			return state, err
		}
	}
	return state, err
}
