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
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"gigflow/auth"
	"gigflow/escrow"
	"gigflow/job"
	"gigflow/test/actors"
	"gigflow/test/chaos"
	"gigflow/test/infra"
	"gigflow/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 30*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 4, "number of hirer/freelancer pairs")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

const arbiterIdentity = "stress-arbiter"

func TestJobLifecycleConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test skipped in -short mode")
	}
	seed := *flSeed
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	pgC, dsn, shared := resolveDatabase(t, ctx)
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, shared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	authService := auth.NewService(auth.NewRepository(pool), "stress-secret")
	if _, err := authService.GrantRole(ctx, arbiterIdentity, auth.RoleAdmin); err != nil {
		t.Fatalf("seed arbiter: %v", err)
	}

	ledger := escrow.NewSimulatedLedger()
	store := job.NewPGRepository(pool)
	coord := job.NewCoordinator(job.Deps{
		Store:   store,
		Gateway: ledger,
		Roles:   authService,
		Log:     logrus.NewEntry(logger),
	})
	sweeper := job.NewSweeper(coord, job.SweepConfig{Concurrency: 4}, logrus.NewEntry(logger))

	root := rand.New(rand.NewSource(seed))
	rngFor := func() *rand.Rand { return rand.New(rand.NewSource(root.Int63())) }

	stats := &actors.Stats{}
	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flConcurrency; i++ {
		hirer := actors.Wallet(fmt.Sprintf("hirer-%d", i))
		freelancer := actors.Wallet(fmt.Sprintf("freelancer-%d", i%2))
		hirerRNG, freelancerRNG := rngFor(), rngFor()
		g.Go(func() error { return actors.Hirer(ctx2, coord, hirer, freelancer, hirerRNG, stats, stop) })
		g.Go(func() error { return actors.Freelancer(ctx2, coord, freelancer, freelancerRNG, stats, stop) })
	}
	arbiterRNG := rngFor()
	g.Go(func() error { return actors.Arbiter(ctx2, coord, arbiterIdentity, arbiterRNG, stats, stop) })
	g.Go(func() error { return actors.Reconciler(ctx2, sweeper, stats, stop) })

	go chaos.LedgerFaults(ctx2, ledger, rngFor(), stop)
	go chaos.TerminateRandomBackend(ctx2, pool, rngFor(), stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			checkOracles(t, ctx2, pool, seed, false)
		}
	}

	close(stop)
	if err := g.Wait(); err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v (seed=%d)", err, seed)
		}
	}
	t.Logf("actor outcomes: %s", stats)

	// drain what chaos left behind, then the ledger and store must agree
	for attempt := 0; attempt < 3; attempt++ {
		report, err := sweeper.Run(ctx)
		if err != nil {
			t.Fatalf("final sweep: %v", err)
		}
		if report.Failed == 0 {
			break
		}
	}
	checkOracles(t, ctx, pool, seed, true)

	jobs := allJobs(t, ctx, store)
	if name, row, err := oracles.Ledger(ctx, jobs, ledger); err != nil {
		t.Fatalf("ledger oracle: %v", err)
	} else if name != "" {
		t.Fatalf("Oracle %s failed: %s (seed=%d)", name, row, seed)
	}
}

// checkOracles fails the test on any invariant violation. While chaos is
// running a query error only means its backend was killed.
func checkOracles(t *testing.T, ctx context.Context, pool *pgxpool.Pool, seed int64, final bool) {
	t.Helper()
	name, row, err := oracles.Run(ctx, pool)
	if err != nil {
		if !final || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			t.Logf("oracle query skipped: %v", err)
			return
		}
		t.Fatalf("oracle error: %v", err)
	}
	if name != "" {
		dumpRecent(t, ctx, pool)
		t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
	}
}

func allJobs(t *testing.T, ctx context.Context, store job.Store) []job.Job {
	t.Helper()
	var out []job.Job
	for page := 1; ; page++ {
		jobs, total, err := store.List(ctx, job.Filter{Page: page, PageSize: 100})
		if err != nil {
			t.Fatalf("list jobs: %v", err)
		}
		out = append(out, jobs...)
		if len(out) >= total || len(jobs) == 0 {
			return out
		}
	}
}

// resolveDatabase picks, in order: -dsn, STRESS_TEST_PG_DSN, a Docker
// container, a local Postgres. It skips when none is reachable.
func resolveDatabase(t *testing.T, ctx context.Context) (*infra.PGContainer, string, bool) {
	t.Helper()
	switch {
	case *flDSN != "":
		return &infra.PGContainer{}, *flDSN, true
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		return &infra.PGContainer{}, os.Getenv("STRESS_TEST_PG_DSN"), true
	case dockerAvailable(ctx):
		pgC, dsn, err := infra.StartPostgres16(ctx, "")
		if err != nil {
			t.Fatalf("start postgres: %v", err)
		}
		return pgC, dsn, false
	}
	dsn, err := infra.InitLocalDatabase(ctx)
	if err != nil {
		t.Skipf("no postgres available for stress test: %v", err)
	}
	return &infra.PGContainer{}, dsn, false
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

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"jobs", `SELECT id, status, escrow_account, dispute_decision, updated_at FROM jobs ORDER BY updated_at DESC LIMIT 50`},
		{"job_events", `SELECT job_id, seq, from_status, to_status, actor, created_at FROM job_events ORDER BY created_at DESC LIMIT 50`},
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
				buf = append(buf, fmt.Sprintf("%s=%v", cols[i].Name, vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
