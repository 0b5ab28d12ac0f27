package actors

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcutil/base58"

	"gigflow/job"
)

// Wallet derives a stable ledger account address for a named actor.
func Wallet(name string) string {
	sum := sha256.Sum256([]byte(name))
	return base58.Encode(sum[:])
}

// Stats counts actor outcomes by rule. Expected losses (conflicts, stale
// states, injected ledger faults) are tallied rather than treated as failures.
type Stats struct {
	Applied   atomic.Int64
	Conflicts atomic.Int64
	Rejected  atomic.Int64
	Gateway   atomic.Int64
	Internal  atomic.Int64
}

func (s *Stats) String() string {
	return fmt.Sprintf("applied=%d conflicts=%d rejected=%d gateway=%d internal=%d",
		s.Applied.Load(), s.Conflicts.Load(), s.Rejected.Load(), s.Gateway.Load(), s.Internal.Load())
}

// observe tallies err. Authorization and validation failures can only come
// from a bug in the actors or the coordinator, so they are returned.
func (s *Stats) observe(op string, err error) error {
	switch job.Classify(err) {
	case "":
		s.Applied.Add(1)
	case job.RuleConflict:
		s.Conflicts.Add(1)
	case job.RuleState, job.RuleNotFound:
		s.Rejected.Add(1)
	case job.RuleGatewayTransient, job.RuleGatewayFatal:
		s.Gateway.Add(1)
	case job.RuleInternal:
		// dropped connections under chaos
		s.Internal.Add(1)
	default:
		return fmt.Errorf("%s: unexpected rejection: %w", op, err)
	}
	return nil
}

var prices = []string{"0.5", "1", "2.5", "3.000000001", "10"}

func pick(rng *rand.Rand, jobs []job.Job) (job.Job, bool) {
	if len(jobs) == 0 {
		return job.Job{}, false
	}
	return jobs[rng.Intn(len(jobs))], true
}

func sleep(rng *rand.Rand, base, jitter int) {
	time.Sleep(time.Duration(base+rng.Intn(jitter)) * time.Millisecond)
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

// Hirer opens jobs, retries funding, completes accepted work and cancels some jobs.
func Hirer(ctx context.Context, coord *job.Coordinator, hirer, freelancer string, rng *rand.Rand, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		var err error
		switch roll := rng.Intn(10); {
		case roll < 3:
			_, err = coord.OpenJob(ctx, job.OpenParams{
				GigRef:     fmt.Sprintf("gig-%d", rng.Intn(4)),
				Hirer:      hirer,
				Freelancer: freelancer,
				Price:      prices[rng.Intn(len(prices))],
			})
			err = stats.observe("open", err)
		case roll < 4:
			err = act(ctx, coord, rng, stats, job.Filter{Hirer: hirer, Status: job.StatusPending}, "fund",
				func(j job.Job) (job.Job, error) { return coord.FundJob(ctx, j.ID, hirer) })
		case roll < 8:
			err = act(ctx, coord, rng, stats, job.Filter{Hirer: hirer, Status: job.StatusAccepted}, "complete",
				func(j job.Job) (job.Job, error) { return coord.CompleteJob(ctx, j.ID, hirer) })
		default:
			status := job.StatusPending
			if rng.Intn(2) == 0 {
				status = job.StatusAccepted
			}
			err = act(ctx, coord, rng, stats, job.Filter{Hirer: hirer, Status: status}, "cancel",
				func(j job.Job) (job.Job, error) { return coord.CancelJob(ctx, j.ID, hirer) })
		}
		if err != nil {
			return err
		}
		sleep(rng, 5, 20)
	}
	return nil
}

// Freelancer accepts funded jobs and disputes a share of accepted ones.
func Freelancer(ctx context.Context, coord *job.Coordinator, freelancer string, rng *rand.Rand, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		var err error
		if rng.Intn(5) == 0 {
			err = act(ctx, coord, rng, stats, job.Filter{Freelancer: freelancer, Status: job.StatusAccepted}, "dispute",
				func(j job.Job) (job.Job, error) { return coord.DisputeJob(ctx, j.ID, freelancer) })
		} else {
			err = act(ctx, coord, rng, stats, job.Filter{Freelancer: freelancer, Status: job.StatusPending, FundedOnly: true}, "accept",
				func(j job.Job) (job.Job, error) { return coord.AcceptJob(ctx, j.ID, freelancer) })
		}
		if err != nil {
			return err
		}
		sleep(rng, 5, 20)
	}
	return nil
}

// Arbiter works the dispute queue with random decisions.
func Arbiter(ctx context.Context, coord *job.Coordinator, arbiter string, rng *rand.Rand, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		disputed, _, err := coord.ListDisputed(ctx, arbiter, 1, 50)
		if err != nil {
			if err := stats.observe("list disputed", err); err != nil {
				return err
			}
		} else if j, ok := pick(rng, disputed); ok {
			decision := job.DecisionRelease
			if rng.Intn(2) == 0 {
				decision = job.DecisionRefund
			}
			_, err := coord.ResolveDispute(ctx, j.ID, decision, arbiter)
			if err := stats.observe("resolve", err); err != nil {
				return err
			}
		}
		sleep(rng, 30, 50)
	}
	return nil
}

// Reconciler sweeps lagging jobs at a steady interval.
func Reconciler(ctx context.Context, sweeper *job.Sweeper, stats *Stats, stop <-chan struct{}) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		case <-ticker.C:
			report, err := sweeper.Run(ctx)
			if err != nil {
				if err := stats.observe("sweep", err); err != nil {
					return err
				}
				continue
			}
			stats.Applied.Add(int64(report.Advanced))
		}
	}
}

// act lists candidates with filter and applies op to a random one.
func act(ctx context.Context, coord *job.Coordinator, rng *rand.Rand, stats *Stats, filter job.Filter, name string, op func(job.Job) (job.Job, error)) error {
	filter.PageSize = 50
	jobs, _, err := coord.ListJobs(ctx, filter)
	if err != nil {
		return stats.observe("list", err)
	}
	j, ok := pick(rng, jobs)
	if !ok {
		return nil
	}
	_, err = op(j)
	return stats.observe(name, err)
}
