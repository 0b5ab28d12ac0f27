package job

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// SweepConfig bounds a reconciliation sweep.
type SweepConfig struct {
	Concurrency int
	// RatePerSecond caps ledger reads; zero means unlimited.
	RatePerSecond float64
	PageSize      int
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Scanned  int
	Advanced int
	Failed   int
}

// Sweeper reconciles every funded, non-terminal job once. It is operator
// triggered and holds no schedule of its own.
type Sweeper struct {
	coord   *Coordinator
	cfg     SweepConfig
	limiter *rate.Limiter
	log     *logrus.Entry
}

func NewSweeper(coord *Coordinator, cfg SweepConfig, log *logrus.Entry) *Sweeper {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PageSize <= 0 || cfg.PageSize > 100 {
		cfg.PageSize = 100
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Sweeper{coord: coord, cfg: cfg, limiter: limiter, log: log}
}

func (s *Sweeper) Run(ctx context.Context) (SweepReport, error) {
	candidates, err := s.candidates(ctx)
	if err != nil {
		return SweepReport{}, err
	}

	var advanced, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, j := range candidates {
		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				return err
			}
			updated, err := s.coord.Reconcile(gctx, j.ID)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				failed.Add(1)
				s.log.WithError(err).WithFields(logrus.Fields{
					"job_id": j.ID,
					"rule":   Classify(err),
				}).Warn("reconcile failed")
				return nil
			}
			if updated.Status != j.Status {
				advanced.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()

	report := SweepReport{
		Scanned:  len(candidates),
		Advanced: int(advanced.Load()),
		Failed:   int(failed.Load()),
	}
	s.log.WithFields(logrus.Fields{
		"scanned":  report.Scanned,
		"advanced": report.Advanced,
		"failed":   report.Failed,
	}).Info("reconcile sweep finished")
	if err != nil {
		return report, fmt.Errorf("job: sweep: %w", err)
	}
	return report, nil
}

// candidates snapshots funded jobs in every non-terminal status before any reconciliation runs.
func (s *Sweeper) candidates(ctx context.Context) ([]Job, error) {
	var out []Job
	for _, status := range []Status{StatusPending, StatusAccepted, StatusDisputed} {
		for page := 1; ; page++ {
			jobs, _, err := s.coord.ListJobs(ctx, Filter{Status: status, FundedOnly: true, Page: page, PageSize: s.cfg.PageSize})
			if err != nil {
				return nil, fmt.Errorf("job: sweep: %w", err)
			}
			out = append(out, jobs...)
			if len(jobs) < s.cfg.PageSize {
				break
			}
		}
	}
	return out, nil
}
