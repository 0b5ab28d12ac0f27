package dispute

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gigflow/job"
)

// ErrNoDispute is returned when a job carries no dispute record.
var ErrNoDispute = errors.New("dispute: job has no dispute")

// Coordinator is the subset of job.Coordinator disputes are routed through.
type Coordinator interface {
	DisputeJob(ctx context.Context, jobID, actor string) (job.Job, error)
	ResolveDispute(ctx context.Context, jobID string, decision job.Decision, arbiter string) (job.Job, error)
	ListDisputed(ctx context.Context, arbiter string, page, pageSize int) ([]job.Job, int, error)
	View(ctx context.Context, jobID, viewer string) (job.Job, error)
}

type Service struct {
	coord Coordinator
}

func NewService(coord Coordinator) *Service {
	return &Service{coord: coord}
}

// ParseDecision accepts "release" or "refund", case-insensitively.
func ParseDecision(raw string) (job.Decision, error) {
	d := job.Decision(strings.ToLower(strings.TrimSpace(raw)))
	if !d.Valid() {
		return "", fmt.Errorf("%w: decision must be release or refund, got %q", job.ErrValidation, raw)
	}
	return d, nil
}

// Raise opens a dispute on an accepted job on behalf of one of its parties.
func (s *Service) Raise(ctx context.Context, jobID, actor string) (Record, error) {
	j, err := s.coord.DisputeJob(ctx, jobID, actor)
	if err != nil {
		return Record{}, err
	}
	return recordFromJob(j), nil
}

// Get returns the dispute attached to a job for a party or an arbiter.
func (s *Service) Get(ctx context.Context, jobID, viewer string) (Record, error) {
	j, err := s.coord.View(ctx, jobID, viewer)
	if err != nil {
		return Record{}, err
	}
	if j.Dispute == nil {
		return Record{}, ErrNoDispute
	}
	return recordFromJob(j), nil
}

// Resolve applies the arbiter's decision. The coordinator re-checks the arbiter role.
func (s *Service) Resolve(ctx context.Context, jobID, arbiter, decision string) (Record, error) {
	d, err := ParseDecision(decision)
	if err != nil {
		return Record{}, err
	}
	j, err := s.coord.ResolveDispute(ctx, jobID, d, arbiter)
	if err != nil {
		return Record{}, err
	}
	return recordFromJob(j), nil
}

// ListOpen is the arbiter's queue of unresolved disputes.
func (s *Service) ListOpen(ctx context.Context, arbiter string, page, pageSize int) ([]Record, int, error) {
	jobs, total, err := s.coord.ListDisputed(ctx, arbiter, page, pageSize)
	if err != nil {
		return nil, 0, err
	}
	out := make([]Record, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, recordFromJob(j))
	}
	return out, total, nil
}
