package job

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used for development and tests.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[string]Job
	events map[string][]Event
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[string]Job),
		events: make(map[string][]Event),
		now:    time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *MemoryStore) Insert(ctx context.Context, j Job) error {
	if j.ID == "" {
		return fmt.Errorf("job: insert: missing id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[j.ID]; exists {
		return fmt.Errorf("job: insert: duplicate id %s", j.ID)
	}
	now := s.now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = j.CreatedAt
	s.jobs[j.ID] = cloneJob(j)
	s.events[j.ID] = append(s.events[j.ID], Event{
		JobID:     j.ID,
		Seq:       1,
		ToStatus:  j.Status,
		Actor:     j.Hirer,
		CreatedAt: now,
	})
	return nil
}

func (s *MemoryStore) ConditionalUpdate(ctx context.Context, id string, cond Condition, patch Patch) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	if !cond.Holds(j) {
		return Job{}, ErrConflict
	}
	if patch.EscrowAccount != "" && j.Funded() {
		return Job{}, ErrConflict
	}
	if patch.Status != "" && patch.Status != j.Status && !CanTransition(j.Status, patch.Status) {
		return Job{}, invalidStatef("illegal transition %s -> %s for job %s", j.Status, patch.Status, id)
	}

	from := j.Status
	if patch.Status != "" {
		j.Status = patch.Status
	}
	if patch.EscrowAccount != "" {
		j.EscrowAccount = patch.EscrowAccount
	}
	if patch.Dispute != nil {
		d := *patch.Dispute
		j.Dispute = &d
	}
	now := s.now().UTC()
	j.UpdatedAt = now
	s.jobs[id] = cloneJob(j)

	if patch.Status != "" && patch.Status != from {
		evs := s.events[id]
		s.events[id] = append(evs, Event{
			JobID:      id,
			Seq:        len(evs) + 1,
			FromStatus: &from,
			ToStatus:   patch.Status,
			Actor:      patch.Actor,
			CreatedAt:  now,
		})
	}
	return cloneJob(j), nil
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]Job, int, error) {
	filter = filter.normalized()
	s.mu.Lock()
	matched := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if filter.matches(j) {
			matched = append(matched, cloneJob(j))
		}
	}
	s.mu.Unlock()

	sort.Slice(matched, func(a, b int) bool {
		if matched[a].CreatedAt.Equal(matched[b].CreatedAt) {
			return matched[a].ID < matched[b].ID
		}
		return matched[a].CreatedAt.After(matched[b].CreatedAt)
	})

	total := len(matched)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return []Job{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *MemoryStore) Events(ctx context.Context, id string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return nil, ErrNotFound
	}
	out := make([]Event, len(s.events[id]))
	copy(out, s.events[id])
	return out, nil
}

func cloneJob(j Job) Job {
	if j.Dispute != nil {
		d := *j.Dispute
		if d.ResolvedAt != nil {
			t := *d.ResolvedAt
			d.ResolvedAt = &t
		}
		j.Dispute = &d
	}
	return j
}
