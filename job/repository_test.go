package job

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"gigflow/escrow"
	"gigflow/test/infra"
)

func newPGHarness(t *testing.T) (*harness, *PGRepository, *infra.Harness) {
	t.Helper()
	db := infra.HarnessFromEnv(t)
	if err := db.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	repo := NewPGRepository(db.Pool())
	return newHarnessWithStore(t, repo), repo, db
}

func TestPGRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	h, repo, _ := newPGHarness(t)

	j := h.openFunded(t)
	stored, err := repo.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Price != "2.5" || stored.Status != StatusPending || stored.EscrowAccount != j.EscrowAccount {
		t.Fatalf("unexpected stored job: %+v", stored)
	}

	if _, err := h.coord.AcceptJob(ctx, j.ID, freelancer); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := h.coord.DisputeJob(ctx, j.ID, hirer); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	resolved, err := h.coord.ResolveDispute(ctx, j.ID, DecisionRelease, arbiter)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != StatusCompleted || resolved.Dispute == nil || resolved.Dispute.Decision != DecisionRelease {
		t.Fatalf("unexpected resolved job: %+v", resolved)
	}
	if resolved.Dispute.RaisedBy != hirer || resolved.Dispute.ResolvedBy != arbiter || resolved.Dispute.ResolvedAt == nil {
		t.Fatalf("dispute record not persisted: %+v", resolved.Dispute)
	}

	events, err := repo.Events(ctx, j.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	want := []Status{StatusPending, StatusAccepted, StatusDisputed, StatusCompleted}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, ev := range events {
		if ev.Seq != i+1 || ev.ToStatus != want[i] {
			t.Fatalf("event %d: %+v", i, ev)
		}
		if i > 0 && (ev.FromStatus == nil || !CanTransition(*ev.FromStatus, ev.ToStatus)) {
			t.Fatalf("illegal edge recorded: %+v", ev)
		}
	}
}

func TestPGRepositoryConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	h, repo, _ := newPGHarness(t)
	j := h.openFunded(t)

	if _, err := repo.ConditionalUpdate(ctx, j.ID, Condition{Status: StatusAccepted}, Patch{Status: StatusCompleted, Actor: hirer}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on stale status, got %v", err)
	}
	if _, err := repo.ConditionalUpdate(ctx, j.ID, Condition{Status: StatusPending, Escrow: EscrowAbsent}, Patch{Status: StatusAccepted, Actor: freelancer}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on escrow condition, got %v", err)
	}
	other := escrow.AccountRef("11111111111111111111111111111111")
	if _, err := repo.ConditionalUpdate(ctx, j.ID, Condition{Status: StatusPending}, Patch{EscrowAccount: other, Actor: hirer}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected escrow ref to be immutable, got %v", err)
	}
	if _, err := repo.ConditionalUpdate(ctx, "00000000-0000-4000-8000-999999999999", Condition{Status: StatusPending}, Patch{Status: StatusCancelled}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.ConditionalUpdate(ctx, j.ID, Condition{Status: StatusPending, Escrow: EscrowPresent}, Patch{Status: StatusCompleted, Actor: hirer}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected guard rejection as ErrInvalidState, got %v", err)
	}
	if _, err := repo.Get(ctx, "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for malformed id, got %v", err)
	}
}

func TestPGGuardTriggerRejectsIllegalEdges(t *testing.T) {
	ctx := context.Background()
	h, _, db := newPGHarness(t)
	j := h.openFunded(t)

	_, err := db.Pool().Exec(ctx, `UPDATE jobs SET status = 'completed' WHERE id = $1`, j.ID)
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23514" {
		t.Fatalf("expected check violation for pending -> completed, got %v", err)
	}

	_, err = db.Pool().Exec(ctx, `UPDATE jobs SET escrow_account = NULL WHERE id = $1`, j.ID)
	if !errors.As(err, &pgErr) || pgErr.Code != "23514" {
		t.Fatalf("expected check violation when clearing escrow, got %v", err)
	}
}

func TestPGRepositoryList(t *testing.T) {
	ctx := context.Background()
	h, repo, _ := newPGHarness(t)

	first := h.openFunded(t)
	h.openFunded(t)
	if _, err := h.coord.AcceptJob(ctx, first.ID, freelancer); err != nil {
		t.Fatalf("accept: %v", err)
	}

	jobs, total, err := repo.List(ctx, Filter{Hirer: hirer, PageSize: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(jobs) != 1 {
		t.Fatalf("expected 1 of 2 jobs, got %d of %d", len(jobs), total)
	}

	jobs, total, err = repo.List(ctx, Filter{Freelancer: freelancer, Status: StatusAccepted, FundedOnly: true})
	if err != nil {
		t.Fatalf("list accepted: %v", err)
	}
	if total != 1 || jobs[0].ID != first.ID {
		t.Fatalf("unexpected accepted listing: total=%d jobs=%+v", total, jobs)
	}
}
