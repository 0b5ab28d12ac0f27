package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gigflow/escrow"
)

// ReconcileActor is recorded as the actor of transitions applied by Reconcile.
const ReconcileActor = "system:reconcile"

// RoleDirectory answers privileged-role lookups from server-side records.
type RoleDirectory interface {
	IsArbiter(ctx context.Context, identity string) (bool, error)
}

// HireVerifier checks a hire request against the originating gig offer.
// Rejections must wrap ErrValidation or ErrNotFound.
type HireVerifier interface {
	VerifyHire(ctx context.Context, params OpenParams) error
}

// OpenParams is the hire trigger.
type OpenParams struct {
	GigRef     string
	Hirer      string
	Freelancer string
	Price      string
}

// Deps wires a Coordinator. Verifier, Metrics, Log, Now and NewID are optional.
type Deps struct {
	Store    Store
	Gateway  escrow.Gateway
	Roles    RoleDirectory
	Verifier HireVerifier
	Metrics  *Metrics
	Log      *logrus.Entry
	Now      func() time.Time
	NewID    func() string
}

// Coordinator owns the job state machine. It is the only writer of the Store
// and the only caller of the escrow Gateway.
type Coordinator struct {
	store    Store
	gateway  escrow.Gateway
	roles    RoleDirectory
	verifier HireVerifier
	metrics  *Metrics
	log      *logrus.Entry
	now      func() time.Time
	newID    func() string
}

func NewCoordinator(d Deps) *Coordinator {
	c := &Coordinator{
		store:    d.Store,
		gateway:  d.Gateway,
		roles:    d.Roles,
		verifier: d.Verifier,
		metrics:  d.Metrics,
		log:      d.Log,
		now:      d.Now,
		newID:    d.NewID,
	}
	if c.log == nil {
		c.log = logrus.NewEntry(logrus.StandardLogger())
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = func() string { return uuid.NewString() }
	}
	return c
}

// OpenJob persists a pending job and then funds its escrow. When funding fails
// the pending job is returned alongside the error so the caller can retry with FundJob.
func (c *Coordinator) OpenJob(ctx context.Context, p OpenParams) (Job, error) {
	p.GigRef = strings.TrimSpace(p.GigRef)
	p.Hirer = strings.TrimSpace(p.Hirer)
	p.Freelancer = strings.TrimSpace(p.Freelancer)
	if p.Hirer == "" || p.Freelancer == "" {
		return Job{}, validationf("hirer and freelancer required")
	}
	if p.Hirer == p.Freelancer {
		return Job{}, validationf("hirer cannot hire themselves")
	}
	// parties are the escrow payer and payee, so both must be ledger accounts
	if err := escrow.AccountRef(p.Hirer).Validate(); err != nil {
		return Job{}, validationf("hirer is not a ledger account: %v", err)
	}
	if err := escrow.AccountRef(p.Freelancer).Validate(); err != nil {
		return Job{}, validationf("freelancer is not a ledger account: %v", err)
	}
	price, err := escrow.NormalizePrice(p.Price)
	if err != nil {
		return Job{}, fmt.Errorf("%w: price: %w", ErrValidation, err)
	}
	p.Price = price

	if c.verifier != nil {
		if err := c.verifier.VerifyHire(ctx, p); err != nil {
			return Job{}, fmt.Errorf("job: open: %w", err)
		}
	}

	j := Job{
		ID:         c.newID(),
		GigRef:     p.GigRef,
		Hirer:      p.Hirer,
		Freelancer: p.Freelancer,
		Price:      price,
		Status:     StatusPending,
		CreatedAt:  c.now().UTC(),
	}
	if err := c.store.Insert(ctx, j); err != nil {
		return Job{}, fmt.Errorf("job: open: %w", err)
	}
	c.log.WithFields(logrus.Fields{
		"job_id":     j.ID,
		"gig_ref":    j.GigRef,
		"hirer":      j.Hirer,
		"freelancer": j.Freelancer,
		"price":      j.Price,
	}).Info("job opened")

	funded, err := c.fund(ctx, j, j.Hirer)
	if err != nil {
		return j, fmt.Errorf("job: open: %w", err)
	}
	return funded, nil
}

// FundJob retries escrow funding for a pending job that has no escrow account yet.
func (c *Coordinator) FundJob(ctx context.Context, jobID, actor string) (Job, error) {
	j, err := c.load(ctx, "fund", jobID)
	if err != nil {
		return Job{}, err
	}
	if actor != j.Hirer {
		return Job{}, unauthorizedf("only the hirer may fund job %s", j.ID)
	}
	if j.Status != StatusPending {
		return Job{}, invalidStatef("job %s is %s, funding requires pending", j.ID, j.Status)
	}
	if j.Funded() {
		return Job{}, invalidStatef("job %s already holds escrow account %s", j.ID, j.EscrowAccount)
	}
	funded, err := c.fund(ctx, j, actor)
	if err != nil {
		return j, fmt.Errorf("job: fund: %w", err)
	}
	return funded, nil
}

func (c *Coordinator) fund(ctx context.Context, j Job, actor string) (Job, error) {
	lamports, err := escrow.ToLamports(j.Price)
	if err != nil {
		return j, fmt.Errorf("%w: price: %w", ErrValidation, err)
	}
	log := c.log.WithFields(logrus.Fields{"job_id": j.ID, "op": escrow.OpCreateAndFund, "lamports": lamports})

	ref, err := c.gateway.CreateAndFund(ctx, escrow.FundingRequest{
		JobID:    j.ID,
		Payer:    j.Hirer,
		Payee:    j.Freelancer,
		Lamports: lamports,
	})
	if err != nil {
		log.WithError(err).WithField("outcome", escrow.Outcome(err)).Warn("escrow funding failed; job left pending")
		return j, fmt.Errorf("create escrow: %w", err)
	}

	updated, err := c.apply(ctx, "fund", j, Condition{Status: StatusPending, Escrow: EscrowAbsent}, Patch{EscrowAccount: ref, Actor: actor})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) && updated.EscrowAccount == ref {
			// a concurrent funding attempt resolved to the same account
			return updated, nil
		}
		log.WithError(err).WithField("account", ref.String()).
			Error("escrow funded but job could not record it; operator refund required")
		return j, err
	}
	log.WithField("account", ref.String()).Info("escrow funded")
	return updated, nil
}

// AcceptJob moves a funded pending job to accepted. It issues no ledger call.
func (c *Coordinator) AcceptJob(ctx context.Context, jobID, actor string) (Job, error) {
	j, err := c.load(ctx, "accept", jobID)
	if err != nil {
		return Job{}, err
	}
	if actor != j.Freelancer {
		return Job{}, unauthorizedf("only the freelancer may accept job %s", j.ID)
	}
	if j.Status != StatusPending {
		return Job{}, invalidStatef("job %s is %s, accept requires pending", j.ID, j.Status)
	}
	if !j.Funded() {
		return Job{}, invalidStatef("job %s escrow not funded", j.ID)
	}
	return c.apply(ctx, "accept", j, Condition{Status: StatusPending, Escrow: EscrowPresent}, Patch{Status: StatusAccepted, Actor: actor})
}

// CompleteJob releases escrow to the freelancer and completes the job once the release is acknowledged.
func (c *Coordinator) CompleteJob(ctx context.Context, jobID, actor string) (Job, error) {
	j, err := c.load(ctx, "complete", jobID)
	if err != nil {
		return Job{}, err
	}
	if actor != j.Hirer {
		return Job{}, unauthorizedf("only the hirer may complete job %s", j.ID)
	}
	if j.Status != StatusAccepted {
		return Job{}, invalidStatef("job %s is %s, complete requires accepted", j.ID, j.Status)
	}
	if !j.Funded() {
		return Job{}, invalidStatef("job %s has no escrow account", j.ID)
	}
	if err := c.settle(ctx, j, escrow.OpRelease); err != nil {
		return j, fmt.Errorf("job: complete: %w", err)
	}
	return c.settled(ctx, "complete", j, Condition{Status: StatusAccepted, Escrow: EscrowPresent}, Patch{Status: StatusCompleted, Actor: actor})
}

// DisputeJob freezes an accepted job for arbitration. Funds stay locked.
func (c *Coordinator) DisputeJob(ctx context.Context, jobID, actor string) (Job, error) {
	j, err := c.load(ctx, "dispute", jobID)
	if err != nil {
		return Job{}, err
	}
	if !j.IsParty(actor) {
		return Job{}, unauthorizedf("only a party may dispute job %s", j.ID)
	}
	if j.Status != StatusAccepted {
		return Job{}, invalidStatef("job %s is %s, dispute requires accepted", j.ID, j.Status)
	}
	patch := Patch{
		Status:  StatusDisputed,
		Dispute: &Dispute{RaisedBy: actor, RaisedAt: c.now().UTC()},
		Actor:   actor,
	}
	return c.apply(ctx, "dispute", j, Condition{Status: StatusAccepted, Escrow: EscrowPresent}, patch)
}

// ResolveDispute applies an arbiter decision. The arbiter role is looked up
// server-side and the arbiter may not be a party to the job.
func (c *Coordinator) ResolveDispute(ctx context.Context, jobID string, decision Decision, arbiter string) (Job, error) {
	if !decision.Valid() {
		return Job{}, validationf("decision must be release or refund, got %q", decision)
	}
	j, err := c.load(ctx, "resolve", jobID)
	if err != nil {
		return Job{}, err
	}
	if err := c.requireArbiter(ctx, arbiter); err != nil {
		return Job{}, err
	}
	if j.IsParty(arbiter) {
		return Job{}, unauthorizedf("arbiter %s is a party to job %s", arbiter, j.ID)
	}
	if j.Status != StatusDisputed {
		return Job{}, invalidStatef("job %s is %s, resolve requires disputed", j.ID, j.Status)
	}
	if !j.Funded() {
		return Job{}, invalidStatef("job %s has no escrow account", j.ID)
	}

	op, to := escrow.OpRelease, StatusCompleted
	if decision == DecisionRefund {
		op, to = escrow.OpRefund, StatusCancelled
	}
	if err := c.settle(ctx, j, op); err != nil {
		return j, fmt.Errorf("job: resolve: %w", err)
	}

	resolvedAt := c.now().UTC()
	patch := Patch{
		Status:  to,
		Dispute: resolvedDispute(j.Dispute, decision, arbiter, resolvedAt),
		Actor:   arbiter,
	}
	return c.settled(ctx, "resolve", j, Condition{Status: StatusDisputed, Escrow: EscrowPresent}, patch)
}

// CancelJob is the hirer's exit from pending or accepted. Funded jobs are refunded first.
func (c *Coordinator) CancelJob(ctx context.Context, jobID, actor string) (Job, error) {
	j, err := c.load(ctx, "cancel", jobID)
	if err != nil {
		return Job{}, err
	}
	if actor != j.Hirer {
		return Job{}, unauthorizedf("only the hirer may cancel job %s", j.ID)
	}
	if j.Status != StatusPending && j.Status != StatusAccepted {
		return Job{}, invalidStatef("job %s is %s, cancel requires pending or accepted", j.ID, j.Status)
	}
	if !j.Funded() {
		return c.apply(ctx, "cancel", j, Condition{Status: j.Status, Escrow: EscrowAbsent}, Patch{Status: StatusCancelled, Actor: actor})
	}
	if err := c.settle(ctx, j, escrow.OpRefund); err != nil {
		return j, fmt.Errorf("job: cancel: %w", err)
	}
	return c.settled(ctx, "cancel", j, Condition{Status: j.Status, Escrow: EscrowPresent}, Patch{Status: StatusCancelled, Actor: actor})
}

// Reconcile advances a lagging job to match the on-chain escrow state. It never
// regresses status and is a no-op for unfunded or terminal jobs.
func (c *Coordinator) Reconcile(ctx context.Context, jobID string) (Job, error) {
	j, err := c.load(ctx, "reconcile", jobID)
	if err != nil {
		return Job{}, err
	}
	if !j.Funded() || j.Status.Terminal() {
		return j, nil
	}

	state, err := c.gateway.FetchState(escrow.WithJobID(ctx, j.ID), j.EscrowAccount)
	if err != nil {
		return j, fmt.Errorf("job: reconcile: fetch escrow state: %w", err)
	}
	log := c.log.WithFields(logrus.Fields{
		"job_id":      j.ID,
		"status":      j.Status,
		"chain_state": state.State,
		"slot":        state.Slot,
	})

	target, ok := reconcileTarget(j.Status, state.State)
	if !ok {
		if state.State == escrow.StateReleased || state.State == escrow.StateRefunded || state.State == escrow.StateUnknown {
			c.metrics.driftObserved(j.Status, string(state.State))
			log.Warn("on-chain escrow state matches no legal transition; leaving job unchanged")
		}
		return j, nil
	}

	patch := Patch{Status: target, Actor: ReconcileActor}
	if j.Status == StatusDisputed {
		decision := DecisionRelease
		if target == StatusCancelled {
			decision = DecisionRefund
		}
		patch.Dispute = resolvedDispute(j.Dispute, decision, ReconcileActor, c.now().UTC())
	}
	updated, err := c.settled(ctx, "reconcile", j, Condition{Status: j.Status, Escrow: EscrowPresent}, patch)
	if err != nil {
		return updated, err
	}
	log.WithField("to", target).Info("job reconciled with on-chain state")
	return updated, nil
}

// reconcileTarget maps a lagging status and chain state onto a legal edge.
func reconcileTarget(status Status, chain escrow.State) (Status, bool) {
	switch chain {
	case escrow.StateReleased:
		if status == StatusAccepted || status == StatusDisputed {
			return StatusCompleted, true
		}
	case escrow.StateRefunded:
		if status == StatusPending || status == StatusAccepted || status == StatusDisputed {
			return StatusCancelled, true
		}
	}
	return "", false
}

func (c *Coordinator) Get(ctx context.Context, jobID string) (Job, error) {
	return c.load(ctx, "get", jobID)
}

// View returns the job if viewer is a party to it or an arbiter.
func (c *Coordinator) View(ctx context.Context, jobID, viewer string) (Job, error) {
	j, err := c.load(ctx, "view", jobID)
	if err != nil {
		return Job{}, err
	}
	if j.IsParty(viewer) {
		return j, nil
	}
	if err := c.requireArbiter(ctx, viewer); err != nil {
		return Job{}, err
	}
	return j, nil
}

// Timeline returns the job's transition history for a party or an arbiter.
func (c *Coordinator) Timeline(ctx context.Context, jobID, viewer string) ([]Event, error) {
	if _, err := c.View(ctx, jobID, viewer); err != nil {
		return nil, err
	}
	events, err := c.store.Events(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("job: timeline: %w", err)
	}
	return events, nil
}

func (c *Coordinator) ListJobs(ctx context.Context, filter Filter) ([]Job, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, validationf("unknown status %q", filter.Status)
	}
	jobs, total, err := c.store.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("job: list: %w", err)
	}
	return jobs, total, nil
}

// ListDisputed is the arbiter's queue of open disputes.
func (c *Coordinator) ListDisputed(ctx context.Context, arbiter string, page, pageSize int) ([]Job, int, error) {
	if err := c.requireArbiter(ctx, arbiter); err != nil {
		return nil, 0, err
	}
	return c.ListJobs(ctx, Filter{Status: StatusDisputed, Page: page, PageSize: pageSize})
}

func (c *Coordinator) requireArbiter(ctx context.Context, identity string) error {
	if identity == "" || c.roles == nil {
		return unauthorizedf("arbiter role required")
	}
	ok, err := c.roles.IsArbiter(ctx, identity)
	if err != nil {
		return fmt.Errorf("job: role lookup: %w", err)
	}
	if !ok {
		return unauthorizedf("%s does not hold the arbiter role", identity)
	}
	return nil
}

func (c *Coordinator) load(ctx context.Context, op, jobID string) (Job, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return Job{}, validationf("job id required")
	}
	j, err := c.store.Get(ctx, jobID)
	if err != nil {
		return Job{}, fmt.Errorf("job: %s: %w", op, err)
	}
	return j, nil
}

func (c *Coordinator) settle(ctx context.Context, j Job, op string) error {
	ctx = escrow.WithJobID(ctx, j.ID)
	var err error
	switch op {
	case escrow.OpRelease:
		err = c.gateway.Release(ctx, j.EscrowAccount)
	case escrow.OpRefund:
		err = c.gateway.Refund(ctx, j.EscrowAccount)
	default:
		return fmt.Errorf("unknown settlement %q", op)
	}
	if err != nil {
		c.log.WithFields(logrus.Fields{
			"job_id":  j.ID,
			"op":      op,
			"account": j.EscrowAccount.String(),
			"outcome": escrow.Outcome(err),
		}).WithError(err).Warn("escrow settlement failed; job unchanged")
		return fmt.Errorf("%s escrow: %w", op, err)
	}
	return nil
}

// apply runs the conditional update. On a lost race it re-fetches once and
// retries only if the fresh record still satisfies cond. On ConflictError the
// fresh job is returned with the error.
func (c *Coordinator) apply(ctx context.Context, op string, current Job, cond Condition, patch Patch) (Job, error) {
	updated, err := c.store.ConditionalUpdate(ctx, current.ID, cond, patch)
	if err == nil {
		c.applied(op, cond.Status, patch, updated)
		return updated, nil
	}
	if !errors.Is(err, ErrConflict) {
		return current, fmt.Errorf("job: %s: %w", op, err)
	}

	fresh, ferr := c.store.Get(ctx, current.ID)
	if ferr != nil {
		return current, fmt.Errorf("job: %s: refetch: %w", op, ferr)
	}
	if !cond.Holds(fresh) || (patch.EscrowAccount != "" && fresh.Funded()) {
		c.metrics.conflict(op, "surfaced")
		return fresh, &ConflictError{JobID: current.ID, Expected: cond.Status, Actual: fresh.Status}
	}

	updated, err = c.store.ConditionalUpdate(ctx, current.ID, cond, patch)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			c.metrics.conflict(op, "surfaced")
			return fresh, &ConflictError{JobID: current.ID, Expected: cond.Status, Actual: fresh.Status}
		}
		return fresh, fmt.Errorf("job: %s: %w", op, err)
	}
	c.metrics.conflict(op, "retried")
	c.applied(op, cond.Status, patch, updated)
	return updated, nil
}

// settled records the outcome of a ledger settlement that already succeeded.
// Losing the race to a writer that reached the same status is not a conflict.
func (c *Coordinator) settled(ctx context.Context, op string, current Job, cond Condition, patch Patch) (Job, error) {
	updated, err := c.apply(ctx, op, current, cond, patch)
	var conflict *ConflictError
	if errors.As(err, &conflict) && updated.Status == patch.Status {
		c.log.WithFields(logrus.Fields{"job_id": current.ID, "op": op, "status": updated.Status}).
			Info("settlement already recorded by a concurrent writer")
		return updated, nil
	}
	return updated, err
}

func (c *Coordinator) applied(op string, from Status, patch Patch, updated Job) {
	if patch.Status == "" || patch.Status == from {
		return
	}
	c.metrics.transition(from, patch.Status)
	c.log.WithFields(logrus.Fields{
		"job_id": updated.ID,
		"op":     op,
		"from":   from,
		"to":     patch.Status,
		"actor":  patch.Actor,
	}).Info("job transition")
}

func resolvedDispute(current *Dispute, decision Decision, by string, at time.Time) *Dispute {
	d := Dispute{}
	if current != nil {
		d = *current
	}
	d.Decision = decision
	d.ResolvedBy = by
	d.ResolvedAt = &at
	return &d
}
