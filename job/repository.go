package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"gigflow/escrow"
)

const jobColumns = `id::text, gig_ref, hirer, freelancer, price::text, status, escrow_account,
       dispute_raised_by, dispute_raised_at, dispute_decision, dispute_resolved_by, dispute_resolved_at,
       created_at, updated_at`

// PGRepository is the Postgres-backed Store. Every status change appends a
// job_events row in the same transaction as the update.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Get(ctx context.Context, id string) (Job, error) {
	j, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		if isMissing(err) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("job: get: %w", err)
	}
	return j, nil
}

func (r *PGRepository) Insert(ctx context.Context, j Job) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var escrowAccount *string
	if j.Funded() {
		s := j.EscrowAccount.String()
		escrowAccount = &s
	}
	const insertSQL = `
INSERT INTO jobs (id, gig_ref, hirer, freelancer, price, status, escrow_account)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7);
`
	if _, err := tx.Exec(ctx, insertSQL, j.ID, j.GigRef, j.Hirer, j.Freelancer, j.Price, string(j.Status), escrowAccount); err != nil {
		return fmt.Errorf("job: insert: %w", err)
	}
	if err := appendEvent(ctx, tx, j.ID, nil, j.Status, j.Hirer); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("job: commit insert: %w", err)
	}
	return nil
}

func (r *PGRepository) ConditionalUpdate(ctx context.Context, id string, cond Condition, patch Patch) (Job, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	args := []any{id, string(cond.Status)}
	where := []string{"id = $1", "status = $2"}
	switch cond.Escrow {
	case EscrowAbsent:
		where = append(where, "escrow_account IS NULL")
	case EscrowPresent:
		where = append(where, "escrow_account IS NOT NULL")
	}

	sets := []string{"updated_at = now()"}
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Status != "" {
		set("status", string(patch.Status))
	}
	if patch.EscrowAccount != "" {
		set("escrow_account", patch.EscrowAccount.String())
		where = append(where, "escrow_account IS NULL")
	}
	if d := patch.Dispute; d != nil {
		set("dispute_raised_by", d.RaisedBy)
		set("dispute_raised_at", d.RaisedAt)
		set("dispute_decision", nullable(string(d.Decision)))
		set("dispute_resolved_by", nullable(d.ResolvedBy))
		set("dispute_resolved_at", d.ResolvedAt)
	}

	updateSQL := `UPDATE jobs SET ` + strings.Join(sets, ", ") +
		` WHERE ` + strings.Join(where, " AND ") +
		` RETURNING ` + jobColumns

	updated, err := scanJob(tx.QueryRow(ctx, updateSQL, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, r.missOrConflict(ctx, tx, id)
		}
		if isMissing(err) {
			return Job{}, ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			// jobs_guard rejected the edge or an escrow rewrite
			return Job{}, invalidStatef("job %s: %s", id, pgErr.Message)
		}
		return Job{}, fmt.Errorf("job: conditional update: %w", err)
	}

	if patch.Status != "" && patch.Status != cond.Status {
		from := cond.Status
		if err := appendEvent(ctx, tx, id, &from, patch.Status, patch.Actor); err != nil {
			return Job{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("job: commit update: %w", err)
	}
	return updated, nil
}

func (r *PGRepository) missOrConflict(ctx context.Context, tx pgx.Tx, id string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("job: check existence: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func (r *PGRepository) List(ctx context.Context, filter Filter) ([]Job, int, error) {
	filter = filter.normalized()

	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Hirer != "" {
		add("hirer = $%d", filter.Hirer)
	}
	if filter.Freelancer != "" {
		add("freelancer = $%d", filter.Freelancer)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.FundedOnly {
		where = append(where, "escrow_account IS NOT NULL")
	}
	whereSQL := ""
	if len(where) > 0 {
		whereSQL = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs`+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("job: count: %w", err)
	}

	pageArgs := append(append([]any{}, args...), filter.PageSize, (filter.Page-1)*filter.PageSize)
	query := `SELECT ` + jobColumns + ` FROM jobs` + whereSQL +
		fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)

	rows, err := r.pool.Query(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("job: list: %w", err)
	}
	defer rows.Close()

	jobs := make([]Job, 0, filter.PageSize)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("job: scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("job: iterate: %w", err)
	}
	return jobs, total, nil
}

func (r *PGRepository) Events(ctx context.Context, id string) ([]Event, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
SELECT job_id::text, seq, from_status, to_status, actor, created_at
FROM job_events
WHERE job_id = $1
ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("job: list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev   Event
			from sql.NullString
			to   string
		)
		if err := rows.Scan(&ev.JobID, &ev.Seq, &from, &to, &ev.Actor, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("job: scan event: %w", err)
		}
		if from.Valid {
			s := Status(from.String)
			ev.FromStatus = &s
		}
		ev.ToStatus = Status(to)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func appendEvent(ctx context.Context, tx pgx.Tx, jobID string, from *Status, to Status, actor string) error {
	var fromText *string
	if from != nil {
		s := string(*from)
		fromText = &s
	}
	const insertSQL = `
INSERT INTO job_events (job_id, seq, from_status, to_status, actor)
SELECT $1::uuid, COALESCE(MAX(seq), 0) + 1, $2::text, $3::text, $4::text
FROM job_events
WHERE job_id = $1::uuid;
`
	if _, err := tx.Exec(ctx, insertSQL, jobID, fromText, string(to), actor); err != nil {
		return fmt.Errorf("job: insert event: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (Job, error) {
	var (
		j          Job
		status     string
		account    sql.NullString
		raisedBy   sql.NullString
		raisedAt   *time.Time
		decision   sql.NullString
		resolvedBy sql.NullString
		resolvedAt *time.Time
	)
	if err := row.Scan(
		&j.ID, &j.GigRef, &j.Hirer, &j.Freelancer, &j.Price, &status, &account,
		&raisedBy, &raisedAt, &decision, &resolvedBy, &resolvedAt,
		&j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return Job{}, err
	}
	j.Status = Status(status)
	// numeric(30,9) renders with trailing zeros
	if p, err := escrow.NormalizePrice(j.Price); err == nil {
		j.Price = p
	}
	if account.Valid {
		j.EscrowAccount = escrow.AccountRef(account.String)
	}
	if raisedBy.Valid && raisedAt != nil {
		j.Dispute = &Dispute{
			RaisedBy:   raisedBy.String,
			RaisedAt:   *raisedAt,
			Decision:   Decision(decision.String),
			ResolvedBy: resolvedBy.String,
			ResolvedAt: resolvedAt,
		}
	}
	return j, nil
}

// isMissing treats unknown rows and malformed uuids alike.
func isMissing(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
