package escrow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// AuditEntry is one recorded gateway call.
type AuditEntry struct {
	ID         int64
	OccurredAt time.Time
	Op         string
	JobID      string
	Account    string
	Outcome    string
	Error      string
	DurationMS int64
}

// AuditLog persists gateway calls to SQLite so operators can follow up on ledger rejections.
type AuditLog struct {
	db *sql.DB
}

func OpenAuditLog(path string) (*AuditLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("escrow: open audit log: %w", err)
	}
	// single writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)
	log := &AuditLog{db: db}
	if err := log.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return log, nil
}

func (a *AuditLog) init() error {
	const schema = `CREATE TABLE IF NOT EXISTS gateway_audit (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            occurred_at TIMESTAMP NOT NULL,
            op TEXT NOT NULL,
            job_id TEXT,
            account TEXT,
            outcome TEXT NOT NULL,
            error TEXT,
            duration_ms INTEGER NOT NULL
        );`
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("escrow: init audit log: %w", err)
	}
	return nil
}

func (a *AuditLog) Close() error {
	return a.db.Close()
}

func (a *AuditLog) Insert(ctx context.Context, e AuditEntry) error {
	const stmt = `INSERT INTO gateway_audit(occurred_at, op, job_id, account, outcome, error, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := a.db.ExecContext(ctx, stmt, e.OccurredAt, e.Op, e.JobID, e.Account, e.Outcome, e.Error, e.DurationMS)
	if err != nil {
		return fmt.Errorf("escrow: insert audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. Outcome filters when non-empty.
func (a *AuditLog) Recent(ctx context.Context, outcome string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, occurred_at, op, job_id, account, outcome, error, duration_ms FROM gateway_audit`
	args := []any{}
	if outcome != "" {
		query += ` WHERE outcome = ?`
		args = append(args, outcome)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("escrow: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e              AuditEntry
			jobID, account sql.NullString
			errText        sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.Op, &jobID, &account, &e.Outcome, &errText, &e.DurationMS); err != nil {
			return nil, fmt.Errorf("escrow: scan audit entry: %w", err)
		}
		e.JobID = jobID.String
		e.Account = account.String
		e.Error = errText.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// AuditedGateway records every call on the wrapped gateway. Audit write
// failures are logged and never change the call's result.
type AuditedGateway struct {
	next Gateway
	log  *AuditLog
	l    *logrus.Entry
	now  func() time.Time
}

func NewAuditedGateway(next Gateway, log *AuditLog, l *logrus.Entry) *AuditedGateway {
	if l == nil {
		l = logrus.NewEntry(logrus.StandardLogger())
	}
	return &AuditedGateway{next: next, log: log, l: l, now: time.Now}
}

func (g *AuditedGateway) record(ctx context.Context, op, jobID string, ref AccountRef, start time.Time, err error) {
	entry := AuditEntry{
		OccurredAt: start.UTC(),
		Op:         op,
		JobID:      jobID,
		Account:    ref.String(),
		Outcome:    Outcome(err),
		DurationMS: g.now().Sub(start).Milliseconds(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	// the caller's context may already be cancelled; the audit row still matters
	if werr := g.log.Insert(context.WithoutCancel(ctx), entry); werr != nil {
		g.l.WithError(werr).WithField("op", op).Warn("escrow audit write failed")
	}
	if IsFatal(err) {
		g.l.WithFields(logrus.Fields{
			"op":      op,
			"job_id":  jobID,
			"account": ref.String(),
		}).WithError(err).Error("ledger rejected escrow call; operator follow-up required")
	}
}

func (g *AuditedGateway) CreateAndFund(ctx context.Context, req FundingRequest) (AccountRef, error) {
	start := g.now()
	ref, err := g.next.CreateAndFund(ctx, req)
	g.record(ctx, OpCreateAndFund, req.JobID, ref, start, err)
	return ref, err
}

func (g *AuditedGateway) FetchState(ctx context.Context, ref AccountRef) (OnChainState, error) {
	start := g.now()
	st, err := g.next.FetchState(ctx, ref)
	g.record(ctx, OpFetchState, JobIDFrom(ctx), ref, start, err)
	return st, err
}

func (g *AuditedGateway) Release(ctx context.Context, ref AccountRef) error {
	start := g.now()
	err := g.next.Release(ctx, ref)
	g.record(ctx, OpRelease, JobIDFrom(ctx), ref, start, err)
	return err
}

func (g *AuditedGateway) Refund(ctx context.Context, ref AccountRef) error {
	start := g.now()
	err := g.next.Refund(ctx, ref)
	g.record(ctx, OpRefund, JobIDFrom(ctx), ref, start, err)
	return err
}
