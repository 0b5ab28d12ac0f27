package job

import (
	"time"

	"gigflow/escrow"
)

// Status is the off-chain lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusDisputed  Status = "disputed"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusCompleted, StatusCancelled, StatusDisputed:
		return true
	}
	return false
}

// Decision is the arbiter's ruling on a disputed job.
type Decision string

const (
	DecisionRelease Decision = "release"
	DecisionRefund  Decision = "refund"
)

func (d Decision) Valid() bool {
	return d == DecisionRelease || d == DecisionRefund
}

// Job mirrors the jobs table. EscrowAccount is empty until funding confirms.
type Job struct {
	ID            string
	GigRef        string
	Hirer         string
	Freelancer    string
	Price         string
	Status        Status
	EscrowAccount escrow.AccountRef
	Dispute       *Dispute
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Funded reports whether the escrow account reference has been recorded.
func (j Job) Funded() bool { return j.EscrowAccount != "" }

// IsParty reports whether identity is the job's hirer or freelancer.
func (j Job) IsParty(identity string) bool {
	return identity != "" && (identity == j.Hirer || identity == j.Freelancer)
}

// Dispute is folded into the job; resolution fields are set once by the arbiter.
type Dispute struct {
	RaisedBy   string
	RaisedAt   time.Time
	Decision   Decision
	ResolvedBy string
	ResolvedAt *time.Time
}

func (d *Dispute) Resolved() bool { return d != nil && d.ResolvedAt != nil }

// Event is an immutable timeline entry appended with each persisted transition.
type Event struct {
	JobID      string
	Seq        int
	FromStatus *Status
	ToStatus   Status
	Actor      string
	CreatedAt  time.Time
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Hirer      string
	Freelancer string
	Status     Status
	FundedOnly bool
	Page       int
	PageSize   int
}

func (f Filter) normalized() Filter {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 100 {
		f.PageSize = 20
	}
	return f
}

func (f Filter) matches(j Job) bool {
	if f.Hirer != "" && j.Hirer != f.Hirer {
		return false
	}
	if f.Freelancer != "" && j.Freelancer != f.Freelancer {
		return false
	}
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if f.FundedOnly && !j.Funded() {
		return false
	}
	return true
}
