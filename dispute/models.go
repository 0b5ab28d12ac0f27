package dispute

import (
	"time"

	"gigflow/job"
)

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusUnderReview Status = "under_review"
	StatusResolved    Status = "resolved"
)

// Record is the arbiter's view of a job's dispute.
type Record struct {
	JobID         string
	Hirer         string
	Freelancer    string
	Price         string
	EscrowAccount string
	JobStatus     job.Status
	Status        Status
	RaisedBy      string
	RaisedAt      time.Time
	Decision      job.Decision
	ResolvedBy    string
	ResolvedAt    *time.Time
}

func recordFromJob(j job.Job) Record {
	rec := Record{
		JobID:         j.ID,
		Hirer:         j.Hirer,
		Freelancer:    j.Freelancer,
		Price:         j.Price,
		EscrowAccount: j.EscrowAccount.String(),
		JobStatus:     j.Status,
		Status:        StatusUnderReview,
	}
	if d := j.Dispute; d != nil {
		rec.RaisedBy = d.RaisedBy
		rec.RaisedAt = d.RaisedAt
		rec.Decision = d.Decision
		rec.ResolvedBy = d.ResolvedBy
		rec.ResolvedAt = d.ResolvedAt
		if d.Resolved() {
			rec.Status = StatusResolved
		}
	}
	return rec
}
