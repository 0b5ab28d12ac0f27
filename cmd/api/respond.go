package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"gigflow/auth"
	"gigflow/dispute"
	"gigflow/gig"
	"gigflow/job"
)

type errorResponse struct {
	Error string       `json:"error"`
	Rule  job.Rule     `json:"rule"`
	Job   *jobResponse `json:"job,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeMessage(w http.ResponseWriter, status int, rule job.Rule, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Rule: rule})
}

// writeError maps err onto a status code and rule. When the coordinator handed
// back the job alongside the error it is included so clients can see the
// unchanged or fresh record.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, current *job.Job) {
	rule, status := classify(err)
	resp := errorResponse{Error: err.Error(), Rule: rule}
	if current != nil && current.ID != "" {
		jr := newJobResponse(*current)
		resp.Job = &jr
	}
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithFields(logrus.Fields{
			"path": r.URL.Path,
			"rule": rule,
		}).Error("request failed")
		if rule == job.RuleInternal {
			resp.Error = "internal error"
		}
	}
	writeJSON(w, status, resp)
}

func classify(err error) (job.Rule, int) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		return job.RuleAuthorization, http.StatusUnauthorized
	case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrRoleNotAllowed),
		errors.Is(err, auth.ErrInvalidInput), errors.Is(err, auth.ErrWalletIdentity):
		return job.RuleValidation, http.StatusBadRequest
	case errors.Is(err, auth.ErrDuplicateIdentity):
		return job.RuleConflict, http.StatusConflict
	case errors.Is(err, dispute.ErrNoDispute), errors.Is(err, gig.ErrNotFound):
		return job.RuleNotFound, http.StatusNotFound
	}

	rule := job.Classify(err)
	switch rule {
	case job.RuleValidation:
		return rule, http.StatusBadRequest
	case job.RuleAuthorization:
		return rule, http.StatusForbidden
	case job.RuleState:
		return rule, http.StatusUnprocessableEntity
	case job.RuleConflict:
		return rule, http.StatusConflict
	case job.RuleNotFound:
		return rule, http.StatusNotFound
	case job.RuleGatewayTransient:
		return rule, http.StatusServiceUnavailable
	case job.RuleGatewayFatal:
		return rule, http.StatusBadGateway
	default:
		return job.RuleInternal, http.StatusInternalServerError
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

type disputeInfo struct {
	RaisedBy   string `json:"raised_by"`
	RaisedAt   string `json:"raised_at"`
	Decision   string `json:"decision,omitempty"`
	ResolvedBy string `json:"resolved_by,omitempty"`
	ResolvedAt string `json:"resolved_at,omitempty"`
}

type jobResponse struct {
	ID            string       `json:"id"`
	GigID         string       `json:"gig_id,omitempty"`
	Hirer         string       `json:"hirer"`
	Freelancer    string       `json:"freelancer"`
	Price         string       `json:"price"`
	Status        job.Status   `json:"status"`
	EscrowAccount string       `json:"escrow_account,omitempty"`
	Dispute       *disputeInfo `json:"dispute,omitempty"`
	CreatedAt     string       `json:"created_at"`
	UpdatedAt     string       `json:"updated_at,omitempty"`
}

func newJobResponse(j job.Job) jobResponse {
	resp := jobResponse{
		ID:            j.ID,
		GigID:         j.GigRef,
		Hirer:         j.Hirer,
		Freelancer:    j.Freelancer,
		Price:         j.Price,
		Status:        j.Status,
		EscrowAccount: j.EscrowAccount.String(),
		CreatedAt:     formatTime(j.CreatedAt),
		UpdatedAt:     formatTime(j.UpdatedAt),
	}
	if d := j.Dispute; d != nil {
		info := &disputeInfo{
			RaisedBy:   d.RaisedBy,
			RaisedAt:   formatTime(d.RaisedAt),
			Decision:   string(d.Decision),
			ResolvedBy: d.ResolvedBy,
		}
		if d.ResolvedAt != nil {
			info.ResolvedAt = formatTime(*d.ResolvedAt)
		}
		resp.Dispute = info
	}
	return resp
}

type eventResponse struct {
	Seq       int    `json:"seq"`
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	Actor     string `json:"actor"`
	CreatedAt string `json:"created_at"`
}

func newEventResponse(ev job.Event) eventResponse {
	resp := eventResponse{
		Seq:       ev.Seq,
		To:        string(ev.ToStatus),
		Actor:     ev.Actor,
		CreatedAt: formatTime(ev.CreatedAt),
	}
	if ev.FromStatus != nil {
		resp.From = string(*ev.FromStatus)
	}
	return resp
}

type disputeResponse struct {
	JobID         string `json:"job_id"`
	Hirer         string `json:"hirer"`
	Freelancer    string `json:"freelancer"`
	Price         string `json:"price"`
	EscrowAccount string `json:"escrow_account,omitempty"`
	JobStatus     string `json:"job_status"`
	Status        string `json:"status"`
	RaisedBy      string `json:"raised_by"`
	RaisedAt      string `json:"raised_at"`
	Decision      string `json:"decision,omitempty"`
	ResolvedBy    string `json:"resolved_by,omitempty"`
	ResolvedAt    string `json:"resolved_at,omitempty"`
}

func newDisputeResponse(rec dispute.Record) disputeResponse {
	resp := disputeResponse{
		JobID:         rec.JobID,
		Hirer:         rec.Hirer,
		Freelancer:    rec.Freelancer,
		Price:         rec.Price,
		EscrowAccount: rec.EscrowAccount,
		JobStatus:     string(rec.JobStatus),
		Status:        string(rec.Status),
		RaisedBy:      rec.RaisedBy,
		RaisedAt:      formatTime(rec.RaisedAt),
		Decision:      string(rec.Decision),
		ResolvedBy:    rec.ResolvedBy,
	}
	if rec.ResolvedAt != nil {
		resp.ResolvedAt = formatTime(*rec.ResolvedAt)
	}
	return resp
}

type gigResponse struct {
	ID         string `json:"id"`
	Freelancer string `json:"freelancer"`
	Title      string `json:"title"`
	Price      string `json:"price"`
	Active     bool   `json:"active"`
	CreatedAt  string `json:"created_at"`
}

func newGigResponse(g gig.Gig) gigResponse {
	return gigResponse{
		ID:         g.ID,
		Freelancer: g.Freelancer,
		Title:      g.Title,
		Price:      g.Price,
		Active:     g.Active,
		CreatedAt:  formatTime(g.CreatedAt),
	}
}

type userResponse struct {
	ID          string    `json:"id"`
	Identity    string    `json:"identity"`
	DisplayName string    `json:"display_name"`
	Role        auth.Role `json:"role"`
	CreatedAt   string    `json:"created_at"`
}

func newUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Identity:    u.Identity,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		CreatedAt:   formatTime(u.CreatedAt),
	}
}
