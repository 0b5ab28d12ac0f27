package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"gigflow/auth"
	"gigflow/job"
)

type itemsResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page,omitempty"`
}

type openJobRequest struct {
	GigID      string `json:"gig_id"`
	Freelancer string `json:"freelancer"`
	Price      string `json:"price"`
}

func (s *Server) handleOpenJob(w http.ResponseWriter, r *http.Request) {
	var req openJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, job.RuleValidation, "invalid payload")
		return
	}
	j, err := s.coord.OpenJob(r.Context(), job.OpenParams{
		GigRef:     req.GigID,
		Hirer:      identityFrom(r.Context()),
		Freelancer: req.Freelancer,
		Price:      req.Price,
	})
	if err != nil {
		s.writeError(w, r, err, &j)
		return
	}
	writeJSON(w, http.StatusCreated, newJobResponse(j))
}

// jobAction adapts a coordinator transition taking (job id, actor) to a handler.
func (s *Server) jobAction(op func(ctx context.Context, jobID, actor string) (job.Job, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, err := op(r.Context(), chi.URLParam(r, "id"), identityFrom(r.Context()))
		if err != nil {
			s.writeError(w, r, err, &j)
			return
		}
		writeJSON(w, http.StatusOK, newJobResponse(j))
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.coord.View(r.Context(), chi.URLParam(r, "id"), identityFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(j))
}

func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.coord.Timeline(r.Context(), chi.URLParam(r, "id"), identityFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	items := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		items = append(items, newEventResponse(ev))
	}
	writeJSON(w, http.StatusOK, itemsResponse[eventResponse]{Items: items, Total: len(items)})
}

// handleListJobs lists the caller's jobs as hirer (default) or freelancer.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	page, ok := queryInt(r, "page", 1)
	if !ok {
		writeMessage(w, http.StatusBadRequest, job.RuleValidation, "page must be a non-negative integer")
		return
	}
	pageSize, ok := queryInt(r, "page_size", 0)
	if !ok {
		writeMessage(w, http.StatusBadRequest, job.RuleValidation, "page_size must be a non-negative integer")
		return
	}

	filter := job.Filter{
		Status:   job.Status(strings.TrimSpace(r.URL.Query().Get("status"))),
		Page:     page,
		PageSize: pageSize,
	}
	switch as := strings.TrimSpace(r.URL.Query().Get("as")); as {
	case "", "hirer":
		filter.Hirer = identity
	case "freelancer":
		filter.Freelancer = identity
	default:
		writeMessage(w, http.StatusBadRequest, job.RuleValidation, "as must be hirer or freelancer")
		return
	}

	jobs, total, err := s.coord.ListJobs(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	items := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, newJobResponse(j))
	}
	writeJSON(w, http.StatusOK, itemsResponse[jobResponse]{Items: items, Total: total, Page: page})
}

// handleReconcile lets a party or an arbiter pull a lagging job forward.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if _, err := s.coord.View(r.Context(), jobID, identityFrom(r.Context())); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	j, err := s.coord.Reconcile(r.Context(), jobID)
	if err != nil {
		s.writeError(w, r, err, &j)
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(j))
}

func (s *Server) handleRaiseDispute(w http.ResponseWriter, r *http.Request) {
	rec, err := s.disputes.Raise(r.Context(), chi.URLParam(r, "id"), identityFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, newDisputeResponse(rec))
}

type resolveRequest struct {
	Decision string `json:"decision"`
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, job.RuleValidation, "invalid payload")
		return
	}
	rec, err := s.disputes.Resolve(r.Context(), chi.URLParam(r, "id"), identityFrom(r.Context()), req.Decision)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, newDisputeResponse(rec))
}

func (s *Server) handleListDisputes(w http.ResponseWriter, r *http.Request) {
	page, ok := queryInt(r, "page", 1)
	if !ok {
		writeMessage(w, http.StatusBadRequest, job.RuleValidation, "page must be a non-negative integer")
		return
	}
	pageSize, ok := queryInt(r, "page_size", 0)
	if !ok {
		writeMessage(w, http.StatusBadRequest, job.RuleValidation, "page_size must be a non-negative integer")
		return
	}
	records, total, err := s.disputes.ListOpen(r.Context(), identityFrom(r.Context()), page, pageSize)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	items := make([]disputeResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, newDisputeResponse(rec))
	}
	writeJSON(w, http.StatusOK, itemsResponse[disputeResponse]{Items: items, Total: total, Page: page})
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	rec, err := s.disputes.Get(r.Context(), chi.URLParam(r, "id"), identityFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, newDisputeResponse(rec))
}

func (s *Server) handleListGigs(w http.ResponseWriter, r *http.Request) {
	freelancer := strings.TrimSpace(r.URL.Query().Get("freelancer"))
	if freelancer == "" {
		writeMessage(w, http.StatusBadRequest, job.RuleValidation, "freelancer query parameter required")
		return
	}
	limit, ok := queryInt(r, "limit", 20)
	if !ok {
		writeMessage(w, http.StatusBadRequest, job.RuleValidation, "limit must be a non-negative integer")
		return
	}
	if s.gigService == nil {
		writeJSON(w, http.StatusOK, itemsResponse[gigResponse]{Items: []gigResponse{}})
		return
	}
	gigs, err := s.gigService.ListByFreelancer(r.Context(), freelancer, limit)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	items := make([]gigResponse, 0, len(gigs))
	for _, g := range gigs {
		items = append(items, newGigResponse(g))
	}
	writeJSON(w, http.StatusOK, itemsResponse[gigResponse]{Items: items, Total: len(items)})
}

func (s *Server) handleGetGig(w http.ResponseWriter, r *http.Request) {
	if s.gigService == nil {
		writeMessage(w, http.StatusNotFound, job.RuleNotFound, "gig catalog unavailable")
		return
	}
	g, err := s.gigService.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, newGigResponse(g))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, job.RuleValidation, "invalid payload")
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, newUserResponse(*user))
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, job.RuleValidation, "invalid payload")
		return
	}
	res, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: res.Token, User: newUserResponse(res.User)})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.authService.EnsureUser(r.Context(), identityFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(user))
}
