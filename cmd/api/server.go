package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"gigflow/auth"
	"gigflow/dispute"
	"gigflow/gig"
	"gigflow/job"
)

type ctxKey string

const ctxKeyIdentity ctxKey = "identity"

// Server exposes the job lifecycle over HTTP.
type Server struct {
	coord       *job.Coordinator
	disputes    *dispute.Service
	authService *auth.Service
	gigService  *gig.Service // nil without a gig catalog
	gatherer    prometheus.Gatherer
	log         *logrus.Entry
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/register", s.handleRegister)
		api.Post("/auth/login", s.handleLogin)

		api.Group(func(protected chi.Router) {
			protected.Use(s.authenticate)

			protected.Get("/me", s.handleMe)

			protected.Post("/jobs", s.handleOpenJob)
			protected.Get("/jobs", s.handleListJobs)
			protected.Get("/jobs/{id}", s.handleGetJob)
			protected.Get("/jobs/{id}/events", s.handleJobEvents)
			protected.Post("/jobs/{id}/fund", s.jobAction(s.coord.FundJob))
			protected.Post("/jobs/{id}/accept", s.jobAction(s.coord.AcceptJob))
			protected.Post("/jobs/{id}/complete", s.jobAction(s.coord.CompleteJob))
			protected.Post("/jobs/{id}/cancel", s.jobAction(s.coord.CancelJob))
			protected.Post("/jobs/{id}/dispute", s.handleRaiseDispute)
			protected.Post("/jobs/{id}/resolve", s.handleResolveDispute)
			protected.Post("/jobs/{id}/reconcile", s.handleReconcile)

			protected.Get("/disputes", s.handleListDisputes)
			protected.Get("/disputes/{id}", s.handleGetDispute)

			protected.Get("/gigs", s.handleListGigs)
			protected.Get("/gigs/{id}", s.handleGetGig)
		})
	})

	return r
}

// authenticate accepts a bearer JWT whose subject is the caller's identity.
// First-seen identities are provisioned as hirers.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeMessage(w, http.StatusUnauthorized, job.RuleAuthorization, "missing bearer token")
			return
		}
		identity, _, err := s.authService.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, job.RuleAuthorization, "invalid token")
			return
		}
		if _, err := s.authService.EnsureUser(r.Context(), identity); err != nil {
			s.writeError(w, r, err, nil)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyIdentity, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFrom(ctx context.Context) string {
	identity, _ := ctx.Value(ctxKeyIdentity).(string)
	return identity
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func queryInt(r *http.Request, key string, def int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
