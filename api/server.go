package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"disputeflow/audit"
	"disputeflow/auth"
	"disputeflow/dispute"
	"disputeflow/obs"
	"disputeflow/org"
	"disputeflow/sla"
)

// DisputeService is the workflow surface exposed over HTTP.
type DisputeService interface {
	Create(ctx context.Context, orgID string, params dispute.CreateParams, actorUserID string) (dispute.Dispute, error)
	List(ctx context.Context, orgID string, f dispute.Filter) ([]dispute.Dispute, error)
	Get(ctx context.Context, orgID, id string) (dispute.Dispute, error)
	History(ctx context.Context, orgID, id string) ([]dispute.Transition, error)
	NextStates(ctx context.Context, orgID, id string, role org.Role) ([]dispute.Status, error)
	Transition(ctx context.Context, params dispute.TransitionParams) (dispute.Dispute, error)
	Assign(ctx context.Context, orgID, id, assigneeID, actorUserID string) (dispute.Dispute, error)
}

type PolicyService interface {
	Create(ctx context.Context, orgID string, params sla.PolicyParams) (sla.Policy, error)
	Update(ctx context.Context, orgID, id string, params sla.PolicyParams) (sla.Policy, error)
	Get(ctx context.Context, orgID, id string) (sla.Policy, error)
	List(ctx context.Context, orgID string) ([]sla.Policy, error)
	Delete(ctx context.Context, orgID, id string) error
}

type AuditService interface {
	List(ctx context.Context, orgID string, f audit.Filter) ([]audit.Entry, error)
	Get(ctx context.Context, orgID, id string) (audit.Entry, error)
}

type JobScheduler interface {
	AddOrganizationJobs(ctx context.Context, orgID string) error
}

type TokenVerifier interface {
	Verify(token string) (auth.Principal, error)
}

// Server binds the workflow services to HTTP routes.
type Server struct {
	disputes  DisputeService
	policies  PolicyService
	audits    AuditService
	scheduler JobScheduler
	verifier  TokenVerifier
	metrics   *obs.Metrics
	logger    *slog.Logger
	ready     func(context.Context) error
}

type Deps struct {
	Disputes  DisputeService
	Policies  PolicyService
	Audits    AuditService
	Scheduler JobScheduler
	Verifier  TokenVerifier
	Metrics   *obs.Metrics
	Logger    *slog.Logger
	// Ready, when set, backs /readyz.
	Ready func(context.Context) error
}

func NewServer(d Deps) *Server {
	return &Server{
		disputes:  d.Disputes,
		policies:  d.Policies,
		audits:    d.Audits,
		scheduler: d.Scheduler,
		verifier:  d.Verifier,
		metrics:   d.Metrics,
		logger:    obs.OrDefault(d.Logger),
		ready:     d.Ready,
	}
}

// Routes returns the full HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.recoverer)
	r.Use(s.metrics.Instrument)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(provenance)

		r.Route("/api/disputes", func(r chi.Router) {
			r.Post("/", s.handleCreateDispute)
			r.Get("/", s.handleListDisputes)
			r.Get("/{id}", s.handleGetDispute)
			r.Get("/{id}/next-states", s.handleNextStates)
			r.Post("/{id}/transition", s.handleTransition)
			r.Post("/{id}/assign", s.handleAssign)
		})

		r.Route("/api/slas", func(r chi.Router) {
			r.Get("/", s.handleListPolicies)
			r.Get("/{id}", s.handleGetPolicy)
			r.With(requireRole(org.RoleSupervisor)).Post("/", s.handleCreatePolicy)
			r.With(requireRole(org.RoleSupervisor)).Put("/{id}", s.handleUpdatePolicy)
			r.With(requireRole(org.RoleSupervisor)).Delete("/{id}", s.handleDeletePolicy)
		})

		r.Route("/api/audit", func(r chi.Router) {
			r.Use(requireRole(org.RoleSupervisor))
			r.Get("/", s.handleListAudit)
			r.Get("/{id}", s.handleGetAudit)
		})

		r.Post("/internal/organizations/{id}/jobs", s.handleAddOrganizationJobs)
	})

	return r
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "NOT_READY", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.ErrorContext(r.Context(), "panic recovered",
					"module", "api",
					"operation", "http_panic_recovery",
					"outcome", "failure",
					"request_id", middleware.GetReqID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
				)
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		outcome := "success"
		if status >= 400 {
			outcome = "failure"
		}
		s.logger.InfoContext(r.Context(), "http request",
			"module", "api",
			"operation", "http_request",
			"outcome", outcome,
			"method", r.Method,
			"path", r.URL.Path,
			"status_code", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}
		p, err := s.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func provenance(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := audit.WithProvenance(r.Context(), audit.Provenance{
			IPAddress: readIP(r),
			UserAgent: r.UserAgent(),
			RequestID: middleware.GetReqID(r.Context()),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireRole(roles ...org.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := auth.PrincipalFromContext(r.Context())
			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "FORBIDDEN", "insufficient role")
		})
	}
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

func readIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host := strings.TrimSpace(r.RemoteAddr)
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}
