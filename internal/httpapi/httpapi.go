// Package httpapi is the inbound HTTP transport: a go-chi/chi router
// exposing the audit and finding endpoints, JSON in/out, no HTML
// rendering, no session cookies. A caller's identity is carried by
// request headers rather than a cookie/session, but the core still
// needs to know who is asking to resolve an access tier.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/codewatch-dev/codewatch/internal/model"
	"github.com/codewatch-dev/codewatch/internal/ownership"
)

// Store is the persistence surface the HTTP layer depends on directly
// (beyond what it hands to orchestrator.Run).
type Store interface {
	CreateAudit(ctx context.Context, a model.Audit) (string, error)
	GetAudit(ctx context.Context, id string) (model.Audit, error)
	GetProject(ctx context.Context, id string) (model.Project, error)
	ListFindings(ctx context.Context, auditID string) ([]model.Finding, error)
	GetFinding(ctx context.Context, findingID string) (model.Finding, error)
	SetFindingStatus(ctx context.Context, findingID string, status model.FindingStatus) error
	SetDisclosure(ctx context.Context, auditID string, notifiedAt time.Time, publishableAfter *time.Time) error
	SetPublic(ctx context.Context, auditID string, public bool) error
	ClearPublishableAfter(ctx context.Context, auditID string) error
}

// Runner launches one audit's orchestrator pipeline. *orchestrator.Deps
// satisfies this via a small adapter the caller provides (see cmd/codewatch),
// since Deps.APIKey varies per request while the rest of Deps is fixed for
// the process's lifetime.
type Runner interface {
	Run(ctx context.Context, apiKey, auditID string) error
}

// Server wires the Store, the ownership resolver (for report tier
// resolution), and a Runner into chi handlers.
type Server struct {
	store    Store
	resolver *ownership.Resolver
	runner   Runner
	logger   *slog.Logger
}

// New builds a Server. logger may be nil, in which case slog.Default is used.
func New(store Store, resolver *ownership.Resolver, runner Runner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{store: store, resolver: resolver, runner: runner, logger: logger}
}

// Router builds the chi router for this server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/audit", func(r chi.Router) {
		r.Post("/start", s.handleAuditStart)
		r.Get("/{id}", s.handleAuditGet)
		r.Get("/{id}/report", s.handleAuditReport)
		r.Post("/{id}/publish", s.handleAuditPublish)
		r.Post("/{id}/unpublish", s.handleAuditUnpublish)
		r.Post("/{id}/notify-owner", s.handleAuditNotifyOwner)
	})

	r.Route("/findings", func(r chi.Router) {
		r.Patch("/{id}/status", s.handleFindingSetStatus)
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.InfoContext(r.Context(), "http request",
			"method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}
