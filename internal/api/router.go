package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"analytical/internal/analytics"
	"analytical/internal/audit"
	"analytical/internal/auth"
	"analytical/internal/errorreporting"
	"analytical/internal/metrics"
)

// ReadinessCheck reports whether a dependency of the relay is usable.
type ReadinessCheck func(ctx context.Context) error

// DistinctIDHeader names the caller whose session a request belongs to.
const DistinctIDHeader = "X-Distinct-Id"

const maxDistinctIDLength = 255

type Server struct {
	appName  string
	env      string
	version  string
	sessions *analytics.Sessions
	audit    audit.Recorder
	metrics  *metrics.Recorder
	reporter errorreporting.Reporter
	admin    auth.Verifier
	checks   map[string]ReadinessCheck
}

// ServerOption configures optional collaborators of a Server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	audit    audit.Recorder
	metrics  *metrics.Recorder
	reporter errorreporting.Reporter
	admin    auth.Verifier
	checks   map[string]ReadinessCheck
}

func NewServer(appName string, env string, version string, sessions *analytics.Sessions, opts ...ServerOption) *Server {
	options := serverOptions{checks: map[string]ReadinessCheck{}}
	for _, opt := range opts {
		opt(&options)
	}

	return &Server{
		appName:  appName,
		env:      env,
		version:  version,
		sessions: defaultSessions(sessions),
		audit:    defaultAudit(options.audit),
		metrics:  options.metrics,
		reporter: options.reporter,
		admin:    options.admin,
		checks:   options.checks,
	}
}

func defaultSessions(sessions *analytics.Sessions) *analytics.Sessions {
	if sessions != nil {
		return sessions
	}
	noop, err := analytics.NewSessions("none", 1, func(string) analytics.Provider { return analytics.NewNoop() })
	if err != nil {
		panic(err)
	}
	return noop
}

func defaultAudit(recorder audit.Recorder) audit.Recorder {
	if recorder == nil {
		return audit.NewNoop()
	}
	return recorder
}

func WithAudit(recorder audit.Recorder) ServerOption {
	return func(opts *serverOptions) {
		opts.audit = recorder
	}
}

func WithMetrics(recorder *metrics.Recorder) ServerOption {
	return func(opts *serverOptions) {
		opts.metrics = recorder
	}
}

func WithReporter(reporter errorreporting.Reporter) ServerOption {
	return func(opts *serverOptions) {
		opts.reporter = reporter
	}
}

// WithAdminAuth guards setup, flush and the audit trail. Without it those
// routes answer 503.
func WithAdminAuth(verifier auth.Verifier) ServerOption {
	return func(opts *serverOptions) {
		opts.admin = verifier
	}
}

func WithReadinessCheck(name string, check ReadinessCheck) ServerOption {
	return func(opts *serverOptions) {
		if check != nil {
			opts.checks[name] = check
		}
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(errorreporting.NewMiddleware(s.reporter).Wrap)
	r.Use(withCORS)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/meta", s.meta)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/audit/events", s.auditEvents)
			r.Post("/setup", s.setup)
			r.Post("/flush", s.flush)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireSession)
			r.Post("/event", s.event)
			r.Post("/screen", s.screen)
			r.Post("/time", s.time)
			r.Post("/finish", s.finish)
			r.Post("/identify", s.identify)
			r.Post("/alias", s.alias)
			r.Post("/set", s.set)
			r.Post("/global", s.global)
			r.Post("/increment", s.increment)
			r.Post("/purchase", s.purchase)
			r.Post("/devices", s.addDevice)
			r.Post("/push", s.push)
			r.Post("/reset", s.reset)
		})
	})

	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": name + "_unreachable",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) meta(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":       s.appName,
		"env":       s.env,
		"version":   s.version,
		"providers": s.sessions.Name(),
		"sessions":  strconv.Itoa(s.sessions.Len()),
		"time":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) auditEvents(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing_user_id"})
		return
	}

	reader, ok := s.audit.(audit.Reader)
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "audit_not_configured"})
		return
	}

	events, err := reader.ListByUser(r.Context(), userID, 50)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed_to_list_audit_events"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,"+DistinctIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type sessionContextKey struct{}

// requireSession rejects calls that do not say which caller they belong to.
func requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		distinctID := strings.TrimSpace(r.Header.Get(DistinctIDHeader))
		if distinctID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing_distinct_id"})
			return
		}
		if len(distinctID) > maxDistinctIDLength {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_distinct_id"})
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey{}, distinctID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionContextKey{}).(string)
	return id
}

// provider returns the analytics provider of the calling session.
func (s *Server) provider(r *http.Request) analytics.Provider {
	return s.sessions.Get(r.Context(), sessionFromContext(r.Context()))
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.admin == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "auth_not_configured"})
			return
		}

		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing_or_invalid_token"})
			return
		}
		if err := s.admin.VerifyToken(r.Context(), token); err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication_failed"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
