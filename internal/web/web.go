package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"calclock/internal/config"
	"calclock/internal/ics"
	appLog "calclock/internal/log"
	"calclock/internal/metrics"
	"calclock/internal/state"
)

// Server serves the clock page, the calendar proxy and the JSON APIs.
type Server struct {
	cfg     atomic.Pointer[config.Config]
	store   *state.Store
	fetcher *ics.Fetcher
	metrics *metrics.Manager
	now     func() time.Time
	router  chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// NewServer constructs a new Server. m may be nil, in which case a private
// metrics manager is created.
func NewServer(cfg *config.Config, store *state.Store, fetcher *ics.Fetcher, m *metrics.Manager, opts ...Option) *Server {
	if m == nil {
		m = metrics.NewManager()
	}
	s := &Server{
		store:   store,
		fetcher: fetcher,
		metrics: m,
		now:     time.Now,
	}
	s.cfg.Store(cfg)
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// SetConfig swaps the configuration used by handlers. Listen and
// ProxyPath changes need a restart.
func (s *Server) SetConfig(cfg *config.Config) {
	if cfg != nil {
		s.cfg.Store(cfg)
	}
}

func (s *Server) config() *config.Config {
	return s.cfg.Load()
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	r.Use(s.basicAuth)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))

	r.Get(s.config().ProxyPath, s.handleProxy)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/clock", s.handleClock)
	r.Get("/clock.svg", s.handleSVG)
	r.Get("/", s.handlePage)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.config().Listen
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP server shutdown error", err)
	}
	return <-errCh
}

// observe records per-route metrics and a debug line per request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.metrics.RecordHTTPRequest(route, r.Method, status, elapsed)
		appLog.Debug("http request", "method", r.Method, "route", route, "status", status, "elapsed", elapsed)
	})
}

// basicAuth guards every route except /health when credentials are set.
func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := s.config().BasicAuth
		if auth == nil || auth.Username == "" || auth.Password == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, auth.Username) || !secureCompare(p, auth.Password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calclock", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// boolParam reads checkbox-style query values; ok is false when absent.
func boolParam(r *http.Request, name string) (value, ok bool) {
	q := r.URL.Query()
	if !q.Has(name) {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(q.Get(name))) {
	case "1", "true", "on", "yes", "":
		return true, true
	default:
		return false, true
	}
}
