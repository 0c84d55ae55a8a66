// Package server exposes contributor sessions over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/HDI-Project/FeatureFactory/internal/metrics"
	"github.com/HDI-Project/FeatureFactory/internal/session"
)

const (
	cookieName   = "featurefactory"
	maxBodyBytes = 1 << 20
)

// Server is the HTTP session API.
type Server struct {
	coord    *session.Coordinator
	cookies  *sessions.CookieStore
	limiter  *limiter
	notifier *notifier
	auth     authenticator
	gatherer prometheus.Gatherer
	addr     string
	logger   *slog.Logger
}

// Config holds configuration for the server.
type Config struct {
	Coordinator *session.Coordinator
	Addr        string
	// SessionSecret authenticates session cookies.
	SessionSecret string
	// SecureCookies marks session cookies Secure, so browsers send them
	// over HTTPS only.
	SecureCookies bool
	// UserHeader names a header set by a trusted authenticating proxy
	// (e.g. X-Forwarded-User) that carries the contributor's name.
	UserHeader string
	// Tokens maps contributor names to the tokens they log in with.
	Tokens map[string]string
	// RateLimit is the number of submissions per second a contributor may
	// make; zero disables limiting.
	RateLimit float64
	RateBurst int
	// Gatherer, if set, is served on /metrics.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Coordinator == nil {
		return nil, fmt.Errorf("server: coordinator is required")
	}
	if len(cfg.SessionSecret) < 16 {
		return nil, fmt.Errorf("server: session secret must be at least 16 bytes")
	}
	auth := authenticator{header: cfg.UserHeader, tokens: cfg.Tokens}
	if !auth.configured() {
		return nil, fmt.Errorf("server: a user header or contributor tokens are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	cookies := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	cookies.MaxAge(86400 * 7)
	cookies.Options.Path = "/"
	cookies.Options.HttpOnly = true
	cookies.Options.SameSite = http.SameSiteLaxMode
	cookies.Options.Secure = cfg.SecureCookies

	return &Server{
		coord:    cfg.Coordinator,
		cookies:  cookies,
		limiter:  newLimiter(cfg.RateLimit, cfg.RateBurst),
		notifier: newNotifier(),
		auth:     auth,
		gatherer: cfg.Gatherer,
		addr:     cfg.Addr,
		logger:   logger,
	}, nil
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if s.gatherer != nil {
		r.Handle("/metrics", metrics.Handler(s.gatherer))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/problems", s.listProblems)
		r.Post("/session", s.openSession)
		r.Delete("/session", s.closeSession)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/session", s.showSession)
			r.Get("/features", s.discoverFeatures)
			r.Get("/features/mine", s.myFeatures)
			r.Post("/features", s.registerFeature)
			r.Post("/cross-validate", s.crossValidate)
			r.Get("/dataset/sample", s.sampleDataset)
			r.Get("/events", s.events)
		})
	})
	return r
}

// Serve listens on the configured address until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting session API", "addr", ln.Addr().String())

	eg, egctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down session API")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
