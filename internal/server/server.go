// Package server is the composition root: it opens the stores, builds the
// services and handlers, mounts the routes and runs the process until its
// context is cancelled.
//
//	GET  /healthz                       liveness
//	GET  /metrics                       Prometheus
//	POST /api/create-checkout-session   open a hosted checkout
//	POST /api/webhook                   provider notifications
//	GET  /api/profile                   caller's profile        (token required)
//	GET  /api/dashboard                 feature-gated dashboard (token required)
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/proservice/internal/auth"
	"github.com/sakif/proservice/internal/billing"
	"github.com/sakif/proservice/internal/config"
	"github.com/sakif/proservice/internal/handler"
	"github.com/sakif/proservice/internal/middleware"
	"github.com/sakif/proservice/internal/repository"
	sqliteRepo "github.com/sakif/proservice/internal/repository/sqlite"
	"github.com/sakif/proservice/internal/repository/supabase"
	"github.com/sakif/proservice/internal/scheduler"
	"github.com/sakif/proservice/internal/service"
)

const shutdownTimeout = 30 * time.Second

// Server owns the database handle and everything built on it.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	router *chi.Mux
	db     *sqliteRepo.DB

	tokens       *auth.TokenService
	entitlements *service.EntitlementService
	checkout     *service.CheckoutService
	webhooks     *service.WebhookService
	reconciler   *service.Reconciler
}

// New wires the application. Missing billing secrets are reported as
// warnings; the endpoints that need them answer with a configuration error.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if dir := filepath.Dir(cfg.DBPath); cfg.DBPath != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{cfg: cfg, logger: logger, db: db}
	if err := s.build(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) build(ctx context.Context) error {
	for _, w := range s.cfg.Warnings() {
		s.logger.Warn(w)
	}

	profiles, err := s.profileStore(ctx)
	if err != nil {
		return err
	}

	if secret := s.cfg.Supabase.JWTSecret; secret != "" {
		s.tokens, err = auth.NewTokenService(secret, s.cfg.Supabase.JWTIssuer)
		if err != nil {
			return fmt.Errorf("configuring token verification: %w", err)
		}
	}

	// A nil interface, not a nil *StripeProvider, marks checkout as
	// unconfigured.
	var provider service.CheckoutProvider
	if s.cfg.Stripe.SecretKey != "" {
		p, err := billing.NewStripeProvider(s.cfg.Stripe.SecretKey, s.plan(), nil)
		if err != nil {
			return fmt.Errorf("configuring billing provider: %w", err)
		}
		provider = p
	}

	s.entitlements = service.NewEntitlementService(profiles, s.logger)
	s.checkout = service.NewCheckoutService(provider, s.logger)
	s.webhooks = service.NewWebhookService(
		billing.NewVerifier(s.cfg.Stripe.WebhookSecret),
		s.db,
		service.NewEventProcessor(s.entitlements, s.logger),
		s.logger,
	)
	s.reconciler = service.NewReconciler(s.db, s.webhooks, s.logger)

	s.router = chi.NewRouter()
	s.setupRoutes()
	return nil
}

// profileStore selects the entitlement store. The event log always lives
// in the local database.
func (s *Server) profileStore(ctx context.Context) (repository.ProfileRepository, error) {
	switch s.cfg.EntitlementStore {
	case config.StoreSupabase:
		store, err := supabase.New(ctx, s.cfg.Supabase.URL, s.cfg.Supabase.ServiceRoleKey)
		if err != nil {
			return nil, fmt.Errorf("configuring supabase store: %w", err)
		}
		s.logger.Info("entitlement store: supabase", slog.String("url", s.cfg.Supabase.URL))
		return store, nil
	default:
		s.logger.Info("entitlement store: sqlite", slog.String("path", s.cfg.DBPath))
		return s.db, nil
	}
}

func (s *Server) plan() billing.Plan {
	return billing.Plan{
		PriceID:     s.cfg.Stripe.PriceID,
		Name:        s.cfg.Plan.Name,
		Description: s.cfg.Plan.Description,
		Amount:      s.cfg.Plan.Amount,
		Currency:    s.cfg.Plan.Currency,
		Interval:    s.cfg.Plan.Interval,
	}
}

// setupRoutes mounts middleware and routes. Middleware runs in the order
// it is added: request id, real IP, panic recovery, then request logging.
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	health := handler.NewHealthHandler(s.db.Ping)
	checkout := handler.NewCheckoutHandler(s.checkout, s.cfg.PublicURL, s.tokens != nil, s.logger)
	webhook := handler.NewWebhookHandler(s.webhooks, s.logger)
	profile := handler.NewProfileHandler(s.entitlements, s.logger)

	s.router.Get("/healthz", health.HandleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.With(auth.OptionalAuth(s.tokens)).Post("/create-checkout-session", checkout.HandleCreate)
		r.Post("/webhook", webhook.HandleStripe)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(s.tokens))
			r.Get("/profile", profile.HandleProfile)
			r.Get("/dashboard", profile.HandleDashboard)
		})
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Reconciler() *service.Reconciler {
	return s.reconciler
}

// Close releases the database.
func (s *Server) Close() error {
	return s.db.Close()
}

// Run serves HTTP and runs the reconciler schedule until ctx is cancelled
// or either one fails, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	sched := scheduler.New(s.logger)
	if s.cfg.ReconcileSchedule != "" {
		err := sched.Add("reconcile", s.cfg.ReconcileSchedule, func(ctx context.Context) error {
			_, err := s.reconciler.Run(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:         s.cfg.HTTPAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var challenge *http.Server
	if len(s.cfg.TLSDomains) > 0 {
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(s.cfg.TLSDomains...),
			Cache:      autocert.DirCache(filepath.Join(filepath.Dir(s.cfg.DBPath), "autocert")),
		}
		srv.Addr = ":443"
		srv.TLSConfig = m.TLSConfig()
		challenge = &http.Server{
			Addr:              ":80",
			Handler:           m.HTTPHandler(nil),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("server starting",
			slog.String("addr", srv.Addr),
			slog.Bool("tls", challenge != nil),
			slog.String("database", s.cfg.DBPath),
		)
		var err error
		if challenge != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if challenge != nil {
		g.Go(func() error {
			if err := challenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("acme challenge server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return sched.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if challenge != nil {
			challenge.Shutdown(shutdownCtx)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}
