package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/comunidade-maf/apiserver/config"
	"github.com/comunidade-maf/apiserver/internal/authz"
	"github.com/comunidade-maf/apiserver/internal/db"
	"github.com/comunidade-maf/apiserver/internal/handlers"
	"github.com/comunidade-maf/apiserver/internal/metrics"
	"github.com/comunidade-maf/apiserver/internal/notify"
	"github.com/comunidade-maf/apiserver/internal/services"
	"github.com/comunidade-maf/apiserver/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server, its router and the backends it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     *zap.Logger
	closers    []func() error
	stopWorker context.CancelFunc
}

// New wires storage, broker, cache and services into a ready to start Server.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{logger: logger}
	ok := false
	defer func() {
		if !ok {
			s.close()
		}
	}()

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, dbConn.Close)
	st := store.New(dbConn)

	certStorage, closeStorage, err := OpenStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closeStorage)

	statuses, cacheCloser, err := OpenStatusCache(ctx, cfg.Redis, logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, cacheCloser.Close)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		return nil, err
	}

	mailer, err := notify.NewMailer(cfg.Mail, logger)
	if err != nil {
		return nil, err
	}
	direct := notify.NewDirectNotifier(mailer, cfg.AppURL)

	broker, err := OpenBroker(ctx, cfg.MQ)
	if err != nil {
		return nil, err
	}
	var notifier notify.Notifier = direct
	if broker != nil {
		s.closers = append(s.closers, broker.Close)
		notifier = notify.NewQueueNotifier(broker)
		if cfg.MQ.Backend == "memory" {
			// The in-process broker has no other consumer.
			workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			s.stopWorker = cancel
			worker := notify.NewWorker(broker, direct, m, logger.Named("notify"))
			go func() {
				if err := worker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("notification worker stopped", zap.Error(err))
				}
			}()
		}
	}

	guard := authz.NewGuard(st.Profiles)
	userService := services.NewUserService(st.Users, st.Profiles)
	reviewService := services.NewReviewService(services.ReviewDeps{
		Guard:        guard,
		Tx:           st,
		Users:        st.Users,
		Profiles:     st.Profiles,
		Certificates: st.Certificates,
		Notifier:     notifier,
		Cache:        statuses,
		Metrics:      m,
		Logger:       logger.Named("review"),
	})
	webhookService := services.NewWebhookService(services.WebhookDeps{
		Secret:   cfg.Hotmart.WebhookSecret,
		Tx:       st,
		Hotmart:  st.Hotmart,
		Profiles: st.Profiles,
		Cache:    statuses,
		Metrics:  m,
		Logger:   logger.Named("hotmart"),
	})
	onboardingService := services.NewOnboardingService(services.OnboardingDeps{
		Tx:           st,
		Profiles:     st.Profiles,
		Certificates: st.Certificates,
		Storage:      certStorage,
		Cache:        statuses,
		Logger:       logger.Named("onboarding"),
	})
	adminService := services.NewAdminService(services.AdminDeps{
		Guard:        guard,
		Users:        st.Users,
		Profiles:     st.Profiles,
		Certificates: st.Certificates,
		Hotmart:      st.Hotmart,
		Storage:      certStorage,
		Cache:        statuses,
		Metrics:      m,
		Logger:       logger.Named("admin"),
	})

	if cfg.Hotmart.WebhookSecret == "" {
		logger.Warn("HOTMART_WEBHOOK_SECRET is empty; every webhook will be rejected")
	}

	authMiddleware := handlers.RequireAuth(cfg.JWTSecret)
	activeMiddleware := handlers.RequireActive(st.Profiles, statuses, logger)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		handlers.RequestLogger(logger.Named("http")),
		handlers.Instrument(m),
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, userService, cfg.JWTSecret)
	})
	router.Route("/api/hotmart", func(r chi.Router) {
		handlers.HotmartRouter(r, webhookService)
	})
	router.Group(func(r chi.Router) {
		handlers.MemberRouter(r, onboardingService, authMiddleware, activeMiddleware)
	})
	router.Route("/admin", func(r chi.Router) {
		handlers.AdminRouter(r, adminService, reviewService, authMiddleware, logger.Named("admin"))
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	ok = true
	return s, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and releases the backends.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.close()
	return err
}

func (s *Server) close() {
	if s.stopWorker != nil {
		s.stopWorker()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("close backend", zap.Error(err))
		}
	}
	s.closers = nil
}
