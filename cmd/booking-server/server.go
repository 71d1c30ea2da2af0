package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/medibook/booking/internal/config"
	"github.com/medibook/booking/internal/domain/availability"
	"github.com/medibook/booking/internal/domain/identity"
	"github.com/medibook/booking/internal/domain/scheduling"
	"github.com/medibook/booking/internal/platform/apperr"
	"github.com/medibook/booking/internal/platform/auth"
	"github.com/medibook/booking/internal/platform/db"
	"github.com/medibook/booking/internal/platform/jobs"
	"github.com/medibook/booking/internal/platform/middleware"
	"github.com/medibook/booking/internal/platform/notification"
	"github.com/medibook/booking/internal/platform/validation"
	"github.com/medibook/booking/internal/platform/websocket"
)

const (
	version         = "0.1.0"
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// server holds the wired components of one process.
type server struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool

	hub          *websocket.Hub
	broker       *notification.BrokerSink
	directory    *identity.CachedDirectory
	dispatcher   *notification.Dispatcher
	verifier     *auth.TokenVerifier
	availability *availability.Service
	scheduling   *scheduling.Service
	reconciler   *scheduling.Reconciler
}

func newServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) (*server, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	hub := websocket.NewHub(logger, cfg.NotifySendTimeout)

	templates := notification.NewTemplateEngine()
	sinks := []notification.Sink{notification.NewLiveSink(hub)}
	if cfg.EmailEnabled() {
		sender := notification.NewSendGridSender(cfg.SendGridAPIKey, cfg.SendGridFromEmail, cfg.SendGridFromName)
		sinks = append(sinks, notification.NewEmailSink(sender, templates))
	} else {
		logger.Info().Msg("email notifications disabled: SENDGRID_API_KEY or SENDGRID_FROM_EMAIL not set")
	}
	if cfg.SMSEnabled() {
		sender := notification.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
		sinks = append(sinks, notification.NewSMSSink(sender, templates))
	} else {
		logger.Info().Msg("sms notifications disabled: TWILIO_* not set")
	}
	var broker *notification.BrokerSink
	if cfg.BrokerEnabled() {
		// The broker is one more best-effort channel; the server runs without it.
		broker, err = notification.DialBroker(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Error().Err(err).Msg("amqp publishing disabled")
		} else {
			sinks = append(sinks, broker)
		}
	}
	dispatcher := notification.NewDispatcher(logger, notification.DispatcherConfig{
		QueueSize:       cfg.NotifyQueueSize,
		Workers:         cfg.NotifyWorkers,
		DeliveryTimeout: cfg.NotifySendTimeout,
	}, sinks...)

	directory, err := identity.NewCachedDirectory(identity.NewDirectory(pool), cfg.IdentityCacheSize)
	if err != nil {
		_ = dispatcher.Close(context.Background())
		hub.Close()
		if broker != nil {
			_ = broker.Close()
		}
		return nil, fmt.Errorf("identity cache: %w", err)
	}

	tx := db.NewTxRunner(pool)
	slots := availability.NewRepo(pool)
	appointments := scheduling.NewService(scheduling.NewRepo(pool), slots, directory, tx, dispatcher, logger,
		scheduling.WithLocation(loc))

	return &server{
		cfg:          cfg,
		logger:       logger,
		pool:         pool,
		hub:          hub,
		broker:       broker,
		directory:    directory,
		dispatcher:   dispatcher,
		verifier:     auth.NewTokenVerifier([]byte(cfg.JWTSecret), cfg.JWTIssuer),
		availability: availability.NewService(slots, directory, tx, logger),
		scheduling:   appointments,
		reconciler:   scheduling.NewReconciler(appointments),
	}, nil
}

// schedule registers the recurring jobs cfg enables. The identity directory
// is external, so cached names and contact details are dropped periodically
// to pick up changes made there.
func (s *server) schedule(supervisor *jobs.Supervisor) error {
	if s.cfg.ReconcileEnabled {
		if err := supervisor.Every(s.cfg.ReconcileInterval, s.reconciler, true); err != nil {
			return err
		}
	}
	if s.cfg.IdentityCacheTTL > 0 {
		purge := jobs.JobFunc{JobName: "identity-cache-purge", Fn: func(context.Context) error {
			s.directory.Purge()
			return nil
		}}
		if err := supervisor.Every(s.cfg.IdentityCacheTTL, purge, false); err != nil {
			return err
		}
	}
	return nil
}

func (s *server) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(s.logger)
	e.Validator = validation.New()

	// Global middleware
	e.Use(middleware.Recovery(s.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(s.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: s.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.RequestTimeout(requestTimeout))

	// Auth middleware
	if s.cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(s.verifier, auth.AuthSkipper))
	} else {
		e.Use(auth.JWTMiddleware(s.verifier, auth.AuthSkipper))
	}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(s.pool))

	websocket.NewHandler(s.hub, s.verifier, s.cfg.CORSOrigins, s.logger).RegisterRoutes(e)

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: s.cfg.RateLimitRPS,
		BurstSize:         s.cfg.RateLimitBurst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	availability.NewHandler(s.availability).RegisterRoutes(apiV1)
	scheduling.NewHandler(s.scheduling).RegisterRoutes(apiV1)

	return e
}

// close drains queued notifications, then drops live connections and the
// broker connection.
func (s *server) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := s.dispatcher.Close(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("notification queue not drained")
	}
	s.hub.Close()
	if s.broker != nil {
		if err := s.broker.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("amqp close")
		}
	}
}

func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	srv, err := newServer(cfg, logger, pool)
	if err != nil {
		return err
	}
	e := srv.router()

	supervisor := jobs.NewSupervisor(logger)
	if err := srv.schedule(supervisor); err != nil {
		return err
	}

	jobsCtx, stopJobs := context.WithCancel(context.Background())
	jobsDone := make(chan error, 1)
	go func() { jobsDone <- supervisor.Run(jobsCtx) }()

	serveErr := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	logger.Info().Msg("shutting down server")
	stopJobs()
	if err := <-jobsDone; err != nil {
		logger.Warn().Err(err).Msg("job supervisor stopped with error")
	}
	srv.close(context.Background())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return runErr
}
