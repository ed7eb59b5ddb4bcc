package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gatherly/gatherly-api/internal/accesslog"
	"github.com/gatherly/gatherly-api/internal/auth"
	"github.com/gatherly/gatherly-api/internal/config"
	"github.com/gatherly/gatherly-api/internal/handlers"
	"github.com/gatherly/gatherly-api/internal/invite"
	"github.com/gatherly/gatherly-api/internal/middleware"
	"github.com/gatherly/gatherly-api/internal/migration"
	"github.com/gatherly/gatherly-api/internal/notification"
	"github.com/gatherly/gatherly-api/internal/ratelimit"
	"github.com/gatherly/gatherly-api/internal/repository"
	"github.com/gatherly/gatherly-api/internal/routes"
	"github.com/gatherly/gatherly-api/internal/sweeper"
	h "github.com/gorilla/handlers"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config *config.Config
	db     *sql.DB
	logger zerolog.Logger
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	goose.SetLogger(migration.NewGooseAdapter(logger))

	// Load configuration.
	cfg := config.Load()

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	migration.RunMigrations(cfg.DatabaseURL, logger)

	app := &application{
		config: cfg,
		db:     db,
		logger: logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Rate-limit store: Redis when configured, in-process otherwise.
	var (
		limitStore  ratelimit.Store
		memoryStore *ratelimit.MemoryStore
	)
	if cfg.RedisAddr != "" {
		limitStore = ratelimit.NewRedisStore(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Using Redis rate-limit store")
	} else {
		memoryStore = ratelimit.NewMemoryStore()
		limitStore = memoryStore
		logger.Info().Msg("Using in-memory rate-limit store")
	}
	limiter := ratelimit.NewLimiter(limitStore, logger)

	// Access-log writes run on a background goroutine so request
	// handling never waits on them.
	recorder := accesslog.NewRecorder(repository.NewAccessLogRepository(db), logger)

	router, sw := app.initRouter(limiter, memoryStore, recorder, logger)

	go func() {
		if err := sw.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Sweeper exited")
		}
	}()

	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins([]string{"https://app.gatherly.events", "http://localhost:3000"}),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, cancel, recorder, logger)

	logger.Info().Msg("Application terminated.")
}

// initRouter sets up all repositories, services and HTTP handlers.
func (app *application) initRouter(
	limiter *ratelimit.Limiter,
	memoryStore *ratelimit.MemoryStore,
	recorder *accesslog.Recorder,
	logger zerolog.Logger,
) (http.Handler, *sweeper.Sweeper) {
	// Repositories
	userRepo := repository.NewUserRepository(app.db)
	orgRepo := repository.NewOrganizationRepository(app.db)
	linkRepo := repository.NewMagicLinkRepository(app.db)
	sessionRepo := repository.NewSessionRepository(app.db)
	inviteRepo := repository.NewInviteRepository(app.db)
	orgInviteRepo := repository.NewOrgInviteRepository(app.db)
	accessLogRepo := repository.NewAccessLogRepository(app.db)

	mailer, err := notification.NewSMTPMailer(app.config.Email)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure mailer")
	}

	// Services
	authSvc := auth.NewService(userRepo, linkRepo, sessionRepo, mailer, app.config.Auth, logger)
	inviteSvc := invite.NewService(inviteRepo, sessionRepo, recorder, mailer, app.config.Auth, logger)

	emailPolicy := ratelimit.Policy{
		Prefix: "magiclink:email",
		Limit:  app.config.RateLimit.MagicLink.MaxRequests,
		Window: app.config.RateLimit.MagicLink.Window,
	}
	policies := routes.Policies{
		MagicLinkIP: ratelimit.Policy{
			Prefix: "magiclink:ip",
			Limit:  app.config.RateLimit.MagicLink.MaxRequests,
			Window: app.config.RateLimit.MagicLink.Window,
		},
		OTP: ratelimit.Policy{
			Prefix: "otp:ip",
			Limit:  app.config.RateLimit.OTP.MaxRequests,
			Window: app.config.RateLimit.OTP.Window,
		},
	}

	// Handlers
	authHandler := handlers.NewAuthHandler(authSvc, limiter, emailPolicy, app.config.Auth.SessionTTL, app.config.Auth.SecureCookies, logger)
	inviteHandler := handlers.NewInviteHandler(inviteSvc, orgRepo, accessLogRepo, logger)
	rsvpHandler := handlers.NewRSVPHandler(inviteSvc, logger)
	orgInviteHandler := handlers.NewOrgInviteHandler(orgInviteRepo, orgRepo, userRepo, mailer, app.config.Auth.OrgInviteURLTemplate, logger)

	sw := sweeper.NewSweeper(sweeper.SweeperConfig{
		MagicLinks:   linkRepo,
		Sessions:     sessionRepo,
		Invites:      inviteRepo,
		OrgInvites:   orgInviteRepo,
		AccessLogs:   accessLogRepo,
		MemoryLimits: memoryStore,
		Retention:    app.config.Retention,
		RateWindow:   app.config.RateLimit.MagicLink.Window,
	}, logger)

	router := routes.NewRouter(authSvc, authHandler, inviteHandler, rsvpHandler, orgInviteHandler, limiter, policies, logger)
	return router, sw
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, cancel context.CancelFunc, recorder *accesslog.Recorder, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}

	// Stop the sweeper and flush pending access-log writes.
	cancel()
	recorder.Close()
	logger.Info().Msg("Access-log recorder drained.")
}
