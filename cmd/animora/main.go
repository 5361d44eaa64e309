package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/animora/animora/internal/api/handler"
	"github.com/animora/animora/internal/config"
	"github.com/animora/animora/internal/database"
	"github.com/animora/animora/internal/email"
	"github.com/animora/animora/internal/health"
	"github.com/animora/animora/internal/identity"
	"github.com/animora/animora/internal/oauth"
	"github.com/animora/animora/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "animora:", err)
		os.Exit(1)
	}

	var logger *zap.Logger
	if cfg.Development() {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("animora exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting animora",
		zap.String("run_mode", string(cfg.RunMode)),
		zap.String("store", cfg.StoreDriver),
		zap.String("email_provider", cfg.Email.Provider),
	)

	// ── Credential store ─────────────────────────────────────────────────────
	store, probes, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// ── OAuth state (Redis, memory fallback) ─────────────────────────────────
	var states oauth.StateStore = oauth.NewMemoryStateStore()
	if cfg.RedisURL != "" {
		rdb, err := database.ConnectRedis(ctx, cfg.RedisURL, database.RetryConfig{})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		states = oauth.NewRedisStateStore(rdb)
		probes = append(probes, health.Probe{Name: "redis", Check: database.RedisHealthcheck(rdb)})
		logger.Info("connected to redis")
	} else {
		logger.Warn("redis.url not set, oauth state kept in memory")
	}

	// ── Identity ─────────────────────────────────────────────────────────────
	keys := identity.NewKeyManager(cfg.KeyDir)
	if err := keys.LoadOrCreate(); err != nil {
		return fmt.Errorf("signing key setup: %w", err)
	}
	tokens := identity.NewUserTokenIssuer(keys, cfg.IssuerURL)
	logger.Info("signing key ready", zap.String("kid", tokens.KeyID()), zap.String("key_dir", cfg.KeyDir))

	// ── Email ────────────────────────────────────────────────────────────────
	sender, err := newEmailSender(cfg.Email, logger)
	if err != nil {
		return err
	}
	dispatcher := email.NewDispatcher(sender, cfg.Email.SendTimeout, logger)
	dispatcher.SetMetricsRecord(handler.RecordEmailDispatch)

	// ── Services ─────────────────────────────────────────────────────────────
	userSvc := users.NewUserService(store, users.NewPasswordHasher(cfg.BcryptCost), tokens, dispatcher, logger)
	userSvc.SetFrontendURL(cfg.FrontendURL)
	userSvc.SetDevelopmentMode(cfg.Development())
	userSvc.SetRequireVerifiedLogin(cfg.RequireVerifiedLogin)
	userSvc.SetStoreTimeout(cfg.StoreOpTimeout)

	authHandler := handler.NewAuthHandler(userSvc, tokens, logger)
	authHandler.SetFrontendURL(cfg.FrontendURL)
	authHandler.SetDevelopmentMode(cfg.Development())

	google, err := oauth.NewGoogleProvider(oauth.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	}, states)
	switch {
	case err == nil:
		authHandler.SetOAuthProvider(google)
		logger.Info("google sign-in enabled", zap.String("redirect_url", cfg.GoogleRedirectURL))
	case errors.Is(err, oauth.ErrNotConfigured):
		logger.Warn("google sign-in disabled: client id or secret not set")
	default:
		return fmt.Errorf("google oauth setup: %w", err)
	}

	// ── Health ───────────────────────────────────────────────────────────────
	checker := health.New(probes, health.Config{CheckInterval: cfg.HealthCheckInterval}, logger)
	checker.SetMetricsRecord(handler.RecordDependency)
	go checker.Start(ctx)

	// ── HTTP ─────────────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handler.NewRouter(ctx, handler.RouterConfig{
		Auth:         authHandler,
		Tokens:       tokens,
		Ready:        checker.Handler(),
		CORSOrigins:  cfg.CORSOrigins,
		RateLimitRPS: cfg.RateLimitRPS,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("animora HTTP listening", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http listen: %w", err)
	}

	// ── Graceful shutdown ────────────────────────────────────────────────────
	logger.Info("shutting down animora...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn("email dispatcher did not drain", zap.Error(err))
	}

	logger.Info("animora stopped")
	return nil
}

// openStore connects the configured credential store and returns its
// readiness probes and a close func.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (users.Store, []health.Probe, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		client, err := database.ConnectMongo(ctx, cfg.Mongo.URL, database.RetryConfig{
			ConnectTimeout: cfg.Mongo.ConnectTimeout,
			Attempts:       cfg.Mongo.RetryAttempts,
			Interval:       cfg.Mongo.RetryInterval,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		closeFn := func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(dctx)
		}
		store := users.NewMongoStore(client.Database(cfg.Mongo.Database))
		if err := store.EnsureIndexes(ctx); err != nil {
			closeFn()
			return nil, nil, nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		logger.Info("connected to mongo", zap.String("database", cfg.Mongo.Database))
		probes := []health.Probe{{Name: "mongo", Check: database.MongoHealthcheck(client)}}
		return store, probes, closeFn, nil

	case config.StorePostgres:
		pool, err := database.ConnectPostgres(ctx, cfg.DatabaseURL, database.RetryConfig{})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		logger.Info("connected to postgres")
		probes := []health.Probe{{Name: "postgres", Check: database.PostgresHealthcheck(pool)}}
		return users.NewPostgresStore(pool), probes, pool.Close, nil

	default:
		logger.Warn("using in-memory credential store, data is lost on restart")
		return users.NewMemoryStore(), nil, func() {}, nil
	}
}

func newEmailSender(cfg config.EmailConfig, logger *zap.Logger) (email.EmailSender, error) {
	switch cfg.Provider {
	case config.EmailSMTP:
		s, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.FromAddress)
		if err != nil {
			return nil, fmt.Errorf("smtp sender: %w", err)
		}
		return s, nil
	case config.EmailPostmark:
		s, err := email.NewPostmarkSender(cfg.PostmarkServerToken, cfg.PostmarkAccountToken, cfg.FromAddress)
		if err != nil {
			return nil, fmt.Errorf("postmark sender: %w", err)
		}
		return s, nil
	default:
		logger.Warn("email provider is noop, messages are logged and dropped")
		return email.NewNoopSender(logger), nil
	}
}
