package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adlib/coffee-chat/internal/api"
	"github.com/adlib/coffee-chat/internal/config"
	"github.com/adlib/coffee-chat/internal/matching"
	"github.com/adlib/coffee-chat/internal/matchmaker"
	"github.com/adlib/coffee-chat/internal/messaging"
	"github.com/adlib/coffee-chat/internal/notify"
	"github.com/adlib/coffee-chat/internal/pool"
	"github.com/adlib/coffee-chat/internal/ratelimit"
	"github.com/adlib/coffee-chat/internal/store"
	"github.com/adlib/coffee-chat/pkg/logger"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		_ = logger.Init()
		logger.Get().Fatal(ctx, "load config", logger.Error(err))
	}
	if err := logger.InitWithWriter(os.Stdout, cfg.LogFormat); err != nil {
		_ = logger.Init()
		logger.Get().Fatal(ctx, "init logger", logger.Error(err))
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "bad log level, using info", logger.Error(err))
	}
	log := logger.Named("matcher")
	log.Info(ctx, "starting Ad-lib coffee chat matcher")

	// Pool and rate limiter: Redis when configured, otherwise in-process.
	var (
		p       pool.Pool
		limiter ratelimit.Allower
		rdb     *redis.Client
	)
	switch cfg.PoolBackend {
	case "redis":
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatal(ctx, "connect to redis", logger.String("addr", cfg.RedisAddr), logger.Error(err))
		}
		cancel()
		p = pool.NewRedisPool(rdb)
		limiter = ratelimit.NewLimiter(rdb, logger.Named("ratelimit"))
	default:
		p = pool.NewMemoryPool()
		limiter = ratelimit.NewMemoryLimiter()
	}

	// Match and user persistence.
	var (
		matches store.MatchStore = store.NewMemoryMatchStore()
		users   store.UserStore  = store.NewMemoryUserStore()
		db      *sql.DB
	)
	if cfg.DatabaseURL != "" {
		db, err = store.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatal(ctx, "connect to postgres", logger.Error(err))
		}
		if err := store.Migrate(db); err != nil {
			log.Fatal(ctx, "migrate database", logger.Error(err))
		}
		matches = store.NewPostgresMatchStore(db)
		users = store.NewPostgresUserStore(db)
	}

	// Notifications.
	var (
		notifiers  notify.Multi
		natsClient *messaging.NATSClient
	)
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsClient, err = messaging.NewNATSClient(natsConfig, logger.Named("nats"))
		if err != nil {
			log.Fatal(ctx, "connect to nats", logger.Error(err))
		}
		notifiers = append(notifiers, notify.NewNATS(natsClient))
	}
	if cfg.EmailEnabled {
		notifiers = append(notifiers, notify.NewEmail(notify.EmailConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.EmailFrom,
			FromName: cfg.EmailFromName,
			Domain:   cfg.EmailDomain,
		}))
	}

	rules := matching.Rules{
		Padding:           cfg.Padding,
		DurationTolerance: cfg.DurationTolerance,
		MinSameFields:     cfg.MinSameFields,
	}
	opts := []matchmaker.Option{
		matchmaker.WithFinder(matching.NewFinder(rules)),
		matchmaker.WithNotifier(notifiers),
		matchmaker.WithClaimRetries(cfg.ClaimRetries),
		matchmaker.WithCleanupInterval(cfg.CleanupInterval),
		matchmaker.WithLogger(logger.Named("matchmaker")),
	}
	if natsClient != nil {
		opts = append(opts, matchmaker.WithEvents(natsClient))
	}
	svc := matchmaker.New(p, matches, users, opts...)
	svc.Start()

	server := api.NewServer(svc,
		api.WithRateLimit(limiter, ratelimit.Rule{
			Key:    ratelimit.RuleJoin.Key,
			Limit:  cfg.JoinRateLimit,
			Window: cfg.JoinRateWindow,
		}),
		api.WithCORSOrigins(cfg.CORSOrigins),
		api.WithTrustUserHeader(cfg.TrustUserHeader),
		api.WithLogger(logger.Named("api")),
	)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(ctx, "http server", logger.Error(err))
		}
	}()

	log.Info(ctx, "matcher running",
		logger.String("addr", cfg.Addr),
		logger.String("pool", cfg.PoolBackend),
		logger.Bool("postgres", db != nil),
		logger.Bool("nats", natsClient != nil),
		logger.Bool("email", cfg.EmailEnabled),
		logger.Duration("padding", rules.Padding),
		logger.Duration("duration_tolerance", rules.DurationTolerance),
	)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info(ctx, "shutting down", logger.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "http shutdown", logger.Error(err))
	}

	svc.Stop()
	if natsClient != nil {
		natsClient.Close()
	}
	if db != nil {
		db.Close()
	}
	if rdb != nil {
		rdb.Close()
	}
}
