package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"example.com/fittrack/internal/api"
	"example.com/fittrack/internal/auth"
	"example.com/fittrack/internal/clock"
	"example.com/fittrack/internal/config"
	"example.com/fittrack/internal/domain"
	"example.com/fittrack/internal/guard"
	"example.com/fittrack/internal/logger"
	"example.com/fittrack/internal/notify"
	"example.com/fittrack/internal/oracle"
	"example.com/fittrack/internal/outbox"
	"example.com/fittrack/internal/persistence/memory"
	persistence "example.com/fittrack/internal/persistence/postgres"
	httptransport "example.com/fittrack/internal/transport/http"
)

// stores bundles the gateways a storage driver provides.
type stores interface {
	domain.ProfileGateway
	domain.PreferencesGateway
	domain.ActivityLedger
	domain.PlanStore
	domain.FeastConfigStore
	domain.MealOverrideStore
}

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	window, err := clock.LoadDateWindow(cfg.UserTimezone, clock.System{})
	if err != nil {
		log.Warn("unknown user timezone, using UTC", "timezone", cfg.UserTimezone, "error", err)
	}

	var (
		store stores
		pool  *pgxpool.Pool
	)
	switch cfg.StorageDriver {
	case config.StorageMemory:
		log.Warn("using in-memory storage; state is lost on restart")
		store = memory.NewStore()
	default:
		pool, err = pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatal("failed to connect to postgres", "error", err)
		}
		defer pool.Close()
		store = persistence.NewStore(pool)
	}

	hub := notify.NewHub()
	var (
		lock     domain.Guard           = guard.NewMemory()
		notifier domain.RefreshNotifier = hub
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
		}
		if cfg.LockTTLRaised {
			log.Warn("LOCK_TTL raised to outlast ORACLE_TIMEOUT", "lock_ttl", cfg.LockTTL, "oracle_timeout", cfg.OracleTimeout)
		}
		lock = guard.NewRedis(rdb, cfg.LockTTL, log)
		publisher := notify.NewRedisPublisher(rdb, cfg.RedisChannel, log)
		notifier = publisher
		go func() {
			err := publisher.Subscribe(ctx, func(change domain.PlanChange) {
				_ = hub.PlanChanged(ctx, change)
			})
			if err != nil && ctx.Err() == nil {
				log.Error("plan refresh subscription stopped", "error", err)
			}
		}()
	}

	service := domain.NewService(domain.Dependencies{
		Profiles:    store,
		Preferences: store,
		Ledger:      store,
		Oracle:      oracle.NewClient(cfg.OracleURL, cfg.OracleTimeout, log),
		Plans:       store,
		Feasts:      store,
		Overrides:   store,
		Guard:       lock,
		Notifier:    notifier,
		Window:      window,
		Policy:      domain.BankingPolicy{DefaultBankCalories: cfg.DefaultBankCalories},
		Logger:      log,
	})

	var dispatcher *outbox.Dispatcher
	if cfg.OutboxEnabled() && pool != nil {
		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers, log)
		defer producer.Close()
		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher = outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize, log)
		go dispatcher.Start(ctx)
	}

	mux := http.NewServeMux()
	api.NewHandler(service, log, api.WithRefreshFeed(hub)).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	serverCfg := httptransport.DefaultServerConfig(cfg.HTTPAddress)
	server := httptransport.NewServer(serverCfg, httptransport.Chain(mux,
		httptransport.RequestLogger(log),
		httptransport.CORS(cfg.CORSOrigins),
		authMiddleware.Wrap,
	))

	if err := httptransport.Serve(ctx, server, serverCfg.ShutdownTimeout, log); err != nil {
		log.Error("http server stopped", "error", err)
	}
	stop()

	if dispatcher != nil {
		dispatcher.Wait()
	}
	log.Info("plan engine stopped")
}
