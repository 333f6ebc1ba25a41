package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"example.com/fittrack/internal/clock"
	"example.com/fittrack/internal/config"
	"example.com/fittrack/internal/consumer"
	"example.com/fittrack/internal/domain"
	"example.com/fittrack/internal/guard"
	"example.com/fittrack/internal/logger"
	"example.com/fittrack/internal/notify"
	"example.com/fittrack/internal/oracle"
	persistence "example.com/fittrack/internal/persistence/postgres"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatal("failed to connect to postgres", "error", err)
	}
	defer pool.Close()

	window, err := clock.LoadDateWindow(cfg.UserTimezone, clock.System{})
	if err != nil {
		log.Warn("unknown user timezone, using UTC", "timezone", cfg.UserTimezone, "error", err)
	}

	// Stale signals only reach API clients through Redis.
	var notifier domain.RefreshNotifier = notify.NewHub()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		notifier = notify.NewRedisPublisher(rdb, cfg.RedisChannel, log)
	} else {
		log.Warn("REDIS_ADDR not set; stale plan signals stay local")
	}

	store := persistence.NewStore(pool)
	service := domain.NewService(domain.Dependencies{
		Profiles:    store,
		Preferences: store,
		Ledger:      store,
		Oracle:      oracle.NewClient(cfg.OracleURL, cfg.OracleTimeout, log),
		Plans:       store,
		Feasts:      store,
		Overrides:   store,
		Guard:       guard.NewMemory(),
		Notifier:    notifier,
		Window:      window,
		Policy:      domain.BankingPolicy{DefaultBankCalories: cfg.DefaultBankCalories},
		Logger:      log,
	})

	handler := consumer.Chain(
		consumer.NewEventLogHandler(pool),
		consumer.NewStalenessHandler(service, log),
	)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		log.Info("consumer metrics listening", "address", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", "error", err)
		}
	}()

	group, groupCtx := errgroup.WithContext(ctx)
	for _, topic := range cfg.ConsumerTopics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.KafkaBrokers,
			GroupID:         cfg.ConsumerGroupID,
			Topic:           topic,
			MinBytes:        1e3,
			MaxBytes:        10e6,
			CommitInterval:  time.Second,
			RetentionTime:   24 * time.Hour,
			ReadLagInterval: -1,
		})
		topicLog := log.With("topic", topic, "group", cfg.ConsumerGroupID)
		proc := consumer.NewProcessor(reader, handler, consumer.WithLogger(topicLog))

		group.Go(func() error {
			defer reader.Close()

			topicLog.Info("consumer started")
			if err := proc.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				topicLog.Error("consumer stopped with error", "error", err)
				return err
			}
			return nil
		})
	}

	// A failed reader stops the others so the process restarts as a whole.
	<-groupCtx.Done()
	log.Info("consumer shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown error", "error", err)
	}

	if err := group.Wait(); err != nil {
		log.Fatal("consumer exited", "error", err)
	}
}
