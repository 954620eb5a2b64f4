package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blogsmith/blogsmith/internal/config"
	"github.com/blogsmith/blogsmith/internal/jobs"
	"github.com/blogsmith/blogsmith/internal/pipeline/static"
	"github.com/blogsmith/blogsmith/internal/queue"
	"github.com/blogsmith/blogsmith/internal/storage"
	"github.com/blogsmith/blogsmith/internal/worker"
	"github.com/blogsmith/blogsmith/shared/logger"
	"github.com/blogsmith/blogsmith/shared/postgresql"
	"github.com/blogsmith/blogsmith/shared/rabbitmq"
	sharedredis "github.com/blogsmith/blogsmith/shared/redis"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("storage_backend", cfg.Storage.Backend),
		slog.String("queue_backend", cfg.Queue.Backend),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, q, cleanup, err := buildBackends(ctx, cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	defer cleanup()

	pl := static.New(cfg.Pipeline.Weights, appLogger.Logger)
	jobService := jobs.NewService(store, q, pl, jobs.Defaults{
		Topics:        cfg.Pipeline.Topics,
		Sources:       cfg.Pipeline.Sources,
		NumCandidates: cfg.Pipeline.NumCandidates,
		MaxResults:    cfg.Pipeline.MaxResults,
	}, appLogger.Logger)

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:            appLogger.Logger,
		Queue:             q,
		Jobs:              jobService,
		Concurrency:       cfg.Worker.Concurrency,
		JobTimeout:        cfg.Worker.JobTimeout,
		PollInterval:      cfg.Worker.PollInterval,
		VisibilityTimeout: cfg.Worker.VisibilityTimeout,
		ReclaimSchedule:   cfg.Worker.ReclaimSchedule,
	})

	errChan := make(chan error, 1)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error", slog.Any("error", err))
		return err
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	select {
	// Start's deferred Stop drains the pool before it returns.
	case <-workerDone:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// buildBackends constructs the configured storage and queue backends and
// initializes both. The returned cleanup closes every client that was
// opened.
func buildBackends(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Backend, queue.Backend, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var pgClient *postgresql.Client
	if cfg.Storage.Backend == storage.BackendPostgres || cfg.Queue.Backend == queue.BackendPostgres {
		var err error
		pgClient, err = initPostgreSQL(&cfg.Database, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		closers = append(closers, func() { pgClient.Close() })
	}

	deps := queue.Deps{Postgres: pgClient, Logger: log}

	if cfg.Queue.Backend == queue.BackendRabbitMQ {
		rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, log)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		closers = append(closers, func() { rabbitClient.Close() })
		deps.RabbitMQ = rabbitClient
	}

	if cfg.Queue.Backend == queue.BackendRedis {
		redisClient, err := sharedredis.NewClient(cfg.Redis.URL, log)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		closers = append(closers, func() { redisClient.Close() })
		deps.Redis = redisClient
	}

	store, err := storage.NewBackend(cfg.Storage.Backend, pgClient, log)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	if err := store.Initialize(ctx); err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	closers = append(closers, func() { store.Close() })

	q, err := queue.NewBackend(cfg.Queue.Backend, cfg.Queue.MaxAttempts, deps)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	if err := q.Initialize(ctx); err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("failed to initialize queue: %w", err)
	}
	closers = append(closers, func() { q.Close() })

	return store, q, cleanup, nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
	}, logger)
}
