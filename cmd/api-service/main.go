package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blogsmith/blogsmith/internal/api/handler"
	"github.com/blogsmith/blogsmith/internal/api/router"
	"github.com/blogsmith/blogsmith/internal/config"
	"github.com/blogsmith/blogsmith/internal/feedback"
	"github.com/blogsmith/blogsmith/internal/jobs"
	"github.com/blogsmith/blogsmith/internal/pipeline/static"
	"github.com/blogsmith/blogsmith/internal/queue"
	"github.com/blogsmith/blogsmith/internal/storage"
	"github.com/blogsmith/blogsmith/shared/logger"
	"github.com/blogsmith/blogsmith/shared/postgresql"
	"github.com/blogsmith/blogsmith/shared/rabbitmq"
	sharedredis "github.com/blogsmith/blogsmith/shared/redis"
	"github.com/gin-gonic/gin"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("storage_backend", cfg.Storage.Backend),
		slog.String("queue_backend", cfg.Queue.Backend),
	)

	ctx := context.Background()

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
	feedbackService := feedback.NewService(store, appLogger.Logger)

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	r := router.SetupRouter(&handler.Dependencies{
		Logger:   appLogger.Logger,
		Jobs:     jobService,
		Feedback: feedbackService,
		Storage:  store,
		Queue:    q,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	appLogger.Info("API service is running", slog.String("address", addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
		return err
	}

	appLogger.Info("Server shutdown complete")
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
