package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/tile-allocator/internal/allocation"
	"github.com/cuongbtq/tile-allocator/internal/api/handler"
	"github.com/cuongbtq/tile-allocator/internal/api/router"
	"github.com/cuongbtq/tile-allocator/internal/api/storage"
	"github.com/cuongbtq/tile-allocator/internal/config"
	"github.com/cuongbtq/tile-allocator/internal/events"
	"github.com/cuongbtq/tile-allocator/internal/ingest"
	"github.com/cuongbtq/tile-allocator/internal/metrics"
	"github.com/cuongbtq/tile-allocator/internal/sweeper"
	"github.com/cuongbtq/tile-allocator/shared/logger"
	"github.com/cuongbtq/tile-allocator/shared/postgresql"
	"github.com/cuongbtq/tile-allocator/shared/rabbitmq"
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

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	store := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)
	if cfg.Database.AutoMigrate {
		if err := store.Migrate(context.Background()); err != nil {
			return err
		}
	}

	// Event publishing is optional
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		asyncPublisher := events.NewAsyncPublisher(
			events.NewBrokerPublisher(rabbitClient, cfg.RabbitMQ.Publish.Timeout),
			cfg.RabbitMQ.Publish.QueueSize,
			appLogger.With(slog.String("component", "events")).Logger,
		)
		// runs before rabbitClient.Close so queued events still reach the broker
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.RabbitMQ.Publish.Timeout)
			defer cancel()
			if err := asyncPublisher.Close(ctx); err != nil {
				appLogger.Warn("Dropped queued events on shutdown", slog.Any("error", err))
			}
		}()

		publisher = asyncPublisher
		appLogger.Info("RabbitMQ connection established")
	} else {
		appLogger.Info("RabbitMQ disabled, events will not be published")
	}

	appMetrics := metrics.New("")

	if err := os.MkdirAll(cfg.Upload.Dir, 0o750); err != nil {
		return fmt.Errorf("failed to create upload dir: %w", err)
	}

	pipeline := ingest.NewPipeline(&ingest.Config{
		Store:     store,
		Publisher: publisher,
		Recorder:  appMetrics,
		Logger:    appLogger.With(slog.String("component", "ingest")).Logger,
		Timeout:   cfg.Upload.IngestTimeout,
	})

	allocator := allocation.NewService(&allocation.Config{
		Store:     store,
		Publisher: publisher,
		Recorder:  appMetrics,
		Logger:    appLogger.With(slog.String("component", "allocation")).Logger,
	})

	uploadSweeper, err := sweeper.New(&sweeper.Config{
		Dir:      cfg.Upload.Dir,
		MaxAge:   cfg.Upload.SweepMaxAge,
		Schedule: cfg.Upload.SweepSchedule,
		Logger:   appLogger.Logger,
	})
	if err != nil {
		return err
	}
	uploadSweeper.Start()

	// Initialize router
	r := initRouter(cfg, &handler.Dependencies{
		Logger:       appLogger.Logger,
		Ingester:     pipeline,
		Allocator:    allocator,
		Reader:       store,
		UploadDir:    cfg.Upload.Dir,
		MaxFileBytes: cfg.Upload.MaxFileBytes,
	}, router.Options{
		ServiceName: cfg.App.Name,
		Health:      dbClient,
		Metrics:     appMetrics,
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		slog.Duration("ingest_timeout", cfg.Upload.IngestTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	appLogger.Info("Shutting down server...")

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := uploadSweeper.Stop(ctx); err != nil {
		appLogger.Warn("Upload sweeper did not stop in time", slog.Any("error", err))
	}

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		File:         cfg.File,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
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
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
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
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, deps *handler.Dependencies, opts router.Options) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps, opts)
}
