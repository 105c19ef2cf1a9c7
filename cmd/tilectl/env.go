package main

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/tile-allocator/internal/api/storage"
	"github.com/cuongbtq/tile-allocator/internal/config"
	"github.com/cuongbtq/tile-allocator/shared/logger"
	"github.com/cuongbtq/tile-allocator/shared/postgresql"
)

// loadConfig reads .env (if any) and the YAML config
func loadConfig(configPath string) (*config.Config, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newCLILogger keeps library logging on stderr so command output stays clean
func newCLILogger() *slog.Logger {
	l, err := logger.New(&logger.Config{Level: "warn", Format: "console", Output: "stderr"})
	if err != nil {
		return slog.Default()
	}
	return l.Logger
}

// openStorage connects to the configured database
func openStorage(cfg *config.Config) (*storage.Storage, func(), error) {
	if err := cfg.ValidateDatabase(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	cliLogger := newCLILogger()
	client, err := postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, cliLogger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s:%d: %w", cfg.Database.Host, cfg.Database.Port, err)
	}

	return storage.NewStorage(client.GetDB(), cliLogger), func() { _ = client.Close() }, nil
}
