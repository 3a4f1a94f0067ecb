package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/config"
	"github.com/garyjia/printshop-workflow/internal/container"
	apihttp "github.com/garyjia/printshop-workflow/internal/interfaces/http"
	"github.com/garyjia/printshop-workflow/pkg/utils"
)

// NewServeCommand runs the workers and the ops HTTP server
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the task workers and the ops HTTP server",
		Action:  serve,
	}
}

// NewMigrateCommand applies the database schema and exits
func NewMigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the database schema and exit",
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, logger, err := setup(command)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if err := container.Migrate(&cfg.ToContainerConfig().Database, logger); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("Migrations applied", zap.String("driver", cfg.Database.Driver))
			return nil
		},
	}
}

func serve(ctx context.Context, command *cli.Command) error {
	cfg, logger, err := setup(command)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	logger = logger.With(zap.String("worker_id", workerID))

	logger.Info("Starting print shop workflow service",
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Driver))

	containerCfg := cfg.ToContainerConfig()
	containerCfg.WorkerID = workerID

	c, err := container.NewContainer(containerCfg, logger)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("start container: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Container shutdown failed", zap.Error(err))
		}
	}()

	serverCfg := apihttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	if cfg.Metrics.Enabled {
		serverCfg.MetricsPath = cfg.Metrics.Path
	}

	server := apihttp.NewServer(serverCfg, apihttp.Deps{
		Workflow: c.Orchestrator(),
		Audit:    c.AuditLog(),
		Health: func(ctx context.Context) (bool, interface{}) {
			status := c.Health(ctx)
			return status.Overall, status.Components
		},
		Registry: c.Registry(),
		Metrics:  c.HTTPMetrics(),
		Logger:   utils.NewKVLogger(logger.Named("http")),
	})

	// Blocks until SIGINT/SIGTERM cancels ctx
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("Server exited successfully")
	return nil
}

// setup loads configuration and builds the root logger
func setup(command *cli.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(command.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(cfg.ToLoggerConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}
