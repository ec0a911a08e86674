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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/streamrelay/transcoder/internal/api/handler"
	"github.com/streamrelay/transcoder/internal/api/router"
	"github.com/streamrelay/transcoder/internal/config"
	"github.com/streamrelay/transcoder/internal/jobstore"
	"github.com/streamrelay/transcoder/internal/queue"
	"github.com/streamrelay/transcoder/shared/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("API_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv()

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("starting api service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	jobs, err := jobstore.Open(cfg.Database.Path, cfg.Database.MaxOpenConns, cfg.Database.BusyTimeout, appLogger)
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	defer jobs.Close()
	appLogger.Info("job store opened", slog.String("path", cfg.Database.Path))

	q, err := queue.New(queue.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		KeyPrefix:    cfg.Redis.KeyPrefix,
		DialTimeout:  cfg.Redis.DialTimeout,
		StallWindow:  cfg.Redis.StallWindow,
		CleanupEvery: cfg.Redis.CleanupEvery,
	}, "transcode", appLogger)
	if err != nil {
		return fmt.Errorf("failed to connect to queue: %w", err)
	}
	defer q.Close()
	appLogger.Info("queue connected", slog.String("addr", cfg.Redis.Addr))

	r := initRouter(cfg.App.Environment, appLogger, jobs, q, cfg.Auth.APIKey)

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
			appLogger.Error("server failed to start", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	appLogger.Info("api service is running", slog.String("address", addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("server forced to shutdown", slog.Any("error", err))
		return err
	}

	appLogger.Info("server shutdown complete")
	return nil
}

func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableSource,
		TimeFormat:   time.RFC3339,
	}
	return logger.New(loggerCfg)
}

func initRouter(environment string, log *logger.Logger, jobs *jobstore.Store, q *queue.Queue, apiKey string) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	deps := &handler.Dependencies{
		Logger: log,
		Jobs:   jobs,
		Queue:  q,
	}

	return router.SetupRouter(deps, apiKey)
}
