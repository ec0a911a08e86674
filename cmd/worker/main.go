package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/streamrelay/transcoder/internal/callback"
	"github.com/streamrelay/transcoder/internal/checkpoint"
	"github.com/streamrelay/transcoder/internal/config"
	"github.com/streamrelay/transcoder/internal/encoder"
	"github.com/streamrelay/transcoder/internal/jobstore"
	"github.com/streamrelay/transcoder/internal/objectstore"
	"github.com/streamrelay/transcoder/internal/queue"
	"github.com/streamrelay/transcoder/internal/worker"
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

	defaultConfigPath := os.Getenv("WORKER_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv()

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.Int("concurrency", cfg.Worker.Concurrency),
	)

	jobs, err := jobstore.Open(cfg.Database.Path, cfg.Database.MaxOpenConns, cfg.Database.BusyTimeout, appLogger)
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	defer jobs.Close()

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

	if err := os.MkdirAll(cfg.Worker.ScratchDir, 0o755); err != nil {
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}
	checkpoints, err := checkpoint.NewStore(cfg.Worker.ScratchDir)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	objects, err := objectstore.New(objectstore.Config{
		Endpoint:        cfg.ObjectStore.Endpoint,
		Region:          cfg.ObjectStore.Region,
		AccessKeyID:     cfg.ObjectStore.AccessKeyID,
		SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
		UseSSL:          cfg.ObjectStore.UseSSL,
		SourceBucket:    cfg.ObjectStore.SourceBucket,
		OutputBucket:    cfg.ObjectStore.OutputBucket,
		PublicBaseURL:   cfg.ObjectStore.PublicBaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to create object store client: %w", err)
	}

	driver := encoder.NewDriver(encoder.NewCommandRunner(), cfg.Worker.FFmpegPath, cfg.Worker.FFprobePath)

	cb := callback.New(callback.Config{
		DefaultURL: cfg.Callback.DefaultURL,
		Token:      cfg.Callback.Token,
		Timeout:    cfg.Callback.Timeout,
	})

	w := worker.New(worker.Config{
		Jobs:            jobs,
		Queue:           q,
		Checkpoints:     checkpoints,
		Objects:         objects,
		Driver:          driver,
		Callback:        cb,
		Logger:          appLogger,
		Concurrency:        cfg.Worker.Concurrency,
		ShutdownTimeout:    cfg.Worker.ShutdownTimeout,
		CompletedRetention: cfg.Worker.CompletedRetention,
		FailedRetention:    cfg.Worker.FailedRetention,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			appLogger.Error("worker pool exited with error", slog.Any("error", err))
		}
	}()

	reaperInterval := cfg.Worker.ReaperInterval
	if reaperInterval <= 0 {
		reaperInterval = time.Hour
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.RunReaper(ctx, reaperInterval)
	}()

	appLogger.Info("worker service is running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down worker, active jobs will resume from their last checkpoint on restart...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("worker shutdown complete")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("worker shutdown timed out waiting for active jobs")
	}

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
