package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"StakePilot-Chain/internal/api"
	"StakePilot-Chain/internal/config"
	"StakePilot-Chain/internal/conversation"
	"StakePilot-Chain/internal/followup"
	"StakePilot-Chain/internal/observability/metrics"
	"StakePilot-Chain/internal/storage/mysql"
	"StakePilot-Chain/internal/thread"
	"StakePilot-Chain/pkg/logger"
)

// main 是 StakePilot 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("stakepilotd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return err
	}

	if err := logger.Init(loggerConfig(cfg)); err != nil {
		return err
	}
	defer logger.Sync()
	lg := logger.Named("stakepilotd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			lg.Warn("关闭消息存储失败", slog.Any("error", err))
		}
	}()

	queue, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			lg.Warn("关闭事件队列失败", slog.Any("error", err))
		}
	}()

	registry := metrics.Default
	dispatcher := followup.NewDispatcher(cfg.Followup.WebhookURL, cfg.Followup.WebhookTimeout(),
		followup.WithRecorder(registry))

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	go func() {
		if err := dispatcher.Run(workerCtx, queue, cfg.Followup.Workers); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("后续事件分发异常退出", slog.Any("error", err))
		}
	}()

	if addr := cfg.Observability.MetricsAddress; addr != "" {
		go func() {
			if err := metrics.StartServer(workerCtx, addr, registry); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	threads := thread.NewService(store, queue)
	server := api.NewServer(cfg.Server.Address, threads, api.WithMetrics(registry))
	lg.Info("StakePilot 守护进程启动",
		slog.String("store", cfg.Storage.MessageStore.Driver),
		slog.String("followup", cfg.Followup.Driver))

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func loggerConfig(cfg *config.Config) logger.Config {
	return logger.Config{
		Service:     "stakepilotd",
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}
}

func openStore(ctx context.Context, cfg *config.Config) (conversation.Store, error) {
	switch cfg.Storage.MessageStore.Driver {
	case "memory":
		return conversation.NewMemoryStore(), nil
	case "file":
		return conversation.NewFileStore(cfg.Runtime.DataDir)
	case "mysql":
		sc := cfg.Storage.MessageStore
		return conversation.NewMySQLStore(ctx, mysql.Config{
			DSN:             sc.DSN,
			MaxOpenConns:    sc.MaxOpenConns,
			MaxIdleConns:    sc.MaxIdleConns,
			ConnMaxLifetime: time.Duration(sc.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(sc.ConnMaxIdleTimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的消息存储驱动: %s", cfg.Storage.MessageStore.Driver)
	}
}

func openQueue(ctx context.Context, cfg *config.Config) (followup.Queue, error) {
	switch cfg.Followup.Driver {
	case "memory":
		return followup.NewMemoryQueue(1024), nil
	case "redis":
		rc := cfg.Followup.Redis
		return followup.NewRedisQueue(ctx, followup.RedisQueueConfig{
			Address:   rc.Address,
			Password:  rc.Password,
			DB:        rc.DB,
			Queue:     rc.Queue,
			BlockWait: time.Duration(rc.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		rc := cfg.Followup.RabbitMQ
		return followup.NewRabbitMQQueue(followup.RabbitMQConfig{
			URL:        rc.URL,
			Queue:      rc.Queue,
			Prefetch:   rc.Prefetch,
			Durable:    rc.Durable,
			AutoDelete: rc.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Followup.Driver)
	}
}
