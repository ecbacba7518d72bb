package followup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"StakePilot-Chain/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis list 实现事件队列，LPUSH 投递、BRPOP 消费。
type RedisQueue struct {
	client redis.UniversalClient
	queue  string
	wait   time.Duration
	log    *slog.Logger
}

// NewRedisQueue 创建 Redis 队列实例并检查连接。
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return newRedisQueue(client, cfg), nil
}

func newRedisQueue(client redis.UniversalClient, cfg RedisQueueConfig) *RedisQueue {
	queue := cfg.Queue
	if queue == "" {
		queue = "stakepilot:followups"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, queue: queue, wait: wait, log: logger.Named("followup.redis")}
}

// Publish 将事件投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, event Event) error {
	data, err := encodeEvent(event)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.queue, data).Err(); err != nil {
		return fmt.Errorf("Redis 发布事件失败: %w", err)
	}
	return nil
}

// Consume 通过 BRPOP 从 Redis 获取事件，失败的事件在上限内重新 LPUSH。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	return consumeLoop(ctx, workerCount, func(ctx context.Context) error {
		values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
		switch {
		case errors.Is(err, redis.Nil), ctx.Err() != nil:
			return nil
		case errors.Is(err, redis.ErrClosed):
			return errStopped
		case err != nil:
			return fmt.Errorf("Redis 取事件失败: %w", err)
		case len(values) != 2:
			return nil
		}
		if retry, ok := q.process(ctx, values[1], handler); ok {
			if err := q.Publish(ctx, retry); err != nil {
				q.log.Warn("事件重新入队失败", slog.String("event_id", retry.ID), slog.Any("error", err))
			}
		}
		return nil
	})
}

// process 处理一条原始消息，返回需要重新入队的事件。
func (q *RedisQueue) process(ctx context.Context, raw string, handler Handler) (Event, bool) {
	event, err := decodeEvent([]byte(raw))
	if err != nil {
		q.log.Warn("丢弃无法解析的事件", slog.Any("error", err))
		return Event{}, false
	}
	if err := handler(ctx, event); err != nil {
		next, retry := event.Retry()
		if !retry {
			q.log.Error("事件处理多次失败，已放弃", slog.String("event_id", event.ID), slog.Any("error", err))
		}
		return next, retry
	}
	return Event{}, false
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
