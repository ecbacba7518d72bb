package redis

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"StakePilot-Chain/pkg/logger"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript 只删除仍由自己持有的锁。
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

const (
	defaultPrefix  = "stakepilot:lock:"
	defaultTTL     = 210 * time.Second
	requestTimeout = 3 * time.Second
)

// LockerConfig 描述 Redis 锁的连接参数。
type LockerConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

type lockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *goredis.Cmd
}

// Locker 以 SET NX PX 实现非阻塞的关联键锁。
type Locker struct {
	client lockClient
	closer func() error
	prefix string
	ttl    time.Duration
	log    *slog.Logger
}

// NewLocker 连接 Redis 并检查连接。
func NewLocker(ctx context.Context, cfg LockerConfig) (*Locker, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	l := newLocker(client, cfg)
	l.closer = client.Close
	return l, nil
}

func newLocker(client lockClient, cfg LockerConfig) *Locker {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Locker{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		log:    logger.Named("redis_locker"),
	}
}

// TryLock 尝试获取 key 上的锁，Redis 不可用时视为未获取。
func (l *Locker) TryLock(key string) (func(), bool) {
	if key == "" {
		return func() {}, true
	}
	token := uuid.NewString()
	redisKey := l.prefix + key

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		l.log.Warn("获取分布式锁失败", slog.String("key", key), slog.Any("error", err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(redisKey, key, token) })
	}, true
}

func (l *Locker) release(redisKey, key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := l.client.Eval(ctx, releaseScript, []string{redisKey}, token).Err(); err != nil {
		l.log.Warn("释放分布式锁失败", slog.String("key", key), slog.Any("error", err))
	}
}

// Close 关闭 Redis 连接。
func (l *Locker) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer()
}
