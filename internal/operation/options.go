package operation

import (
	"context"
	"log/slog"
	"time"

	"StakePilot-Chain/internal/correlation"
	"StakePilot-Chain/internal/observability/alerting"
	"StakePilot-Chain/internal/staking"
)

// DefaultReceiptTimeout 是等待交易回执的默认上限。
const DefaultReceiptTimeout = 180 * time.Second

const persistTimeout = 15 * time.Second

// Resolver 为操作提供关联键。
type Resolver interface {
	Resolve(ctx context.Context, action staking.CanonicalAction, explicit string) (string, error)
}

// ResultPersister 保存终态结果。
type ResultPersister interface {
	Persist(ctx context.Context, result staking.TransactionResult, key string) error
}

// StateRestorer 从历史中恢复终态结果。
type StateRestorer interface {
	Restore(ctx context.Context, action staking.CanonicalAction, key string) (Record, bool, error)
}

// Locker 提供按关联键的非阻塞互斥。
type Locker interface {
	TryLock(key string) (func(), bool)
}

// Recorder 接收执行相关的指标。
type Recorder interface {
	ObserveOperation(action, outcome string)
	ObservePersist(outcome string)
	ObserveRestore(action string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string) {}
func (nopRecorder) ObservePersist(string)           {}
func (nopRecorder) ObserveRestore(string)           {}

// Option 定义执行器的可选配置。
type Option func(*Executor)

// WithCorrelationKey 指定渲染上下文已知的关联键。
func WithCorrelationKey(key string) Option {
	return func(e *Executor) {
		e.explicitKey = key
	}
}

// WithResolver 设置关联键解析器。
func WithResolver(r Resolver) Option {
	return func(e *Executor) {
		if r != nil {
			e.resolver = r
		}
	}
}

// WithPersister 设置结果持久化组件。
func WithPersister(p ResultPersister) Option {
	return func(e *Executor) {
		if p != nil {
			e.persister = p
		}
	}
}

// WithRestorer 设置终态恢复组件。
func WithRestorer(r StateRestorer) Option {
	return func(e *Executor) {
		if r != nil {
			e.restorer = r
		}
	}
}

// WithKeyLocker 设置关联键锁，同一会话的所有执行器应共享同一实例。
func WithKeyLocker(l Locker) Option {
	return func(e *Executor) {
		if l != nil {
			e.locker = l
		}
	}
}

// WithReceiptTimeout 设置钱包调用与回执等待的总时长上限。
func WithReceiptTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.receiptTimeout = d
		}
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMetrics 设置指标记录器。
func WithMetrics(r Recorder) Option {
	return func(e *Executor) {
		if r != nil {
			e.metrics = r
		}
	}
}

// WithAlertDispatcher 设置告警分发器。
func WithAlertDispatcher(d alerting.Dispatcher) Option {
	return func(e *Executor) {
		e.alerts = d
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// asRetry 标记执行器取代一次失败：挂载时不恢复，执行前只接受成功记录。
func asRetry() Option {
	return func(e *Executor) {
		e.retry = true
	}
}

var _ Locker = (*correlation.KeyLocker)(nil)
