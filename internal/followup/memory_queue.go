package followup

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"StakePilot-Chain/pkg/logger"
)

// ErrQueueClosed 表示队列已关闭。
var ErrQueueClosed = errors.New("队列已关闭")

// MemoryQueue 使用 channel 实现进程内队列。
// 关闭只关 done，事件 channel 保持打开，投递方无需持锁等待。
type MemoryQueue struct {
	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once
	log       *slog.Logger
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		ch:   make(chan Event, size),
		done: make(chan struct{}),
		log:  logger.Named("followup"),
	}
}

// Publish 将事件投递到队列，队列满时等待直到有空位、ctx 结束或队列关闭。
func (q *MemoryQueue) Publish(ctx context.Context, event Event) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrQueueClosed
	case q.ch <- event:
		return nil
	}
}

// Consume 启动指定数量的工作协程消费队列，处理失败的事件在上限内重新入队。
// 队列关闭后先处理完缓冲中的事件再返回。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	return consumeLoop(ctx, workerCount, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return nil
		case event := <-q.ch:
			q.handle(ctx, event, handler)
			return nil
		case <-q.done:
			select {
			case event := <-q.ch:
				q.handle(ctx, event, handler)
				return nil
			default:
				return errStopped
			}
		}
	})
}

func (q *MemoryQueue) handle(ctx context.Context, event Event, handler Handler) {
	if err := handler(ctx, event); err == nil {
		return
	}
	next, retry := event.Retry()
	if !retry {
		return
	}
	// 工作协程自己就是消费方，不能在满队列上阻塞。
	select {
	case q.ch <- next:
	default:
		q.log.Warn("队列已满，丢弃重试事件",
			slog.String("event_id", next.ID),
			slog.String("tool_call_id", next.ToolCallID),
			slog.Int("attempts", next.Attempts))
	}
}

// Close 关闭内存队列。
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
