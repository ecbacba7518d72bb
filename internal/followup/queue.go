package followup

import (
	"context"
	"errors"
	"sync"
)

// Handler 处理来自队列的事件。
type Handler func(ctx context.Context, event Event) error

// Producer 负责向队列投递事件。
type Producer interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Consumer 负责从队列中消费事件。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// errStopped 表示事件来源已关闭，工作协程正常退出。
var errStopped = errors.New("事件来源已关闭")

// consumeLoop 启动 workers 个协程反复执行 next，任一协程返回错误时全部停止。
// 返回第一个错误；errStopped 视为正常结束，返回 nil。
func consumeLoop(ctx context.Context, workers int, next func(context.Context) error) error {
	if workers <= 0 {
		workers = 1
	}
	loopCtx, stop := context.WithCancel(ctx)
	defer stop()

	var (
		once     sync.Once
		firstErr error
		wg       sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for loopCtx.Err() == nil {
				if err := next(loopCtx); err != nil {
					once.Do(func() { firstErr = err })
					stop()
					return
				}
			}
		}()
	}
	wg.Wait()

	switch {
	case errors.Is(firstErr, errStopped):
		return nil
	case firstErr != nil && ctx.Err() == nil:
		return firstErr
	default:
		return ctx.Err()
	}
}
