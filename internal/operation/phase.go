package operation

import (
	"context"

	"StakePilot-Chain/internal/staking"
)

// Phase 是执行器所处的阶段。
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseExecuting
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseExecuting:
		return "executing"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal 判断阶段是否为终态。
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Outcome 是一次执行的观察结果。Phase 为 PhaseExecuting 时表示调用方停止等待时交易仍未确定，
// 交易之后仍可能上链，结果也仍会被持久化。
type Outcome struct {
	Phase      Phase
	Result     *staking.TransactionResult
	Err        error
	Key        string
	Restored   bool
	Persisted  bool
	PersistErr error
}

// Pending 表示调用方放弃等待时执行尚未结束。
func (o Outcome) Pending() bool {
	return o.Phase == PhaseExecuting
}

// Hash 返回交易哈希。
func (o Outcome) Hash() string {
	if o.Result == nil {
		return ""
	}
	return o.Result.Hash
}

// Task 表示一次已经开始的执行。
type Task struct {
	done    chan struct{}
	outcome Outcome
}

func newTask() *Task {
	return &Task{done: make(chan struct{})}
}

func finishedTask(outcome Outcome) *Task {
	t := newTask()
	t.finish(outcome)
	return t
}

func (t *Task) finish(outcome Outcome) {
	t.outcome = outcome
	close(t.done)
}

// Done 在执行结束且结果处理完毕后关闭。
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait 等待执行结束；ctx 先结束时返回 Pending 结果，不会中断执行。
func (t *Task) Wait(ctx context.Context) Outcome {
	select {
	case <-t.done:
		return t.outcome
	case <-ctx.Done():
		select {
		case <-t.done:
			return t.outcome
		default:
		}
		return Outcome{Phase: PhaseExecuting, Err: ctx.Err()}
	}
}
