package operation

import (
	"context"
	"sync"

	"StakePilot-Chain/internal/conversation"
	xerrors "StakePilot-Chain/internal/errors"
	"StakePilot-Chain/internal/staking"
	"StakePilot-Chain/internal/web3"
)

// Card 把一个 ToolCall 绑定到它的操作与当前执行器。
type Card struct {
	call   conversation.ToolCall
	op     staking.Operation
	wallet web3.Wallet
	opts   []Option

	mu   sync.Mutex
	exec *Executor
}

// NewCard 解析 ToolCall 参数并以其 ID 作为关联键创建执行器。
func NewCard(ctx context.Context, call conversation.ToolCall, wallet web3.Wallet, opts ...Option) (*Card, error) {
	op, err := staking.DecodeOperation(call.Name, call.Args)
	if err != nil {
		return nil, err
	}
	base := append([]Option(nil), opts...)
	exec, err := New(ctx, op, wallet, append(base, WithCorrelationKey(call.ID))...)
	if err != nil {
		return nil, err
	}
	return &Card{call: call, op: op, wallet: wallet, opts: base, exec: exec}, nil
}

// CardsFor 为消息中每个质押类 ToolCall 创建卡片，其他工具调用被忽略。
func CardsFor(ctx context.Context, msg conversation.Message, wallet web3.Wallet, opts ...Option) ([]*Card, error) {
	var cards []*Card
	for _, call := range conversation.ToolCalls(msg) {
		if _, err := staking.ParseAction(call.Name); err != nil {
			continue
		}
		card, err := NewCard(ctx, call, wallet, opts...)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, nil
}

// ToolCall 返回卡片应答的工具调用。
func (c *Card) ToolCall() conversation.ToolCall { return c.call }

// Operation 返回卡片的操作。
func (c *Card) Operation() staking.Operation { return c.op }

// Executor 返回当前执行器。
func (c *Card) Executor() *Executor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exec
}

// Retry 丢弃失败的执行器并换上新的执行器。新执行器仍应答卡片自己的工具调用，
// 成功后写入的新记录按最新优先覆盖原失败记录。
func (c *Card) Retry(ctx context.Context) (*Executor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.exec.Phase() {
	case PhaseFailed:
	case PhaseExecuting:
		return nil, ErrExecutionInProgress
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "only failed operations can be retried")
	}
	exec, err := New(ctx, c.op, c.wallet, append(append([]Option(nil), c.opts...), WithCorrelationKey(c.call.ID), asRetry())...)
	if err != nil {
		return nil, err
	}
	c.exec = exec
	return exec, nil
}
