package operation

import (
	"context"

	"StakePilot-Chain/internal/conversation"
	"StakePilot-Chain/internal/correlation"
	xerrors "StakePilot-Chain/internal/errors"
	"StakePilot-Chain/internal/staking"
)

// Restorer 从消息流中找回已经持久化的终态结果。
type Restorer struct {
	view     conversation.View
	resolver *correlation.Resolver
}

// NewRestorer 基于消息流视图创建 Restorer。
func NewRestorer(view conversation.View) *Restorer {
	return &Restorer{view: view, resolver: correlation.NewResolver(view)}
}

// Record 是从消息流恢复出的终态结果及其所属的关联键。
type Record struct {
	Key    string
	Result staking.TransactionResult
}

// Restore 解析关联键后查找最新的结果消息。只有内容可解析、记录为终态且
// 规范操作名一致时才返回 true。
func (r *Restorer) Restore(ctx context.Context, action staking.CanonicalAction, key string) (Record, bool, error) {
	if r == nil || r.view == nil {
		return Record{}, false, nil
	}
	msgs, err := r.view.Messages(ctx)
	if err != nil {
		return Record{}, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取消息流失败")
	}
	if key == "" {
		key = correlation.MostRecent(msgs, action)
	}
	if key == "" {
		return Record{}, false, nil
	}
	result, ok := LatestResult(msgs, action, key)
	if !ok {
		return Record{}, false, nil
	}
	return Record{Key: key, Result: result}, true, nil
}

// LatestResult 只看 key 对应的最新一条结果消息。
func LatestResult(msgs []conversation.Message, action staking.CanonicalAction, key string) (staking.TransactionResult, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if msg.Role != conversation.RoleTool || msg.ToolCallID != key || msg.Name != staking.ResultToolName {
			continue
		}
		payload, err := staking.DecodePayload(msg.Content)
		if err != nil {
			return staking.TransactionResult{}, false
		}
		result := payload.TransactionResult
		if !result.Terminal() || staking.NormalizeAction(result.Action) != action.String() {
			return staking.TransactionResult{}, false
		}
		return result, true
	}
	return staking.TransactionResult{}, false
}
