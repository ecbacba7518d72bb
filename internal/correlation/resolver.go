package correlation

import (
	"context"
	"strings"

	"StakePilot-Chain/internal/conversation"
	xerrors "StakePilot-Chain/internal/errors"
	"StakePilot-Chain/internal/staking"
)

// Resolver 为待执行的操作找到它需要应答的 ToolCall ID。
type Resolver struct {
	view conversation.View
}

// NewResolver 基于消息流视图创建 Resolver。
func NewResolver(view conversation.View) *Resolver {
	return &Resolver{view: view}
}

// Resolve 返回关联键。explicit 非空时直接使用；
// 否则从最新消息向前扫描，返回第一条包含该操作任一别名 ToolCall 的 ai 消息中匹配的 ToolCall ID。
// 找不到时返回空串且不报错。
func (r *Resolver) Resolve(ctx context.Context, action staking.CanonicalAction, explicit string) (string, error) {
	if key := strings.TrimSpace(explicit); key != "" {
		return key, nil
	}
	if r == nil || r.view == nil || !action.Valid() {
		return "", nil
	}
	msgs, err := r.view.Messages(ctx)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取消息流失败")
	}
	return MostRecent(msgs, action), nil
}

// MostRecent 在给定消息中按从新到旧的顺序查找匹配的 ToolCall ID。
func MostRecent(msgs []conversation.Message, action staking.CanonicalAction) string {
	return MostRecentFunc(msgs, action, nil)
}

// MostRecentFunc 与 MostRecent 相同，但只接受 accept 返回 true 的 ToolCall；accept 为 nil 时全部接受。
func MostRecentFunc(msgs []conversation.Message, action staking.CanonicalAction, accept func(conversation.ToolCall) bool) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		for _, call := range conversation.ToolCalls(msgs[i]) {
			if call.ID == "" || !action.Matches(call.Name) {
				continue
			}
			if accept == nil || accept(call) {
				return call.ID
			}
		}
	}
	return ""
}
