package operation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"StakePilot-Chain/internal/conversation"
	xerrors "StakePilot-Chain/internal/errors"
	"StakePilot-Chain/internal/staking"
	"StakePilot-Chain/pkg/logger"

	"github.com/google/uuid"
)

// Persister 将终态结果作为 tool 消息追加到消息流。
type Persister struct {
	appender     conversation.Appender
	explorerHost string
	now          func() time.Time
	log          *slog.Logger
}

// NewPersister 创建 Persister，explorerHost 为空时使用 U2U 主网浏览器。
func NewPersister(appender conversation.Appender, explorerHost string) *Persister {
	return &Persister{
		appender:     appender,
		explorerHost: explorerHost,
		now:          time.Now,
		log:          logger.Named("persister"),
	}
}

// Persist 追加结果消息。key 为空时只记录警告并返回 nil。
func (p *Persister) Persist(ctx context.Context, result staking.TransactionResult, key string) error {
	if key == "" {
		p.log.Warn("未找到关联的工具调用，跳过保存交易结果",
			slog.String("code", string(xerrors.CodeCorrelationNotFound)),
			slog.String("action", result.Action),
			slog.String("hash", result.Hash))
		return nil
	}
	if p.appender == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "persister has no message store")
	}

	msg, err := BuildToolMessage(result, key, p.explorerHost)
	if err != nil {
		return err
	}
	msg.CreatedAt = p.now().UTC()
	if _, err := p.appender.Submit(ctx, []conversation.Message{msg}); err != nil {
		if xerrors.CodeOf(err) != xerrors.CodeUnknown {
			return err
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存交易结果失败",
			xerrors.WithMetadata("tool_call_id", key))
	}
	p.log.Info("交易结果已写入消息流",
		slog.String("tool_call_id", key),
		slog.String("message_id", msg.ID),
		slog.Bool("success", result.Success))
	return nil
}

// BuildToolMessage 构造结果 tool 消息，ID 带有隐藏前缀。
func BuildToolMessage(result staking.TransactionResult, key, explorerHost string) (conversation.Message, error) {
	content, err := json.Marshal(staking.NewPayload(result, explorerHost))
	if err != nil {
		return conversation.Message{}, fmt.Errorf("encode transaction result: %w", err)
	}
	return conversation.Message{
		ID:         conversation.HiddenPrefix + uuid.NewString(),
		Role:       conversation.RoleTool,
		Content:    string(content),
		ToolCallID: key,
		Name:       staking.ResultToolName,
	}, nil
}
