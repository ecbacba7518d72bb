// Package thread 提供会话级的消息提交服务：补齐未应答的工具调用、分配 ID，
// 并在新增工具结果后通知智能体运行时。
package thread

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"StakePilot-Chain/internal/conversation"
	xerrors "StakePilot-Chain/internal/errors"
	"StakePilot-Chain/internal/followup"
	"StakePilot-Chain/pkg/logger"

	"github.com/google/uuid"
)

// PlaceholderContent 是为未应答工具调用自动补充的 tool 消息内容。
const PlaceholderContent = "Successfully handled tool call."

// Service 封装消息存储与后续通知。
type Service struct {
	store    conversation.Store
	producer followup.Producer
	now      func() time.Time
	log      *slog.Logger
}

// Option 定义 Service 的可选配置。
type Option func(*Service)

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService 创建 Service，producer 为空时不发送后续通知。
func NewService(store conversation.Store, producer followup.Producer, opts ...Option) *Service {
	s := &Service{
		store:    store,
		producer: producer,
		now:      time.Now,
		log:      logger.Named("thread"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewThreadID 生成新的会话 ID。
func NewThreadID() string {
	return uuid.NewString()
}

// Messages 返回会话的完整消息流。
func (s *Service) Messages(ctx context.Context, threadID string) ([]conversation.Message, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, conversation.ErrThreadRequired
	}
	return s.store.List(ctx, threadID)
}

// Submit 追加一批消息。human 消息之前会为尚未应答的工具调用补上占位 tool 消息；
// 追加成功后每条真实的 tool 消息都会产生一个后续事件。
func (s *Service) Submit(ctx context.Context, threadID string, msgs []conversation.Message) ([]conversation.Message, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, conversation.ErrThreadRequired
	}
	if len(msgs) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "messages are required")
	}

	batch := make([]conversation.Message, 0, len(msgs))
	now := s.now().UTC()
	for _, msg := range msgs {
		msg = msg.Clone()
		if strings.TrimSpace(msg.ID) == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		msg.Seq = 0
		batch = append(batch, msg)
	}

	placeholders := map[string]struct{}{}
	if hasHuman(batch) {
		history, err := s.store.List(ctx, threadID)
		if err != nil {
			return nil, err
		}
		batch = s.fillPlaceholders(history, batch, now, placeholders)
	}

	appended, err := s.store.Append(ctx, threadID, batch)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, appended, placeholders)
	return appended, nil
}

func hasHuman(msgs []conversation.Message) bool {
	for _, msg := range msgs {
		if msg.Role == conversation.RoleHuman {
			return true
		}
	}
	return false
}

// fillPlaceholders 在第一条 human 消息之前插入占位消息。
func (s *Service) fillPlaceholders(history, batch []conversation.Message, now time.Time, ids map[string]struct{}) []conversation.Message {
	first := 0
	for i, msg := range batch {
		if msg.Role == conversation.RoleHuman {
			first = i
			break
		}
	}
	before := append(append([]conversation.Message(nil), history...), batch[:first]...)
	pending := Unanswered(before)
	if len(pending) == 0 {
		return batch
	}

	out := make([]conversation.Message, 0, len(batch)+len(pending))
	out = append(out, batch[:first]...)
	for _, call := range pending {
		placeholder := conversation.Message{
			ID:         conversation.HiddenPrefix + uuid.NewString(),
			Role:       conversation.RoleTool,
			Content:    PlaceholderContent,
			ToolCallID: call.ID,
			Name:       call.Name,
			CreatedAt:  now,
		}
		ids[placeholder.ID] = struct{}{}
		out = append(out, placeholder)
	}
	return append(out, batch[first:]...)
}

// Unanswered 返回没有任何 tool 消息应答的工具调用，按出现顺序排列。
func Unanswered(msgs []conversation.Message) []conversation.ToolCall {
	answered := make(map[string]struct{})
	for _, msg := range msgs {
		if msg.Role == conversation.RoleTool {
			answered[msg.ToolCallID] = struct{}{}
		}
	}
	var out []conversation.ToolCall
	for _, msg := range msgs {
		for _, call := range conversation.ToolCalls(msg) {
			if _, ok := answered[call.ID]; ok {
				continue
			}
			answered[call.ID] = struct{}{}
			out = append(out, call)
		}
	}
	return out
}

func (s *Service) notify(ctx context.Context, appended []conversation.Message, placeholders map[string]struct{}) {
	if s.producer == nil {
		return
	}
	for _, msg := range appended {
		if msg.Role != conversation.RoleTool {
			continue
		}
		if _, ok := placeholders[msg.ID]; ok {
			continue
		}
		event := followup.NewEvent(msg)
		if err := s.producer.Publish(ctx, event); err != nil {
			s.log.Warn("投递后续事件失败",
				slog.String("code", string(xerrors.CodeQueueFailure)),
				slog.String("thread_id", msg.ThreadID),
				slog.String("tool_call_id", msg.ToolCallID),
				slog.Any("error", err))
		}
	}
}

// Bind 返回限定在单个会话上的读写视图，写入同样经过 Submit 的补齐与通知逻辑。
func (s *Service) Bind(threadID string) conversation.Thread {
	return boundThread{service: s, threadID: threadID}
}

type boundThread struct {
	service  *Service
	threadID string
}

func (b boundThread) Messages(ctx context.Context) ([]conversation.Message, error) {
	return b.service.Messages(ctx, b.threadID)
}

func (b boundThread) Submit(ctx context.Context, msgs []conversation.Message) ([]conversation.Message, error) {
	return b.service.Submit(ctx, b.threadID, msgs)
}
