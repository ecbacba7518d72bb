package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	xerrors "StakePilot-Chain/internal/errors"
)

// Role 表示消息发送方。
type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
	RoleTool  Role = "tool"
)

// Valid 判断角色是否合法。
func (r Role) Valid() bool {
	switch r {
	case RoleHuman, RoleAI, RoleTool:
		return true
	}
	return false
}

// HiddenPrefix 标记不需要在界面渲染的消息 ID。
const HiddenPrefix = "__do_not_render__"

// ToolCall 是嵌入在 ai 消息中的工具调用，ID 即关联键。
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// DecodeArgs 将参数解析到 v。
func (c ToolCall) DecodeArgs(v any) error {
	if len(c.Args) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.Args, v); err != nil {
		return fmt.Errorf("decode tool call %s args: %w", c.ID, err)
	}
	return nil
}

// Message 是消息流中的一条记录，追加后不可修改。
type Message struct {
	ID         string     `json:"id"`
	ThreadID   string     `json:"threadId,omitempty"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	Name       string     `json:"name,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	Seq        uint64     `json:"seq"`
}

// Hidden 判断消息是否只供智能体消费。
func (m Message) Hidden() bool {
	return strings.HasPrefix(m.ID, HiddenPrefix)
}

// Validate 检查追加前的必填字段。
func (m Message) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "message id is required")
	}
	if !m.Role.Valid() {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unsupported message role %q", m.Role),
			xerrors.WithMetadata("message_id", m.ID))
	}
	switch m.Role {
	case RoleTool:
		if strings.TrimSpace(m.ToolCallID) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "tool message requires toolCallId",
				xerrors.WithMetadata("message_id", m.ID))
		}
	case RoleAI:
		for _, call := range m.ToolCalls {
			if strings.TrimSpace(call.ID) == "" || strings.TrimSpace(call.Name) == "" {
				return xerrors.New(xerrors.CodeInvalidArgument, "tool call requires id and name",
					xerrors.WithMetadata("message_id", m.ID))
			}
		}
	default:
		if len(m.ToolCalls) > 0 {
			return xerrors.New(xerrors.CodeInvalidArgument, "only ai messages may carry tool calls",
				xerrors.WithMetadata("message_id", m.ID))
		}
	}
	return nil
}

// Clone 返回深拷贝，调用方对结果的修改不会影响消息流。
func (m Message) Clone() Message {
	clone := m
	if m.ToolCalls != nil {
		clone.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, call := range m.ToolCalls {
			clone.ToolCalls[i] = call
			if call.Args != nil {
				clone.ToolCalls[i].Args = append(json.RawMessage(nil), call.Args...)
			}
		}
	}
	return clone
}

// ToolCalls 返回消息中嵌入的工具调用，非 ai 消息返回 nil。
func ToolCalls(msg Message) []ToolCall {
	if msg.Role != RoleAI || len(msg.ToolCalls) == 0 {
		return nil
	}
	return msg.Clone().ToolCalls
}

func cloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, msg := range msgs {
		out[i] = msg.Clone()
	}
	return out
}
