package followup

import (
	"encoding/json"
	"fmt"
	"time"

	"StakePilot-Chain/internal/conversation"

	"github.com/google/uuid"
)

// MaxAttempts 是单个事件最多被处理的次数。
const MaxAttempts = 3

// Event 表示一条需要智能体应答的 tool 消息。
type Event struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"threadId"`
	MessageID  string    `json:"messageId"`
	ToolCallID string    `json:"toolCallId"`
	Name       string    `json:"name,omitempty"`
	Attempts   int       `json:"attempts,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewEvent 根据已追加的 tool 消息构造事件。
func NewEvent(msg conversation.Message) Event {
	return Event{
		ID:         uuid.NewString(),
		ThreadID:   msg.ThreadID,
		MessageID:  msg.ID,
		ToolCallID: msg.ToolCallID,
		Name:       msg.Name,
		CreatedAt:  time.Now().UTC(),
	}
}

// Retry 返回 Attempts 加一后的副本，超过上限时 ok 为 false。
func (e Event) Retry() (Event, bool) {
	e.Attempts++
	return e, e.Attempts < MaxAttempts
}

func encodeEvent(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("编码事件失败: %w", err)
	}
	return data, nil
}

func decodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("解析事件失败: %w", err)
	}
	return e, nil
}
