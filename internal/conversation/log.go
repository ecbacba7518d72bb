package conversation

import (
	"sync"

	xerrors "StakePilot-Chain/internal/errors"
)

// ErrMessageConflict 表示消息 ID 已存在。
var ErrMessageConflict = xerrors.New(xerrors.CodeConflict, "message id already exists")

// Log 是单个会话的只追加消息日志。
// 消息按追加顺序存放，Seq 从 1 开始严格递增，版本号等于最后一条消息的 Seq。
type Log struct {
	mu       sync.RWMutex
	threadID string
	messages []Message
	byID     map[string]int
}

// NewLog 创建空日志。
func NewLog(threadID string) *Log {
	return &Log{threadID: threadID, byID: make(map[string]int)}
}

// Version 返回当前版本号。
func (l *Log) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.messages))
}

// Append 追加一批消息，任一条校验失败时整批拒绝。
func (l *Log) Append(msgs ...Message) ([]Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkLocked(msgs); err != nil {
		return nil, err
	}
	appended := make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		stored := msg.Clone()
		stored.ThreadID = l.threadID
		stored.Seq = uint64(len(l.messages) + 1)
		l.byID[stored.ID] = len(l.messages)
		l.messages = append(l.messages, stored)
		appended = append(appended, stored.Clone())
	}
	return appended, nil
}

// Check 校验一批消息能否追加，不修改日志。
func (l *Log) Check(msgs []Message) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.checkLocked(msgs)
}

func (l *Log) checkLocked(msgs []Message) error {
	seen := make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		if err := msg.Validate(); err != nil {
			return err
		}
		if _, ok := l.byID[msg.ID]; ok {
			return ErrMessageConflict
		}
		if _, ok := seen[msg.ID]; ok {
			return ErrMessageConflict
		}
		seen[msg.ID] = struct{}{}
	}
	return nil
}

// restore 按原样装载已持久化的消息，用于从磁盘重建。
func (l *Log) restore(msg Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byID[msg.ID]; ok {
		return
	}
	msg.ThreadID = l.threadID
	msg.Seq = uint64(len(l.messages) + 1)
	l.byID[msg.ID] = len(l.messages)
	l.messages = append(l.messages, msg)
}

// Snapshot 返回按追加顺序排列的消息副本。
func (l *Log) Snapshot() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneMessages(l.messages)
}

// Get 按 ID 查找消息。
func (l *Log) Get(id string) (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, ok := l.byID[id]
	if !ok {
		return Message{}, false
	}
	return l.messages[idx].Clone(), true
}
