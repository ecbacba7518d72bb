package conversation

import (
	"context"
	"sync"
)

// MemoryStore 以内存方式保存消息流，主要用于测试。
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*Log
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string]*Log)}
}

func (m *MemoryStore) log(threadID string, create bool) *Log {
	m.mu.RLock()
	l, ok := m.threads[threadID]
	m.mu.RUnlock()
	if ok || !create {
		return l
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok = m.threads[threadID]; ok {
		return l
	}
	l = NewLog(threadID)
	m.threads[threadID] = l
	return l
}

// Append 实现 Store 接口。
func (m *MemoryStore) Append(_ context.Context, threadID string, msgs []Message) ([]Message, error) {
	threadID, err := normalizeThreadID(threadID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return m.log(threadID, true).Append(msgs...)
}

// List 实现 Store 接口，未知会话返回空列表。
func (m *MemoryStore) List(_ context.Context, threadID string) ([]Message, error) {
	threadID, err := normalizeThreadID(threadID)
	if err != nil {
		return nil, err
	}
	l := m.log(threadID, false)
	if l == nil {
		return []Message{}, nil
	}
	return l.Snapshot(), nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
