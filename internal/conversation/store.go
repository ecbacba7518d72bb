package conversation

import (
	"context"
	"strings"

	xerrors "StakePilot-Chain/internal/errors"
)

// ErrThreadRequired 表示缺少会话 ID。
var ErrThreadRequired = xerrors.New(xerrors.CodeInvalidArgument, "thread id is required")

// View 是单个会话消息流的只读视图。
type View interface {
	Messages(ctx context.Context) ([]Message, error)
}

// Appender 是向单个会话追加消息的能力。
type Appender interface {
	Submit(ctx context.Context, msgs []Message) ([]Message, error)
}

// Thread 同时具备读取与追加能力。
type Thread interface {
	View
	Appender
}

// Store 抽象了多会话消息流的持久化接口。
type Store interface {
	Append(ctx context.Context, threadID string, msgs []Message) ([]Message, error)
	List(ctx context.Context, threadID string) ([]Message, error)
	Close() error
}

type boundThread struct {
	store    Store
	threadID string
}

// Bind 将 Store 限定在单个会话上。
func Bind(store Store, threadID string) Thread {
	return boundThread{store: store, threadID: threadID}
}

func (b boundThread) Messages(ctx context.Context) ([]Message, error) {
	return b.store.List(ctx, b.threadID)
}

func (b boundThread) Submit(ctx context.Context, msgs []Message) ([]Message, error) {
	return b.store.Append(ctx, b.threadID, msgs)
}

func normalizeThreadID(threadID string) (string, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return "", ErrThreadRequired
	}
	return threadID, nil
}
