package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"time"

	xerrors "StakePilot-Chain/internal/errors"
	"StakePilot-Chain/internal/storage/mysql"

	mysqldriver "github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 持久化消息流。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建连接池并执行内嵌迁移。
func NewMySQLStore(ctx context.Context, cfg mysql.Config) (*MySQLStore, error) {
	db, err := mysql.Open(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}
	if err := mysql.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行数据库迁移失败")
	}
	return &MySQLStore{db: db}, nil
}

const (
	selectMaxSeqSQL  = `SELECT COALESCE(MAX(seq), 0) FROM messages WHERE thread_id = ? FOR UPDATE`
	insertMessageSQL = `INSERT INTO messages
        (id, thread_id, seq, role, content, tool_calls, tool_call_id, name, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	listMessagesSQL = `SELECT id, thread_id, seq, role, content, tool_calls, tool_call_id, name, created_at
        FROM messages WHERE thread_id = ? ORDER BY seq ASC`
)

// Append 在一个事务内分配 Seq 并写入整批消息。
func (s *MySQLStore) Append(ctx context.Context, threadID string, msgs []Message) ([]Message, error) {
	threadID, err := normalizeThreadID(threadID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	if err := validateBatch(msgs); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}

	var last uint64
	if err := tx.QueryRowContext(ctx, selectMaxSeqSQL, threadID).Scan(&last); err != nil {
		tx.Rollback()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询消息序号失败")
	}

	appended := make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		stored := msg.Clone()
		stored.ThreadID = threadID
		last++
		stored.Seq = last

		toolCalls, err := encodeToolCalls(stored.ToolCalls)
		if err != nil {
			tx.Rollback()
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码 tool calls 失败")
		}
		if _, err := tx.ExecContext(ctx, insertMessageSQL,
			stored.ID,
			stored.ThreadID,
			stored.Seq,
			string(stored.Role),
			stored.Content,
			toolCalls,
			stored.ToolCallID,
			stored.Name,
			encodeTime(stored.CreatedAt),
		); err != nil {
			tx.Rollback()
			var mysqlErr *mysqldriver.MySQLError
			if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
				return nil, ErrMessageConflict
			}
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入消息失败")
		}
		appended = append(appended, stored)
	}

	if err := tx.Commit(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return cloneMessages(appended), nil
}

// List 返回会话中按 Seq 升序排列的消息。
func (s *MySQLStore) List(ctx context.Context, threadID string) ([]Message, error) {
	threadID, err := normalizeThreadID(threadID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, listMessagesSQL, threadID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询消息失败")
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var (
			msg       Message
			role      string
			toolCalls sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.Seq, &role, &msg.Content, &toolCalls, &msg.ToolCallID, &msg.Name, &createdAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析消息失败")
		}
		msg.Role = Role(role)
		msg.CreatedAt = decodeTime(createdAt)
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 tool calls 失败")
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历消息失败")
	}
	return messages, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func validateBatch(msgs []Message) error {
	seen := make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		if err := msg.Validate(); err != nil {
			return err
		}
		if _, ok := seen[msg.ID]; ok {
			return ErrMessageConflict
		}
		seen[msg.ID] = struct{}{}
	}
	return nil
}

func encodeToolCalls(calls []ToolCall) (any, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(calls)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

func encodeTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func decodeTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

var _ Store = (*MySQLStore)(nil)
