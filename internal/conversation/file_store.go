package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	xerrors "StakePilot-Chain/internal/errors"
	"StakePilot-Chain/pkg/logger"
)

// FileStore 使用本地 JSONL 文件持久化消息流，方便单机部署。
// 每行一条消息，启动时按写入顺序重放。
type FileStore struct {
	mu       sync.Mutex
	dataFile string
	mem      *MemoryStore
}

// NewFileStore 创建文件存储，并从 dataDir/messages.log 恢复历史消息。
func NewFileStore(dataDir string) (*FileStore, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	store := &FileStore{
		dataFile: filepath.Join(dataDir, "messages.log"),
		mem:      NewMemoryStore(),
	}
	if err := store.loadFromDisk(); err != nil {
		return nil, err
	}
	return store, nil
}

// Append 先写盘再更新内存，写盘失败时消息流保持不变。
func (f *FileStore) Append(_ context.Context, threadID string, msgs []Message) ([]Message, error) {
	threadID, err := normalizeThreadID(threadID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	l := f.mem.log(threadID, true)
	if err := l.Check(msgs); err != nil {
		return nil, err
	}

	next := l.Version()
	var buf []byte
	for _, msg := range msgs {
		next++
		record := msg.Clone()
		record.ThreadID = threadID
		record.Seq = next
		encoded, err := json.Marshal(record)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化消息失败")
		}
		buf = append(buf, encoded...)
		buf = append(buf, '\n')
	}

	file, err := os.OpenFile(f.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开消息日志失败")
	}
	defer file.Close()
	if _, err := file.Write(buf); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入消息日志失败")
	}
	if err := file.Sync(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "刷新消息日志失败")
	}
	return l.Append(msgs...)
}

// List 实现 Store 接口。
func (f *FileStore) List(ctx context.Context, threadID string) ([]Message, error) {
	return f.mem.List(ctx, threadID)
}

// Close 对文件存储无需操作，每次写入都会关闭文件。
func (f *FileStore) Close() error {
	return nil
}

// loadFromDisk 重放消息日志。只有末行允许损坏（写入中断），会被截掉；
// 中间行无法解析说明日志已损坏，直接报错。
func (f *FileStore) loadFromDisk() error {
	data, err := os.ReadFile(f.dataFile)
	if stdErrors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取消息日志失败")
	}

	lineNo := 0
	for offset := 0; offset < len(data); {
		line := data[offset:]
		next := len(data)
		terminated := false
		if i := bytes.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
			next = offset + i + 1
			terminated = true
		}
		lineNo++
		if len(bytes.TrimSpace(line)) == 0 {
			offset = next
			continue
		}

		var msg Message
		decodeErr := json.Unmarshal(line, &msg)
		if decodeErr == nil && (msg.ThreadID == "" || msg.ID == "") {
			decodeErr = fmt.Errorf("缺少 thread_id 或 id")
		}
		if decodeErr != nil {
			if len(bytes.TrimSpace(data[next:])) > 0 {
				return xerrors.Wrap(xerrors.CodeStorageFailure, fmt.Errorf("%s:%d: %w", f.dataFile, lineNo, decodeErr), "消息日志已损坏")
			}
			logger.Named("conversation").Warn("丢弃消息日志末尾的残缺记录",
				slog.String("file", f.dataFile),
				slog.Int("line", lineNo),
				slog.String("error", decodeErr.Error()),
			)
			if err := os.Truncate(f.dataFile, int64(offset)); err != nil {
				return xerrors.Wrap(xerrors.CodeStorageFailure, err, "截断消息日志失败")
			}
			return nil
		}
		f.mem.log(msg.ThreadID, true).restore(msg)

		if !terminated {
			if err := f.terminateLastLine(); err != nil {
				return err
			}
		}
		offset = next
	}
	return nil
}

// terminateLastLine 为缺少换行的末行补上换行，避免后续追加粘连。
func (f *FileStore) terminateLastLine() error {
	file, err := os.OpenFile(f.dataFile, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开消息日志失败")
	}
	defer file.Close()
	if _, err := file.Write([]byte{'\n'}); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入消息日志失败")
	}
	return nil
}

var _ Store = (*FileStore)(nil)
