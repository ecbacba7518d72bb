// Package filelock 基于 flock(2) 实现同一主机上跨进程的关联键锁，
// 锁文件位于运行目录下，进程退出时由内核释放。
package filelock

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"StakePilot-Chain/pkg/logger"

	"github.com/gofrs/flock"
)

// Locker 为每个关联键使用一个锁文件。
type Locker struct {
	dir string
	log *slog.Logger
}

// New 创建锁目录并返回 Locker。
func New(dir string) (*Locker, error) {
	if dir == "" {
		return nil, fmt.Errorf("锁目录不能为空")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建锁目录失败: %w", err)
	}
	return &Locker{dir: dir, log: logger.Named("file_locker")}, nil
}

// Path 返回 key 对应的锁文件路径；key 经过哈希，不受其中字符影响。
func (l *Locker) Path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(l.dir, hex.EncodeToString(sum[:16])+".lock")
}

// TryLock 非阻塞地获取 key 上的文件锁，文件系统错误视为未获取。
func (l *Locker) TryLock(key string) (func(), bool) {
	if key == "" {
		return func() {}, true
	}
	lock := flock.New(l.Path(key))
	ok, err := lock.TryLock()
	if err != nil {
		l.log.Warn("获取文件锁失败", slog.String("key", key), slog.Any("error", err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			if err := lock.Unlock(); err != nil {
				l.log.Warn("释放文件锁失败", slog.String("key", key), slog.Any("error", err))
			}
		})
	}, true
}
