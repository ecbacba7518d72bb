package correlation

import "sync"

// KeyLocker 为每个关联键提供非阻塞互斥，防止两个执行器为同一个 ToolCall 发起交易。
type KeyLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewKeyLocker 创建 KeyLocker。
func NewKeyLocker() *KeyLocker {
	return &KeyLocker{held: make(map[string]struct{})}
}

// TryLock 尝试占用 key，成功时返回释放函数。空 key 不参与互斥。
func (l *KeyLocker) TryLock(key string) (func(), bool) {
	if key == "" {
		return func() {}, true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, false
	}
	l.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true
}

// Held 判断 key 当前是否被占用。
func (l *KeyLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.held[key]
	return busy
}
