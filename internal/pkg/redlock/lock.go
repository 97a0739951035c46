// internal/pkg/redlock/lock.go
package redlock

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const keyPrefix = "lock:"

// unlockScript 在一次脚本调用里完成「读取-比较-删除」：
// 只有持有者 token 与当前存储的 token 一致时才删除锁。
// 这样即使锁已经租约过期并被其他持有者重新获取，
// 迟到的释放也不会误删别人的锁。
const unlockScript = `
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`

// Store 是锁所需的最小存储能力，由 internal/pkg/redis.Client 提供。
type Store interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// Manager 管理本进程的分布式锁。
// ownerPrefix 在进程启动时生成一次，之后作为所有 token 的前缀，
// 保证不同进程（以及同进程的不同获取尝试）的 token 互不相同。
type Manager struct {
	store       Store
	ownerPrefix string
	seq         atomic.Uint64
}

// NewManager 创建一个锁管理器。
func NewManager(store Store) *Manager {
	return &Manager{
		store:       store,
		ownerPrefix: uuid.New().String() + "-",
	}
}

// TryAcquire 对 resource 做一次非阻塞的抢锁尝试。
// 成功时返回本次获取的 token；失败（锁被占用）返回 ok=false。
// 不重入、不排队：拿不到锁时由调用方决定重试、等待还是放弃。
func (m *Manager) TryAcquire(ctx context.Context, resource string, lease time.Duration) (token string, ok bool, err error) {
	token = m.ownerPrefix + fmt.Sprintf("%d", m.seq.Add(1))

	ok, err = m.store.SetNX(ctx, keyPrefix+resource, token, lease)
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock on %s: %w", resource, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release 释放 resource 上的锁。
// token 不匹配或锁已不存在时静默返回，不视为错误。
func (m *Manager) Release(ctx context.Context, resource, token string) error {
	_, err := m.store.Eval(ctx, unlockScript, []string{keyPrefix + resource}, token)
	if err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", resource, err)
	}
	return nil
}
