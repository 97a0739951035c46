package redlock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore 模拟带 TTL 的键值存储，时钟可以手动推进。
type fakeStore struct {
	mu      sync.Mutex
	values  map[string]string
	expires map[string]time.Time
	now     time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		values:  make(map[string]string),
		expires: make(map[string]time.Time),
		now:     time.Unix(1_700_000_000, 0),
	}
}

func (s *fakeStore) advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

func (s *fakeStore) expiredLocked(key string) bool {
	exp, ok := s.expires[key]
	return ok && !s.now.Before(exp)
}

func (s *fakeStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok && !s.expiredLocked(key) {
		return false, nil
	}
	s.values[key] = value
	s.expires[key] = s.now.Add(ttl)
	return true, nil
}

// Eval 只需要支持 check-and-delete 的释放脚本语义。
func (s *fakeStore) Eval(_ context.Context, _ string, keys []string, args ...interface{}) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := keys[0]
	if s.expiredLocked(key) {
		delete(s.values, key)
		delete(s.expires, key)
	}
	if s.values[key] == args[0].(string) {
		delete(s.values, key)
		delete(s.expires, key)
		return int64(1), nil
	}
	return int64(0), nil
}

func TestTryAcquire_Basic(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store)
	ctx := context.Background()

	token, ok, err := m.TryAcquire(ctx, "order:1", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	// 同一资源的第二次尝试失败，哪怕来自同一个 manager（不可重入）
	_, ok, err = m.TryAcquire(ctx, "order:1", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	// 释放后可以重新获取
	require.NoError(t, m.Release(ctx, "order:1", token))
	_, ok, err = m.TryAcquire(ctx, "order:1", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTryAcquire_TokensUnique(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store)
	ctx := context.Background()

	t1, ok, err := m.TryAcquire(ctx, "a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	t2, ok, err := m.TryAcquire(ctx, "b", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	assert.NotEqual(t, t1, t2)
}

func TestRelease_MismatchedTokenIsNoop(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store)
	ctx := context.Background()

	token, ok, err := m.TryAcquire(ctx, "order:1", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// 用错误的 token 释放：静默无效果，锁仍被持有
	require.NoError(t, m.Release(ctx, "order:1", "not-the-token"))
	_, ok, err = m.TryAcquire(ctx, "order:1", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	// 正确的 token 仍然有效
	require.NoError(t, m.Release(ctx, "order:1", token))
}

func TestRelease_AfterLeaseExpiryNeverDeletesNewHolder(t *testing.T) {
	store := newFakeStore()
	first := NewManager(store)
	second := NewManager(store)
	ctx := context.Background()

	staleToken, ok, err := first.TryAcquire(ctx, "order:1", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// 租约到期后锁自动清除，新的持有者可以获取
	store.advance(6 * time.Second)
	_, ok, err = second.TryAcquire(ctx, "order:1", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// 原持有者的迟到释放是 no-op，新持有者的锁不受影响
	require.NoError(t, first.Release(ctx, "order:1", staleToken))
	_, ok, err = first.TryAcquire(ctx, "order:1", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}
