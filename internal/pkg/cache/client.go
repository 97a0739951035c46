// internal/pkg/cache/client.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"flashdeal/internal/pkg/logger"
)

// ErrNotFound 表示 key 在缓存和上游数据源中都不存在。
var ErrNotFound = errors.New("cache: value not found")

const (
	// nullTTL 是空值标记的物理过期时间，用来吸收对不存在 key 的重复穿透。
	nullTTL = 2 * time.Minute

	// mutexLease 是缓存重建互斥锁的租约。
	mutexLease = 10 * time.Second

	// rebuildTimeout 是单次异步重建的超时。重建脱离请求线程执行，
	// 不能继承请求的 context。
	rebuildTimeout = 30 * time.Second
)

// Store 是缓存所需的最小键值能力，由 internal/pkg/redis.Client 提供。
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// LockManager 提供重建互斥所需的单次抢锁能力。
type LockManager interface {
	TryAcquire(ctx context.Context, resource string, lease time.Duration) (string, bool, error)
	Release(ctx context.Context, resource, token string) error
}

// Client 是读穿透缓存引擎，提供两种互相独立的防击穿策略：
//   - GetOrLoad：物理过期 + 空值标记，防缓存穿透；
//   - GetOrRefresh：逻辑过期 + 异步重建，防热点 key 击穿。
//
// 缓存值只经由本引擎写入，调用方只能整体覆盖或删除。
type Client struct {
	store Store
	locks LockManager
	pool  *RebuildPool
}

// NewClient 创建缓存引擎。
func NewClient(store Store, locks LockManager, pool *RebuildPool) *Client {
	return &Client{store: store, locks: locks, pool: pool}
}

// Invalidate 删除一个缓存条目。写路径更新权威数据后调用，
// 下一次读取会重新回源（空值标记也一并清掉）。
func (c *Client) Invalidate(ctx context.Context, key string) error {
	return c.store.Del(ctx, key)
}

// redisData 是逻辑过期条目的存储信封：业务数据加一个应用层判断的过期时间。
// 条目本身不设物理 TTL，永远不会自己消失。
type redisData struct {
	Data       json.RawMessage `json:"data"`
	ExpireTime time.Time       `json:"expireTime"`
}

// Set 写入一个带物理过期时间的缓存值。
func Set[T any](ctx context.Context, c *Client, key string, value *T, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value for %s: %w", key, err)
	}
	return c.store.Set(ctx, key, string(payload), ttl)
}

// SetWithLogicalExpire 写入一个逻辑过期的缓存值，用于热点 key 的预热。
func SetWithLogicalExpire[T any](ctx context.Context, c *Client, key string, value *T, logicalTTL time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value for %s: %w", key, err)
	}
	envelope, err := json.Marshal(redisData{
		Data:       payload,
		ExpireTime: time.Now().Add(logicalTTL),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cache envelope for %s: %w", key, err)
	}
	return c.store.Set(ctx, key, string(envelope), 0)
}

// GetOrLoad 按「穿透防护」策略读取：
// 命中直接返回；命中空值标记返回 ErrNotFound 且不回源；
// 未命中时回源，上游为空则写入短 TTL 的空值标记。
// loader 返回 (nil, nil) 表示上游不存在该对象。
func GetOrLoad[T any](ctx context.Context, c *Client, key string, ttl time.Duration, loader func(ctx context.Context) (*T, error)) (*T, error) {
	val, found, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	if found {
		// 空值标记：上游确认不存在，直接挡掉
		if val == "" {
			return nil, ErrNotFound
		}
		var out T
		if err := json.Unmarshal([]byte(val), &out); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cache value for %s: %w", key, err)
		}
		return &out, nil
	}

	// 真未命中，回源。loader 的失败在这条同步路径上直接抛给调用方。
	loaded, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	if loaded == nil {
		if err := c.store.Set(ctx, key, "", nullTTL); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("failed to store null marker")
		}
		return nil, ErrNotFound
	}

	if err := Set(ctx, c, key, loaded, ttl); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("failed to backfill cache")
	}
	return loaded, nil
}

// GetOrRefresh 按「逻辑过期」策略读取：
// 真未命中直接返回 ErrNotFound（该策略假设 key 已预热，不做首次加载）；
// 命中且未过期返回数据；命中且已过期则尝试抢重建锁并异步重建，
// 无论是否抢到锁，本次调用都立刻返回当前（可能已过期的）数据，
// 调用方永远不会阻塞在重建上。
func GetOrRefresh[T any](ctx context.Context, c *Client, key string, logicalTTL time.Duration, loader func(ctx context.Context) (*T, error)) (*T, error) {
	val, found, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found || val == "" {
		return nil, ErrNotFound
	}

	var envelope redisData
	if err := json.Unmarshal([]byte(val), &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache envelope for %s: %w", key, err)
	}
	var out T
	if err := json.Unmarshal(envelope.Data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache value for %s: %w", key, err)
	}

	// 未过期，直接返回
	if envelope.ExpireTime.After(time.Now()) {
		return &out, nil
	}

	// 已过期，尝试触发异步重建
	c.tryRefresh(ctx, key, func(taskCtx context.Context) error {
		fresh, err := loader(taskCtx)
		if err != nil {
			return err
		}
		if fresh == nil {
			return fmt.Errorf("loader returned no value for hot key %s", key)
		}
		return SetWithLogicalExpire(taskCtx, c, key, fresh, logicalTTL)
	})

	// 返回旧值，等待重建完成后的请求拿到新值
	return &out, nil
}

func rebuildLockResource(key string) string { return "cache:" + key }

// tryRefresh 在抢到重建锁时把重建任务交给工作池。
// 锁没抢到说明已有一次重建在途，什么都不做。
func (c *Client) tryRefresh(ctx context.Context, key string, rebuild func(ctx context.Context) error) {
	token, ok, err := c.locks.TryAcquire(ctx, rebuildLockResource(key), mutexLease)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("failed to acquire rebuild lock")
		return
	}
	if !ok {
		return
	}

	submitted := c.pool.Submit(func() {
		taskCtx, cancel := context.WithTimeout(context.Background(), rebuildTimeout)
		defer cancel()
		// 无论重建成败都要释放锁
		defer func() {
			if err := c.locks.Release(taskCtx, rebuildLockResource(key), token); err != nil {
				logger.Ctx(taskCtx).Warn().Err(err).Str("key", key).Msg("failed to release rebuild lock")
			}
		}()

		if err := rebuild(taskCtx); err != nil {
			// 重建失败只记日志，旧值留在缓存里，后续请求会再次触发重建
			logger.Ctx(taskCtx).Error().Err(err).Str("key", key).Msg("cache rebuild failed")
		}
	})
	if !submitted {
		// 池子满了，放弃本次重建并立刻还锁
		if err := c.locks.Release(ctx, rebuildLockResource(key), token); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("failed to release rebuild lock")
		}
	}
}
