// internal/service/voucher/infrastructure/adapter/seckill_redis_adapter.go
package adapter

import (
	"context"
	"fmt"

	"flashdeal/internal/pkg/redis"
	"flashdeal/internal/service/voucher/domain/port"
)

const seckillScriptName = "seckill"

func stockKey(voucherID int64) string    { return fmt.Sprintf("seckill:stock:%d", voucherID) }
func orderSetKey(voucherID int64) string { return fmt.Sprintf("seckill:order:%d", voucherID) }

// SeckillRedisAdapter 是 port.AdmissionService 的 Redis 实现。
// 它在创建时加载准入脚本。stream 是订单意向日志的 Stream key，
// 必须和持久化 worker 消费的是同一个。
type SeckillRedisAdapter struct {
	redisClient *redis.Client
	stream      string
}

// NewSeckillRedisAdapter 创建一个新的准入适配器实例。
func NewSeckillRedisAdapter(redisClient *redis.Client, stream string) (*SeckillRedisAdapter, error) {
	if err := redisClient.LoadScriptFromContent(seckillScriptName, seckillScript); err != nil {
		return nil, fmt.Errorf("failed to load critical seckill script: %w", err)
	}
	return &SeckillRedisAdapter{redisClient: redisClient, stream: stream}, nil
}

// Attempt 执行一次准入判定。
// 库存检查、重复购买检查、扣减、登记、入队五步在一次脚本调用内原子完成：
// 订单意向被入队，当且仅当库存已扣、用户已登记。
func (a *SeckillRedisAdapter) Attempt(ctx context.Context, voucherID, userID, orderID int64) (port.AdmissionResult, error) {
	keys := []string{stockKey(voucherID), orderSetKey(voucherID), a.stream}
	args := []interface{}{userID, voucherID, orderID}

	result, err := a.redisClient.RunScript(ctx, seckillScriptName, keys, args...)
	if err != nil {
		return 0, fmt.Errorf("seckill adapter failed to run script: %w", err)
	}

	code, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected result type from Lua script: %T", result)
	}

	switch code {
	case 0:
		return port.AdmissionAccepted, nil
	case 1:
		return port.AdmissionSoldOut, nil
	case 2:
		return port.AdmissionDuplicate, nil
	default:
		return 0, fmt.Errorf("unknown result code from seckill script: %d", code)
	}
}

// PrepareVoucherStock 预置镜像库存并清空已购用户集合。
func (a *SeckillRedisAdapter) PrepareVoucherStock(ctx context.Context, voucherID int64, stock int) error {
	// 使用 pipeline 提高效率
	pipe := a.redisClient.GetClient().Pipeline()
	pipe.Set(ctx, stockKey(voucherID), stock, 0)
	pipe.Del(ctx, orderSetKey(voucherID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to prepare voucher stock: %w", err)
	}
	return nil
}

var seckillScript = `
-- KEYS[1]: 镜像库存, 例如 seckill:stock:10
-- KEYS[2]: 已购用户集合, 例如 seckill:order:10
-- KEYS[3]: 订单意向日志, stream.orders
-- ARGV[1]: userId
-- ARGV[2]: voucherId
-- ARGV[3]: orderId

-- 1. 检查库存
if tonumber(redis.call('get', KEYS[1]) or '0') <= 0 then
    return 1 -- 库存不足
end

-- 2. 检查用户是否已购买
if redis.call('sismember', KEYS[2], ARGV[1]) == 1 then
    return 2 -- 重复下单
end

-- 3. 扣库存
redis.call('incrby', KEYS[1], -1)
-- 4. 登记已购用户
redis.call('sadd', KEYS[2], ARGV[1])
-- 5. 订单意向入队, 字段与 VoucherOrder 对应
redis.call('xadd', KEYS[3], '*', 'userId', ARGV[1], 'voucherId', ARGV[2], 'id', ARGV[3])
return 0
`
