// internal/service/voucher/domain/repository.go
package domain

import "context"

// VoucherRepository 定义了秒杀券的持久化接口，由基础设施层实现。
type VoucherRepository interface {
	// FindByID 查找一张秒杀券，不存在时返回 (nil, nil)。
	FindByID(ctx context.Context, voucherID int64) (*SeckillVoucher, error)

	// Save 新建或覆盖一张秒杀券。
	Save(ctx context.Context, voucher *SeckillVoucher) error
}

// OrderStore 定义了订单落库的事务性接口。
//
// Create 必须在一个事务里完成三件事：重查 (userID, voucherID) 唯一性、
// 仅当权威库存仍大于 0 时扣减、插入订单行。实现必须幂等：
// 同一条订单意向被投递多次时只落一行（消息重投与恢复回放都依赖这一点）。
//
// 落库必须通过这个独立的协作者接口进行，持久化 worker 不允许
// 在自身实例的方法之间自调用来"开事务"。
type OrderStore interface {
	Create(ctx context.Context, order *VoucherOrder) error
}
