// internal/service/voucher/domain/order.go
package domain

import (
	"errors"
	"time"
)

var (
	// ErrStockInsufficient / ErrDuplicateOrder 是准入判定的两种业务性拒绝，
	// 同步返回给调用方，不算作故障。
	ErrStockInsufficient = errors.New("stock insufficient")
	ErrDuplicateOrder    = errors.New("duplicate order for this user")
)

// VoucherOrder 是一笔订单意向。
// 由准入脚本产出、写入持久化日志，再由持久化 worker 恰好消费一次。
// 日志里存在一条订单意向，当且仅当脚本执行时已经扣掉了一个库存
// 并把该用户标记为已购。
type VoucherOrder struct {
	OrderID   int64     `json:"id"`
	UserID    int64     `json:"userId"`
	VoucherID int64     `json:"voucherId"`
	CreatedAt time.Time `json:"createdAt"`
}
