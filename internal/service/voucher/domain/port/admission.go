// internal/service/voucher/domain/port/admission.go
package port

import "context"

// AdmissionResult 是准入脚本返回的业务状态。
type AdmissionResult int

const (
	AdmissionAccepted AdmissionResult = iota
	AdmissionSoldOut
	AdmissionDuplicate
)

// AdmissionService 是秒杀准入的出站端口，由 Redis Lua 适配器实现。
//
// Attempt 的三个副作用（扣镜像库存、登记已购用户、追加订单意向到
// 持久化日志）必须在一次原子脚本调用内全部完成或全部不发生。
type AdmissionService interface {
	Attempt(ctx context.Context, voucherID, userID, orderID int64) (AdmissionResult, error)

	// PrepareVoucherStock 预置（或重置）一张券的镜像库存，发布/压测用。
	PrepareVoucherStock(ctx context.Context, voucherID int64, stock int) error
}
