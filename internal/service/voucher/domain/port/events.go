// internal/service/voucher/domain/port/events.go
package port

import (
	"context"

	"flashdeal/internal/service/voucher/domain"
)

// EventProducer 是订单事件的出站端口，由 Kafka 适配器实现。
// 事件投递失败只记日志，永远不反过来影响订单持久化。
type EventProducer interface {
	// OrderPersisted 在订单事务提交之后发布。
	OrderPersisted(ctx context.Context, order *domain.VoucherOrder) error

	// DeadLetter 上报一条放弃处理的日志记录（毒消息或超过重试上限）。
	DeadLetter(ctx context.Context, recordID, reason string, raw map[string]string) error
}
