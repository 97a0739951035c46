// internal/service/voucher/domain/port/orderlog.go
package port

import (
	"context"
	"errors"

	"flashdeal/internal/service/voucher/domain"
)

// ErrMalformedRecord 表示日志里的一条记录无法解析成订单意向。
// 这类记录重试多少次都不会成功，由 worker 走死信路径处理。
var ErrMalformedRecord = errors.New("malformed order record")

// OrderRecord 是持久化日志中的一条待确认记录。
type OrderRecord struct {
	// ID 是日志分配的记录标识，确认（ack）时使用。
	ID string

	// Order 是解析出的订单意向。解析失败时为零值，原始字段在 Raw 里。
	Order domain.VoucherOrder

	// Raw 保留日志记录的原始键值，死信上报时使用。
	Raw map[string]string
}

// OrderLog 是订单意向日志的出站端口，由 Redis Stream 适配器实现。
//
// 日志按消费组投递：记录被读出后处于 pending 状态，直到显式 Ack；
// 进程崩溃后未确认的记录可以通过 ReadPending 从头重放。
type OrderLog interface {
	// ReadNext 以有界阻塞（秒级窗口）读取下一条未投递的记录，
	// 窗口内没有新记录时返回 (nil, nil)。
	// 记录存在但解析失败时，返回带 ID/Raw 的记录和 ErrMalformedRecord。
	ReadNext(ctx context.Context) (*OrderRecord, error)

	// ReadPending 读取本消费者最早的一条未确认记录，
	// 没有积压时返回 (nil, nil)。解析失败的语义与 ReadNext 相同。
	ReadPending(ctx context.Context) (*OrderRecord, error)

	// Ack 确认一条记录已处理完毕。
	Ack(ctx context.Context, recordID string) error
}
