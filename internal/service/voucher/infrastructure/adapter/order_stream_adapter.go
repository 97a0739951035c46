// internal/service/voucher/infrastructure/adapter/order_stream_adapter.go
package adapter

import (
	"context"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/pkg/errors"

	"flashdeal/internal/pkg/redis"
	"flashdeal/internal/service/voucher/domain"
	"flashdeal/internal/service/voucher/domain/port"
)

const (
	defaultGroup    = "g1"
	defaultConsumer = "c1"

	// readBlock 是正常消费时的阻塞窗口，到期返回空让 worker 有机会
	// 检查退出信号。
	readBlock = 2 * time.Second
)

// OrderStreamAdapter 是 port.OrderLog 的 Redis Stream 实现。
// 读取走消费组游标（XREADGROUP），确认走 XACK，
// 崩溃恢复通过从 0 重读本消费者的 pending 记录完成。
type OrderStreamAdapter struct {
	rdb      *goredis.Client
	stream   string
	group    string
	consumer string
}

// NewOrderStreamAdapter 创建订单日志适配器，并确保消费组存在。
func NewOrderStreamAdapter(redisClient *redis.Client, stream string) (*OrderStreamAdapter, error) {
	a := &OrderStreamAdapter{
		rdb:      redisClient.GetClient(),
		stream:   stream,
		group:    defaultGroup,
		consumer: defaultConsumer,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.rdb.XGroupCreateMkStream(ctx, a.stream, a.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, errors.Wrapf(err, "failed to create consumer group %s on %s", a.group, a.stream)
	}
	return a, nil
}

// ReadNext 读取一条新记录（XREADGROUP ... COUNT 1 BLOCK 2000 STREAMS <s> >）。
func (a *OrderStreamAdapter) ReadNext(ctx context.Context) (*port.OrderRecord, error) {
	return a.readOne(ctx, ">", readBlock)
}

// ReadPending 读取本消费者最早的未确认记录（STREAMS <s> 0，不阻塞）。
func (a *OrderStreamAdapter) ReadPending(ctx context.Context) (*port.OrderRecord, error) {
	return a.readOne(ctx, "0", 0)
}

// Ack 确认一条记录。
func (a *OrderStreamAdapter) Ack(ctx context.Context, recordID string) error {
	if err := a.rdb.XAck(ctx, a.stream, a.group, recordID).Err(); err != nil {
		return errors.Wrapf(err, "failed to ack record %s", recordID)
	}
	return nil
}

func (a *OrderStreamAdapter) readOne(ctx context.Context, offset string, block time.Duration) (*port.OrderRecord, error) {
	args := &goredis.XReadGroupArgs{
		Group:    a.group,
		Consumer: a.consumer,
		Streams:  []string{a.stream, offset},
		Count:    1,
	}
	if block > 0 {
		args.Block = block
	} else {
		// go-redis 里 Block=0 表示永久阻塞，读 pending 时必须用负值关掉 BLOCK
		args.Block = -1
	}

	streams, err := a.rdb.XReadGroup(ctx, args).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read from order stream")
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	msg := streams[0].Messages[0]
	return parseOrderRecord(msg.ID, msg.Values)
}

// parseOrderRecord 把 Stream 消息解析成订单记录。
// 字段缺失或数值非法时返回 ErrMalformedRecord，记录 ID 和原始字段保留，
// 供死信路径上报后确认。
func parseOrderRecord(id string, values map[string]interface{}) (*port.OrderRecord, error) {
	raw := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			raw[k] = s
		}
	}
	rec := &port.OrderRecord{ID: id, Raw: raw}

	userID, err1 := strconv.ParseInt(raw["userId"], 10, 64)
	voucherID, err2 := strconv.ParseInt(raw["voucherId"], 10, 64)
	orderID, err3 := strconv.ParseInt(raw["id"], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return rec, errors.Wrapf(port.ErrMalformedRecord, "record %s: %v", id, raw)
	}

	rec.Order = domain.VoucherOrder{
		OrderID:   orderID,
		UserID:    userID,
		VoucherID: voucherID,
		CreatedAt: time.Now(),
	}
	return rec, nil
}
