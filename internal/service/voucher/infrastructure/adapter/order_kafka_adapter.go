// internal/service/voucher/infrastructure/adapter/order_kafka_adapter.go
package adapter

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"flashdeal/internal/pkg/mq"
	"flashdeal/internal/service/voucher/domain"
)

const (
	eventTypeOrderPersisted = "order.persisted"
	eventTypeDeadLetter     = "order.deadletter"
)

// orderEvent 是发往 voucher-order-events topic 的事件载体。
type orderEvent struct {
	Type      string            `json:"type"`
	OrderID   int64             `json:"orderId,omitempty"`
	UserID    int64             `json:"userId,omitempty"`
	VoucherID int64             `json:"voucherId,omitempty"`
	RecordID  string            `json:"recordId,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Raw       map[string]string `json:"raw,omitempty"`
	At        time.Time         `json:"at"`
}

// OrderKafkaAdapter 是 port.EventProducer 的 Kafka 实现。
type OrderKafkaAdapter struct {
	writer *kafka.Writer
}

// NewOrderKafkaAdapter 创建订单事件生产者。
func NewOrderKafkaAdapter(writer *kafka.Writer) *OrderKafkaAdapter {
	return &OrderKafkaAdapter{writer: writer}
}

func (p *OrderKafkaAdapter) OrderPersisted(ctx context.Context, order *domain.VoucherOrder) error {
	return p.produce(ctx, strconv.FormatInt(order.UserID, 10), orderEvent{
		Type:      eventTypeOrderPersisted,
		OrderID:   order.OrderID,
		UserID:    order.UserID,
		VoucherID: order.VoucherID,
		At:        time.Now(),
	})
}

func (p *OrderKafkaAdapter) DeadLetter(ctx context.Context, recordID, reason string, raw map[string]string) error {
	return p.produce(ctx, recordID, orderEvent{
		Type:     eventTypeDeadLetter,
		RecordID: recordID,
		Reason:   reason,
		Raw:      raw,
		At:       time.Now(),
	})
}

func (p *OrderKafkaAdapter) produce(ctx context.Context, key string, event orderEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return mq.ProduceMessage(ctx, p.writer, []byte(key), payload)
}
