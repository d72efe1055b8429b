package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter 是 kafka.Writer 用到的子集，测试里换成内存实现。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer 把订单状态事件写入 Kafka。
//
// 顺序只在单个订单内保证：分区键是 order_id，同一订单的事件进同一分区，
// Relay 又按 Stream 顺序逐条同步写入，所以下游看到的迁移顺序与数据库一致。
// 不同订单之间没有顺序。
type Producer struct {
	w messageWriter
}

// NewProducer 可靠性参数：
// - Hash + Key: 同一订单落同一分区
// - RequireAll: 等待 ISR 副本确认
// - MaxAttempts/Timeout: 重试与超时边界；失败时 Relay 不 ack，消息留在 Stream 里下一轮重发
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (p *Producer) Close() error { return p.w.Close() }

// Publish 同步写入一条订单事件。至少一次投递，下游按 event_id 去重。
func (p *Producer) Publish(ctx context.Context, msg OrderEventMessage) error {
	km, err := kafkaMessage(msg)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("kafka write order=%s event=%d: %w", msg.OrderID, msg.EventID, err)
	}
	return nil
}

// kafkaMessage 头里带上目标状态和来源，消费方不解包 value 也能过滤。
func kafkaMessage(msg OrderEventMessage) (kafka.Message, error) {
	if err := msg.Validate(); err != nil {
		return kafka.Message{}, err
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(msg.Key()),
		Value: b,
		Headers: []kafka.Header{
			{Key: "to_status", Value: []byte(msg.ToStatus)},
			{Key: "source", Value: []byte(msg.Source)},
		},
		Time: msg.OccurredAt,
	}, nil
}
