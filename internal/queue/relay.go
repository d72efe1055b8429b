package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// Sink 事件的下游，生产环境是 Kafka Producer。
type Sink interface {
	Publish(ctx context.Context, msg OrderEventMessage) error
}

// Relay 将 Redis Stream 事件异步转发到下游。
// 语义：下游写入成功后才 ACK Stream，失败则保留消息等待重试。
type Relay struct {
	rdb  *rd.Client
	sink Sink

	stream   string
	group    string
	consumer string
	block    time.Duration
}

func NewRelay(rdb *rd.Client, sink Sink, stream, group, consumer string) *Relay {
	return &Relay{
		rdb:      rdb,
		sink:     sink,
		stream:   stream,
		group:    group,
		consumer: consumer,
		block:    2 * time.Second,
	}
}

func (r *Relay) Run(ctx context.Context) {
	if err := r.ensureGroup(ctx); err != nil {
		log.Printf("relay ensure group: %v", err)
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.step(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			log.Printf("relay: %v", err)
			time.Sleep(300 * time.Millisecond)
		}
	}
}

// step 处理一批消息，返回成功转发的条数。
// 先处理当前消费者的历史 pending，避免遗留消息长期堆积。
func (r *Relay) step(ctx context.Context) (int, error) {
	// 负数表示不带 BLOCK 参数，读历史 pending 立即返回
	msgs, err := r.readGroup(ctx, "0", -1)
	if err != nil {
		return 0, fmt.Errorf("read pending: %w", err)
	}
	if len(msgs) == 0 {
		msgs, err = r.readGroup(ctx, ">", r.block)
		if err != nil {
			return 0, fmt.Errorf("read new: %w", err)
		}
	}

	done := 0
	for _, xm := range msgs {
		if err := r.processOne(ctx, xm); err != nil {
			// 发布失败不 ACK，消息会继续保留用于重试。
			return done, fmt.Errorf("process message id=%s: %w", xm.ID, err)
		}
		done++
	}
	return done, nil
}

func (r *Relay) ensureGroup(ctx context.Context) error {
	err := r.rdb.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (r *Relay) readGroup(ctx context.Context, streamID string, block time.Duration) ([]rd.XMessage, error) {
	streams, err := r.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, streamID},
		Count:    16,
		Block:    block,
		NoAck:    false,
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]rd.XMessage, 0, 16)
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (r *Relay) processOne(ctx context.Context, xm rd.XMessage) error {
	msg, err := parseOrderEvent(xm.Values)
	if err != nil {
		// 脏消息直接 ACK 丢弃，避免阻塞队列。
		log.Printf("relay drop malformed message id=%s: %v", xm.ID, err)
		if ackErr := r.ackAndDelete(ctx, xm.ID); ackErr != nil {
			return fmt.Errorf("parse failed: %v, ack failed: %w", err, ackErr)
		}
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.sink.Publish(pubCtx, msg); err != nil {
		return err
	}
	return r.ackAndDelete(ctx, xm.ID)
}

func (r *Relay) ackAndDelete(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	pipe.XAck(ctx, r.stream, r.group, id)
	pipe.XDel(ctx, r.stream, id)
	_, err := pipe.Exec(ctx)
	return err
}

func parseOrderEvent(values map[string]interface{}) (OrderEventMessage, error) {
	eventStr, err := getStreamString(values, "event_id")
	if err != nil {
		return OrderEventMessage{}, err
	}
	orderID, err := getStreamString(values, "order_id")
	if err != nil {
		return OrderEventMessage{}, err
	}
	toStatus, err := getStreamString(values, "to_status")
	if err != nil {
		return OrderEventMessage{}, err
	}
	source, err := getStreamString(values, "source")
	if err != nil {
		return OrderEventMessage{}, err
	}
	occurredStr, err := getStreamString(values, "occurred_at")
	if err != nil {
		return OrderEventMessage{}, err
	}

	eventID, err := strconv.ParseUint(eventStr, 10, 64)
	if err != nil {
		return OrderEventMessage{}, fmt.Errorf("invalid event_id %q", eventStr)
	}
	occurred, err := time.Parse(time.RFC3339Nano, occurredStr)
	if err != nil {
		return OrderEventMessage{}, fmt.Errorf("invalid occurred_at %q", occurredStr)
	}

	// 可选字段
	userID, _ := getStreamString(values, "user_id")
	fromStatus, _ := getStreamString(values, "from_status")
	total, _ := getStreamString(values, "total")
	currency, _ := getStreamString(values, "currency")

	msg := OrderEventMessage{
		EventID:    uint(eventID),
		OrderID:    orderID,
		UserID:     userID,
		FromStatus: fromStatus,
		ToStatus:   toStatus,
		Source:     source,
		Total:      total,
		Currency:   currency,
		OccurredAt: occurred,
	}
	if err := msg.Validate(); err != nil {
		return OrderEventMessage{}, err
	}
	return msg, nil
}

func getStreamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
