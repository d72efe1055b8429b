package queue

import (
	"context"
	"strconv"
	"time"

	"storefront/internal/model"

	rd "github.com/redis/go-redis/v9"
)

// StreamPublisher 把已提交的状态迁移写入 Redis Stream，由 Relay 异步转发 Kafka。
// 实现 order.EventPublisher。
type StreamPublisher struct {
	rdb    *rd.Client
	stream string
	maxLen int64
}

func NewStreamPublisher(rdb *rd.Client, stream string) *StreamPublisher {
	return &StreamPublisher{rdb: rdb, stream: stream, maxLen: 100000}
}

func (p *StreamPublisher) PublishOrderEvent(ctx context.Context, o *model.Order, ev model.OrderEvent) error {
	occurred := ev.CreatedAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	return p.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"event_id":    strconv.FormatUint(uint64(ev.ID), 10),
			"order_id":    o.ID,
			"user_id":     o.UserID,
			"from_status": string(ev.FromStatus),
			"to_status":   string(ev.ToStatus),
			"source":      string(ev.Source),
			"total":       o.Total.StringFixed(2),
			"currency":    o.Currency,
			"occurred_at": occurred.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}
