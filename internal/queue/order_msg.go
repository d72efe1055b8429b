package queue

import (
	"fmt"
	"time"
)

// OrderEventMessage 是写入 Stream / Kafka 的订单状态变更事件。
type OrderEventMessage struct {
	EventID    uint      `json:"event_id"`
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Source     string    `json:"source"`
	Total      string    `json:"total"` // decimal 文本，避免浮点
	Currency   string    `json:"currency"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Validate 做最小字段校验，防止下游处理脏消息。
func (m OrderEventMessage) Validate() error {
	if m.EventID == 0 {
		return fmt.Errorf("event_id is required")
	}
	if m.OrderID == "" {
		return fmt.Errorf("order_id is required")
	}
	if m.ToStatus == "" {
		return fmt.Errorf("to_status is required")
	}
	if m.Source == "" {
		return fmt.Errorf("source is required")
	}
	return nil
}

// Key Kafka 分区键：同一订单的事件落在同一分区，保证顺序。
func (m OrderEventMessage) Key() string { return m.OrderID }
