package model

import "time"

// EventSource 标记是哪条链路推动了状态迁移。
type EventSource string

const (
	SourceClient  EventSource = "client"  // 客户端回调验签
	SourceWebhook EventSource = "webhook" // 网关异步通知
	SourceAdmin   EventSource = "admin"
	SourceSystem  EventSource = "system" // 超时取消等后台任务
)

// OrderEvent 订单状态迁移流水，与状态更新在同一事务内写入。
// 每次真正生效的迁移恰好一条，重复投递不会产生重复流水。
type OrderEvent struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	OrderID          string      `gorm:"size:36;not null;index" json:"order_id"`
	FromStatus       OrderStatus `gorm:"size:16" json:"from_status"`
	ToStatus         OrderStatus `gorm:"size:16;not null" json:"to_status"`
	Source           EventSource `gorm:"size:16;not null" json:"source"`
	GatewayPaymentID string      `gorm:"size:64" json:"gateway_payment_id"`
	Note             string      `gorm:"size:255" json:"note"`
}

func (OrderEvent) TableName() string { return "order_events" }
