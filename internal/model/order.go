package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShippingAddress 收货地址，整体序列化为 JSON 存在订单行上。
type ShippingAddress struct {
	FullName string `json:"fullName" binding:"required"`
	Email    string `json:"email"`
	Phone    string `json:"phone" binding:"required"`
	Address  string `json:"address" binding:"required"`
	City     string `json:"city" binding:"required"`
	State    string `json:"state"`
	ZipCode  string `json:"zipCode" binding:"required"`
	Country  string `json:"country" binding:"required"`
}

// Order 订单。只追加不删除，取消也只是一个状态值。
// 金额用 decimal 存成定长文本，避免浮点误差。
type Order struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID   string          `gorm:"size:64;not null;index" json:"user_id"`
	Subtotal decimal.Decimal `gorm:"type:varchar(32);not null" json:"subtotal"`
	Tax      decimal.Decimal `gorm:"type:varchar(32);not null" json:"tax"`
	Total    decimal.Decimal `gorm:"type:varchar(32);not null" json:"total"` // 建单时一次算定，之后不再重算
	Currency string          `gorm:"size:3;not null" json:"currency"`
	Status   OrderStatus     `gorm:"size:16;not null;index" json:"status"`

	ShippingAddress ShippingAddress `gorm:"serializer:json;not null" json:"shipping_address"`

	// GatewayOrderID 一旦写入不可修改
	GatewayOrderID   *string `gorm:"size:64;uniqueIndex" json:"gateway_order_id"`
	GatewayPaymentID *string `gorm:"size:64" json:"gateway_payment_id"`
	GatewaySignature *string `gorm:"size:128" json:"-"`

	TrackingNumber *string    `gorm:"size:128" json:"tracking_number"`
	TrackingURL    *string    `gorm:"size:512" json:"tracking_url"`
	ShippedAt      *time.Time `json:"shipped_at"`

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`
}

func (Order) TableName() string { return "orders" }

// HasGatewayOrder 是否已经绑定网关订单号。
func (o *Order) HasGatewayOrder() bool {
	return o.GatewayOrderID != nil && *o.GatewayOrderID != ""
}

// GatewayOrder 取网关订单号，未绑定时返回空串。
func (o *Order) GatewayOrder() string {
	if o.GatewayOrderID == nil {
		return ""
	}
	return *o.GatewayOrderID
}
