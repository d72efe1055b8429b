package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderItem 订单明细。单价是下单时的快照，商品后续调价不影响历史订单。
type OrderItem struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	OrderID     string          `gorm:"size:36;not null;index" json:"order_id"`
	ProductID   uint            `gorm:"not null;index" json:"product_id"`
	ProductName string          `gorm:"size:128" json:"product_name"`
	Quantity    int             `gorm:"not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:varchar(32);not null" json:"unit_price"`
	Size        string          `gorm:"size:32" json:"size"`
	Color       string          `gorm:"size:32" json:"color"`
}

func (OrderItem) TableName() string { return "order_items" }

// LineTotal = 数量 × 单价
func (it OrderItem) LineTotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}
