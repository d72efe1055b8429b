package model

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Product 商品目录的只读视图：名称、售价、可选尺码与颜色。
type Product struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name   string          `gorm:"size:128;not null" json:"name"`
	Price  decimal.Decimal `gorm:"type:varchar(32);not null" json:"price"`
	Sizes  []string        `gorm:"serializer:json" json:"sizes"`
	Colors []string        `gorm:"serializer:json" json:"colors"`
	Active bool            `gorm:"not null" json:"active"`
}

func (Product) TableName() string { return "products" }

// AllowsSize 未声明尺码的商品只接受空值。
func (p Product) AllowsSize(size string) bool {
	if len(p.Sizes) == 0 {
		return size == ""
	}
	return slices.Contains(p.Sizes, size)
}

// AllowsColor 同 AllowsSize。
func (p Product) AllowsColor(color string) bool {
	if len(p.Colors) == 0 {
		return color == ""
	}
	return slices.Contains(p.Colors, color)
}
