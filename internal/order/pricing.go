package order

import (
	"github.com/shopspring/decimal"
)

// LineItem 建单时的一条明细，单价已经由调用方从商品目录快照好。
type LineItem struct {
	ProductID   uint
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	Size        string
	Color       string
}

// ComputeTotals 服务端重新计价：小计 = Σ 数量×单价，税额按税率四舍五入到分。
func ComputeTotals(items []LineItem, taxRate decimal.Decimal) (subtotal, tax, total decimal.Decimal) {
	subtotal = decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	subtotal = subtotal.Round(2)
	tax = subtotal.Mul(taxRate).Round(2)
	total = subtotal.Add(tax)
	return subtotal, tax, total
}
