// Package payment 对接 Razorpay：创建支付单、校验支付与 webhook 签名。
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/model"

	"github.com/razorpay/razorpay-go"
	"github.com/shopspring/decimal"
)

// OrderAPI 是 razorpay-go 中 client.Order 用到的子集，测试里换成假实现。
type OrderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	All(queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// Intent 网关侧支付单，本地只持有它的 id。
type Intent struct {
	GatewayOrderID string `json:"id"`
	Amount         int64  `json:"amount"` // 最小货币单位（分/paise）
	Currency       string `json:"currency"`
	Receipt        string `json:"receipt"`
	Reused         bool   `json:"-"`
}

// Gateway 支付网关适配器。由进程入口显式构造并注入，没有包级全局客户端。
type Gateway struct {
	api       OrderAPI
	keyID     string
	keySecret string
	timeout   time.Duration
}

const defaultTimeout = 10 * time.Second

// NewRazorpayGateway 用真实的 razorpay-go 客户端构造。
// SDK 的 HTTP 客户端也设上同样的超时，ctx 超时返回后后台请求不会一直挂着。
func NewRazorpayGateway(keyID, keySecret string, timeout time.Duration) *Gateway {
	client := razorpay.NewClient(keyID, keySecret)
	razorpay.Request.SetTimeout(sdkTimeoutSeconds(timeout))
	return NewGateway(client.Order, keyID, keySecret, timeout)
}

func NewGateway(api OrderAPI, keyID, keySecret string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Gateway{api: api, keyID: keyID, keySecret: keySecret, timeout: timeout}
}

// sdkTimeoutSeconds SDK 只接受整秒，向上取整。
func sdkTimeoutSeconds(d time.Duration) int16 {
	if d <= 0 {
		d = defaultTimeout
	}
	secs := int64((d + time.Second - 1) / time.Second)
	if secs > math.MaxInt16 {
		secs = math.MaxInt16
	}
	return int16(secs)
}

// KeyID 公钥，前端拉起收银台要用，可以返回给客户端。
func (g *Gateway) KeyID() string { return g.keyID }

// Receipt 由本地订单号确定性生成（Razorpay 限 40 字符），重试时保持不变。
func Receipt(orderID string) string {
	return "rcpt_" + strings.ReplaceAll(orderID, "-", "")
}

// MinorUnits 把金额换成最小货币单位的整数，绝不经过浮点。
func MinorUnits(amount decimal.Decimal) (int64, error) {
	minor := amount.Shift(2)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: amount %s has more than 2 decimal places", apperr.ErrValidation, amount.String())
	}
	return minor.IntPart(), nil
}

// CreateIntent 为订单创建网关支付单。
// 先按 receipt 查是否已经建过（上次超时但网关其实成功了），有则复用，没有才新建。
// 任何失败都包装成 ErrGateway，订单状态保持不变，由调用方决定重试。
func (g *Gateway) CreateIntent(ctx context.Context, o *model.Order) (Intent, error) {
	amount, err := MinorUnits(o.Total)
	if err != nil {
		return Intent{}, err
	}
	if amount <= 0 {
		return Intent{}, fmt.Errorf("%w: amount must be > 0", apperr.ErrValidation)
	}
	receipt := Receipt(o.ID)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	existing, err := g.call(ctx, func() (map[string]interface{}, error) {
		return g.api.All(map[string]interface{}{"receipt": receipt}, nil)
	})
	if err != nil {
		return Intent{}, fmt.Errorf("%w: lookup by receipt: %v", apperr.ErrGateway, err)
	}
	if in, ok := findByReceipt(existing, receipt); ok {
		if in.Amount != amount {
			return Intent{}, fmt.Errorf("%w: gateway order %s amount %d != %d", apperr.ErrConflict, in.GatewayOrderID, in.Amount, amount)
		}
		in.Reused = true
		log.Printf("payment intent reused order=%s gateway_order=%s", o.ID, in.GatewayOrderID)
		return in, nil
	}

	resp, err := g.call(ctx, func() (map[string]interface{}, error) {
		return g.api.Create(map[string]interface{}{
			"amount":   amount,
			"currency": o.Currency,
			"receipt":  receipt,
			"notes": map[string]interface{}{
				"order_id": o.ID,
				"user_id":  o.UserID,
			},
		}, nil)
	})
	if err != nil {
		return Intent{}, fmt.Errorf("%w: create order: %v", apperr.ErrGateway, err)
	}
	in, err := parseIntent(resp)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: %v", apperr.ErrGateway, err)
	}
	if in.Currency == "" {
		in.Currency = o.Currency
	}
	if in.Amount == 0 {
		in.Amount = amount
	}
	in.Receipt = receipt
	log.Printf("payment intent created order=%s gateway_order=%s amount=%d %s", o.ID, in.GatewayOrderID, in.Amount, in.Currency)
	return in, nil
}

// VerifySignature 用 key secret 校验客户端回传的支付签名。
func (g *Gateway) VerifySignature(gatewayOrderID, gatewayPaymentID, signature string) (bool, error) {
	return VerifyPaymentSignature(g.keySecret, gatewayOrderID, gatewayPaymentID, signature)
}

// call 给同步 SDK 调用加上 ctx 超时；超时后 SDK 请求由它自己的 HTTP 超时兜底结束，结果丢弃。
func (g *Gateway) call(ctx context.Context, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	type result struct {
		resp map[string]interface{}
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := fn()
		ch <- result{resp, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.resp, r.err
	}
}

func findByReceipt(collection map[string]interface{}, receipt string) (Intent, bool) {
	items, _ := collection["items"].([]interface{})
	for _, raw := range items {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if r, _ := m["receipt"].(string); r != receipt {
			continue
		}
		in, err := parseIntent(m)
		if err != nil {
			continue
		}
		in.Receipt = receipt
		return in, true
	}
	return Intent{}, false
}

func parseIntent(m map[string]interface{}) (Intent, error) {
	id, _ := m["id"].(string)
	if id == "" {
		return Intent{}, fmt.Errorf("gateway response has no order id")
	}
	currency, _ := m["currency"].(string)
	return Intent{
		GatewayOrderID: id,
		Amount:         toInt64(m["amount"]),
		Currency:       currency,
	}, nil
}

func toInt64(v interface{}) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int64:
		return x
	case float64:
		return int64(x)
	case json.Number:
		n, _ := x.Int64()
		return n
	default:
		return 0
	}
}
