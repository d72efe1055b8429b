// Package reconcile 对账：客户端支付回调与网关 webhook 两条链路，最终都落到 order.Manager.TransitionStatus。
//
// 两条链路可以任意顺序、重复、并发到达；幂等由 TransitionStatus 的“已到达目标或更后状态即空操作”保证，
// 这里不另存去重记录。
package reconcile

import (
	"context"
	"fmt"
	"log"
	"strings"

	"storefront/internal/apperr"
	"storefront/internal/model"
	"storefront/internal/order"
)

// PaymentVerifier 校验客户端回传的支付签名。
type PaymentVerifier interface {
	VerifySignature(gatewayOrderID, gatewayPaymentID, signature string) (bool, error)
}

// Result 对账结果。Applied=false 表示本次调用没有改变订单状态（幂等命中或被忽略）。
type Result struct {
	OrderID string
	Status  model.OrderStatus
	Applied bool
	Message string
}

type Handler struct {
	orders        *order.Manager
	verifier      PaymentVerifier
	webhookSecret string
}

// NewHandler webhookSecret 为空时不校验 webhook 签名。
func NewHandler(orders *order.Manager, verifier PaymentVerifier, webhookSecret string) *Handler {
	return &Handler{orders: orders, verifier: verifier, webhookSecret: webhookSecret}
}

// ClientVerification 客户端支付完成后回传的三元组。
type ClientVerification struct {
	OrderID          string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

func (v ClientVerification) validate() error {
	var missing []string
	if strings.TrimSpace(v.OrderID) == "" {
		missing = append(missing, "order_id")
	}
	if strings.TrimSpace(v.GatewayOrderID) == "" {
		missing = append(missing, "gateway_order_id")
	}
	if strings.TrimSpace(v.GatewayPaymentID) == "" {
		missing = append(missing, "gateway_payment_id")
	}
	if strings.TrimSpace(v.Signature) == "" {
		missing = append(missing, "signature")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", apperr.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// HandleClientVerification 校验客户端回调并把订单推进到 processing。
// 订单号不匹配和签名错误都不改状态，也不会把订单标记为 failed。
func (h *Handler) HandleClientVerification(ctx context.Context, userID string, in ClientVerification) (Result, error) {
	if err := in.validate(); err != nil {
		return Result{}, err
	}

	var (
		o   *model.Order
		err error
	)
	if userID == "" {
		o, err = h.orders.Get(ctx, in.OrderID)
	} else {
		o, err = h.orders.GetForUser(ctx, userID, in.OrderID)
	}
	if err != nil {
		return Result{}, err
	}

	if !o.HasGatewayOrder() || o.GatewayOrder() != in.GatewayOrderID {
		log.Printf("reconcile client: gateway order mismatch order=%s", o.ID)
		return Result{OrderID: o.ID, Status: o.Status}, fmt.Errorf("%w: order %s", apperr.ErrMismatch, o.ID)
	}

	ok, err := h.verifier.VerifySignature(in.GatewayOrderID, in.GatewayPaymentID, in.Signature)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		log.Printf("reconcile client: invalid signature order=%s payment=%s", o.ID, in.GatewayPaymentID)
		return Result{OrderID: o.ID, Status: o.Status}, fmt.Errorf("%w: order %s", apperr.ErrInvalidSignature, o.ID)
	}

	// 已经 processing 也照常走 TransitionStatus：不会重复迁移，但会补上 webhook 没带的签名
	updated, applied, err := h.orders.TransitionStatus(ctx, o.ID, model.StatusProcessing, order.Meta{
		Source:           model.SourceClient,
		GatewayPaymentID: in.GatewayPaymentID,
		GatewaySignature: in.Signature,
		Note:             "client payment verification",
	})
	if err != nil {
		return Result{OrderID: o.ID, Status: o.Status}, err
	}
	msg := "payment verified"
	if !applied {
		msg = "payment already verified"
	}
	return Result{OrderID: updated.ID, Status: updated.Status, Applied: applied, Message: msg}, nil
}
