package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"storefront/internal/apperr"
	"storefront/internal/model"
	"storefront/internal/order"
	"storefront/internal/payment"
)

// webhookTargets 网关事件到订单目标状态；不在表里的事件接收但忽略。
var webhookTargets = map[string]model.OrderStatus{
	"payment.authorized": model.StatusAuthorized,
	"payment.captured":   model.StatusProcessing,
	"order.paid":         model.StatusProcessing,
	"payment.failed":     model.StatusFailed,
}

type paymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

func (e webhookEnvelope) gatewayOrderID() string {
	if id := e.Payload.Payment.Entity.OrderID; id != "" {
		return id
	}
	return e.Payload.Order.Entity.ID
}

// HandleWebhook 处理网关异步通知。
// 只有签名错误、报文无法解析和存储故障会返回错误；未知事件、未知订单、过期迁移都记日志后按成功返回，
// 否则网关会对一个它无法修正的问题无限重试。
func (h *Handler) HandleWebhook(ctx context.Context, rawBody []byte, signature string) (Result, error) {
	if h.webhookSecret != "" {
		if signature == "" {
			return Result{}, fmt.Errorf("%w: missing webhook signature", apperr.ErrInvalidSignature)
		}
		ok, err := payment.VerifyWebhookSignature(h.webhookSecret, rawBody, signature)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			log.Printf("reconcile webhook: invalid signature")
			return Result{}, fmt.Errorf("%w: webhook", apperr.ErrInvalidSignature)
		}
	}

	var env webhookEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return Result{}, fmt.Errorf("%w: malformed webhook body", apperr.ErrValidation)
	}

	target, ok := webhookTargets[env.Event]
	if !ok {
		log.Printf("reconcile webhook: ignore event=%q", env.Event)
		return Result{Message: "event ignored"}, nil
	}

	gwOrderID := env.gatewayOrderID()
	if gwOrderID == "" {
		log.Printf("reconcile webhook: event=%s without order id, ignored", env.Event)
		return Result{Message: "event ignored"}, nil
	}

	o, err := h.orders.FindByGatewayOrderID(ctx, gwOrderID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			log.Printf("reconcile webhook: no order for gateway_order=%s event=%s", gwOrderID, env.Event)
			return Result{Message: "order not found"}, nil
		}
		return Result{}, err
	}

	entity := env.Payload.Payment.Entity
	meta := order.Meta{Source: model.SourceWebhook, Note: env.Event}
	switch target {
	case model.StatusFailed:
		if entity.ErrorDescription != "" {
			meta.Note = env.Event + ": " + entity.ErrorDescription
		}
	default:
		meta.GatewayPaymentID = entity.ID
	}

	updated, applied, err := h.orders.TransitionStatus(ctx, o.ID, target, meta)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrInvalidTransition):
			// 迟到或乱序的通知，不能把更靠后的状态拉回来
			log.Printf("reconcile webhook: stale event=%s order=%s status=%s", env.Event, o.ID, o.Status)
			status := o.Status
			if updated != nil {
				status = updated.Status
			}
			return Result{OrderID: o.ID, Status: status, Message: "stale event ignored"}, nil
		case errors.Is(err, apperr.ErrNotFound):
			return Result{Message: "order not found"}, nil
		}
		return Result{}, err
	}

	msg := "order updated"
	if !applied {
		msg = "already applied"
	}
	return Result{OrderID: updated.ID, Status: updated.Status, Applied: applied, Message: msg}, nil
}
