package router

import (
	"net/http"
	"strings"

	"storefront/internal/apperr"
	"storefront/internal/checkout"
	"storefront/internal/middleware"
	"storefront/internal/order"
	"storefront/internal/reconcile"

	"github.com/gin-gonic/gin"
)

// idempotencyKeyMaxLen 客户端 Idempotency-Key 长度上限。
const idempotencyKeyMaxLen = 128

// createOrder 下单入口：
// 1. 按目录价重算金额（客户端 total 只做比对）
// 2. 事务内写订单 + 明细
// 3. 向网关申请支付单并绑定
// 第 3 步失败时订单保留 pending，返回 502 和 order_id，客户端可以重试。
func createOrder(svc *checkout.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req checkout.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		req.IdempotencyKey = strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		if len(req.IdempotencyKey) > idempotencyKeyMaxLen {
			badRequest(c, "Idempotency-Key 过长")
			return
		}

		res, err := svc.Checkout(c.Request.Context(), middleware.UserID(c), req)
		if err != nil {
			if checkout.IsGatewayFailure(res, err) {
				c.JSON(http.StatusBadGateway, gin.H{
					"code":      http.StatusBadGateway,
					"msg":       "订单已创建，支付单申请失败，请重试",
					"retryable": true,
					"data":      gin.H{"order_id": res.Order.ID, "order": res.Order},
				})
				return
			}
			fail(c, err)
			return
		}
		status := http.StatusCreated
		if res.Replayed {
			status = http.StatusOK
		}
		c.JSON(status, gin.H{"code": 0, "data": checkoutData(res)})
	}
}

// retryPaymentIntent 给 pending 订单补申请支付单。
func retryPaymentIntent(svc *checkout.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := svc.RetryIntent(c.Request.Context(), middleware.UserID(c), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": checkoutData(res)})
	}
}

func checkoutData(res checkout.Result) gin.H {
	data := gin.H{"order": res.Order, "gatewayOrder": nil}
	if res.Intent != nil {
		data["gatewayOrder"] = gin.H{
			"id":       res.Intent.GatewayOrderID,
			"amount":   res.Intent.Amount,
			"currency": res.Intent.Currency,
			"receipt":  res.Intent.Receipt,
			"key_id":   res.KeyID,
		}
	}
	return data
}

// verifyPayment 客户端支付完成回调。
// 同时接受 Razorpay Checkout 原生字段名和驼峰字段名。
func verifyPayment(h *reconcile.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			OrderID           string `json:"order_id"`
			OrderIDCamel      string `json:"orderId"`
			GatewayOrderID    string `json:"gatewayOrderId"`
			RazorpayOrderID   string `json:"razorpay_order_id"`
			GatewayPaymentID  string `json:"gatewayPaymentId"`
			RazorpayPaymentID string `json:"razorpay_payment_id"`
			Signature         string `json:"signature"`
			RazorpaySignature string `json:"razorpay_signature"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
			return
		}

		res, err := h.HandleClientVerification(c.Request.Context(), middleware.UserID(c), reconcile.ClientVerification{
			OrderID:          firstNonEmpty(req.OrderID, req.OrderIDCamel),
			GatewayOrderID:   firstNonEmpty(req.GatewayOrderID, req.RazorpayOrderID),
			GatewayPaymentID: firstNonEmpty(req.GatewayPaymentID, req.RazorpayPaymentID),
			Signature:        firstNonEmpty(req.Signature, req.RazorpaySignature),
		})
		if err != nil {
			c.JSON(apperr.HTTPStatus(err), gin.H{"success": false, "message": apperr.PublicMessage(err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"message":  res.Message,
			"order_id": res.OrderID,
			"status":   res.Status,
		})
	}
}

// listMyOrders 当前用户的订单。
func listMyOrders(orders *order.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := orders.ListForUser(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

// getMyOrder 别人的订单按 404 处理。
func getMyOrder(orders *order.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, err := orders.GetForUser(c.Request.Context(), middleware.UserID(c), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": o})
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
