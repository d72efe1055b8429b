package router

import (
	"errors"
	"io"
	"log"
	"net/http"

	"storefront/internal/apperr"
	"storefront/internal/reconcile"

	"github.com/gin-gonic/gin"
)

// webhookMaxBody webhook 报文上限。
const webhookMaxBody = 1 << 20

// razorpayWebhook 网关异步通知。
// 验签要用原始字节，所以不能先 bind 再序列化回去。
// 只要签名正确且报文可解析就返回 200，哪怕什么也没做，避免网关无限重试。
func razorpayWebhook(h *reconcile.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, webhookMaxBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "msg": "read body failed"})
			return
		}

		res, err := h.HandleWebhook(c.Request.Context(), body, c.GetHeader("X-Razorpay-Signature"))
		if err != nil {
			status := apperr.HTTPStatus(err)
			if status >= http.StatusInternalServerError {
				log.Printf("webhook: %v", err)
			}
			msg := apperr.PublicMessage(err)
			if errors.Is(err, apperr.ErrValidation) {
				msg = "malformed payload"
			}
			c.JSON(status, gin.H{"status": "error", "msg": msg})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "applied": res.Applied})
	}
}
