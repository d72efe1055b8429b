package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"storefront/internal/apperr"
)

// SignPayment 按 Razorpay 文档计算支付签名：hex(HMAC-SHA256(orderID + "|" + paymentID, keySecret))。
func SignPayment(secret, gatewayOrderID, gatewayPaymentID string) string {
	return sign(secret, []byte(gatewayOrderID+"|"+gatewayPaymentID))
}

// SignWebhook webhook 签名是对原始请求体做 HMAC，密钥是单独配置的 webhook secret。
func SignWebhook(secret string, rawBody []byte) string {
	return sign(secret, rawBody)
}

// VerifyPaymentSignature 常量时间比较。不匹配返回 false，不是错误；只有缺密钥才报错。
func VerifyPaymentSignature(secret, gatewayOrderID, gatewayPaymentID, signature string) (bool, error) {
	if secret == "" {
		return false, fmt.Errorf("%w: payment key secret is not set", apperr.ErrConfiguration)
	}
	if gatewayOrderID == "" || gatewayPaymentID == "" || signature == "" {
		return false, nil
	}
	expected := SignPayment(secret, gatewayOrderID, gatewayPaymentID)
	return hmac.Equal([]byte(expected), []byte(signature)), nil
}

// VerifyWebhookSignature 校验 X-Razorpay-Signature。
func VerifyWebhookSignature(secret string, rawBody []byte, signature string) (bool, error) {
	if secret == "" {
		return false, fmt.Errorf("%w: webhook secret is not set", apperr.ErrConfiguration)
	}
	if signature == "" {
		return false, nil
	}
	expected := SignWebhook(secret, rawBody)
	return hmac.Equal([]byte(expected), []byte(signature)), nil
}

func sign(secret string, msg []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(msg)
	return hex.EncodeToString(h.Sum(nil))
}
