package redis

import "fmt"

// RateLimitUserKey 按用户限流的 key。
func RateLimitUserKey(scope, userID string) string {
	return fmt.Sprintf("storefront:rate_limit:%s:user:%s", scope, userID)
}

// RateLimitIPKey 取不到用户时按 IP 降级限流。
func RateLimitIPKey(scope, ip string) string {
	return fmt.Sprintf("storefront:rate_limit:%s:ip:%s", scope, ip)
}

// CheckoutIdempotencyKey 将客户端 Idempotency-Key 映射到订单号。
func CheckoutIdempotencyKey(userID, idemKey string) string {
	return fmt.Sprintf("storefront:idem:checkout:%s:%s", userID, idemKey)
}
