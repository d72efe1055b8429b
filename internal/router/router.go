package router

import (
	"net/http"

	"storefront/internal/checkout"
	"storefront/internal/config"
	"storefront/internal/middleware"
	"storefront/internal/order"
	"storefront/internal/reconcile"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Deps 路由依赖，全部由进程入口构造后注入。Redis 可以为 nil（关闭限流与幂等键）。
type Deps struct {
	DB        *gorm.DB
	Redis     *rd.Client
	Orders    *order.Manager
	Checkout  *checkout.Service
	Reconcile *reconcile.Handler
	Config    config.AppConfig
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})

	api := r.Group("/api")
	api.GET("/products", listProducts(d.DB))

	// 网关回调不带登录态，靠 webhook 签名认证
	api.POST("/webhooks/razorpay", razorpayWebhook(d.Reconcile))
	api.POST("/webhooks/payment-gateway", razorpayWebhook(d.Reconcile))

	user := api.Group("", middleware.RequireUser(d.Config.JWTSecret))
	user.POST("/orders",
		middleware.RedisRateLimit(d.Redis, "checkout", d.Config.CheckoutRateLimit, d.Config.CheckoutRateWindow),
		createOrder(d.Checkout))
	user.POST("/orders/verify-payment",
		middleware.RedisRateLimit(d.Redis, "verify", d.Config.CheckoutRateLimit, d.Config.CheckoutRateWindow),
		verifyPayment(d.Reconcile))
	user.POST("/orders/:id/payment-intent", retryPaymentIntent(d.Checkout))
	user.GET("/orders", listMyOrders(d.Orders))
	user.GET("/orders/:id", getMyOrder(d.Orders))

	admin := user.Group("/admin", middleware.RequireAdmin())
	admin.POST("/products", createProduct(d.DB))
	admin.GET("/orders", adminListOrders(d.Orders))
	admin.GET("/orders/:id/events", adminOrderEvents(d.Orders))
	admin.PUT("/orders/:id/status", adminUpdateStatus(d.Orders))
}
