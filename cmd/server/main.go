package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"storefront/internal/checkout"
	"storefront/internal/config"
	"storefront/internal/model"
	"storefront/internal/order"
	"storefront/internal/payment"
	"storefront/internal/queue"
	"storefront/internal/reconcile"
	"storefront/internal/router"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. 连接 SQLite，自动建表
	db, err := model.Open(cfg.DBPath, &gorm.Config{})
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	if err := model.Migrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	// 2. Redis：限流、幂等键、订单事件 Stream
	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 3. Kafka：Relay 把 Stream 里的订单事件转发出去
	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	orders := order.NewManager(db, queue.NewStreamPublisher(rdb, cfg.OrderEventStream))
	gw := payment.NewRazorpayGateway(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.GatewayTimeout)
	if cfg.RazorpayWebhookSecret == "" {
		log.Printf("RAZORPAY_WEBHOOK_SECRET not set, webhook signatures will not be verified")
	}

	var wg sync.WaitGroup
	relay := queue.NewRelay(rdb, producer, cfg.OrderEventStream, cfg.OrderEventGroup, cfg.OrderEventConsumer)
	wg.Add(1)
	go func() {
		defer wg.Done()
		relay.Run(ctx)
	}()
	if cfg.PendingOrderTTL > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			orders.RunExpiry(ctx, cfg.PendingOrderTTL, cfg.ExpiryInterval)
		}()
	}

	r := gin.Default()
	router.Setup(r, router.Deps{
		DB:     db,
		Redis:  rdb,
		Orders: orders,
		Checkout: checkout.NewService(db, orders, gw, rdb, checkout.Options{
			TaxRate:        cfg.TaxRate,
			Currency:       cfg.Currency,
			IdempotencyTTL: cfg.IdempotencyTTL,
		}),
		Reconcile: reconcile.NewHandler(orders, gw, cfg.RazorpayWebhookSecret),
		Config:    cfg,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	wg.Wait()
}
