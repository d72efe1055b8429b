// Package checkout 串起下单链路：按目录价建单，再向网关申请支付单并绑定到订单。
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/model"
	"storefront/internal/order"
	"storefront/internal/payment"
	rediskey "storefront/pkg/redis"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Gateway 下单链路需要的网关能力。
type Gateway interface {
	CreateIntent(ctx context.Context, o *model.Order) (payment.Intent, error)
	KeyID() string
}

// ItemRequest 客户端提交的一行商品。Price 只做记录，实际单价以目录为准。
type ItemRequest struct {
	ProductID uint             `json:"productId" binding:"required,min=1"`
	Quantity  int              `json:"quantity" binding:"required,min=1,max=99"`
	Size      string           `json:"size"`
	Color     string           `json:"color"`
	Price     *decimal.Decimal `json:"price"`
}

type Request struct {
	Items           []ItemRequest         `json:"items" binding:"required,min=1,dive"`
	ShippingAddress model.ShippingAddress `json:"shippingAddress" binding:"required"`
	TotalAmount     *decimal.Decimal      `json:"totalAmount"`
	IdempotencyKey  string                `json:"-"`
}

// Result 下单结果。Intent 为 nil 表示订单已建但支付单还没申请成功。
type Result struct {
	Order    *model.Order
	Intent   *payment.Intent
	KeyID    string
	Replayed bool
}

type Options struct {
	TaxRate        decimal.Decimal
	Currency       string
	IdempotencyTTL time.Duration
}

type Service struct {
	db     *gorm.DB
	orders *order.Manager
	gw     Gateway
	rdb    *rd.Client
	opts   Options
}

// NewService rdb 为 nil 时不支持 Idempotency-Key。
func NewService(db *gorm.DB, orders *order.Manager, gw Gateway, rdb *rd.Client, opts Options) *Service {
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	return &Service{db: db, orders: orders, gw: gw, rdb: rdb, opts: opts}
}

// Checkout 建单并申请支付单。
// 网关失败时返回 ErrGateway，同时带回 pending 订单，客户端可用 RetryIntent 或同一个 Idempotency-Key 重试。
func (s *Service) Checkout(ctx context.Context, userID string, req Request) (Result, error) {
	if req.IdempotencyKey == "" || s.rdb == nil {
		return s.checkout(ctx, userID, req)
	}

	key := rediskey.CheckoutIdempotencyKey(userID, req.IdempotencyKey)
	token := uuid.NewString()
	state, claimed, err := rediskey.ClaimIdempotency(ctx, s.rdb, key, token, s.opts.IdempotencyTTL)
	if err != nil {
		// Redis 不可用时降级为普通下单
		log.Printf("checkout idempotency claim user=%s: %v", userID, err)
		return s.checkout(ctx, userID, req)
	}
	if !claimed {
		if state.OrderID != "" {
			res, err := s.resume(ctx, userID, state.OrderID)
			res.Replayed = true
			return res, err
		}
		return Result{}, fmt.Errorf("%w: a request with this Idempotency-Key is still in progress", apperr.ErrConflict)
	}

	o, err := s.createOrder(ctx, userID, req)
	if err != nil {
		if relErr := rediskey.ReleaseIdempotency(ctx, s.rdb, key, token); relErr != nil {
			log.Printf("checkout idempotency release user=%s: %v", userID, relErr)
		}
		return Result{}, err
	}
	// 订单已落库：之后的重试都续用这张订单
	if err := rediskey.CompleteIdempotency(ctx, s.rdb, key, token, o.ID, s.opts.IdempotencyTTL); err != nil {
		log.Printf("checkout idempotency complete order=%s: %v", o.ID, err)
	}
	return s.attachIntent(ctx, o)
}

// RetryIntent 给仍在 pending 的订单补申请支付单；已经绑定过则直接返回原支付单。
func (s *Service) RetryIntent(ctx context.Context, userID, orderID string) (Result, error) {
	o, err := s.orders.GetForUser(ctx, userID, orderID)
	if err != nil {
		return Result{}, err
	}
	if o.Status != model.StatusPending {
		return Result{Order: o, KeyID: s.gw.KeyID()}, fmt.Errorf("%w: order is %s", apperr.ErrInvalidTransition, o.Status)
	}
	return s.resume(ctx, userID, orderID)
}

func (s *Service) checkout(ctx context.Context, userID string, req Request) (Result, error) {
	o, err := s.createOrder(ctx, userID, req)
	if err != nil {
		return Result{}, err
	}
	return s.attachIntent(ctx, o)
}

// resume 续用已有订单：已绑定支付单或已不是 pending 时原样返回。
func (s *Service) resume(ctx context.Context, userID, orderID string) (Result, error) {
	o, err := s.orders.GetForUser(ctx, userID, orderID)
	if err != nil {
		return Result{}, err
	}
	if o.HasGatewayOrder() {
		in, err := storedIntent(o)
		if err != nil {
			return Result{Order: o, KeyID: s.gw.KeyID()}, err
		}
		return Result{Order: o, Intent: &in, KeyID: s.gw.KeyID()}, nil
	}
	if o.Status != model.StatusPending {
		return Result{Order: o, KeyID: s.gw.KeyID()}, nil
	}
	return s.attachIntent(ctx, o)
}

func (s *Service) createOrder(ctx context.Context, userID string, req Request) (*model.Order, error) {
	items, err := s.priceItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	return s.orders.Create(ctx, order.CreateInput{
		UserID:          userID,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		ClientTotal:     req.TotalAmount,
		TaxRate:         s.opts.TaxRate,
		Currency:        s.opts.Currency,
	})
}

func (s *Service) attachIntent(ctx context.Context, o *model.Order) (Result, error) {
	res := Result{Order: o, KeyID: s.gw.KeyID()}

	in, err := s.gw.CreateIntent(ctx, o)
	if err != nil {
		log.Printf("checkout create intent order=%s: %v", o.ID, err)
		return res, err
	}
	if err := s.orders.AttachGatewayReference(ctx, o.ID, in.GatewayOrderID); err != nil {
		log.Printf("checkout attach gateway order=%s gateway_order=%s: %v", o.ID, in.GatewayOrderID, err)
		return res, err
	}
	gw := in.GatewayOrderID
	o.GatewayOrderID = &gw
	res.Intent = &in
	return res, nil
}

// priceItems 用目录价替换客户端价格，并校验尺码与颜色。
func (s *Service) priceItems(ctx context.Context, reqs []ItemRequest) ([]order.LineItem, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: items must not be empty", apperr.ErrValidation)
	}
	ids := make([]uint, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.ProductID)
	}
	var products []model.Product
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, fmt.Errorf("%w: load products: %v", apperr.ErrStorage, err)
	}
	byID := make(map[uint]model.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	items := make([]order.LineItem, 0, len(reqs))
	for i, r := range reqs {
		p, ok := byID[r.ProductID]
		if !ok || !p.Active {
			return nil, fmt.Errorf("%w: items[%d]: product %d is not available", apperr.ErrValidation, i, r.ProductID)
		}
		if !p.AllowsSize(r.Size) {
			return nil, fmt.Errorf("%w: items[%d]: size %q not offered for %s", apperr.ErrValidation, i, r.Size, p.Name)
		}
		if !p.AllowsColor(r.Color) {
			return nil, fmt.Errorf("%w: items[%d]: color %q not offered for %s", apperr.ErrValidation, i, r.Color, p.Name)
		}
		items = append(items, order.LineItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    r.Quantity,
			UnitPrice:   p.Price,
			Size:        r.Size,
			Color:       r.Color,
		})
	}
	return items, nil
}

func storedIntent(o *model.Order) (payment.Intent, error) {
	amount, err := payment.MinorUnits(o.Total)
	if err != nil {
		return payment.Intent{}, err
	}
	return payment.Intent{
		GatewayOrderID: o.GatewayOrder(),
		Amount:         amount,
		Currency:       o.Currency,
		Receipt:        payment.Receipt(o.ID),
		Reused:         true,
	}, nil
}

// IsGatewayFailure 订单已建但支付单未就绪。
func IsGatewayFailure(res Result, err error) bool {
	return err != nil && res.Order != nil && errors.Is(err, apperr.ErrGateway)
}
