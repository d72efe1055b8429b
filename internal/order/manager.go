// Package order 管理订单及明细的生命周期，是唯一允许修改订单状态的组件。
package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// maxTransitionAttempts 条件更新冲突后的最大重读次数。
const maxTransitionAttempts = 5

var errLostRace = errors.New("order status changed concurrently")

// EventPublisher 接收已提交的状态迁移，用于对外广播。发布失败不影响订单本身。
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, o *model.Order, ev model.OrderEvent) error
}

// Manager 订单管理器。所有状态写入都走条件更新，数据库行是唯一事实来源。
type Manager struct {
	db  *gorm.DB
	pub EventPublisher
	now func() time.Time
}

// NewManager pub 可以为 nil。
func NewManager(db *gorm.DB, pub EventPublisher) *Manager {
	return &Manager{db: db, pub: pub, now: time.Now}
}

// CreateInput 建单参数。ClientTotal 只用于比对记录，从不入库。
type CreateInput struct {
	UserID          string
	Items           []LineItem
	ShippingAddress model.ShippingAddress
	ClientTotal     *decimal.Decimal
	TaxRate         decimal.Decimal
	Currency        string
}

// Meta 迁移附带的信息，按目标状态取用。
type Meta struct {
	Source           model.EventSource
	GatewayPaymentID string
	GatewaySignature string
	TrackingNumber   string
	TrackingURL      string
	Note             string

	// Strict 管理员直接改状态时使用：目标落后于当前状态返回 ErrInvalidTransition，而不是空操作
	Strict bool
}

// Create 在一个事务里写入订单、全部明细和首条流水，任何一步失败整体回滚。
func (m *Manager) Create(ctx context.Context, in CreateInput) (*model.Order, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	subtotal, tax, total := ComputeTotals(in.Items, in.TaxRate)
	if !total.IsPositive() {
		return nil, fmt.Errorf("%w: order total must be > 0", apperr.ErrValidation)
	}
	if in.ClientTotal != nil && !in.ClientTotal.Round(2).Equal(total) {
		log.Printf("order create: client total ignored user=%s client=%s server=%s",
			in.UserID, in.ClientTotal.String(), total.StringFixed(2))
	}

	now := m.now()
	o := &model.Order{
		ID:              uuid.NewString(),
		CreatedAt:       now,
		UpdatedAt:       now,
		UserID:          in.UserID,
		Subtotal:        subtotal,
		Tax:             tax,
		Total:           total,
		Currency:        in.Currency,
		Status:          model.StatusPending,
		ShippingAddress: in.ShippingAddress,
	}
	items := make([]model.OrderItem, 0, len(in.Items))
	for _, it := range in.Items {
		items = append(items, model.OrderItem{
			CreatedAt:   now,
			OrderID:     o.ID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Size:        it.Size,
			Color:       it.Color,
		})
	}
	ev := model.OrderEvent{
		CreatedAt: now,
		OrderID:   o.ID,
		ToStatus:  model.StatusPending,
		Source:    model.SourceClient,
		Note:      "order created",
	}

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(o).Error; err != nil {
			return err
		}
		if err := tx.Create(&items).Error; err != nil {
			return err
		}
		return tx.Create(&ev).Error
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create order: %v", apperr.ErrStorage, err)
	}
	o.Items = items

	log.Printf("order created id=%s user=%s total=%s %s items=%d",
		o.ID, o.UserID, o.Total.StringFixed(2), o.Currency, len(items))
	m.publish(ctx, o, ev)
	return o, nil
}

func validateCreate(in CreateInput) error {
	if strings.TrimSpace(in.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", apperr.ErrValidation)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: items must not be empty", apperr.ErrValidation)
	}
	for i, it := range in.Items {
		if it.ProductID == 0 {
			return fmt.Errorf("%w: items[%d].product_id is required", apperr.ErrValidation, i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: items[%d].quantity must be > 0", apperr.ErrValidation, i)
		}
		if it.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: items[%d].price must be >= 0", apperr.ErrValidation, i)
		}
	}
	a := in.ShippingAddress
	if a.FullName == "" || a.Address == "" || a.City == "" || a.ZipCode == "" || a.Country == "" {
		return fmt.Errorf("%w: shipping_address is incomplete", apperr.ErrValidation)
	}
	if in.TaxRate.IsNegative() {
		return fmt.Errorf("%w: tax rate must be >= 0", apperr.ErrValidation)
	}
	if len(in.Currency) != 3 {
		return fmt.Errorf("%w: currency is required", apperr.ErrValidation)
	}
	return nil
}

// AttachGatewayReference 给 pending 订单绑定网关订单号。
// 同一个号重复绑定是空操作；已绑定其他号时返回 ErrConflict，绝不覆盖。
func (m *Manager) AttachGatewayReference(ctx context.Context, orderID, gatewayOrderID string) error {
	if gatewayOrderID == "" {
		return fmt.Errorf("%w: gateway order id is required", apperr.ErrValidation)
	}
	db := m.db.WithContext(ctx)

	res := db.Model(&model.Order{}).
		Where("id = ? AND gateway_order_id IS NULL AND status = ?", orderID, model.StatusPending).
		Updates(map[string]any{
			"gateway_order_id": gatewayOrderID,
			"updated_at":       m.now(),
		})
	if res.Error != nil {
		if errorsLikeUnique(res.Error) {
			return fmt.Errorf("%w: gateway order %s belongs to another order", apperr.ErrConflict, gatewayOrderID)
		}
		return fmt.Errorf("%w: attach gateway reference: %v", apperr.ErrStorage, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	// 没有命中条件更新：读出当前行判断原因
	var o model.Order
	if err := db.First(&o, "id = ?", orderID).Error; err != nil {
		return m.lookupErr(orderID, err)
	}
	if o.HasGatewayOrder() {
		if *o.GatewayOrderID == gatewayOrderID {
			return nil
		}
		return fmt.Errorf("%w: order %s already has gateway reference", apperr.ErrConflict, orderID)
	}
	return fmt.Errorf("%w: cannot attach gateway reference to %s order", apperr.ErrInvalidTransition, o.Status)
}

// TransitionStatus 是状态迁移的唯一入口。
//   - 已处于目标或更靠后的状态：不做任何事，applied=false（Strict 时只有同状态才算空操作）
//   - 状态机里不存在的边：ErrInvalidTransition
//   - 否则用 WHERE status=<读到的状态> 做条件更新；被并发抢先时重读再判定
func (m *Manager) TransitionStatus(ctx context.Context, orderID string, next model.OrderStatus, meta Meta) (*model.Order, bool, error) {
	if _, ok := model.ParseStatus(string(next)); !ok {
		return nil, false, fmt.Errorf("%w: unknown status %q", apperr.ErrValidation, next)
	}
	if meta.Source == "" {
		meta.Source = model.SourceSystem
	}

	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		var (
			o       model.Order
			ev      model.OrderEvent
			applied bool
		)
		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.First(&o, "id = ?", orderID).Error; err != nil {
				return err
			}
			if o.Status.Reached(next) {
				if meta.Strict && o.Status != next {
					return fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidTransition, o.Status, next)
				}
				return m.fillMissing(tx, &o, next, meta)
			}
			if !o.Status.CanTransitionTo(next) {
				return fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidTransition, o.Status, next)
			}

			now := m.now()
			updates := map[string]any{
				"status":     next,
				"updated_at": now,
			}
			if meta.GatewayPaymentID != "" && o.GatewayPaymentID == nil {
				updates["gateway_payment_id"] = meta.GatewayPaymentID
			}
			if meta.GatewaySignature != "" && o.GatewaySignature == nil {
				updates["gateway_signature"] = meta.GatewaySignature
			}
			if next == model.StatusShipped {
				updates["shipped_at"] = now
				if meta.TrackingNumber != "" {
					updates["tracking_number"] = meta.TrackingNumber
				}
				if meta.TrackingURL != "" {
					updates["tracking_url"] = meta.TrackingURL
				}
			}

			res := tx.Model(&model.Order{}).
				Where("id = ? AND status = ?", o.ID, o.Status).
				Updates(updates)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errLostRace
			}

			ev = model.OrderEvent{
				CreatedAt:        now,
				OrderID:          o.ID,
				FromStatus:       o.Status,
				ToStatus:         next,
				Source:           meta.Source,
				GatewayPaymentID: meta.GatewayPaymentID,
				Note:             meta.Note,
			}
			if err := tx.Create(&ev).Error; err != nil {
				return err
			}
			applied = true
			return tx.First(&o, "id = ?", orderID).Error
		})

		switch {
		case errors.Is(err, errLostRace):
			continue
		case errors.Is(err, apperr.ErrInvalidTransition):
			return &o, false, err
		case err != nil:
			return nil, false, m.lookupErr(orderID, err)
		}

		if applied {
			log.Printf("order transition id=%s %s -> %s source=%s", o.ID, ev.FromStatus, ev.ToStatus, ev.Source)
			m.publish(ctx, &o, ev)
		}
		return &o, applied, nil
	}
	return nil, false, fmt.Errorf("%w: order %s: too many concurrent status updates", apperr.ErrStorage, orderID)
}

// fillMissing 处理幂等命中时的补充字段：
// 只填空值，绝不改写另一条链路已经写入的支付信息。
func (m *Manager) fillMissing(tx *gorm.DB, o *model.Order, next model.OrderStatus, meta Meta) error {
	updates := map[string]any{}
	paymentMatches := o.GatewayPaymentID == nil || meta.GatewayPaymentID == "" || *o.GatewayPaymentID == meta.GatewayPaymentID
	if meta.GatewayPaymentID != "" && o.GatewayPaymentID == nil {
		updates["gateway_payment_id"] = meta.GatewayPaymentID
	}
	if meta.GatewaySignature != "" && o.GatewaySignature == nil && paymentMatches {
		updates["gateway_signature"] = meta.GatewaySignature
	}
	// 已发货订单允许管理员补录物流信息
	if o.Status == model.StatusShipped && next == model.StatusShipped {
		if meta.TrackingNumber != "" {
			updates["tracking_number"] = meta.TrackingNumber
		}
		if meta.TrackingURL != "" {
			updates["tracking_url"] = meta.TrackingURL
		}
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = m.now()
	if err := tx.Model(&model.Order{}).Where("id = ? AND status = ?", o.ID, o.Status).Updates(updates).Error; err != nil {
		return err
	}
	return tx.First(o, "id = ?", o.ID).Error
}

// Get 按本地订单号查询，带明细。
func (m *Manager) Get(ctx context.Context, orderID string) (*model.Order, error) {
	var o model.Order
	err := m.db.WithContext(ctx).Preload("Items").First(&o, "id = ?", orderID).Error
	if err != nil {
		return nil, m.lookupErr(orderID, err)
	}
	return &o, nil
}

// GetForUser 只返回属于该用户的订单；别人的订单按不存在处理，不泄露存在性。
func (m *Manager) GetForUser(ctx context.Context, userID, orderID string) (*model.Order, error) {
	var o model.Order
	err := m.db.WithContext(ctx).Preload("Items").
		Where("id = ? AND user_id = ?", orderID, userID).
		First(&o).Error
	if err != nil {
		return nil, m.lookupErr(orderID, err)
	}
	return &o, nil
}

// FindByGatewayOrderID webhook 只知道网关订单号，用它反查本地订单。
func (m *Manager) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*model.Order, error) {
	if gatewayOrderID == "" {
		return nil, fmt.Errorf("%w: gateway order id is required", apperr.ErrValidation)
	}
	var o model.Order
	err := m.db.WithContext(ctx).Where("gateway_order_id = ?", gatewayOrderID).First(&o).Error
	if err != nil {
		return nil, m.lookupErr(gatewayOrderID, err)
	}
	return &o, nil
}

// ListForUser 用户自己的订单，新的在前。
func (m *Manager) ListForUser(ctx context.Context, userID string) ([]model.Order, error) {
	var list []model.Order
	err := m.db.WithContext(ctx).Preload("Items").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list orders: %v", apperr.ErrStorage, err)
	}
	return list, nil
}

// ListFilter 管理后台列表过滤条件。
type ListFilter struct {
	Status   model.OrderStatus
	Page     int
	PageSize int
}

// ListAll 管理后台订单列表，返回当前页与总数。
func (m *Manager) ListAll(ctx context.Context, f ListFilter) ([]model.Order, int64, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 100 {
		f.PageSize = 20
	}

	q := m.db.WithContext(ctx).Model(&model.Order{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("%w: count orders: %v", apperr.ErrStorage, err)
	}

	var list []model.Order
	err := q.Preload("Items").
		Order("created_at DESC").
		Offset((f.Page - 1) * f.PageSize).
		Limit(f.PageSize).
		Find(&list).Error
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list orders: %v", apperr.ErrStorage, err)
	}
	return list, total, nil
}

// Events 订单的状态流水，按发生顺序。
func (m *Manager) Events(ctx context.Context, orderID string) ([]model.OrderEvent, error) {
	var list []model.OrderEvent
	err := m.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id ASC").Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list order events: %v", apperr.ErrStorage, err)
	}
	return list, nil
}

func (m *Manager) lookupErr(key string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: order %s", apperr.ErrNotFound, key)
	}
	return fmt.Errorf("%w: %v", apperr.ErrStorage, err)
}

func (m *Manager) publish(ctx context.Context, o *model.Order, ev model.OrderEvent) {
	if m.pub == nil {
		return
	}
	if err := m.pub.PublishOrderEvent(ctx, o, ev); err != nil {
		log.Printf("order event publish failed id=%s to=%s: %v", o.ID, ev.ToStatus, err)
	}
}

func errorsLikeUnique(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique")
}
