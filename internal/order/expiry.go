package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/model"
)

// ExpirePending 取消 createdBefore 之前创建、仍未支付的订单，返回实际取消的数量。
// 走 TransitionStatus，和支付回调竞争时由条件更新裁决，已支付的订单不会被取消。
func (m *Manager) ExpirePending(ctx context.Context, createdBefore time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	err := m.db.WithContext(ctx).Model(&model.Order{}).
		Where("status = ? AND created_at < ?", model.StatusPending, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("%w: scan pending orders: %v", apperr.ErrStorage, err)
	}

	cancelled := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return cancelled, ctx.Err()
		}
		_, applied, err := m.TransitionStatus(ctx, id, model.StatusCancelled, Meta{
			Source: model.SourceSystem,
			Note:   "payment timeout",
		})
		if err != nil {
			if errors.Is(err, apperr.ErrInvalidTransition) {
				continue
			}
			return cancelled, err
		}
		if applied {
			cancelled++
		}
	}
	return cancelled, nil
}

// RunExpiry 周期性执行 ExpirePending，直到 ctx 取消。
func (m *Manager) RunExpiry(ctx context.Context, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.ExpirePending(ctx, m.now().Add(-ttl), 100)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("order expiry: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("order expiry: cancelled %d pending orders", n)
			}
		}
	}
}
