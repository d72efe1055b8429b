package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/model"
	"storefront/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var taxRate = decimal.RequireFromString("0.18")

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.OrderEvent
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, _ *model.Order, ev model.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func newManager(t *testing.T) (*Manager, *gorm.DB) {
	db := testutil.NewDB(t)
	return NewManager(db, nil), db
}

func input(items ...LineItem) CreateInput {
	return CreateInput{
		UserID:          "user-1",
		Items:           items,
		ShippingAddress: testutil.Address(),
		TaxRate:         taxRate,
		Currency:        "INR",
	}
}

func item(productID uint, qty int, price string) LineItem {
	return LineItem{ProductID: productID, ProductName: "Saree", Quantity: qty, UnitPrice: decimal.RequireFromString(price)}
}

func mustCreate(t *testing.T, m *Manager) *model.Order {
	t.Helper()
	o, err := m.Create(context.Background(), input(item(1, 2, "400.00"), item(2, 1, "200.00")))
	require.NoError(t, err)
	return o
}

func TestCreateRecomputesTotal(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	clientTotal := decimal.RequireFromString("999.99")
	in := input(item(1, 2, "400.00"), item(2, 1, "200.00"))
	in.ClientTotal = &clientTotal

	created, err := m.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, created.Status)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.HasGatewayOrder())

	got, err := m.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.Subtotal.Equal(decimal.RequireFromString("1000.00")), got.Subtotal.String())
	assert.True(t, got.Tax.Equal(decimal.RequireFromString("180.00")), got.Tax.String())
	assert.True(t, got.Total.Equal(decimal.RequireFromString("1180.00")), got.Total.String())
	assert.Equal(t, "INR", got.Currency)
	assert.Equal(t, testutil.Address(), got.ShippingAddress)
	require.Len(t, got.Items, 2)
	assert.True(t, got.Items[0].UnitPrice.Equal(decimal.RequireFromString("400")))

	events, err := m.Events(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.StatusPending, events[0].ToStatus)
}

func TestComputeTotalsRounding(t *testing.T) {
	sub, tax, total := ComputeTotals([]LineItem{item(1, 3, "33.33")}, taxRate)
	assert.Equal(t, "99.99", sub.StringFixed(2))
	assert.Equal(t, "18.00", tax.StringFixed(2))
	assert.Equal(t, "117.99", total.StringFixed(2))
}

func TestCreateValidation(t *testing.T) {
	m, db := newManager(t)

	noAddress := input(item(1, 1, "10"))
	noAddress.ShippingAddress = model.ShippingAddress{}
	noUser := input(item(1, 1, "10"))
	noUser.UserID = ""

	tests := []struct {
		name string
		in   CreateInput
	}{
		{"empty items", input()},
		{"zero quantity", input(item(1, 0, "10"))},
		{"missing product", input(item(0, 1, "10"))},
		{"negative price", input(item(1, 1, "-1"))},
		{"free order", input(item(1, 1, "0"))},
		{"missing address", noAddress},
		{"missing user", noUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Create(context.Background(), tt.in)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}

	var n int64
	require.NoError(t, db.Model(&model.Order{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestCreateRollsBackWhenItemInsertFails(t *testing.T) {
	m, db := newManager(t)
	err := db.Callback().Create().Before("gorm:create").Register("test:fail_items", func(tx *gorm.DB) {
		if tx.Statement.Table == "order_items" {
			_ = tx.AddError(errors.New("disk full"))
		}
	})
	require.NoError(t, err)

	_, err = m.Create(context.Background(), input(item(1, 1, "10")))
	require.ErrorIs(t, err, apperr.ErrStorage)

	var orders, items int64
	require.NoError(t, db.Model(&model.Order{}).Count(&orders).Error)
	require.NoError(t, db.Model(&model.OrderItem{}).Count(&items).Error)
	assert.Zero(t, orders)
	assert.Zero(t, items)
}

func TestAttachGatewayReference(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	o := mustCreate(t, m)

	require.NoError(t, m.AttachGatewayReference(ctx, o.ID, "order_RZP1"))
	first, err := m.Get(ctx, o.ID)
	require.NoError(t, err)

	// 相同的号再绑一次：空操作
	require.NoError(t, m.AttachGatewayReference(ctx, o.ID, "order_RZP1"))
	second, err := m.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "order_RZP1", second.GatewayOrder())
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)

	// 不同的号：冲突，且不覆盖
	err = m.AttachGatewayReference(ctx, o.ID, "order_RZP2")
	assert.ErrorIs(t, err, apperr.ErrConflict)
	third, err := m.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "order_RZP1", third.GatewayOrder())
}

func TestAttachGatewayReferenceErrors(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	err := m.AttachGatewayReference(ctx, "missing", "order_X")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	a := mustCreate(t, m)
	b := mustCreate(t, m)
	require.NoError(t, m.AttachGatewayReference(ctx, a.ID, "order_SHARED"))
	err = m.AttachGatewayReference(ctx, b.ID, "order_SHARED")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, _, err = m.TransitionStatus(ctx, b.ID, model.StatusCancelled, Meta{Source: model.SourceAdmin})
	require.NoError(t, err)
	err = m.AttachGatewayReference(ctx, b.ID, "order_LATE")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	assert.ErrorIs(t, m.AttachGatewayReference(ctx, a.ID, ""), apperr.ErrValidation)
}

func TestTransitionRejectsInvalid(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	o := mustCreate(t, m)

	_, applied, err := m.TransitionStatus(ctx, o.ID, model.StatusShipped, Meta{Source: model.SourceAdmin})
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)
	assert.Contains(t, err.Error(), "pending -> shipped")
	assert.False(t, applied)

	got, err := m.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)

	_, _, err = m.TransitionStatus(ctx, o.ID, model.OrderStatus("refunded"), Meta{})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, _, err = m.TransitionStatus(ctx, "missing", model.StatusProcessing, Meta{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestTransitionRecordsPaymentAndShipping(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	o := mustCreate(t, m)

	got, applied, err := m.TransitionStatus(ctx, o.ID, model.StatusProcessing, Meta{
		Source:           model.SourceClient,
		GatewayPaymentID: "pay_1",
		GatewaySignature: "sig",
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, model.StatusProcessing, got.Status)
	require.NotNil(t, got.GatewayPaymentID)
	assert.Equal(t, "pay_1", *got.GatewayPaymentID)
	require.NotNil(t, got.GatewaySignature)
	assert.Nil(t, got.ShippedAt)

	got, applied, err = m.TransitionStatus(ctx, o.ID, model.StatusShipped, Meta{
		Source:         model.SourceAdmin,
		TrackingNumber: "AWB123",
		TrackingURL:    "https://track.example/AWB123",
	})
	require.NoError(t, err)
	assert.True(t, applied)
	require.NotNil(t, got.ShippedAt)
	require.NotNil(t, got.TrackingNumber)
	assert.Equal(t, "AWB123", *got.TrackingNumber)

	// 已发货后补录物流号
	got, applied, err = m.TransitionStatus(ctx, o.ID, model.StatusShipped, Meta{
		Source:         model.SourceAdmin,
		TrackingNumber: "AWB999",
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, "AWB999", *got.TrackingNumber)

	got, applied, err = m.TransitionStatus(ctx, o.ID, model.StatusDelivered, Meta{Source: model.SourceAdmin})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, got.Status.Terminal())

	_, _, err = m.TransitionStatus(ctx, o.ID, model.StatusCancelled, Meta{Source: model.SourceAdmin})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestTransitionIsIdempotentAndNeverRegresses(t *testing.T) {
	pub := &recordingPublisher{}
	db := testutil.NewDB(t)
	m := NewManager(db, pub)
	ctx := context.Background()
	o := mustCreate(t, m)

	_, applied, err := m.TransitionStatus(ctx, o.ID, model.StatusProcessing, Meta{Source: model.SourceClient, GatewayPaymentID: "pay_1"})
	require.NoError(t, err)
	assert.True(t, applied)

	_, applied, err = m.TransitionStatus(ctx, o.ID, model.StatusProcessing, Meta{Source: model.SourceWebhook, GatewayPaymentID: "pay_1"})
	require.NoError(t, err)
	assert.False(t, applied)

	// processing 之后再来 authorized 不能往回拉
	got, applied, err := m.TransitionStatus(ctx, o.ID, model.StatusAuthorized, Meta{Source: model.SourceWebhook})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, model.StatusProcessing, got.Status)

	events, err := m.Events(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.StatusProcessing, events[1].ToStatus)

	// 建单 + 一次迁移
	assert.Len(t, pub.events, 2)
}

func TestStrictTransitionRejectsBackwardMove(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	o := mustCreate(t, m)

	_, _, err := m.TransitionStatus(ctx, o.ID, model.StatusProcessing, Meta{Source: model.SourceClient, GatewayPaymentID: "pay_1"})
	require.NoError(t, err)
	_, _, err = m.TransitionStatus(ctx, o.ID, model.StatusShipped, Meta{Source: model.SourceAdmin, Strict: true})
	require.NoError(t, err)

	for _, back := range []model.OrderStatus{model.StatusPending, model.StatusAuthorized, model.StatusProcessing} {
		got, applied, err := m.TransitionStatus(ctx, o.ID, back, Meta{Source: model.SourceAdmin, Strict: true})
		require.ErrorIs(t, err, apperr.ErrInvalidTransition, back)
		assert.Contains(t, err.Error(), "shipped -> "+back.String())
		assert.False(t, applied)
		assert.Equal(t, model.StatusShipped, got.Status)
	}

	// 同状态仍是空操作，可以补物流信息
	got, applied, err := m.TransitionStatus(ctx, o.ID, model.StatusShipped, Meta{Source: model.SourceAdmin, Strict: true, TrackingNumber: "TRK9"})
	require.NoError(t, err)
	assert.False(t, applied)
	require.NotNil(t, got.TrackingNumber)
	assert.Equal(t, "TRK9", *got.TrackingNumber)

	// 非 Strict（webhook 迟到）依旧静默忽略
	_, applied, err = m.TransitionStatus(ctx, o.ID, model.StatusProcessing, Meta{Source: model.SourceWebhook})
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestFillMissingKeepsExistingPaymentMeta(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	o := mustCreate(t, m)

	// webhook 先到：只有 payment id，没有签名
	_, _, err := m.TransitionStatus(ctx, o.ID, model.StatusProcessing, Meta{Source: model.SourceWebhook, GatewayPaymentID: "pay_1"})
	require.NoError(t, err)

	// 客户端回调随后到达：补签名，但不覆盖 payment id
	got, applied, err := m.TransitionStatus(ctx, o.ID, model.StatusProcessing, Meta{
		Source:           model.SourceClient,
		GatewayPaymentID: "pay_1",
		GatewaySignature: "sig_1",
	})
	require.NoError(t, err)
	assert.False(t, applied)
	require.NotNil(t, got.GatewaySignature)
	assert.Equal(t, "sig_1", *got.GatewaySignature)
	assert.Equal(t, "pay_1", *got.GatewayPaymentID)
}

func TestConcurrentTransitionsApplyOnce(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	o := mustCreate(t, m)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			source := model.SourceClient
			if i%2 == 0 {
				source = model.SourceWebhook
			}
			_, ok, err := m.TransitionStatus(ctx, o.ID, model.StatusProcessing, Meta{Source: source, GatewayPaymentID: "pay_1"})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	events, err := m.Events(ctx, o.ID)
	require.NoError(t, err)
	processing := 0
	for _, ev := range events {
		if ev.ToStatus == model.StatusProcessing {
			processing++
		}
	}
	assert.Equal(t, 1, processing)
}

// 文件库、不限连接数：并发事务会真正争抢写锁。
func TestConcurrentTransitionsOnFileDB(t *testing.T) {
	m := NewManager(testutil.NewFileDB(t), nil)
	ctx := context.Background()

	const (
		orders  = 20
		workers = 4
	)
	ids := make([]string, orders)
	for i := range ids {
		ids[i] = mustCreate(t, m).ID
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied = map[string]int{}
		errs    []error
	)
	for _, id := range ids {
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(id string, w int) {
				defer wg.Done()
				source := model.SourceClient
				if w%2 == 0 {
					source = model.SourceWebhook
				}
				_, ok, err := m.TransitionStatus(ctx, id, model.StatusProcessing, Meta{Source: source, GatewayPaymentID: "pay_" + id[:8]})
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
				}
				if ok {
					applied[id]++
				}
			}(id, w)
		}
	}
	wg.Wait()

	require.Empty(t, errs)
	for _, id := range ids {
		assert.Equal(t, 1, applied[id], id)
		got, err := m.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusProcessing, got.Status)

		events, err := m.Events(ctx, id)
		require.NoError(t, err)
		assert.Len(t, events, 2, id)
	}
}

func TestExpirePending(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	base := time.Now()
	m.now = func() time.Time { return base.Add(-2 * time.Hour) }
	stale := mustCreate(t, m)
	paid := mustCreate(t, m)
	m.now = time.Now
	fresh := mustCreate(t, m)

	_, _, err := m.TransitionStatus(ctx, paid.ID, model.StatusProcessing, Meta{Source: model.SourceWebhook})
	require.NoError(t, err)

	n, err := m.ExpirePending(ctx, base.Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for id, want := range map[string]model.OrderStatus{
		stale.ID: model.StatusCancelled,
		paid.ID:  model.StatusProcessing,
		fresh.ID: model.StatusPending,
	} {
		got, err := m.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status)
	}
}

func TestListing(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	a := mustCreate(t, m)
	mustCreate(t, m)
	other := input(item(1, 1, "50"))
	other.UserID = "user-2"
	_, err := m.Create(ctx, other)
	require.NoError(t, err)

	_, _, err = m.TransitionStatus(ctx, a.ID, model.StatusProcessing, Meta{Source: model.SourceClient})
	require.NoError(t, err)

	mine, err := m.ListForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	all, total, err := m.ListAll(ctx, ListFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, all, 3)

	processing, total, err := m.ListAll(ctx, ListFilter{Status: model.StatusProcessing})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, processing, 1)
	assert.Equal(t, a.ID, processing[0].ID)

	_, err = m.GetForUser(ctx, "user-2", a.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
