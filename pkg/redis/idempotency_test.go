package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *rd.Client) {
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestIdempotencyLifecycle(t *testing.T) {
	mr, rdb := newClient(t)
	ctx := context.Background()
	key := CheckoutIdempotencyKey("user-1", "k1")

	_, claimed, err := ClaimIdempotency(ctx, rdb, key, "t1", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)

	st, claimed, err := ClaimIdempotency(ctx, rdb, key, "t2", time.Hour)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.True(t, st.InFlight)

	// 别人的 token 不能完成或释放
	require.NoError(t, CompleteIdempotency(ctx, rdb, key, "t2", "order-x", time.Hour))
	require.NoError(t, ReleaseIdempotency(ctx, rdb, key, "t2"))
	st, _, err = ClaimIdempotency(ctx, rdb, key, "t3", time.Hour)
	require.NoError(t, err)
	assert.True(t, st.InFlight)

	require.NoError(t, CompleteIdempotency(ctx, rdb, key, "t1", "order-1", time.Hour))
	st, claimed, err = ClaimIdempotency(ctx, rdb, key, "t4", time.Hour)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "order-1", st.OrderID)
	assert.False(t, st.InFlight)

	mr.FastForward(2 * time.Hour)
	_, claimed, err = ClaimIdempotency(ctx, rdb, key, "t5", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestReleaseIdempotency(t *testing.T) {
	_, rdb := newClient(t)
	ctx := context.Background()
	key := CheckoutIdempotencyKey("user-1", "k2")

	_, claimed, err := ClaimIdempotency(ctx, rdb, key, "t1", time.Hour)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, ReleaseIdempotency(ctx, rdb, key, "t1"))

	_, claimed, err = ClaimIdempotency(ctx, rdb, key, "t2", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "storefront:rate_limit:checkout:user:u1", RateLimitUserKey("checkout", "u1"))
	assert.Equal(t, "storefront:rate_limit:checkout:ip:1.2.3.4", RateLimitIPKey("checkout", "1.2.3.4"))
	assert.Equal(t, "storefront:idem:checkout:u1:abc", CheckoutIdempotencyKey("u1", "abc"))
}
