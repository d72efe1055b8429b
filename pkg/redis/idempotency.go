package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const (
	claimPrefix = "pending:"
	orderPrefix = "order:"
)

// luaCompleteIfMatch 仅当占位值仍是本请求的 token 时才写入订单号，避免覆盖别人的结果。
const luaCompleteIfMatch = `
local key = KEYS[1]
if redis.call('GET', key) == ARGV[1] then
  redis.call('SET', key, ARGV[2], 'EX', tonumber(ARGV[3]))
  return 1
end
return 0
`

// luaReleaseIfMatch 仅当占位值匹配 token 时才删除，避免误删新请求的占位。
const luaReleaseIfMatch = `
local key = KEYS[1]
if redis.call('GET', key) == ARGV[1] then
  return redis.call('DEL', key)
end
return 0
`

// IdempotencyState 幂等键当前的归属。
type IdempotencyState struct {
	OrderID  string // 已完成：对应的订单号
	InFlight bool   // 另一个请求正在处理
}

// ClaimIdempotency 用 SET NX 抢占幂等键。claimed=false 时返回已有状态。
func ClaimIdempotency(ctx context.Context, rdb *rd.Client, key, token string, ttl time.Duration) (IdempotencyState, bool, error) {
	ok, err := rdb.SetNX(ctx, key, claimPrefix+token, ttl).Result()
	if err != nil {
		return IdempotencyState{}, false, err
	}
	if ok {
		return IdempotencyState{}, true, nil
	}

	v, err := rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			// 刚好过期或被释放，交给调用方重试
			return IdempotencyState{InFlight: true}, false, nil
		}
		return IdempotencyState{}, false, err
	}
	if strings.HasPrefix(v, orderPrefix) {
		return IdempotencyState{OrderID: strings.TrimPrefix(v, orderPrefix)}, false, nil
	}
	return IdempotencyState{InFlight: true}, false, nil
}

// CompleteIdempotency 把占位替换成订单号。
func CompleteIdempotency(ctx context.Context, rdb *rd.Client, key, token, orderID string, ttl time.Duration) error {
	ttlSec := int64(ttl / time.Second)
	if ttlSec <= 0 {
		ttlSec = 1
	}
	_, err := rdb.Eval(ctx, luaCompleteIfMatch, []string{key}, claimPrefix+token, orderPrefix+orderID, ttlSec).Int()
	return err
}

// ReleaseIdempotency 建单失败时释放占位，让客户端可以用同一个 key 重试。
func ReleaseIdempotency(ctx context.Context, rdb *rd.Client, key, token string) error {
	_, err := rdb.Eval(ctx, luaReleaseIfMatch, []string{key}, claimPrefix+token).Int()
	return err
}
