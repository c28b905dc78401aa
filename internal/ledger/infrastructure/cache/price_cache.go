// Package cache 价格的 Redis 读缓存
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/srdsledger/internal/ledger/domain"
	"github.com/wyfcoding/srdsledger/pkg/money"
)

// PriceKey 价格缓存键，hash 结构：price、version
const PriceKey = "ledger:price:srds"

// setIfNewer 仅当传入版本大于缓存版本时写入
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) >= tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], 'price', ARGV[1], 'version', ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

// scriptStore *pkgcache.RedisCache 满足该接口
type scriptStore interface {
	HGet(ctx context.Context, key, field string) (string, bool, error)
	RunScript(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error)
}

// RedisPriceCache 价格缓存。数据库中的价格行才是权威值，
// 缓存按价格行版本做比较写入，较旧的提交晚到时不会覆盖较新的价格
type RedisPriceCache struct {
	store scriptStore
	ttl   time.Duration
}

// NewRedisPriceCache 创建价格缓存，ttl 为 0 表示不过期
func NewRedisPriceCache(store scriptStore, ttl time.Duration) *RedisPriceCache {
	return &RedisPriceCache{store: store, ttl: ttl}
}

var _ domain.PriceCache = (*RedisPriceCache)(nil)

func (c *RedisPriceCache) Get(ctx context.Context) (decimal.Decimal, bool, error) {
	raw, ok, err := c.store.HGet(ctx, PriceKey, "price")
	if err != nil || !ok {
		return decimal.Zero, false, err
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("corrupt cached price %q: %w", raw, err)
	}
	return money.Price(v), true, nil
}

func (c *RedisPriceCache) Set(ctx context.Context, snapshot domain.PriceSnapshot) error {
	_, err := c.store.RunScript(ctx, setIfNewer, []string{PriceKey},
		money.FormatPrice(snapshot.Value),
		strconv.FormatUint(snapshot.Version, 10),
		strconv.FormatInt(c.ttl.Milliseconds(), 10),
	)
	return err
}
