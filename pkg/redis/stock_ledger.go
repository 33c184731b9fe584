package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

var (
	// ErrSoldOut 库存已耗尽，本次扣减已回补。
	ErrSoldOut = errors.New("stock ledger: sold out")
	// ErrLedgerMissing 账本 key 不存在（未预热或已过期），不能凭空扣减。
	ErrLedgerMissing = errors.New("stock ledger: not seeded")
)

// luaReserveUnit：先 DECR，结果 < 0 立刻 INCR 回补并返回 -1。
// key 不存在返回 -2，避免 DECR 凭空造出一个没有 TTL 的负数 key。
// 返回值 >= 0 表示抢到一个单位，值为扣减后的剩余库存。
const luaReserveUnit = `
local key = KEYS[1]
if not redis.call('GET', key) then
  return -2
end
local left = redis.call('DECR', key)
if left < 0 then
  redis.call('INCR', key)
  return -1
end
return left
`

// luaReleaseUnit：账本存在时才 INCR，返回回补后的值；不存在返回 -1。
const luaReleaseUnit = `
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
  return -1
end
return redis.call('INCR', key)
`

// luaReleaseUnitOnce 通过 SETNX 锁保证“同一请求只回补一次”。
// 返回 1 已回补，0 之前已回补过，-1 账本不存在。
const luaReleaseUnitOnce = `
local lockKey = KEYS[1]
local stockKey = KEYS[2]
local ttlSec = tonumber(ARGV[1])

if redis.call('EXISTS', stockKey) == 0 then
  return -1
end
if redis.call('SETNX', lockKey, '1') == 1 then
  redis.call('EXPIRE', lockKey, ttlSec)
  redis.call('INCR', stockKey)
  return 1
end
return 0
`

const releaseGuardTTL = 7 * 24 * time.Hour

// StockLedger 是每个秒杀商品在 Redis 里的剩余库存计数器。
// 所有写操作都走 Redis 原生原子命令或 Lua，跨实例串行化，不做读-改-写。
type StockLedger struct {
	rdb         *rd.Client
	reserve     *rd.Script
	release     *rd.Script
	releaseOnce *rd.Script
}

func NewStockLedger(rdb *rd.Client) *StockLedger {
	return &StockLedger{
		rdb:         rdb,
		reserve:     rd.NewScript(luaReserveUnit),
		release:     rd.NewScript(luaReleaseUnit),
		releaseOnce: rd.NewScript(luaReleaseUnitOnce),
	}
}

// Seed 创建商品时写入初始库存（覆盖）。
func (l *StockLedger) Seed(ctx context.Context, itemID uint, stock int64, ttl time.Duration) error {
	return l.rdb.Set(ctx, StockKey(itemID), stock, ttl).Err()
}

// SeedIfAbsent 仅在 key 不存在时写入，供对账补种使用，不会覆盖正在扣减的账本。
func (l *StockLedger) SeedIfAbsent(ctx context.Context, itemID uint, stock int64, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, StockKey(itemID), stock, ttl).Result()
}

// Reserve 原子扣减一个单位，返回扣减后的剩余库存。
func (l *StockLedger) Reserve(ctx context.Context, itemID uint) (int64, error) {
	left, err := l.reserve.Run(ctx, l.rdb, []string{StockKey(itemID)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("reserve unit item=%d: %w", itemID, err)
	}
	switch {
	case left == -2:
		return 0, ErrLedgerMissing
	case left < 0:
		return 0, ErrSoldOut
	}
	return left, nil
}

// Release 归还一个单位（INCR）。
func (l *StockLedger) Release(ctx context.Context, itemID uint) error {
	n, err := l.release.Run(ctx, l.rdb, []string{StockKey(itemID)}).Int64()
	if err != nil {
		return fmt.Errorf("release unit item=%d: %w", itemID, err)
	}
	if n < 0 {
		return ErrLedgerMissing
	}
	return nil
}

// ReleaseOnce 幂等回补：
// - 首次回补返回 true
// - 重复回补返回 false（不会重复加库存）
func (l *StockLedger) ReleaseOnce(ctx context.Context, itemID uint, requestID string) (bool, error) {
	keys := []string{StockReleaseKey(requestID), StockKey(itemID)}
	n, err := l.releaseOnce.Run(ctx, l.rdb, keys, int64(releaseGuardTTL/time.Second)).Int64()
	if err != nil {
		return false, fmt.Errorf("release unit once item=%d request=%s: %w", itemID, requestID, err)
	}
	if n < 0 {
		return false, ErrLedgerMissing
	}
	return n == 1, nil
}

// Remaining 一次 MGET 读取多个商品的剩余库存；key 不存在的商品不出现在结果里。
func (l *StockLedger) Remaining(ctx context.Context, itemIDs []uint) (map[uint]int64, error) {
	out := make(map[uint]int64, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(itemIDs))
	for i, id := range itemIDs {
		keys[i] = StockKey(id)
	}
	vals, err := l.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read remaining stock: %w", err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid stock value %q for item %d", s, itemIDs[i])
		}
		out[itemIDs[i]] = n
	}
	return out, nil
}
