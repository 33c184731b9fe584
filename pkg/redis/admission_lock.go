package redis

import (
	"context"
	"fmt"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaReleaseUserLockIfMatch 仅当锁值匹配 token 时才删除，避免误删新请求锁。
const luaReleaseUserLockIfMatch = `
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`

// AdmissionLock 一人一单占位锁：key 存在即代表该用户对该商品已有一次尝试。
type AdmissionLock struct {
	rdb     *rd.Client
	release *rd.Script
}

func NewAdmissionLock(rdb *rd.Client) *AdmissionLock {
	return &AdmissionLock{rdb: rdb, release: rd.NewScript(luaReleaseUserLockIfMatch)}
}

// TryAcquire SET NX + TTL。返回 false 表示已被占用（重复请求）。
func (l *AdmissionLock) TryAcquire(ctx context.Context, itemID uint, userID int64, token string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("admission lock ttl must be > 0, got %s", ttl)
	}
	ok, err := l.rdb.SetNX(ctx, UserLockKey(itemID, userID), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire user lock item=%d user=%d: %w", itemID, userID, err)
	}
	return ok, nil
}

// Release 安全释放用户占位锁，返回是否真的删除了 key。
func (l *AdmissionLock) Release(ctx context.Context, itemID uint, userID int64, token string) (bool, error) {
	n, err := l.release.Run(ctx, l.rdb, []string{UserLockKey(itemID, userID)}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("release user lock item=%d user=%d: %w", itemID, userID, err)
	}
	return n == 1, nil
}
