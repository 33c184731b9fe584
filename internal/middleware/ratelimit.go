package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// luaRateLimit：Redis 滑动窗口限流 Lua 脚本（原子操作）
// KEYS[1]=限流key，ARGV[1]=当前毫秒时间戳，ARGV[2]=窗口开始毫秒时间戳，ARGV[3]=窗口毫秒数
// ARGV[4]=本次请求 member，ARGV[5]=窗口内上限
// 返回：当前窗口内的请求数（超限返回 -1）
const luaRateLimit = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowMs = tonumber(ARGV[3])
local member = ARGV[4]

-- 删除窗口外的旧记录
redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)

local count = redis.call('ZCARD', key)

if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, windowMs)
  return count + 1
else
  return -1
end
`

var rateLimitScript = rd.NewScript(luaRateLimit)

// RedisRateLimit Redis 分布式限流：已认证时按用户，否则按 IP。
// Redis 出错时放行，限流不能成为抢购的单点故障。
func RedisRateLimit(rdb *rd.Client, limit int, window time.Duration, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var key string
		if userID, ok := UserIDFrom(c); ok {
			key = fmt.Sprintf("rate_limit:flash_sale:user:%d", userID)
		} else {
			key = fmt.Sprintf("rate_limit:flash_sale:ip:%s", c.ClientIP())
		}

		now := time.Now().UnixMilli()
		windowMs := window.Milliseconds()
		windowStart := now - windowMs
		member := fmt.Sprintf("%d-%s", now, uuid.NewString())

		res, err := rateLimitScript.Run(c.Request.Context(), rdb, []string{key},
			now, windowStart, windowMs, member, limit).Int()
		if err != nil {
			log.WithError(err).WithField("key", key).Warn("rate limit check failed, allowing request")
			c.Next()
			return
		}

		if res < 0 {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":   429,
				"msg":    "请求过于频繁，请稍后再试",
				"reason": "rate_limited",
			})
			return
		}
		c.Next()
	}
}
