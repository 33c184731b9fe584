package middleware

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderUserID 由网关认证后注入的用户 ID。
	HeaderUserID     = "X-User-ID"
	HeaderAdminToken = "X-Admin-Token"

	ctxUserID = "flash_sale.user_id"
)

// RequireUser 读取网关注入的用户身份，缺失或非法时 401。
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderUserID))
		id, err := strconv.ParseInt(raw, 10, 64)
		if raw == "" || err != nil || id <= 0 {
			abortUnauthorized(c, "缺少或非法的用户身份")
			return
		}
		c.Set(ctxUserID, id)
		c.Next()
	}
}

// RequireAdmin 简单管理员令牌校验（demo 级别保护）。
func RequireAdmin(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderAdminToken)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			abortUnauthorized(c, "admin token 无效")
			return
		}
		c.Next()
	}
}

// UserIDFrom 取 RequireUser 写入的用户 ID。
func UserIDFrom(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ctxUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":   401,
		"msg":    msg,
		"reason": "unauthorized",
	})
}
