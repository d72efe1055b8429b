package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ctxUserID = "auth.user_id"
	ctxRole   = "auth.role"

	RoleAdmin = "admin"
)

// Claims 登录态里我们关心的字段：sub 为用户 ID，role 为角色。
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// RequireUser 校验 Bearer token，把用户 ID 和角色写入上下文。
func RequireUser(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := parseBearer(c.GetHeader("Authorization"), secret)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "未登录或登录已过期"})
			return
		}
		c.Set(ctxUserID, claims.Subject)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// RequireAdmin 必须挂在 RequireUser 之后。
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxRole) != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": 403, "msg": "需要管理员权限"})
			return
		}
		c.Next()
	}
}

// UserID 返回当前登录用户，未经过 RequireUser 时为空。
func UserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

func parseBearer(header, secret string) (*Claims, bool) {
	if secret == "" {
		return nil, false
	}
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found || strings.TrimSpace(raw) == "" {
		return nil, false
	}
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid || claims.Subject == "" {
		return nil, false
	}
	return claims, true
}
