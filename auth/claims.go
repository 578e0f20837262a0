package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims 会话令牌与服务令牌的载荷。
//
// 会话令牌由认证服务签发，用户 ID 可能在 sub 或 user_id 中；
// scope 兼容空格分隔的字符串与数组两种形式。
type Claims struct {
	jwt.RegisteredClaims

	UserID string   `json:"user_id,omitempty"`
	Scope  string   `json:"scope,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

func (c *Claims) userID() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

func (c *Claims) scopes() []string {
	if len(c.Scopes) > 0 {
		return append([]string(nil), c.Scopes...)
	}
	return strings.Fields(c.Scope)
}
