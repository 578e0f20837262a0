package cache

import (
	"net/url"
	"strings"
)

// Anonymous 未认证请求在 Key 中使用的用户段
const Anonymous = "anonymous"

// Key 生成缓存 Key：u:<user>:<rendered>
//
// template 中的 {user} 被替换为 userID，{name} 被替换为 params[name]。
// 所有 Key 都以用户段开头，不同用户的条目不会冲突。
func Key(userID, template string, params map[string]string) string {
	user := userSegment(userID)

	pairs := make([]string, 0, 2+2*len(params))
	pairs = append(pairs, "{user}", user)
	for k, v := range params {
		pairs = append(pairs, "{"+k+"}", v)
	}
	rendered := strings.NewReplacer(pairs...).Replace(template)

	return UserPrefix(userID) + rendered
}

// UserPrefix 返回某个用户全部条目的公共前缀
func UserPrefix(userID string) string {
	return "u:" + userSegment(userID) + ":"
}

func userSegment(userID string) string {
	if userID == "" {
		return Anonymous
	}
	// ':' 是段分隔符；'%' 也要转义，否则 "a:b" 与 "a%3Ab" 会落到同一个前缀
	return url.QueryEscape(userID)
}
