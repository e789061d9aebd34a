package webdecoder

import (
	"net/http"
	"sort"
	"strings"
)

// HeaderSource 由请求/响应实现；nil 接收者必须返回 nil。
type HeaderSource interface {
	HeaderMap() http.Header
}

// GetHeader 大小写不敏感地取头部的第一个值。
// 消息为 nil、头部缺失或字段不存在时一律返回空串。
func GetHeader(m HeaderSource, name string) string {
	if m == nil {
		return ""
	}
	h := m.HeaderMap()
	if len(h) == 0 {
		return ""
	}
	if v := h.Values(name); len(v) > 0 {
		return v[0]
	}

	// 上游解码器不一定规范化 key（例如 "content-type"），这里退化为线性查找。
	// 多个 key 仅大小写不同时按字典序取第一个，保证结果稳定。
	var keys []string
	for k, v := range h {
		if len(v) > 0 && strings.EqualFold(k, name) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	return h[keys[0]][0]
}
