package webdecoder

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
)

// TrimNulls 去掉抓包缓冲区尾部补齐的 0 字节。
func TrimNulls(body []byte) []byte {
	return bytes.TrimRight(body, "\x00")
}

// Digest 返回去掉尾部 0 字节后 body 的 MD5（小写十六进制）。
// 空 body 返回空串，表示“未计算”，不是空输入的摘要。
func Digest(body []byte) string {
	b := TrimNulls(body)
	if len(b) == 0 {
		return ""
	}
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}
