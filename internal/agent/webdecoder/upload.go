package webdecoder

import (
	"bytes"
	"strings"
)

var crlf = []byte("\r\n")

// Upload 是从 POST body 头部恢复出的上传文件信息。
type Upload struct {
	ContentType string
	Filename    string
	Payload     []byte
}

// ParseUpload 逐行扫描 POST body，直到第一个空行为止都当作头部处理。
// Payload 是空行之后的内容；如果 body 以 multipart 分隔行开头，则截到下一个分隔行之前。
// 没有空行（例如普通表单 a=1&b=2）时整个 body 都是 Payload。
// 格式不对的行直接跳过，不会中断解析。
func ParseUpload(body []byte) Upload {
	var up Upload
	var boundary []byte

	pos := 0
	for first := true; pos <= len(body); first = false {
		var line []byte
		next := len(body) + 1
		if i := bytes.Index(body[pos:], crlf); i >= 0 {
			line = body[pos : pos+i]
			next = pos + i + len(crlf)
		} else {
			line = body[pos:]
		}

		if first && bytes.HasPrefix(line, []byte("--")) {
			boundary = append(append([]byte{}, crlf...), line...)
		}

		if len(line) == 0 && next <= len(body) {
			up.Payload = cutAtBoundary(body[next:], boundary)
			return up
		}
		parseUploadHeader(string(line), &up)
		pos = next
	}
	up.Payload = body
	return up
}

func parseUploadHeader(line string, up *Upload) {
	k, v, ok := strings.Cut(line, ":")
	if !ok {
		return
	}
	k, v = strings.TrimSpace(k), strings.TrimSpace(v)
	switch k {
	case "Content-Type":
		up.ContentType = v
	case "Content-Disposition":
		for _, part := range strings.Split(v, ";") {
			pk, pv, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok {
				continue
			}
			if strings.Trim(pk, `"`) == "filename" {
				up.Filename = strings.Trim(pv, `"`)
			}
		}
	}
}

func cutAtBoundary(payload, boundary []byte) []byte {
	if len(boundary) == 0 {
		return payload
	}
	if i := bytes.Index(payload, boundary); i >= 0 {
		return payload[:i]
	}
	return payload
}
