package model

import (
	"fmt"
	"net/http"
	"time"
)

type Direction string

const (
	DirectionClientToServer Direction = "cs"
	DirectionServerToClient Direction = "sc"
)

// ExtraPID 是 ConnInfo.Extra 中进程号的 key。
const ExtraPID = "pid"

// ConnInfo 描述一条 TCP 连接：Client 为发起方，Server 为 HTTP 服务端。
// Extra 由外部协作方填充（例如 pid），原样透传到记录里。
type ConnInfo struct {
	ClientIP   string            `json:"client_ip"`
	ClientPort int               `json:"client_port"`
	ServerIP   string            `json:"server_ip"`
	ServerPort int               `json:"server_port"`
	Extra      map[string]string `json:"extra,omitempty"`
}

func (c ConnInfo) String() string {
	return fmt.Sprintf("%s:%d-%s:%d", c.ClientIP, c.ClientPort, c.ServerIP, c.ServerPort)
}

type HTTPRequest struct {
	Method  string
	URI     string
	Version string
	Headers http.Header
	Body    []byte
	Raw     []byte
}

// HeaderMap 允许在 nil 请求上调用。
func (r *HTTPRequest) HeaderMap() http.Header {
	if r == nil {
		return nil
	}
	return r.Headers
}

// HTTPResponse 的 Status 保留字符串形式，抓到的报文可能缺失或不是数字。
type HTTPResponse struct {
	Status  string
	Reason  string
	Version string
	Headers http.Header
	Body    []byte
	Raw     []byte
}

func (r *HTTPResponse) HeaderMap() http.Header {
	if r == nil {
		return nil
	}
	return r.Headers
}

// Exchange 是同一连接上的一次请求及其（可选的）响应。
// Response 为 nil 表示连接在响应到达前就结束了。
type Exchange struct {
	Conn         ConnInfo
	Request      *HTTPRequest
	Response     *HTTPResponse
	RequestTime  time.Time
	ResponseTime time.Time
}
