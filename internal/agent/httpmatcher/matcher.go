package httpmatcher

import (
	"fmt"
	"sync"
	"time"

	"webtriage/pkg/model"
)

type pending struct {
	ts   time.Time
	conn model.ConnInfo
	req  *model.HTTPRequest
}

// Matcher 按连接把请求和响应配对。同一连接上可能有流水线请求，按 FIFO 匹配。
// 每个观察到的请求最终都会以 Exchange 的形式交出去恰好一次：
// 收到响应时、连接结束时、超时清理时或 Drain 时。
type Matcher struct {
	mu       sync.Mutex
	requests map[string][]pending
	timeout  time.Duration
}

func NewMatcher(timeout time.Duration) *Matcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Matcher{
		requests: make(map[string][]pending, 1024),
		timeout:  timeout,
	}
}

func (m *Matcher) ObserveRequest(conn model.ConnInfo, req *model.HTTPRequest, ts time.Time) {
	if req == nil {
		return
	}
	key := flowKey(conn)

	m.mu.Lock()
	m.requests[key] = append(m.requests[key], pending{ts: ts, conn: conn, req: req})
	m.mu.Unlock()
}

// ObserveResponse 取出该连接上最早的未应答请求。没有待匹配请求时返回 false，响应被丢弃。
func (m *Matcher) ObserveResponse(conn model.ConnInfo, resp *model.HTTPResponse, ts time.Time) (*model.Exchange, bool) {
	key := flowKey(conn)

	m.mu.Lock()
	queue := m.requests[key]
	if len(queue) == 0 {
		m.mu.Unlock()
		return nil, false
	}
	req := queue[0]
	if len(queue) == 1 {
		delete(m.requests, key)
	} else {
		m.requests[key] = queue[1:]
	}
	m.mu.Unlock()

	return &model.Exchange{
		Conn:         req.conn,
		Request:      req.req,
		Response:     resp,
		RequestTime:  req.ts,
		ResponseTime: ts,
	}, true
}

// PendingMethod 返回最早的未应答请求的方法，用于 HEAD 响应的分帧；没有时返回 GET。
func (m *Matcher) PendingMethod(conn model.ConnInfo) string {
	key := flowKey(conn)
	m.mu.Lock()
	defer m.mu.Unlock()
	if queue := m.requests[key]; len(queue) > 0 && queue[0].req.Method != "" {
		return queue[0].req.Method
	}
	return "GET"
}

// CloseFlow 在连接结束时调用，返回该连接上所有没有响应的请求。
func (m *Matcher) CloseFlow(conn model.ConnInfo) []*model.Exchange {
	key := flowKey(conn)
	m.mu.Lock()
	queue := m.requests[key]
	delete(m.requests, key)
	m.mu.Unlock()
	return unanswered(queue)
}

// Cleanup 交出超过超时时间仍未应答的请求。
func (m *Matcher) Cleanup(now time.Time) []*model.Exchange {
	deadline := now.Add(-m.timeout)
	var expired []pending
	m.mu.Lock()
	for k, queue := range m.requests {
		i := 0
		for i < len(queue) && queue[i].ts.Before(deadline) {
			i++
		}
		if i == 0 {
			continue
		}
		expired = append(expired, queue[:i]...)
		if i == len(queue) {
			delete(m.requests, k)
		} else {
			m.requests[k] = queue[i:]
		}
	}
	m.mu.Unlock()
	return unanswered(expired)
}

// Drain 交出全部未应答请求，退出前调用。
func (m *Matcher) Drain() []*model.Exchange {
	var all []pending
	m.mu.Lock()
	for k, queue := range m.requests {
		all = append(all, queue...)
		delete(m.requests, k)
	}
	m.mu.Unlock()
	return unanswered(all)
}

func (m *Matcher) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, queue := range m.requests {
		n += len(queue)
	}
	return n
}

func unanswered(queue []pending) []*model.Exchange {
	if len(queue) == 0 {
		return nil
	}
	out := make([]*model.Exchange, 0, len(queue))
	for _, p := range queue {
		out = append(out, &model.Exchange{Conn: p.conn, Request: p.req, RequestTime: p.ts})
	}
	return out
}

// Key 采用 4 元组（client -> server），请求和响应两个方向得到的 ConnInfo 相同。
func flowKey(conn model.ConnInfo) string {
	return fmt.Sprintf("%s:%d-%s:%d", conn.ClientIP, conn.ClientPort, conn.ServerIP, conn.ServerPort)
}
