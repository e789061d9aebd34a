package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/tcpassembly"
	"github.com/google/gopacket/tcpassembly/tcpreader"
	"go.uber.org/zap"

	"webtriage/internal/agent/httpmatcher"
	"webtriage/pkg/model"
)

// HandleFunc 处理一次交换，通常是 webdecoder.Decoder.Handle。
type HandleFunc func(ctx context.Context, ex *model.Exchange) error

type Options struct {
	// Ports 是 HTTP 服务端端口，用来判断流的方向。
	Ports []int
	// MaxBody 限制保存的 body 字节数，<=0 不限制。
	MaxBody int64
	// KeepRaw 为 true 时保存每条消息的原始字节，供会话落盘使用。
	KeepRaw bool
	// Annotate 可以往 ConnInfo.Extra 里补充信息（例如 pid）。
	Annotate func(conn *model.ConnInfo)
}

// Factory 实现 tcpassembly.StreamFactory：客户端方向解析请求，服务端方向解析响应，
// 两者通过 Matcher 配对后交给 HandleFunc。
type Factory struct {
	ctx     context.Context
	opts    Options
	ports   map[int]struct{}
	matcher *httpmatcher.Matcher
	handle  HandleFunc
	logger  *zap.Logger
	wg      sync.WaitGroup
}

var _ tcpassembly.StreamFactory = (*Factory)(nil)

func NewFactory(ctx context.Context, opts Options, m *httpmatcher.Matcher, handle HandleFunc, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	ports := make(map[int]struct{}, len(opts.Ports))
	for _, p := range opts.Ports {
		ports[p] = struct{}{}
	}
	return &Factory{
		ctx:     ctx,
		opts:    opts,
		ports:   ports,
		matcher: m,
		handle:  handle,
		logger:  logger,
	}
}

func (f *Factory) New(netFlow, tcpFlow gopacket.Flow) tcpassembly.Stream {
	s := &httpStream{ReaderStream: tcpreader.NewReaderStream()}

	srcIP, dstIP := netFlow.Endpoints()
	srcEP, dstEP := tcpFlow.Endpoints()
	srcPort, dstPort := port(srcEP), port(dstEP)

	switch {
	case f.isServerPort(dstPort):
		conn := f.connInfo(srcIP.String(), srcPort, dstIP.String(), dstPort)
		f.wg.Add(1)
		go f.readRequests(s, conn)
	case f.isServerPort(srcPort):
		conn := f.connInfo(dstIP.String(), dstPort, srcIP.String(), srcPort)
		f.wg.Add(1)
		go f.readResponses(s, conn)
	default:
		go tcpreader.DiscardBytesToEOF(s)
	}
	return s
}

// Wait 等待所有流读取 goroutine 退出，应在 Assembler.FlushAll 之后调用。
func (f *Factory) Wait() {
	f.wg.Wait()
}

func (f *Factory) readRequests(s *httpStream, conn model.ConnInfo) {
	defer f.wg.Done()
	tee := &rawTee{r: s, keep: f.opts.KeepRaw}
	br := bufio.NewReader(tee)

	for {
		req, err := http.ReadRequest(br)
		if err != nil {
			if !isEOF(err) {
				f.logger.Debug("解析 HTTP 请求失败，丢弃该方向剩余数据", zap.Stringer("conn", conn), zap.Error(err))
			}
			tcpreader.DiscardBytesToEOF(br)
			return
		}
		ts := s.lastSeen()
		body := f.readBody(req.Body)

		headers := req.Header
		if headers == nil {
			headers = http.Header{}
		}
		// net/http 会把 Host 头移到 req.Host，这里放回去保持报文原样。
		if req.Host != "" && headers.Get("Host") == "" {
			headers.Set("Host", req.Host)
		}

		f.matcher.ObserveRequest(conn, &model.HTTPRequest{
			Method:  req.Method,
			URI:     req.RequestURI,
			Version: version(req.ProtoMajor, req.ProtoMinor),
			Headers: headers,
			Body:    body,
			Raw:     tee.take(br.Buffered()),
		}, ts)
	}
}

func (f *Factory) readResponses(s *httpStream, conn model.ConnInfo) {
	defer f.wg.Done()
	defer func() {
		for _, ex := range f.matcher.CloseFlow(conn) {
			f.emit(ex)
		}
	}()

	tee := &rawTee{r: s, keep: f.opts.KeepRaw}
	br := bufio.NewReader(tee)

	for {
		// 先等到响应数据到达，再取待匹配请求的方法决定分帧，HEAD 响应没有 body。
		if _, err := br.Peek(1); err != nil {
			if !isEOF(err) {
				f.logger.Debug("读取响应流失败", zap.Stringer("conn", conn), zap.Error(err))
			}
			tcpreader.DiscardBytesToEOF(br)
			return
		}
		var (
			msg  *model.HTTPResponse
			code int
			err  error
		)
		if line, ok := peekLine(br); ok && badStatusLine(line) {
			msg, err = f.readBadStatusResponse(br)
			f.logger.Debug("状态行不合法，只保留头部和 body", zap.Stringer("conn", conn), zap.String("line", line))
		} else {
			msg, code, err = f.readResponse(br, f.matcher.PendingMethod(conn))
		}
		if err != nil {
			if !isEOF(err) {
				f.logger.Debug("解析 HTTP 响应失败，丢弃该方向剩余数据", zap.Stringer("conn", conn), zap.Error(err))
			}
			tcpreader.DiscardBytesToEOF(br)
			return
		}
		ts := s.lastSeen()
		msg.Raw = tee.take(br.Buffered())

		// 1xx 中间响应不消耗请求。
		if code >= 100 && code < 200 && code != http.StatusSwitchingProtocols {
			continue
		}

		if ex, ok := f.matcher.ObserveResponse(conn, msg, ts); ok {
			f.emit(ex)
		} else {
			f.logger.Debug("响应没有对应的请求，丢弃", zap.Stringer("conn", conn), zap.String("status", msg.Status))
		}

		if code == http.StatusSwitchingProtocols {
			tcpreader.DiscardBytesToEOF(br)
			return
		}
	}
}

func (f *Factory) readResponse(br *bufio.Reader, method string) (*model.HTTPResponse, int, error) {
	resp, err := http.ReadResponse(br, &http.Request{Method: method})
	if err != nil {
		return nil, 0, err
	}
	body := f.readBody(resp.Body)
	status := strconv.Itoa(resp.StatusCode)
	return &model.HTTPResponse{
		Status:  status,
		Reason:  strings.TrimSpace(strings.TrimPrefix(resp.Status, status)),
		Version: version(resp.ProtoMajor, resp.ProtoMinor),
		Headers: resp.Header,
		Body:    body,
	}, resp.StatusCode, nil
}

// readBadStatusResponse 处理 net/http 不接受的状态行：status/reason 留空，
// 头部照常解析，body 只按 Content-Length 分帧。
func (f *Factory) readBadStatusResponse(br *bufio.Reader) (*model.HTTPResponse, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return nil, err
	}
	msg := &model.HTTPResponse{}
	proto, _, _ := strings.Cut(strings.TrimSpace(line), " ")
	if major, minor, ok := http.ParseHTTPVersion(proto); ok {
		msg.Version = version(major, minor)
	}

	mh, err := textproto.NewReader(br).ReadMIMEHeader()
	if err != nil && !isEOF(err) {
		return nil, err
	}
	msg.Headers = http.Header(mh)
	if n, perr := strconv.ParseInt(msg.Headers.Get("Content-Length"), 10, 64); perr == nil && n > 0 {
		msg.Body = f.readBody(io.NopCloser(io.LimitReader(br, n)))
	}
	return msg, nil
}

func (f *Factory) emit(ex *model.Exchange) {
	if f.handle == nil {
		return
	}
	if err := f.handle(f.ctx, ex); err != nil {
		f.logger.Warn("交易记录输出失败（忽略继续）", zap.Stringer("conn", ex.Conn), zap.Error(err))
	}
}

func (f *Factory) readBody(body io.ReadCloser) []byte {
	if body == nil {
		return nil
	}
	defer body.Close()

	var r io.Reader = body
	if f.opts.MaxBody > 0 {
		r = io.LimitReader(body, f.opts.MaxBody)
	}
	// 抓包可能缺数据，读到多少算多少。
	data, _ := io.ReadAll(r)
	_, _ = io.Copy(io.Discard, body)
	return data
}

func (f *Factory) connInfo(clientIP string, clientPort int, serverIP string, serverPort int) model.ConnInfo {
	conn := model.ConnInfo{
		ClientIP:   clientIP,
		ClientPort: clientPort,
		ServerIP:   serverIP,
		ServerPort: serverPort,
	}
	if f.opts.Annotate != nil {
		f.opts.Annotate(&conn)
	}
	return conn
}

func (f *Factory) isServerPort(p int) bool {
	_, ok := f.ports[p]
	return ok
}

// httpStream 在 ReaderStream 的基础上记录最近一次重组数据的抓包时间。
type httpStream struct {
	tcpreader.ReaderStream
	mu   sync.Mutex
	seen time.Time
}

func (s *httpStream) Reassembled(rs []tcpassembly.Reassembly) {
	if n := len(rs); n > 0 {
		s.mu.Lock()
		s.seen = rs[n-1].Seen
		s.mu.Unlock()
	}
	s.ReaderStream.Reassembled(rs)
}

func (s *httpStream) lastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen
}

// rawTee 记录从流里读出的全部字节；bufio 会预读，所以按 Buffered() 扣除未消费部分。
type rawTee struct {
	r    io.Reader
	keep bool
	buf  bytes.Buffer
}

func (t *rawTee) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if t.keep && n > 0 {
		t.buf.Write(p[:n])
	}
	return n, err
}

func (t *rawTee) take(buffered int) []byte {
	if !t.keep {
		return nil
	}
	n := t.buf.Len() - buffered
	if n <= 0 {
		return nil
	}
	raw := make([]byte, n)
	copy(raw, t.buf.Next(n))
	return raw
}

// peekLine 返回缓冲区里的第一行（不含行尾），不消费数据。
func peekLine(br *bufio.Reader) (string, bool) {
	buf, _ := br.Peek(br.Buffered())
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		return "", false
	}
	return strings.TrimRight(string(buf[:i]), "\r"), true
}

// badStatusLine 判断以 HTTP/ 开头、但版本或三位数字状态码不合法的状态行。
func badStatusLine(line string) bool {
	proto, rest, _ := strings.Cut(line, " ")
	if !strings.HasPrefix(proto, "HTTP/") {
		return false
	}
	if _, _, ok := http.ParseHTTPVersion(proto); !ok {
		return true
	}
	code, _, _ := strings.Cut(strings.TrimLeft(rest, " "), " ")
	if len(code) != 3 {
		return true
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return true
		}
	}
	return false
}

func port(ep gopacket.Endpoint) int {
	raw := ep.Raw()
	if len(raw) != 2 {
		return 0
	}
	return int(binary.BigEndian.Uint16(raw))
}

func version(major, minor int) string {
	return fmt.Sprintf("%d.%d", major, minor)
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
