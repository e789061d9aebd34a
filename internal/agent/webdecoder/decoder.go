package webdecoder

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"webtriage/pkg/model"
)

const (
	truncatedMarker = "[truncated]"
	lastModLayout   = "2006-01-02 15:04:05"
)

// Config 在启动时确定，之后只读，可被多个连接的 goroutine 共享。
type Config struct {
	MaxURILen     int
	DigestEnabled bool
	ColorEnabled  bool
}

// Alerter 接收每条交易记录，实现需要并发安全。
type Alerter interface {
	Alert(ctx context.Context, tx *model.Transaction) error
}

// SessionWriter 接收原始报文字节，按方向打标签。
type SessionWriter interface {
	WriteSession(conn model.ConnInfo, dir model.Direction, data []byte) error
}

type Decoder struct {
	cfg      Config
	out      Alerter
	sessions SessionWriter
	logger   *zap.Logger
}

// New 的 sessions 可以为 nil，表示不做原始会话落盘。
func New(cfg Config, out Alerter, sessions SessionWriter, logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{cfg: cfg, out: out, sessions: sessions, logger: logger}
}

// Handle 为一次交换生成记录并交给输出端，每个 Exchange 只调用一次。
// 返回值只反映输出端的错误；字段提取失败只会让对应字段为空。
func (d *Decoder) Handle(ctx context.Context, ex *model.Exchange) error {
	if ex == nil {
		return nil
	}
	tx := d.Build(ex)

	var err error
	if d.out != nil {
		if err = d.out.Alert(ctx, tx); err != nil {
			err = fmt.Errorf("输出交易记录失败：%w", err)
		}
	}
	d.writeSessions(ex)
	return err
}

// Build 是纯函数：只读 Exchange，不做任何 I/O。
func (d *Decoder) Build(ex *model.Exchange) *model.Transaction {
	req := ex.Request
	if req == nil {
		req = &model.HTTPRequest{}
	}
	resp := ex.Response

	host := GetHeader(req, "Host")
	if host == "" {
		host = ex.Conn.ServerIP
	}

	var status, reason string
	if resp != nil {
		status, reason = resp.Status, resp.Reason
	} else {
		d.logger.Debug("请求没有对应的响应", zap.Stringer("conn", ex.Conn), zap.String("uri", req.URI))
	}

	// 只看前两个字符判断 3xx，非数字的 "30..." 也会命中。
	var redirect string
	if strings.HasPrefix(status, "30") {
		if loc := GetHeader(resp, "Location"); loc != "" {
			redirect = "-> " + loc
		}
	}

	contentType := GetHeader(resp, "Content-Type")
	var body []byte
	if resp != nil {
		body = resp.Body
	}

	label := model.LabelDefault
	if d.cfg.ColorEnabled {
		label = Classify(contentType, body)
	}

	var md5sum string
	if d.cfg.DigestEnabled {
		md5sum = Digest(body)
	}

	tx := &model.Transaction{
		RequestTime:    ex.RequestTime,
		ResponseTime:   ex.ResponseTime,
		Method:         req.Method,
		Host:           host,
		URI:            req.URI,
		Status:         status,
		Reason:         reason,
		Redirect:       redirect,
		LastModified:   formatLastModified(GetHeader(resp, "Last-Modified")),
		Referer:        GetHeader(req, "Referer"),
		UserAgent:      GetHeader(req, "User-Agent"),
		Via:            GetHeader(req, "Via"),
		MD5:            md5sum,
		ResponseSize:   len(TrimNulls(body)),
		ContentType:    contentType,
		Classification: label,
		ResponseFile:   model.NewArtifact(req.URI, body),
		Conn:           ex.Conn,
	}

	if req.Method == http.MethodPost && len(req.Body) > 0 {
		up := ParseUpload(req.Body)
		tx.UploadFile = model.NewArtifact(up.Filename, up.Payload)
		if tx.UploadFile == nil {
			d.logger.Debug("POST body 中没有可提取的上传内容", zap.Stringer("conn", ex.Conn), zap.String("filename", up.Filename))
		}
	}

	tx.RequestInfo = fmt.Sprintf("%s %s%s HTTP/%s", req.Method, host, displayURI(req.URI, d.cfg.MaxURILen), req.Version)
	if resp != nil {
		tx.ResponseInfo = fmt.Sprintf("%s %s %s %s", status, reason, redirect, tx.LastModified)
	}
	tx.Summary = fmt.Sprintf("%-80s // %s", tx.RequestInfo, tx.ResponseInfo)
	return tx
}

func (d *Decoder) writeSessions(ex *model.Exchange) {
	if d.sessions == nil {
		return
	}
	if ex.Request != nil {
		if err := d.sessions.WriteSession(ex.Conn, model.DirectionClientToServer, ex.Request.Raw); err != nil {
			d.logger.Warn("写入会话失败", zap.Stringer("conn", ex.Conn), zap.Error(err))
		}
	}
	if ex.Response != nil {
		if err := d.sessions.WriteSession(ex.Conn, model.DirectionServerToClient, ex.Response.Raw); err != nil {
			d.logger.Warn("写入会话失败", zap.Stringer("conn", ex.Conn), zap.Error(err))
		}
	}
}

// displayURI 只截断展示用的 URI，记录里的 URI 保持完整。max 为 0 不截断。
func displayURI(uri string, max int) string {
	if max > 0 && len(uri) > max {
		return uri[:max] + truncatedMarker
	}
	return uri
}

func formatLastModified(raw string) string {
	if raw == "" {
		return ""
	}
	if t, err := http.ParseTime(raw); err == nil {
		return t.UTC().Format(lastModLayout)
	}
	return raw
}
