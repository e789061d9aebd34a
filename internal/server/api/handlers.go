package api

import (
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"webtriage/internal/server/storage"
	"webtriage/pkg/model"
)

const maxLimit = 2000

type Handlers struct {
	store  storage.Store
	logger *zap.Logger
}

func NewHandlers(store storage.Store, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{store: store, logger: logger}
}

func (h *Handlers) Upload(c *gin.Context) {
	var tx model.Transaction
	if err := c.ShouldBindJSON(&tx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON 解析失败：" + err.Error()})
		return
	}

	// 这里做最基本的数据校验，避免脏数据写入数据库。
	// status 允许为空：没有抓到响应的请求也是合法记录。
	if net.ParseIP(tx.Conn.ClientIP) == nil || net.ParseIP(tx.Conn.ServerIP) == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client_ip/server_ip 非法"})
		return
	}
	if !validPort(tx.Conn.ClientPort) || !validPort(tx.Conn.ServerPort) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client_port/server_port 非法"})
		return
	}
	if tx.Method == "" || tx.URI == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request_method/uri 不能为空"})
		return
	}

	if err := h.store.Insert(c.Request.Context(), &tx); err != nil {
		h.logger.Error("写入数据库失败", zap.Stringer("conn", tx.Conn), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "写入数据库失败：" + err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

// Query 支持 ip、host、pid 三种条件，按优先级取第一个出现的。
func (h *Handlers) Query(c *gin.Context) {
	limit := storage.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= maxLimit {
			limit = v
		}
	}

	var (
		rows []model.Transaction
		err  error
		ctx  = c.Request.Context()
	)
	switch {
	case c.Query("ip") != "":
		ip := c.Query("ip")
		if net.ParseIP(ip) == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ip 参数非法"})
			return
		}
		rows, err = h.store.QueryByIP(ctx, ip, limit)
	case c.Query("host") != "":
		rows, err = h.store.QueryByHost(ctx, c.Query("host"), limit)
	case c.Query("pid") != "":
		pid, perr := strconv.Atoi(c.Query("pid"))
		if perr != nil || pid <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "pid 参数非法"})
			return
		}
		rows, err = h.store.QueryByPID(ctx, pid, limit)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "需要 ip、host 或 pid 参数"})
		return
	}
	if err != nil {
		h.logger.Error("查询失败", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败：" + err.Error()})
		return
	}

	c.JSON(http.StatusOK, rows)
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}
