package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"webtriage/internal/server/api"
	"webtriage/internal/server/storage"
	"webtriage/internal/server/storage/duckdb"
	"webtriage/internal/server/storage/sqlite"
)

type Server struct {
	httpServer *http.Server
	store      storage.Store
	logger     *zap.Logger
}

func NewServer(cfg Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}

	store, err := openStore(cfg.DBDriver, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	return &Server{
		store:  store,
		logger: logger,
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           NewRouter(store, logger),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func NewRouter(store storage.Store, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	h := api.NewHandlers(store, logger)
	v1 := router.Group("/api/v1")
	{
		v1.POST("/upload", h.Upload)
		v1.GET("/query", h.Query)
	}
	return router
}

func openStore(driver, path string) (storage.Store, error) {
	switch driver {
	case "", "duckdb":
		return duckdb.NewStore(path)
	case "sqlite":
		return sqlite.NewStore(path)
	default:
		return nil, fmt.Errorf("不支持的数据库类型：%s", driver)
	}
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("server 监听", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	_ = s.httpServer.Shutdown(ctx)
	return s.store.Close()
}
