package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"webtriage/internal/server/app"
)

func main() {
	var cfg app.Config
	flag.StringVar(&cfg.ListenAddr, "listen", ":8080", "监听地址")
	flag.StringVar(&cfg.DBDriver, "db-driver", "duckdb", "数据库类型：duckdb 或 sqlite")
	flag.StringVar(&cfg.DBPath, "db", "", "数据库文件路径")
	debug := flag.Bool("debug", false, "输出 debug 日志")
	flag.Parse()

	zcfg := zap.NewProductionConfig()
	if *debug {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		log.Fatalf("初始化日志失败：%v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := app.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("server 初始化失败", zap.Error(err))
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal("server 运行失败", zap.Error(err))
	}
}
