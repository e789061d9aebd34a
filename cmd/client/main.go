package main

import (
	"flag"
	"log"
	"os"

	"webtriage/internal/client/app"
)

func main() {
	var cfg app.Config
	flag.StringVar(&cfg.IP, "ip", "", "按客户端或服务端 IP 查询")
	flag.StringVar(&cfg.Host, "host", "", "按 Host 查询")
	flag.IntVar(&cfg.PID, "pid", 0, "按进程号查询")
	flag.IntVar(&cfg.Limit, "limit", 0, "最多返回的条数（默认 200，上限 2000）")
	flag.StringVar(&cfg.Server, "server", "http://127.0.0.1:8080", "Server 地址")
	flag.Parse()

	if cfg.IP == "" && cfg.Host == "" && cfg.PID <= 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := app.Run(cfg); err != nil {
		log.Printf("client 失败：%v", err)
		os.Exit(1)
	}
}
