package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"webtriage/internal/agent/app"
)

func main() {
	def := app.DefaultConfig()
	configPath := flag.String("config", "", "YAML 配置文件，命令行参数会覆盖文件中的值")

	var flags app.Config
	var ports string
	flag.StringVar(&flags.Interface, "interface", "", "要监听的网卡名（如 eth0 / vethXXX）")
	flag.StringVar(&flags.PcapFile, "pcap", "", "离线分析的 pcap 文件，与 -interface 二选一")
	flag.StringVar(&ports, "ports", joinPorts(def.Ports), "HTTP 服务端端口，逗号分隔")
	flag.StringVar(&flags.ServerIP, "server-ip", "", "Server IP，为空时不上报")
	flag.IntVar(&flags.ServerPort, "server-port", 0, "Server Port")
	flag.DurationVar(&flags.RequestTimeout, "request-timeout", def.RequestTimeout, "HTTP 匹配缓存超时时间")
	flag.DurationVar(&flags.HTTPPostTimeout, "http-post-timeout", def.HTTPPostTimeout, "上报超时时间")
	flag.Int64Var(&flags.MaxBody, "max-body", def.MaxBody, "每条消息最多保存的 body 字节数")
	flag.IntVar(&flags.MaxURILen, "max-uri-len", def.MaxURILen, "摘要行中 URI 的最大显示长度")
	flag.BoolVar(&flags.MD5, "md5", false, "计算响应 body 的 MD5")
	flag.BoolVar(&flags.Color, "color", false, "按内容类型给输出着色")
	flag.StringVar(&flags.SessionFile, "session-file", "", "原始会话输出文件")
	flag.StringVar(&flags.MetricsAddr, "metrics-addr", "", "Prometheus 指标监听地址（如 :9100）")
	flag.BoolVar(&flags.EnableEBPF, "ebpf", false, "用 eBPF 给连接标注 pid")
	flag.StringVar(&flags.LogLevel, "log-level", def.LogLevel, "日志级别：debug/info/warn/error")
	flag.Parse()

	cfg := def
	if *configPath != "" {
		c, err := app.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("agent 启动失败：%v", err)
		}
		cfg = c
	}
	if err := applyFlags(&cfg, flags, ports); err != nil {
		log.Fatalf("agent 启动失败：%v", err)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	logger, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("agent 启动失败：%v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg, os.Stdout, logger); err != nil {
		logger.Error("agent 退出", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("agent 正常退出")
}

// applyFlags 只覆盖命令行上显式给出的参数。
func applyFlags(cfg *app.Config, f app.Config, ports string) error {
	var err error
	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "interface":
			cfg.Interface = f.Interface
		case "pcap":
			cfg.PcapFile = f.PcapFile
		case "ports":
			cfg.Ports, err = parsePorts(ports)
		case "server-ip":
			cfg.ServerIP = f.ServerIP
		case "server-port":
			cfg.ServerPort = f.ServerPort
		case "request-timeout":
			cfg.RequestTimeout = f.RequestTimeout
		case "http-post-timeout":
			cfg.HTTPPostTimeout = f.HTTPPostTimeout
		case "max-body":
			cfg.MaxBody = f.MaxBody
		case "max-uri-len":
			cfg.MaxURILen = f.MaxURILen
		case "md5":
			cfg.MD5 = f.MD5
		case "color":
			cfg.Color = f.Color
		case "session-file":
			cfg.SessionFile = f.SessionFile
		case "metrics-addr":
			cfg.MetricsAddr = f.MetricsAddr
		case "ebpf":
			cfg.EnableEBPF = f.EnableEBPF
		case "log-level":
			cfg.LogLevel = f.LogLevel
		}
	})
	return err
}

func parsePorts(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("非法端口 %q：%w", part, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func joinPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}
