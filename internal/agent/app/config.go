package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"webtriage/internal/agent/filter"
)

type Config struct {
	Interface string `yaml:"interface"`
	PcapFile  string `yaml:"pcap_file"`
	Ports     []int  `yaml:"ports"`

	ServerIP        string        `yaml:"server_ip"`
	ServerPort      int           `yaml:"server_port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	HTTPPostTimeout time.Duration `yaml:"http_post_timeout"`

	MaxBody     int64  `yaml:"max_body"`
	MaxURILen   int    `yaml:"max_uri_len"`
	MD5         bool   `yaml:"md5"`
	Color       bool   `yaml:"color"`
	SessionFile string `yaml:"session_file"`

	MetricsAddr string `yaml:"metrics_addr"`
	EnableEBPF  bool   `yaml:"enable_ebpf"`
	LogLevel    string `yaml:"log_level"`
}

func DefaultConfig() Config {
	return Config{
		Ports:           append([]int(nil), filter.DefaultHTTPPorts...),
		RequestTimeout:  30 * time.Second,
		HTTPPostTimeout: 5 * time.Second,
		MaxBody:         10 << 20,
		MaxURILen:       30,
		LogLevel:        "info",
	}
}

// LoadConfig 在默认值的基础上读取 YAML 文件，文件里没写的字段保持默认。
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("读取配置文件失败：%w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("解析配置文件失败：%w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Interface == "" && c.PcapFile == "" {
		return errors.New("必须指定 interface 或 pcap_file")
	}
	if c.Interface != "" && c.PcapFile != "" {
		return errors.New("interface 和 pcap_file 只能指定一个")
	}
	if len(c.Ports) == 0 {
		return errors.New("ports 不能为空")
	}
	for _, p := range c.Ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("非法端口：%d", p)
		}
	}
	if c.ServerIP != "" && (c.ServerPort <= 0 || c.ServerPort > 65535) {
		return fmt.Errorf("非法 server_port：%d", c.ServerPort)
	}
	// 0 表示不截断。
	if c.MaxURILen < 0 {
		return fmt.Errorf("max_uri_len 不能为负数：%d", c.MaxURILen)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout 必须大于 0：%s", c.RequestTimeout)
	}
	return nil
}

func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("非法日志级别 %q：%w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败：%w", err)
	}
	return logger, nil
}
