package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/tcpassembly"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"webtriage/internal/agent/capture"
	"webtriage/internal/agent/filter"
	"webtriage/internal/agent/httpmatcher"
	"webtriage/internal/agent/metrics"
	"webtriage/internal/agent/output"
	"webtriage/internal/agent/pidmap"
	"webtriage/internal/agent/report"
	"webtriage/internal/agent/stream"
	"webtriage/internal/agent/webdecoder"
	"webtriage/pkg/model"
)

const (
	snaplen       = 65535
	flushInterval = 2 * time.Second
	// 超过这个时间没有新数据的流视为已断开，强制关闭。
	streamIdle = 2 * time.Minute
)

// Run 抓包直到 ctx 结束或离线文件读完，退出前把所有未完成的请求输出。
func Run(ctx context.Context, cfg Config, stdout io.Writer, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if stdout == nil {
		stdout = os.Stdout
	}

	src, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	sinks := output.Multi{output.NewConsole(stdout, cfg.Color)}

	reg := prometheus.NewRegistry()
	sinks = append(sinks, metrics.NewRecorder(reg))
	if cfg.MetricsAddr != "" {
		go metrics.Serve(ctx, cfg.MetricsAddr, reg, logger)
	}

	if cfg.ServerIP != "" {
		sinks = append(sinks, report.NewClient(cfg.ServerIP, cfg.ServerPort, cfg.HTTPPostTimeout))
	}

	var sessions webdecoder.SessionWriter
	if cfg.SessionFile != "" {
		sw, err := output.OpenSessionFile(cfg.SessionFile)
		if err != nil {
			return err
		}
		defer sw.Close()
		sessions = sw
	}

	var annotate func(*model.ConnInfo)
	if cfg.EnableEBPF {
		r, err := pidmap.NewResolver(cfg.Ports, logger)
		if err != nil {
			return err
		}
		defer r.Close()
		annotate = r.Annotate
	}

	dec := webdecoder.New(webdecoder.Config{
		MaxURILen:     cfg.MaxURILen,
		DigestEnabled: cfg.MD5,
		ColorEnabled:  cfg.Color,
	}, sinks, sessions, logger)

	m := httpmatcher.NewMatcher(cfg.RequestTimeout)
	factory := stream.NewFactory(ctx, stream.Options{
		Ports:    cfg.Ports,
		MaxBody:  cfg.MaxBody,
		KeepRaw:  sessions != nil,
		Annotate: annotate,
	}, m, dec.Handle, logger)
	assembler := tcpassembly.NewAssembler(tcpassembly.NewStreamPool(factory))

	emit := func(exs []*model.Exchange) {
		for _, ex := range exs {
			if err := dec.Handle(ctx, ex); err != nil {
				logger.Warn("交易记录输出失败（忽略继续）", zap.Stringer("conn", ex.Conn), zap.Error(err))
			}
		}
	}
	defer func() {
		assembler.FlushAll()
		factory.Wait()
		emit(m.Drain())
	}()

	logger.Info("开始抓包",
		zap.String("interface", cfg.Interface),
		zap.String("pcap_file", cfg.PcapFile),
		zap.Ints("ports", cfg.Ports),
		zap.String("server", cfg.ServerIP),
	)

	// 离线文件用抓包时间做时钟，实时抓包用当前时间。
	live := cfg.PcapFile == ""
	var clock, lastFlush time.Time
	linkType := src.LinkType()

	for {
		data, ci, err := src.ReadPacket(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info("pcap 文件读取完毕")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("读取数据包失败：%w", err)
		}

		clock = ci.Timestamp
		if live {
			clock = time.Now()
		}
		if lastFlush.IsZero() {
			lastFlush = clock
		}

		packet := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		if nl := packet.NetworkLayer(); nl != nil {
			if tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP); ok {
				assembler.AssembleWithTimestamp(nl.NetworkFlow(), tcp, ci.Timestamp)
			}
		}

		if clock.Sub(lastFlush) >= flushInterval {
			flushed, closed := assembler.FlushOlderThan(clock.Add(-streamIdle))
			if flushed > 0 || closed > 0 {
				logger.Debug("清理空闲流", zap.Int("flushed", flushed), zap.Int("closed", closed))
			}
			emit(m.Cleanup(clock))
			lastFlush = clock
		}
	}
}

func openSource(cfg Config) (capture.Source, error) {
	if cfg.PcapFile != "" {
		return capture.OpenPcapFile(cfg.PcapFile)
	}

	handle, err := capture.NewAFPacketHandle(cfg.Interface, snaplen)
	if err != nil {
		return nil, err
	}
	// classic BPF 在内核态过滤，只把 HTTP 端口的 TCP 包送到用户态。
	rawIns, err := filter.TCPPortsBPF(cfg.Ports)
	if err != nil {
		handle.Close()
		return nil, err
	}
	if err := handle.SetBPF(rawIns); err != nil {
		handle.Close()
		return nil, fmt.Errorf("设置 BPF 失败：%w", err)
	}
	return handle, nil
}
