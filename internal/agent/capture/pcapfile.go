package capture

import (
	"context"
	"fmt"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PcapFile 离线读取 pcap 文件，用于对已有抓包做取证分析。
type PcapFile struct {
	f *os.File
	r *pcapgo.Reader
}

var _ Source = (*PcapFile)(nil)

func OpenPcapFile(path string) (*PcapFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开 pcap 文件失败：%w", err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("读取 pcap 文件头失败：%w", err)
	}
	return &PcapFile{f: f, r: r}, nil
}

func (p *PcapFile) ReadPacket(ctx context.Context) ([]byte, gopacket.CaptureInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, gopacket.CaptureInfo{}, err
	}
	return p.r.ReadPacketData()
}

func (p *PcapFile) LinkType() layers.LinkType {
	return p.r.LinkType()
}

func (p *PcapFile) Close() {
	_ = p.f.Close()
}
