package capture

import (
	"context"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Source 是抓包来源：网卡实时抓包或离线 pcap 文件。
// ReadPacket 在离线文件读完时返回 io.EOF。
type Source interface {
	ReadPacket(ctx context.Context) ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
	Close()
}
