package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/net/bpf"
)

type AFPacketHandle struct {
	tp *afpacket.TPacket
}

var _ Source = (*AFPacketHandle)(nil)

func NewAFPacketHandle(iface string, snaplen int) (*AFPacketHandle, error) {
	if iface == "" {
		return nil, fmt.Errorf("interface 不能为空")
	}

	frameSize, blockSize := ringSizes(snaplen)
	opts := []interface{}{
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(64),
		afpacket.OptPollTimeout(250 * time.Millisecond),
	}
	// "any" 表示监听所有网卡，不指定 OptInterface。
	if iface != "any" {
		opts = append(opts, afpacket.OptInterface(iface))
	}

	tp, err := afpacket.NewTPacket(opts...)
	if err != nil {
		if errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.EACCES) {
			return nil, fmt.Errorf("打开 AF_PACKET 失败：%w（需要 root 或 CAP_NET_RAW）", err)
		}
		if _, ok := err.(*net.OpError); ok && iface != "any" {
			return nil, fmt.Errorf("打开 AF_PACKET 失败：%w（检查网卡名是否存在：%s）", err, iface)
		}
		return nil, fmt.Errorf("打开 AF_PACKET 失败：%w", err)
	}

	return &AFPacketHandle{tp: tp}, nil
}

// ringSizes 按 snaplen 计算 TPacket 的帧大小和块大小，块必须是帧的整数倍。
func ringSizes(snaplen int) (frameSize, blockSize int) {
	frameSize = nextPow2(snaplen)
	if frameSize < 2048 {
		frameSize = 2048
	}
	if frameSize > 1<<16 {
		frameSize = 1 << 16
	}
	blockSize = 1 << 20
	if blockSize%frameSize != 0 {
		blockSize = frameSize * 16
	}
	return frameSize, blockSize
}

func nextPow2(v int) int {
	if v <= 1 {
		return 1
	}
	n := 1
	for n < v {
		n <<= 1
	}
	return n
}

func (h *AFPacketHandle) Close() {
	if h.tp != nil {
		h.tp.Close()
	}
}

func (h *AFPacketHandle) LinkType() layers.LinkType {
	return layers.LinkTypeEthernet
}

func (h *AFPacketHandle) SetBPF(ins []bpf.RawInstruction) error {
	if h.tp == nil {
		return os.ErrInvalid
	}
	return h.tp.SetBPF(ins)
}

func (h *AFPacketHandle) ReadPacket(ctx context.Context) ([]byte, gopacket.CaptureInfo, error) {
	if h.tp == nil {
		return nil, gopacket.CaptureInfo{}, os.ErrInvalid
	}

	// poll 超时后 Read 会返回错误，这里按 ctx 控制退出。
	// 重组器会持有 payload 到下一次读之后，所以不能用 ZeroCopy 版本。
	for {
		data, ci, err := h.tp.ReadPacketData()
		if err == nil {
			return data, ci, nil
		}
		if ctx.Err() != nil {
			return nil, gopacket.CaptureInfo{}, ctx.Err()
		}
	}
}
