package filter

import (
	"fmt"

	"golang.org/x/net/bpf"
)

// DefaultHTTPPorts 是默认认为跑 HTTP 的服务端端口。
var DefaultHTTPPorts = []int{80, 8000, 8080}

// TCPPortsFilter 生成 classic BPF（cBPF）过滤器，假设链路层为 Ethernet：
// - 只放行 IPv4
// - 只放行 TCP
// - 只放行 src port 或 dst port 属于 ports
//
// IPv4 头部长度不固定（options），因此用 LoadMemShift：
//
//	X = 4 * (packet[14] & 0x0f)
//
// 然后读取 TCP ports：src=[14+X], dst=[14+X+2]
func TCPPortsFilter(ports []int) ([]bpf.Instruction, error) {
	n := len(ports)
	if n == 0 {
		return nil, fmt.Errorf("端口列表不能为空")
	}
	// 每个端口一条跳转，src/dst 各一组；跳转偏移是 uint8。
	if 2*n+9 > 255 {
		return nil, fmt.Errorf("端口过多：%d", n)
	}
	for _, p := range ports {
		if p <= 0 || p > 65535 {
			return nil, fmt.Errorf("端口非法：%d", p)
		}
	}

	drop := 7 + 2*n
	accept := drop + 1
	skipTo := func(from, to int) uint8 { return uint8(to - from - 1) }

	ins := []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},                                       // EtherType
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x0800, SkipFalse: skipTo(1, drop)}, // IPv4? 否则 drop
		bpf.LoadAbsolute{Off: 23, Size: 1},                                       // IPv4 protocol
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 6, SkipFalse: skipTo(3, drop)},      // TCP? 否则 drop
		bpf.LoadMemShift{Off: 14},                                                // X = 4*(ip[0]&0xf)
		bpf.LoadIndirect{Off: 14, Size: 2},                                       // tcp src port
	}
	for _, p := range ports {
		ins = append(ins, bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(p), SkipTrue: skipTo(len(ins), accept)})
	}
	ins = append(ins, bpf.LoadIndirect{Off: 16, Size: 2}) // tcp dst port
	for _, p := range ports {
		ins = append(ins, bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(p), SkipTrue: skipTo(len(ins), accept)})
	}
	ins = append(ins,
		bpf.RetConstant{Val: 0},      // drop
		bpf.RetConstant{Val: 0xFFFF}, // accept（snaplen 由 AF_PACKET 控制）
	)
	return ins, nil
}

func TCPPortsBPF(ports []int) ([]bpf.RawInstruction, error) {
	ins, err := TCPPortsFilter(ports)
	if err != nil {
		return nil, err
	}
	raw, err := bpf.Assemble(ins)
	if err != nil {
		return nil, fmt.Errorf("组装 BPF 失败：%w", err)
	}
	return raw, nil
}
