package pidmap

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/btf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"
	"go.uber.org/zap"

	"webtriage/pkg/model"
)

// Resolver 挂在 sock:inet_sock_set_state 上，在连接进入 ESTABLISHED 时记录
// 4 元组 -> pid，只处理本机进程发起或接受的 HTTP 连接。
type Resolver struct {
	m      *ebpf.Map
	prog   *ebpf.Program
	tp     link.Link
	logger *zap.Logger
	once   sync.Once
}

type flowKey struct {
	SrcIP   uint32
	DstIP   uint32
	SrcPort uint16
	DstPort uint16
	Pad     uint32
}

type offsets struct {
	family   int16
	newstate int16
	sport    int16
	dport    int16
	saddr    int16
	daddr    int16
}

func NewResolver(ports []int, logger *zap.Logger) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("设置 memlock 失败：%w", err)
	}
	spec, err := btf.LoadKernelSpec()
	if err != nil {
		return nil, fmt.Errorf("加载 BTF 失败：%w", err)
	}
	var st *btf.Struct
	if err := spec.TypeByName("trace_event_raw_inet_sock_set_state", &st); err != nil {
		return nil, fmt.Errorf("查找 tracepoint 结构失败：%w", err)
	}
	off, err := resolveOffsets(st)
	if err != nil {
		return nil, err
	}
	m, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       "flow_pid_map",
		Type:       ebpf.Hash,
		KeySize:    16,
		ValueSize:  4,
		MaxEntries: 65535,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 map 失败：%w", err)
	}
	prog, err := ebpf.NewProgram(&ebpf.ProgramSpec{
		Type:         ebpf.TracePoint,
		Instructions: buildProgram(m, off, ports),
		License:      "GPL",
	})
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("加载 eBPF 程序失败：%w", err)
	}
	tp, err := link.Tracepoint("sock", "inet_sock_set_state", prog, nil)
	if err != nil {
		prog.Close()
		m.Close()
		return nil, fmt.Errorf("挂载 tracepoint 失败：%w", err)
	}
	return &Resolver{m: m, prog: prog, tp: tp, logger: logger}, nil
}

// Lookup 返回连接对应的 pid，找不到返回 0。
// 内核里端口可能是网络序也可能是主机序（取决于 tracepoint 版本），两种都试。
func (r *Resolver) Lookup(conn model.ConnInfo) int {
	if r == nil || r.m == nil {
		return 0
	}
	var pid uint32
	for _, mk := range []func(model.ConnInfo) (flowKey, bool){makeKeyNet, makeKeyHost} {
		key, ok := mk(conn)
		if !ok {
			continue
		}
		if err := r.m.Lookup(&key, &pid); err == nil {
			return int(pid)
		}
	}
	r.once.Do(func() {
		r.logger.Debug("pid 查找失败（只记录第一次）", zap.Stringer("conn", conn))
	})
	return 0
}

// Annotate 可直接作为 stream.Options.Annotate 使用。
func (r *Resolver) Annotate(conn *model.ConnInfo) {
	pid := r.Lookup(*conn)
	if pid == 0 {
		return
	}
	if conn.Extra == nil {
		conn.Extra = make(map[string]string, 1)
	}
	conn.Extra[model.ExtraPID] = strconv.Itoa(pid)
}

func (r *Resolver) Close() error {
	var firstErr error
	if r.tp != nil {
		if err := r.tp.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.prog != nil {
		if err := r.prog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.m != nil {
		if err := r.m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// map 里的 key 以 client 为 src 写一次，再以 server 为 src 写一次。
func makeKeyNet(conn model.ConnInfo) (flowKey, bool) {
	key, ok := makeKeyHost(conn)
	if !ok {
		return flowKey{}, false
	}
	key.SrcPort = toNetPort(key.SrcPort)
	key.DstPort = toNetPort(key.DstPort)
	return key, true
}

func makeKeyHost(conn model.ConnInfo) (flowKey, bool) {
	sip := net.ParseIP(conn.ClientIP).To4()
	dip := net.ParseIP(conn.ServerIP).To4()
	if sip == nil || dip == nil {
		return flowKey{}, false
	}
	return flowKey{
		SrcIP:   binary.LittleEndian.Uint32(sip),
		DstIP:   binary.LittleEndian.Uint32(dip),
		SrcPort: uint16(conn.ClientPort),
		DstPort: uint16(conn.ServerPort),
	}, true
}

func toNetPort(p uint16) uint16 {
	return (p << 8) | (p >> 8)
}

func resolveOffsets(st *btf.Struct) (offsets, error) {
	var out offsets
	fields := []struct {
		name string
		dst  *int16
	}{
		{"family", &out.family},
		{"newstate", &out.newstate},
		{"sport", &out.sport},
		{"dport", &out.dport},
		{"saddr", &out.saddr},
		{"daddr", &out.daddr},
	}
	for _, f := range fields {
		off, err := memberOffset(st, f.name)
		if err != nil {
			return offsets{}, err
		}
		*f.dst = off
	}
	return out, nil
}

func memberOffset(st *btf.Struct, name string) (int16, error) {
	for _, m := range st.Members {
		if m.Name == name {
			return int16(m.Offset / 8), nil
		}
	}
	return 0, fmt.Errorf("成员缺失：%s", name)
}

// portMatchers 为每个端口生成网络序、主机序两条比较，命中跳到 "match"。
func portMatchers(reg asm.Register, ports []int) asm.Instructions {
	var ins asm.Instructions
	for _, p := range ports {
		host := uint16(p)
		ins = append(ins,
			asm.JEq.Imm(reg, int32(toNetPort(host)), "match"),
			asm.JEq.Imm(reg, int32(host), "match"),
		)
	}
	return ins
}

func buildProgram(m *ebpf.Map, off offsets, ports []int) asm.Instructions {
	const (
		afInet         = 2
		tcpEstablished = 1
		keyOffset      = -32
		valueOffset    = -16
		keySrcIPOffset = keyOffset
		keyDstIPOffset = keyOffset + 4
		keySrcPOffset  = keyOffset + 8
		keyDstPOffset  = keyOffset + 10
		keyPadOffset   = keyOffset + 12
	)

	// 把 (src, dst) 写进栈上的 key，然后 map_update(key, pid)。
	store := func(sip, dip, sport, dport asm.Register) asm.Instructions {
		return asm.Instructions{
			asm.StoreMem(asm.RFP, keySrcIPOffset, sip, asm.Word),
			asm.StoreMem(asm.RFP, keyDstIPOffset, dip, asm.Word),
			asm.StoreMem(asm.RFP, keySrcPOffset, sport, asm.Half),
			asm.StoreMem(asm.RFP, keyDstPOffset, dport, asm.Half),
			asm.StoreImm(asm.RFP, keyPadOffset, 0, asm.Word),
			asm.LoadMapPtr(asm.R1, m.FD()),
			asm.Mov.Reg(asm.R2, asm.RFP),
			asm.Add.Imm(asm.R2, keyOffset),
			asm.Mov.Reg(asm.R3, asm.RFP),
			asm.Add.Imm(asm.R3, valueOffset),
			asm.Mov.Imm(asm.R4, 0),
			asm.FnMapUpdateElem.Call(),
		}
	}
	reload := asm.Instructions{
		asm.LoadMem(asm.R2, asm.R6, off.sport, asm.Half),
		asm.LoadMem(asm.R3, asm.R6, off.dport, asm.Half),
		asm.LoadMem(asm.R4, asm.R6, off.saddr, asm.Word),
		asm.LoadMem(asm.R5, asm.R6, off.daddr, asm.Word),
	}

	ins := asm.Instructions{
		asm.Mov.Reg(asm.R6, asm.R1),
		asm.LoadMem(asm.R1, asm.R6, off.family, asm.Half),
		asm.JNE.Imm(asm.R1, afInet, "exit"),
		asm.LoadMem(asm.R1, asm.R6, off.newstate, asm.Word),
		asm.JNE.Imm(asm.R1, tcpEstablished, "exit"),
		asm.LoadMem(asm.R2, asm.R6, off.sport, asm.Half),
		asm.LoadMem(asm.R3, asm.R6, off.dport, asm.Half),
	}
	ins = append(ins, portMatchers(asm.R2, ports)...)
	ins = append(ins, portMatchers(asm.R3, ports)...)
	ins = append(ins,
		asm.Ja.Label("exit"),
		asm.Mov.Imm(asm.R0, 0).WithSymbol("match"),
		asm.FnGetCurrentPidTgid.Call(),
		asm.RSh.Imm(asm.R0, 32),
		asm.StoreMem(asm.RFP, valueOffset, asm.R0, asm.Word),
	)
	// helper 调用会破坏 R1-R5，每次写 map 前重新读一遍。
	ins = append(ins, reload...)
	ins = append(ins, store(asm.R4, asm.R5, asm.R2, asm.R3)...)
	ins = append(ins, reload...)
	ins = append(ins, store(asm.R5, asm.R4, asm.R3, asm.R2)...)
	ins = append(ins,
		asm.Mov.Imm(asm.R0, 0).WithSymbol("exit"),
		asm.Return(),
	)
	return ins
}
