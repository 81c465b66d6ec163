package transport

import (
	"context"
	"net"

	"github.com/xtaci/kcp-go/v5"
)

// KCP 参数，两端保持一致；不加密、不启用 FEC
const (
	kcpDataShards   = 0
	kcpParityShards = 0
	kcpSndWnd       = 1024
	kcpRcvWnd       = 1024
	kcpNoDelay      = 1
	kcpInterval     = 10
	kcpResend       = 2
	kcpNC           = 1
	kcpMTU          = 1400
	kcpSocketBuffer = 4 * 1024 * 1024
)

func init() {
	Register("kcp", 40, DialKCP, ListenKCP)
}

func tuneKCP(s *kcp.UDPSession) {
	s.SetStreamMode(true)
	s.SetNoDelay(kcpNoDelay, kcpInterval, kcpResend, kcpNC)
	s.SetWindowSize(kcpSndWnd, kcpRcvWnd)
	s.SetMtu(kcpMTU)
	s.SetACKNoDelay(true)
	_ = s.SetReadBuffer(kcpSocketBuffer)
	_ = s.SetWriteBuffer(kcpSocketBuffer)
}

// DialKCP 建立 KCP 连接
//
// KCP 基于 UDP 无连接握手，拨号本身不会阻塞，ctx 只在拨号前检查
func DialKCP(ctx context.Context, address string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := kcp.DialWithOptions(address, nil, kcpDataShards, kcpParityShards)
	if err != nil {
		return nil, err
	}
	tuneKCP(s)
	return s, nil
}

// kcpListener 为每个接入的会话套用相同参数
type kcpListener struct {
	*kcp.Listener
}

// ListenKCP 监听 KCP
func ListenKCP(_ context.Context, address string) (net.Listener, error) {
	ln, err := kcp.ListenWithOptions(address, nil, kcpDataShards, kcpParityShards)
	if err != nil {
		return nil, err
	}
	_ = ln.SetReadBuffer(kcpSocketBuffer)
	_ = ln.SetWriteBuffer(kcpSocketBuffer)
	return &kcpListener{Listener: ln}, nil
}

func (l *kcpListener) Accept() (net.Conn, error) {
	s, err := l.AcceptKCP()
	if err != nil {
		return nil, err
	}
	tuneKCP(s)
	return s, nil
}
