package transport

import (
	"context"
	"net"
	"time"
)

const (
	tcpDialTimeout     = 10 * time.Second
	tcpKeepAlivePeriod = 30 * time.Second
)

func init() {
	Register("tcp", 30, DialTCP, ListenTCP)
}

// DialTCP 建立 TCP 连接并开启 keepalive
func DialTCP(ctx context.Context, address string) (net.Conn, error) {
	d := &net.Dialer{
		Timeout:   tcpDialTimeout,
		KeepAlive: tcpKeepAlivePeriod,
	}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

// ListenTCP 监听 TCP
func ListenTCP(ctx context.Context, address string) (net.Listener, error) {
	lc := net.ListenConfig{KeepAlive: tcpKeepAlivePeriod}
	return lc.Listen(ctx, "tcp", address)
}
