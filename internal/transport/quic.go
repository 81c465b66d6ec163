package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	corelog "kq-tunnel/internal/core/log"
	"kq-tunnel/internal/core/safe"
)

const (
	quicALPN            = "kq-tunnel"
	quicIdleTimeout     = 30 * time.Second
	quicKeepAlivePeriod = 10 * time.Second
	quicAcceptBacklog   = 64
	quicCloseGrace      = 2 * time.Second
)

func init() {
	Register("quic", 20, DialQUIC, ListenQUIC)
}

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  quicIdleTimeout,
		KeepAlivePeriod: quicKeepAlivePeriod,
	}
}

// quicConn 一条 QUIC 连接上的单个双向流
type quicConn struct {
	*quic.Stream
	conn *quic.Conn
	once sync.Once
}

// Close 立即结束本端读写，连接在对端关闭或 quicCloseGrace 之后才销毁
//
// CloseWithError 会丢弃尚未发出的流数据，直接调用会让最后写入的帧（如 GoAway）丢失
func (c *quicConn) Close() error {
	var err error
	c.once.Do(func() {
		c.Stream.CancelRead(0)
		err = c.Stream.Close()
		safe.Go("quic-close", func() {
			timer := time.NewTimer(quicCloseGrace)
			defer timer.Stop()
			select {
			case <-c.conn.Context().Done():
			case <-timer.C:
			}
			_ = c.conn.CloseWithError(0, "")
		})
	})
	return err
}

func (c *quicConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *quicConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// DialQUIC 建立 QUIC 连接并打开唯一的双向流
//
// 不校验服务端证书，传输安全策略由部署方决定
func DialQUIC(ctx context.Context, address string) (net.Conn, error) {
	tlsConf := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{quicALPN},
	}
	conn, err := quic.DialAddr(ctx, address, tlsConf, quicConfig())
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream failed")
		return nil, err
	}
	return &quicConn{Stream: stream, conn: conn}, nil
}

// quicListener 每条 QUIC 连接接受一个流后交给 Accept
type quicListener struct {
	ln     *quic.Listener
	ctx    context.Context
	cancel context.CancelFunc
	conns  chan net.Conn
	once   sync.Once
}

// ListenQUIC 以进程内生成的自签名证书监听 QUIC
func ListenQUIC(ctx context.Context, address string) (net.Listener, error) {
	tlsConf, err := selfSignedTLS()
	if err != nil {
		return nil, err
	}
	ln, err := quic.ListenAddr(address, tlsConf, quicConfig())
	if err != nil {
		return nil, err
	}

	lctx, cancel := context.WithCancel(context.Background())
	l := &quicListener{
		ln:     ln,
		ctx:    lctx,
		cancel: cancel,
		conns:  make(chan net.Conn, quicAcceptBacklog),
	}
	safe.Go("quic-accept", l.acceptLoop)
	return l, nil
}

func (l *quicListener) acceptLoop() {
	for {
		conn, err := l.ln.Accept(l.ctx)
		if err != nil {
			if l.ctx.Err() == nil {
				corelog.Warnf("transport: quic accept stopped: %v", err)
			}
			return
		}
		safe.Go("quic-stream", func() { l.acceptStream(conn) })
	}
}

// acceptStream 流在对端首次写入后才可见
func (l *quicListener) acceptStream(conn *quic.Conn) {
	stream, err := conn.AcceptStream(l.ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return
	}
	c := &quicConn{Stream: stream, conn: conn}
	select {
	case l.conns <- c:
	case <-l.ctx.Done():
		_ = c.Close()
	}
}

func (l *quicListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.ctx.Done():
		return nil, net.ErrClosed
	}
}

func (l *quicListener) Close() error {
	var err error
	l.once.Do(func() {
		l.cancel()
		err = l.ln.Close()
	})
	return err
}

func (l *quicListener) Addr() net.Addr { return l.ln.Addr() }

func selfSignedTLS() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"kq-tunnel"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		NextProtos:   []string{quicALPN},
	}, nil
}
