package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	coreerrors "kq-tunnel/internal/core/errors"
	corelog "kq-tunnel/internal/core/log"
	"kq-tunnel/internal/core/safe"
)

const (
	// WebSocketPath 默认升级路径
	WebSocketPath = "/kq"

	wsBufferSize       = 64 * 1024
	wsHandshakeTimeout = 20 * time.Second
	wsCloseGrace       = time.Second
	wsAcceptBacklog    = 64
)

func init() {
	Register("websocket", 10, DialWebSocket, ListenWebSocket)
}

// wsConn 把 WebSocket 二进制消息流适配为字节流
//
// 每次 Write 发送一条二进制消息；Read 按消息边界无关的方式读取
type wsConn struct {
	ws *websocket.Conn

	readMu sync.Mutex
	reader io.Reader // 当前未读完的消息

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		if c.reader == nil {
			mt, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				return 0, coreerrors.Newf(coreerrors.CodeTransport, "unexpected websocket message type %d", mt)
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseGrace))
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

// NormalizeWebSocketURL 规范化地址
//
//	host:port         -> ws://host:port/kq
//	http://host/path  -> ws://host/path
//	https://host      -> wss://host/kq
func NormalizeWebSocketURL(address string) (string, error) {
	if !strings.Contains(address, "://") {
		address = "ws://" + address
	}
	u, err := url.Parse(address)
	if err != nil {
		return "", coreerrors.Wrap(err, coreerrors.CodeInvalidParam, "invalid websocket address")
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "http":
		u.Scheme = "ws"
	case "wss", "https":
		u.Scheme = "wss"
	default:
		return "", coreerrors.Newf(coreerrors.CodeInvalidParam, "unsupported websocket scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", coreerrors.Newf(coreerrors.CodeInvalidParam, "websocket address %q has no host", address)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = WebSocketPath
	}
	return u.String(), nil
}

// DialWebSocket 建立 WebSocket 连接
func DialWebSocket(ctx context.Context, address string) (net.Conn, error) {
	wsURL, err := NormalizeWebSocketURL(address)
	if err != nil {
		return nil, err
	}
	d := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
		ReadBufferSize:   wsBufferSize,
		WriteBufferSize:  wsBufferSize,
	}
	ws, resp, err := d.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	corelog.Debugf("transport: websocket connected to %s", wsURL)
	return newWSConn(ws), nil
}

// wsListener 在 HTTP 服务器上接受 WebSocket 升级
type wsListener struct {
	ln     net.Listener
	server *http.Server
	conns  chan net.Conn
	done   chan struct{}
	once   sync.Once
}

// ListenWebSocket 监听 WebSocket，address 为 host:port，升级路径固定为 WebSocketPath
func ListenWebSocket(ctx context.Context, address string) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	l := &wsListener{
		ln:    ln,
		conns: make(chan net.Conn, wsAcceptBacklog),
		done:  make(chan struct{}),
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsBufferSize,
		WriteBufferSize: wsBufferSize,
		CheckOrigin:     func(*http.Request) bool { return true },
	}

	router := mux.NewRouter()
	router.HandleFunc(WebSocketPath, func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			corelog.Debugf("transport: websocket upgrade from %s failed: %v", r.RemoteAddr, err)
			return
		}
		conn := newWSConn(ws)
		select {
		case l.conns <- conn:
		case <-l.done:
			_ = conn.Close()
		}
	})

	l.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: wsHandshakeTimeout,
	}
	safe.Go("websocket-serve", func() {
		if err := l.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			corelog.Errorf("transport: websocket server on %s stopped: %v", address, err)
		}
	})
	return l, nil
}

func (l *wsListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *wsListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.server.Close()
	})
	return err
}

func (l *wsListener) Addr() net.Addr { return l.ln.Addr() }

func (l *wsListener) String() string {
	return fmt.Sprintf("ws://%s%s", l.ln.Addr(), WebSocketPath)
}
