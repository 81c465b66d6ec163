package tunnel

import (
	"context"
	"io"
	"sync"

	coreerrors "kq-tunnel/internal/core/errors"
	corelog "kq-tunnel/internal/core/log"
	"kq-tunnel/internal/mux/reconnect"
	"kq-tunnel/internal/mux/session"
	"kq-tunnel/internal/transport"
)

// ClientConfig 客户端端点配置
type ClientConfig struct {
	Protocol string // 传输协议名，见 transport.Names
	Address  string // 服务端地址

	Session  session.Config
	Policy   reconnect.Policy
	Observer Observer
	Logger   corelog.Logger

	// Dial 非 nil 时替代 Protocol/Address 拨号
	Dial reconnect.Dialer
}

// Client 客户端端点：拨号、保持会话并在断线后恢复
type Client struct {
	cfg ClientConfig
	log corelog.Logger
	sup *reconnect.Supervisor

	mu      sync.Mutex
	running bool
}

// NewClient 创建客户端端点
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = corelog.Default()
	}
	if cfg.Dial == nil {
		if _, ok := transport.Lookup(cfg.Protocol); !ok {
			return nil, coreerrors.Newf(coreerrors.CodeUnknownProtocol, "protocol %q is not available", cfg.Protocol)
		}
		if cfg.Address == "" {
			return nil, coreerrors.New(coreerrors.CodeInvalidParam, "client address is required")
		}
		protocol, address := cfg.Protocol, cfg.Address
		cfg.Dial = func(ctx context.Context) (io.ReadWriteCloser, error) {
			return transport.Dial(ctx, protocol, address)
		}
	}
	if cfg.Session.Logger == nil {
		cfg.Session.Logger = cfg.Logger
	}

	c := &Client{
		cfg: cfg,
		log: corelog.Component(cfg.Logger, "tunnel.client"),
	}
	c.sup = reconnect.New(cfg.Dial, cfg.Session, cfg.Policy, c.observe)
	return c, nil
}

func (c *Client) observe(ev Event) {
	l := c.log.WithField(corelog.FieldSession, ev.SessionID)
	switch ev.Kind {
	case EventSessionUp:
		l.Info("client: session up")
	case EventSessionResumed:
		l.Info("client: session resumed")
	case EventSessionDown:
		l.WithError(ev.Err).Warn("client: session down")
	case EventReconnectAttempt:
		l.Debugf("client: connect attempt %d", ev.Attempt)
	case EventTerminal:
		l.WithError(ev.Err).Error("client: stopped reconnecting")
	}
	if c.cfg.Observer != nil {
		c.cfg.Observer(ev)
	}
}

// Start 建立首个会话，失败时返回错误
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return coreerrors.New(coreerrors.CodeInvalidState, "client already started")
	}
	c.running = true
	c.mu.Unlock()

	c.log.Infof("client: connecting to %s via %s", c.cfg.Address, c.cfg.Protocol)
	if err := c.sup.Start(ctx); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return err
	}
	return nil
}

// Stop 停止重连并优雅关闭会话
func (c *Client) Stop() error {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	return c.sup.Close()
}

// Done 客户端不再重连时关闭
func (c *Client) Done() <-chan struct{} { return c.sup.Done() }

// Err 客户端停止的原因
func (c *Client) Err() error { return c.sup.Err() }

// Session 当前会话，重连期间等待
func (c *Client) Session(ctx context.Context) (*session.Session, error) {
	return c.sup.Session(ctx)
}

// OpenStream 在当前会话上打开流；会话挂起时流在恢复后发出
func (c *Client) OpenStream(ctx context.Context, target string) (*session.Stream, error) {
	for {
		sess, err := c.sup.Session(ctx)
		if err != nil {
			return nil, err
		}
		st, err := sess.OpenStream(ctx, target)
		if err == nil {
			return st, nil
		}
		// 会话恰好在此刻终止，等待新会话
		if sess.Err() == nil || ctx.Err() != nil {
			return nil, err
		}
	}
}

// Accept 接受服务端打开的流，跨会话重建持续有效
func (c *Client) Accept(ctx context.Context) (*session.Stream, error) {
	for {
		sess, err := c.sup.Session(ctx)
		if err != nil {
			return nil, err
		}
		st, err := sess.AcceptStream(ctx)
		if err == nil {
			return st, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
	}
}

// Snapshot 端点快照
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()

	snap := Snapshot{
		Role:     session.RoleClient.String(),
		Protocol: c.cfg.Protocol,
		Address:  c.cfg.Address,
		Running:  running && c.sup.Err() == nil,
		Sessions: []session.Snapshot{},
	}
	if cur := c.sup.Current(); cur != nil {
		snap.Sessions = append(snap.Sessions, cur.Snapshot())
	}
	stats := c.sup.Stats()
	snap.Reconnect = &stats
	return snap
}

// SessionSnapshot 按 id 查找会话快照
func (c *Client) SessionSnapshot(id string) (session.Snapshot, bool) {
	if cur := c.sup.Current(); cur != nil && cur.ID() == id {
		return cur.Snapshot(), true
	}
	return session.Snapshot{}, false
}

var _ Endpoint = (*Client)(nil)
