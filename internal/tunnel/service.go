package tunnel

import (
	"context"
	"net"
	"sync"
	"time"

	coreerrors "kq-tunnel/internal/core/errors"
	corelog "kq-tunnel/internal/core/log"
	"kq-tunnel/internal/core/safe"
	"kq-tunnel/internal/mux/session"
)

const defaultTargetDialTimeout = 10 * time.Second

// DialServiceConfig 拨号服务配置
type DialServiceConfig struct {
	// Target 非空时忽略流携带的目标，所有流都连到这里
	Target string
	// Allow 非 nil 时只拨号返回 true 的目标
	Allow       func(target string) bool
	DialTimeout time.Duration
	Bridge      BridgeOptions
	Logger      corelog.Logger
}

// DialService 接受对端打开的流，拨号流的目标并桥接
type DialService struct {
	acceptor Acceptor
	cfg      DialServiceConfig
	log      corelog.Logger
	loops    *safe.Group

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewDialService 创建拨号服务
func NewDialService(acceptor Acceptor, cfg DialServiceConfig) *DialService {
	if cfg.Logger == nil {
		cfg.Logger = corelog.Default()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultTargetDialTimeout
	}
	return &DialService{
		acceptor: acceptor,
		cfg:      cfg,
		log:      corelog.Component(cfg.Logger, "tunnel.dial"),
		loops:    safe.NewGroup("dial-service", nil),
	}
}

// Start 在后台开始接受流
func (d *DialService) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.loops.Go("accept", func() { d.run(ctx) })
}

// Stop 停止接受并等待进行中的桥接结束
func (d *DialService) Stop() error {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	d.loops.Wait()
	return nil
}

// Dispose 实现 dispose.Disposable
func (d *DialService) Dispose() error { return d.Stop() }

func (d *DialService) run(ctx context.Context) {
	for {
		st, err := d.acceptor.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil {
				d.log.WithError(err).Warn("dial: accept stopped")
			}
			return
		}
		d.loops.Go("bridge", func() { d.serve(ctx, st) })
	}
}

func (d *DialService) serve(ctx context.Context, st *session.Stream) {
	target := st.Target()
	if d.cfg.Target != "" {
		target = d.cfg.Target
	}
	l := d.log.WithField(corelog.FieldSession, st.SessionID()).
		WithField(corelog.FieldStream, st.ID()).
		WithField("target", target)

	if target == "" {
		l.Warn("dial: stream has no target")
		_ = st.Reset()
		return
	}
	if d.cfg.Allow != nil && !d.cfg.Allow(target) {
		l.Warn("dial: target not allowed")
		_ = st.Reset()
		return
	}

	dialer := net.Dialer{Timeout: d.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		l.WithError(coreerrors.Wrap(err, coreerrors.CodeDialFailed, "dial target")).Warn("dial: target unreachable")
		_ = st.Reset()
		return
	}

	l.Debug("dial: bridging")
	res, err := Bridge(ctx, conn, st, d.cfg.Bridge)
	if err != nil {
		l.WithError(err).Debug("dial: bridge ended with error")
		return
	}
	l.Debugf("dial: done, up=%d down=%d", res.Upstream, res.Downstream)
}
