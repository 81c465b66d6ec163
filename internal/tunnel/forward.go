package tunnel

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	coreerrors "kq-tunnel/internal/core/errors"
	corelog "kq-tunnel/internal/core/log"
	"kq-tunnel/internal/core/dispose"
	"kq-tunnel/internal/core/safe"
	"kq-tunnel/internal/transport"
)

// DefaultLocalPort 转发规则未指定端口时的本地监听端口
const DefaultLocalPort = 2222

// ForwardSpec 一条转发规则：本地监听地址上的连接桥接到远端目标
type ForwardSpec struct {
	Listen string `json:"listen" yaml:"listen" toml:"listen"`
	Target string `json:"target" yaml:"target" toml:"target"`
}

func (f ForwardSpec) String() string {
	return f.Listen + "=" + f.Target
}

// ParseForwardSpec 解析 LISTEN=TARGET
//
// LISTEN 可以是 host:port、:port、port 或省略（取 127.0.0.1:2222）；
// TARGET 原样交给对端拨号，必须是 host:port
func ParseForwardSpec(s string) (ForwardSpec, error) {
	listen, target, ok := strings.Cut(s, "=")
	if !ok {
		listen, target = "", s
	}
	listen, err := normalizeListen(strings.TrimSpace(listen))
	if err != nil {
		return ForwardSpec{}, err
	}
	target = strings.TrimSpace(target)
	if _, _, err := net.SplitHostPort(target); err != nil {
		return ForwardSpec{}, coreerrors.Wrapf(err, coreerrors.CodeInvalidParam, "forward target %q", target)
	}
	return ForwardSpec{Listen: listen, Target: target}, nil
}

func normalizeListen(listen string) (string, error) {
	if listen == "" {
		return net.JoinHostPort("127.0.0.1", strconv.Itoa(DefaultLocalPort)), nil
	}
	if port, err := strconv.Atoi(listen); err == nil {
		if port <= 0 || port > 65535 {
			return "", coreerrors.Newf(coreerrors.CodeInvalidParam, "forward port %d out of range", port)
		}
		return net.JoinHostPort("127.0.0.1", listen), nil
	}
	if _, _, err := net.SplitHostPort(listen); err != nil {
		return "", coreerrors.Wrapf(err, coreerrors.CodeInvalidParam, "forward listen %q", listen)
	}
	return listen, nil
}

// ForwarderStats 转发统计
type ForwarderStats struct {
	Spec       string `json:"spec"`
	Addr       string `json:"addr"`
	Active     int64  `json:"active"`
	Total      int64  `json:"total"`
	Failed     int64  `json:"failed"`
	Upstream   int64  `json:"upstream"`
	Downstream int64  `json:"downstream"`
}

// Forwarder 监听本地 TCP，为每个连接在隧道上打开到目标的流并桥接
type Forwarder struct {
	spec   ForwardSpec
	opener Opener
	opts   BridgeOptions
	log    corelog.Logger

	life  *dispose.Dispose
	loops *safe.Group

	mu sync.Mutex
	ln net.Listener

	active     atomic.Int64
	total      atomic.Int64
	failed     atomic.Int64
	upstream   atomic.Int64
	downstream atomic.Int64
}

// NewForwarder 创建转发器
func NewForwarder(spec ForwardSpec, opener Opener, opts BridgeOptions, logger corelog.Logger) *Forwarder {
	if logger == nil {
		logger = corelog.Default()
	}
	return &Forwarder{
		spec:   spec,
		opener: opener,
		opts:   opts,
		log:    corelog.Component(logger, "tunnel.forward").WithField("forward", spec.String()),
		loops:  safe.NewGroup("forward", nil),
	}
}

// Start 开始监听
func (f *Forwarder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.life != nil {
		return coreerrors.New(coreerrors.CodeInvalidState, "forwarder already started")
	}
	f.life = dispose.NewDispose(ctx, nil)
	ln, err := transport.Listen(f.life.Ctx(), "tcp", f.spec.Listen)
	if err != nil {
		f.life.Close()
		return err
	}
	f.ln = ln
	f.log.Infof("forward: listening on %s", ln.Addr())
	f.loops.Go("accept", func() { f.acceptLoop(ln) })
	return nil
}

// Spec 转发规则
func (f *Forwarder) Spec() ForwardSpec { return f.spec }

// Addr 实际监听地址
func (f *Forwarder) Addr() net.Addr {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ln == nil {
		return nil
	}
	return f.ln.Addr()
}

// Stop 停止监听并关闭进行中的桥接
func (f *Forwarder) Stop() error {
	f.mu.Lock()
	life := f.life
	f.mu.Unlock()
	if life == nil {
		return nil
	}
	res := life.Close()
	f.loops.Wait()
	return res.Err()
}

// Dispose 实现 dispose.Disposable
func (f *Forwarder) Dispose() error { return f.Stop() }

func (f *Forwarder) acceptLoop(ln net.Listener) {
	ctx := f.life.Ctx()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !coreerrors.Is(err, net.ErrClosed) {
				f.log.WithError(err).Error("forward: accept failed")
			}
			return
		}
		f.loops.Go("bridge", func() { f.serve(ctx, conn) })
	}
}

func (f *Forwarder) serve(ctx context.Context, conn net.Conn) {
	f.total.Add(1)
	f.active.Add(1)
	defer f.active.Add(-1)

	st, err := f.opener.OpenStream(ctx, f.spec.Target)
	if err != nil {
		f.failed.Add(1)
		f.log.WithError(err).Warn("forward: open stream failed")
		_ = conn.Close()
		return
	}

	l := f.log.WithField(corelog.FieldStream, st.ID()).WithField(corelog.FieldRemote, conn.RemoteAddr().String())
	l.Debug("forward: bridging")
	res, err := Bridge(ctx, conn, st, f.opts)
	f.upstream.Add(res.Upstream)
	f.downstream.Add(res.Downstream)
	if err != nil {
		f.failed.Add(1)
		l.WithError(err).Debug("forward: bridge ended with error")
		return
	}
	l.Debugf("forward: done, up=%d down=%d", res.Upstream, res.Downstream)
}

// Stats 统计快照
func (f *Forwarder) Stats() ForwarderStats {
	addr := ""
	if a := f.Addr(); a != nil {
		addr = a.String()
	}
	return ForwarderStats{
		Spec:       f.spec.String(),
		Addr:       addr,
		Active:     f.active.Load(),
		Total:      f.total.Load(),
		Failed:     f.failed.Load(),
		Upstream:   f.upstream.Load(),
		Downstream: f.downstream.Load(),
	}
}

func (s ForwarderStats) String() string {
	return fmt.Sprintf("%s active=%d total=%d failed=%d", s.Spec, s.Active, s.Total, s.Failed)
}
