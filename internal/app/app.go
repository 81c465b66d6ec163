// Package app 按配置组装并运行隧道端点
//
// 服务端：传输监听 + 会话注册表 + 拨号服务；客户端：重连监督 + 本地转发 + 拨号服务。
// 两者都可以开启管理 API。退出时先将健康状态切到 draining，再逆序停止组件
package app

import (
	"context"
	"io"
	"os"
	"sync"

	"kq-tunnel/internal/api"
	"kq-tunnel/internal/config"
	"kq-tunnel/internal/config/schema"
	coreerrors "kq-tunnel/internal/core/errors"
	corelog "kq-tunnel/internal/core/log"
	"kq-tunnel/internal/core/metrics"
	"kq-tunnel/internal/health"
	"kq-tunnel/internal/mux/session"
	"kq-tunnel/internal/tunnel"
	"kq-tunnel/internal/version"
)

// Role 应用角色
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// Options 运行选项
type Options struct {
	ConfigPath string         // 仅用于展示
	Logger     corelog.Logger // 为空时使用默认 Logger
	Banner     io.Writer      // 非空时启动后输出横幅
	Observer   tunnel.Observer
}

// App 一个运行中的端点及其附属组件
type App struct {
	role Role
	cfg  *schema.Root
	opts Options
	log  corelog.Logger

	endpoint   tunnel.Endpoint
	server     *tunnel.Server
	client     *tunnel.Client
	forwarders []*tunnel.Forwarder
	dial       *tunnel.DialService
	api        *api.Server
	health     *health.Manager
	metrics    *metrics.MemoryMetrics

	comps []Component

	mu      sync.Mutex
	started bool
	stopped bool
}

// New 按角色和配置组装应用，不启动任何组件
func New(role Role, cfg *schema.Root, opts Options) (*App, error) {
	if cfg == nil {
		return nil, coreerrors.New(coreerrors.CodeInvalidParam, "config is required")
	}
	if opts.Logger == nil {
		opts.Logger = corelog.Default()
	}
	a := &App{
		role: role,
		cfg:  cfg,
		opts: opts,
		log:  corelog.Component(opts.Logger, "app"),
	}

	switch role {
	case RoleServer:
		srv, err := tunnel.NewServer(config.ServerConfig(cfg, opts.Logger, a.observe))
		if err != nil {
			return nil, err
		}
		a.server, a.endpoint = srv, srv
	case RoleClient:
		cli, err := tunnel.NewClient(config.ClientConfig(cfg, opts.Logger, a.observe))
		if err != nil {
			return nil, err
		}
		a.client, a.endpoint = cli, cli
	default:
		return nil, coreerrors.Newf(coreerrors.CodeInvalidParam, "unknown role %q", role)
	}
	a.health = health.NewManager(version.GetShortVersion(), a.endpoint)

	specs, err := config.ForwardSpecs(cfg)
	if err != nil {
		return nil, err
	}
	for _, spec := range specs {
		a.forwarders = append(a.forwarders, tunnel.NewForwarder(spec, a.endpoint, config.BridgeOptions(cfg), opts.Logger))
	}
	if cfg.Dial.Enabled {
		a.dial = tunnel.NewDialService(a.endpoint, config.DialServiceConfig(cfg, opts.Logger))
	}
	if cfg.API.Enabled {
		a.api = api.NewServer(api.Config{
			Listen:   cfg.API.Listen,
			Version:  version.GetShortVersion(),
			Logger:   opts.Logger,
			Forwards: a.ForwardStats,
		}, a.endpoint, a.health)
	}

	a.comps = a.components()
	return a, nil
}

// components 启动顺序：指标、端点、拨号服务、转发、管理 API
func (a *App) components() []Component {
	comps := []Component{
		&component{
			name: "metrics",
			start: func(ctx context.Context) error {
				if metrics.GetGlobalMetrics() != nil {
					return nil
				}
				// 进程级指标，生命周期与进程一致
				a.metrics = metrics.NewMemoryMetrics(context.Background())
				return metrics.SetGlobalMetrics(a.metrics)
			},
		},
		&component{name: "endpoint", start: a.endpoint.Start, stop: a.endpoint.Stop},
	}
	if a.dial != nil {
		comps = append(comps, &component{
			name:  "dial",
			start: func(ctx context.Context) error { a.dial.Start(ctx); return nil },
			stop:  a.dial.Stop,
		})
	}
	for _, f := range a.forwarders {
		comps = append(comps, &component{name: "forward " + f.Spec().String(), start: f.Start, stop: f.Stop})
	}
	if a.api != nil {
		comps = append(comps, &component{name: "api", start: a.api.Start, stop: a.api.Stop})
	}
	return comps
}

func (a *App) observe(ev tunnel.Event) {
	switch ev.Kind {
	case tunnel.EventSessionUp, tunnel.EventSessionResumed:
		if a.health.Status() == health.StatusUnhealthy {
			a.health.SetStatus(health.StatusHealthy)
		}
	case tunnel.EventSessionDown:
		if ev.Err != nil {
			a.health.SetDetail("last_session_error", ev.Err.Error())
		}
	case tunnel.EventTerminal:
		reason := "reconnect stopped"
		if ev.Err != nil {
			reason = ev.Err.Error()
		}
		a.health.MarkUnhealthy(reason)
	}
	if a.opts.Observer != nil {
		a.opts.Observer(ev)
	}
}

// Start 启动所有组件
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return coreerrors.New(coreerrors.CodeInvalidState, "app already started")
	}
	if err := startAll(ctx, a.log, a.comps); err != nil {
		return err
	}
	a.started = true
	a.log.Infof("app: %s running (%s)", a.role, a.cfg.Transport.Protocol)
	if a.opts.Banner != nil {
		a.printBanner(a.opts.Banner)
	}
	return nil
}

// Run 启动后阻塞到 ctx 取消或客户端放弃重连，然后停止
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	var terminal <-chan struct{}
	if a.client != nil {
		terminal = a.client.Done()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("app: shutting down")
	case <-terminal:
		runErr = a.client.Err()
		a.log.WithError(runErr).Error("app: client stopped")
	}

	if err := a.Stop(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Stop 切到 draining 后逆序停止组件，可重复调用
func (a *App) Stop() error {
	a.mu.Lock()
	if !a.started || a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	a.mu.Unlock()

	a.health.MarkDraining()
	return stopAll(a.log, a.comps)
}

// Endpoint 隧道端点
func (a *App) Endpoint() tunnel.Endpoint { return a.endpoint }

// Health 健康状态
func (a *App) Health() *health.Manager { return a.health }

// API 管理 API，未开启时为 nil
func (a *App) API() *api.Server { return a.api }

// Forwarders 本地转发器
func (a *App) Forwarders() []*tunnel.Forwarder { return a.forwarders }

// ServerAddr 服务端实际监听地址，客户端为空
func (a *App) ServerAddr() string {
	if a.server == nil || a.server.Addr() == nil {
		return ""
	}
	return a.server.Addr().String()
}

// ForwardStats 所有转发器的统计
func (a *App) ForwardStats() []tunnel.ForwarderStats {
	stats := make([]tunnel.ForwarderStats, 0, len(a.forwarders))
	for _, f := range a.forwarders {
		stats = append(stats, f.Stats())
	}
	return stats
}

// Snapshot 端点快照
func (a *App) Snapshot() tunnel.Snapshot { return a.endpoint.Snapshot() }

// SessionSnapshot 单个会话快照
func (a *App) SessionSnapshot(id string) (session.Snapshot, bool) {
	return a.endpoint.SessionSnapshot(id)
}

// DefaultBannerWriter 标准输出是终端时返回 os.Stdout，否则为 nil
func DefaultBannerWriter() io.Writer {
	if isTerminal(os.Stdout) {
		return os.Stdout
	}
	return nil
}
