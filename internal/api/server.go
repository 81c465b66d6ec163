// Package api 端点管理 HTTP 接口
//
// 只读：健康检查、端点与会话快照、转发统计和进程内指标
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	coreerrors "kq-tunnel/internal/core/errors"
	corelog "kq-tunnel/internal/core/log"
	"kq-tunnel/internal/core/safe"
	"kq-tunnel/internal/health"
	"kq-tunnel/internal/mux/session"
	"kq-tunnel/internal/transport"
	"kq-tunnel/internal/tunnel"
)

// BasePath API 前缀
const BasePath = "/api/v1"

const (
	shutdownTimeout = 5 * time.Second
	checkTimeout    = 2 * time.Second
)

// Source 端点信息来源，tunnel.Client 与 tunnel.Server 均满足
type Source interface {
	Snapshot() tunnel.Snapshot
	SessionSnapshot(id string) (session.Snapshot, bool)
}

// Config API 服务配置
type Config struct {
	Listen  string
	Version string
	Logger  corelog.Logger

	// Forwards 非 nil 时提供 /forwards
	Forwards func() []tunnel.ForwarderStats
}

// Server 管理 API 服务
type Server struct {
	cfg    Config
	log    corelog.Logger
	source Source
	health *health.Manager
	checks *health.Composite
	router *mux.Router

	mu      sync.Mutex
	server  *http.Server
	ln      net.Listener
	stopped bool
}

// NewServer 创建管理 API 服务
func NewServer(cfg Config, source Source, hm *health.Manager) *Server {
	if cfg.Logger == nil {
		cfg.Logger = corelog.Default()
	}
	if hm == nil {
		hm = health.NewManager(cfg.Version, source)
	}
	s := &Server{
		cfg:    cfg,
		log:    corelog.Component(cfg.Logger, "api"),
		source: source,
		health: hm,
		checks: health.NewComposite(checkTimeout),
		router: mux.NewRouter(),
	}
	s.checks.Register("endpoint", health.NewEndpointChecker(source))
	s.registerRoutes()
	return s
}

// Handler 返回路由，便于测试或挂到其他服务上
func (s *Server) Handler() http.Handler { return s.router }

// Health 健康状态管理器
func (s *Server) Health() *health.Manager { return s.health }

// RegisterChecker 追加健康检查项
func (s *Server) RegisterChecker(name string, c health.Checker) {
	s.checks.Register(name, c)
}

// registerRoutes 注册所有路由
func (s *Server) registerRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	api := s.router.PathPrefix(BasePath).Subrouter()
	api.Use(s.loggingMiddleware)
	api.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/forwards", s.handleForwards).Methods(http.MethodGet)
	api.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "not found")
	})
	notAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	// 子路由匹配失败时不会回落到父路由的处理器，两处都要设置
	for _, r := range []*mux.Router{s.router, api} {
		r.NotFoundHandler = notFound
		r.MethodNotAllowedHandler = notAllowed
	}
}

// Start 开始监听，ctx 取消时停止
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return coreerrors.New(coreerrors.CodeInvalidState, "api server already started")
	}

	ln, err := transport.Listen(ctx, "tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	s.ln = ln
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	srv := s.server
	context.AfterFunc(ctx, func() { s.Stop() })
	safe.Go("api-serve", func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			s.log.WithError(err).Error("api server stopped")
		}
	})
	s.log.Infof("api listening on http://%s%s", ln.Addr(), BasePath)
	return nil
}

// Addr 实际监听地址，未启动时为 nil
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop 优雅关闭，可重复调用
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.server
	if srv == nil || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// Dispose 实现 dispose.Disposable
func (s *Server) Dispose() error { return s.Stop() }

// loggingMiddleware 请求日志
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debugf("%s %s - %s", r.Method, r.RequestURI, time.Since(start))
	})
}
