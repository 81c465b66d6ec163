package tunnel

import (
	"context"
	"net"
	"sync"
	"time"

	coreerrors "kq-tunnel/internal/core/errors"
	corelog "kq-tunnel/internal/core/log"
	"kq-tunnel/internal/core/dispose"
	"kq-tunnel/internal/core/safe"
	"kq-tunnel/internal/mux/session"
	"kq-tunnel/internal/transport"
)

const serverStopTimeout = 10 * time.Second

// ServerConfig 服务端端点配置
type ServerConfig struct {
	Protocol string
	Listen   string

	Session  session.Config
	Observer Observer
	Logger   corelog.Logger

	// Listener 非 nil 时直接使用，忽略 Protocol/Listen
	Listener net.Listener
}

// Server 服务端端点：接受传输连接并为每个客户端维护一个会话
type Server struct {
	cfg ServerConfig
	log corelog.Logger

	reg       *session.Registry
	ln        net.Listener
	accepted  chan *session.Stream
	resources *dispose.ResourceManager
	loops     *safe.Group
	life      *dispose.Dispose

	mu      sync.Mutex
	started bool
}

// NewServer 创建服务端端点
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = corelog.Default()
	}
	if cfg.Session.Logger == nil {
		cfg.Session.Logger = cfg.Logger
	}
	if cfg.Listener == nil {
		if _, ok := transport.Lookup(cfg.Protocol); !ok {
			return nil, coreerrors.Newf(coreerrors.CodeUnknownProtocol, "protocol %q is not available", cfg.Protocol)
		}
	}
	reg, err := session.NewRegistry(cfg.Session)
	if err != nil {
		return nil, err
	}
	backlog := cfg.Session.AcceptBacklog
	if backlog <= 0 {
		backlog = session.DefaultAcceptBacklog
	}
	return &Server{
		cfg:       cfg,
		log:       corelog.Component(cfg.Logger, "tunnel.server"),
		reg:       reg,
		accepted:  make(chan *session.Stream, backlog),
		resources: dispose.NewResourceManager(),
		loops:     safe.NewGroup("tunnel-server", nil),
	}, nil
}

// Start 开始监听并在后台接受连接
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return coreerrors.New(coreerrors.CodeInvalidState, "server already started")
	}
	if err := ctx.Err(); err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeCancelled, "start server")
	}

	s.life = dispose.NewDispose(context.Background(), nil)
	ln := s.cfg.Listener
	if ln == nil {
		var err error
		ln, err = transport.Listen(s.life.Ctx(), s.cfg.Protocol, s.cfg.Listen)
		if err != nil {
			s.life.Close()
			return err
		}
	}
	s.ln = ln
	s.started = true

	// 逆序释放：先停止接受连接，再关闭所有会话
	_ = s.resources.Register("registry", dispose.DisposeFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
		defer cancel()
		return s.reg.Close(ctx)
	}))
	_ = s.resources.Register("listener", dispose.DisposeFunc(func() error {
		s.life.Close()
		err := ln.Close()
		if coreerrors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	}))

	s.log.Infof("server: listening on %s (%s)", ln.Addr(), s.cfg.Protocol)
	s.loops.Go("accept", s.acceptLoop)
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

// Stop 停止监听并优雅关闭所有会话
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
	defer cancel()
	res := s.resources.DisposeAll(ctx)
	if err := s.loops.WaitContext(ctx); err != nil {
		s.log.Warn("server: background loops did not exit in time")
	}
	return res.Err()
}

func (s *Server) acceptLoop() {
	ctx := s.life.Ctx()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || coreerrors.Is(err, net.ErrClosed) {
				return
			}
			s.log.WithError(err).Warn("server: accept failed")
			select {
			case <-time.After(100 * time.Millisecond):
			case <-ctx.Done():
				return
			}
			continue
		}
		s.loops.Go("handshake", func() { s.handle(ctx, conn) })
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	sess, outcome, err := s.reg.Handshake(ctx, conn)
	if err != nil {
		s.log.WithField(corelog.FieldRemote, remote).WithError(err).Warn("server: handshake failed")
		return
	}

	l := s.log.WithField(corelog.FieldSession, sess.ID()).WithField(corelog.FieldRemote, remote)
	if outcome == session.OutcomeResumed {
		l.Info("server: session resumed")
		s.emit(Event{Kind: EventSessionResumed, SessionID: sess.ID()})
		return
	}

	l.Info("server: session up")
	s.emit(Event{Kind: EventSessionUp, SessionID: sess.ID()})
	s.loops.Go("pump", func() { s.pump(ctx, sess) })
}

// pump 把会话上被接受的流汇入端点的 Accept 队列，会话结束时发出 SessionDown
func (s *Server) pump(ctx context.Context, sess *session.Session) {
	for {
		st, err := sess.AcceptStream(ctx)
		if err != nil {
			break
		}
		select {
		case s.accepted <- st:
		case <-ctx.Done():
			_ = st.Reset()
		}
	}

	select {
	case <-sess.Done():
		s.log.WithField(corelog.FieldSession, sess.ID()).WithError(sess.Err()).Info("server: session down")
		s.emit(Event{Kind: EventSessionDown, SessionID: sess.ID(), Err: sess.Err()})
	default:
	}
}

func (s *Server) emit(ev Event) {
	ev.Time = time.Now()
	if s.cfg.Observer != nil {
		s.cfg.Observer(ev)
	}
}

// Accept 接受任一客户端会话上打开的流
func (s *Server) Accept(ctx context.Context) (*session.Stream, error) {
	s.mu.Lock()
	life := s.life
	s.mu.Unlock()
	if life == nil {
		return nil, coreerrors.New(coreerrors.CodeInvalidState, "server not started")
	}

	select {
	case st := <-s.accepted:
		return st, nil
	case <-life.Ctx().Done():
		return nil, coreerrors.ErrSessionClosed
	case <-ctx.Done():
		return nil, coreerrors.Wrap(ctx.Err(), coreerrors.CodeCancelled, "accept stream")
	}
}

// OpenStream 在最近建立的存活会话上打开流
func (s *Server) OpenStream(ctx context.Context, target string) (*session.Stream, error) {
	list := s.reg.List()
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Err() == nil {
			return list[i].OpenStream(ctx, target)
		}
	}
	return nil, coreerrors.New(coreerrors.CodeNotFound, "no client session")
}

// OpenStreamOn 在指定会话上打开流
func (s *Server) OpenStreamOn(ctx context.Context, sessionID, target string) (*session.Stream, error) {
	sess := s.reg.Get(sessionID)
	if sess == nil {
		return nil, coreerrors.Newf(coreerrors.CodeNotFound, "session %s not found", sessionID)
	}
	return sess.OpenStream(ctx, target)
}

// Session 按 id 查找会话
func (s *Server) Session(id string) *session.Session {
	return s.reg.Get(id)
}

// Sessions 当前登记的会话，按建立时间排序
func (s *Server) Sessions() []*session.Session {
	return s.reg.List()
}

// Snapshot 端点快照
func (s *Server) Snapshot() Snapshot {
	s.mu.Lock()
	running := s.started && s.life != nil && !s.life.IsClosed()
	s.mu.Unlock()

	address := s.cfg.Listen
	if addr := s.Addr(); addr != nil {
		address = addr.String()
	}
	snap := Snapshot{
		Role:     session.RoleServer.String(),
		Protocol: s.cfg.Protocol,
		Address:  address,
		Running:  running,
		Sessions: []session.Snapshot{},
	}
	for _, sess := range s.reg.List() {
		snap.Sessions = append(snap.Sessions, sess.Snapshot())
	}
	return snap
}

// SessionSnapshot 按 id 查找会话快照
func (s *Server) SessionSnapshot(id string) (session.Snapshot, bool) {
	sess := s.reg.Get(id)
	if sess == nil {
		return session.Snapshot{}, false
	}
	return sess.Snapshot(), true
}

var _ Endpoint = (*Server)(nil)
