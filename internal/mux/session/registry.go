package session

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"

	coreerrors "kq-tunnel/internal/core/errors"
	corelog "kq-tunnel/internal/core/log"
	"kq-tunnel/internal/core/metrics"
	"kq-tunnel/internal/core/safe"
	"kq-tunnel/internal/mux/frame"
)

// Outcome 服务端握手结果
type Outcome uint8

const (
	OutcomeNew Outcome = iota
	OutcomeResumed
)

func (o Outcome) String() string {
	if o == OutcomeResumed {
		return "resumed"
	}
	return "new"
}

// Registry 服务端会话注册表
//
// 按会话 id 索引活动与挂起的会话，客户端带着会话 id 重连时在这里找回并恢复
type Registry struct {
	cfg Config
	log corelog.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	closed   bool
}

// NewRegistry 创建注册表
func NewRegistry(cfg Config) (*Registry, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Registry{
		cfg:      cfg,
		log:      corelog.Component(cfg.Logger, "registry"),
		sessions: make(map[uuid.UUID]*Session),
	}, nil
}

// Handshake 在新接入的连接上执行服务端握手
//
// 返回新建或恢复的会话；恢复时返回的会话与此前 Handshake 返回的是同一个对象，
// 调用方不应再次为其启动接收循环。失败时 conn 已被关闭
func (r *Registry) Handshake(ctx context.Context, conn io.ReadWriteCloser) (*Session, Outcome, error) {
	s, outcome, err := r.handshake(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, outcome, err
	}
	return s, outcome, nil
}

func (r *Registry) handshake(ctx context.Context, conn io.ReadWriteCloser) (*Session, Outcome, error) {
	if r.isClosed() {
		return nil, OutcomeNew, coreerrors.ErrSessionClosed
	}

	release := guardHandshake(ctx, r.cfg.HandshakeTimeout, conn)
	defer release()

	dec := frame.NewDecoder(r.cfg.MaxPayload)
	hello, err := readHandshake(conn, dec, frame.KindHello)
	if err != nil {
		if coreerrors.IsCode(err, coreerrors.CodeHandshakeMismatch) {
			r.reject(conn)
			return nil, OutcomeNew, mismatch(0)
		}
		return nil, OutcomeNew, err
	}
	if hello.Version != frame.ProtocolVersion {
		r.reject(conn)
		return nil, OutcomeNew, mismatch(hello.Version)
	}
	peer := peerFrom(hello)
	if err := peer.validate(); err != nil {
		r.reject(conn)
		return nil, OutcomeNew, err
	}

	resumable := r.cfg.Resumable && peer.resumable
	if resumable && hello.SessionID != uuid.Nil {
		if prev := r.Get(hello.SessionID.String()); prev != nil && prev.resumable {
			ok, err := r.resume(ctx, prev, conn, dec, hello)
			if err != nil {
				return nil, OutcomeResumed, err
			}
			if ok {
				release()
				return prev, OutcomeResumed, nil
			}
		} else {
			r.log.WithField(corelog.FieldSession, hello.SessionID.String()).Info("registry: unknown session, starting new one")
		}
	}

	id := uuid.New()
	welcome := localHandshake(r.cfg, frame.KindWelcome)
	welcome.Status = frame.StatusNew
	welcome.SessionID = id
	if err := writeFrame(conn, welcome.Frame()); err != nil {
		return nil, OutcomeNew, err
	}
	confirm, err := readHandshake(conn, dec, frame.KindConfirm)
	if err != nil {
		return nil, OutcomeNew, err
	}
	if confirm.Status != frame.StatusNew || confirm.SessionID != id {
		return nil, OutcomeNew, coreerrors.Newf(coreerrors.CodeHandshakeFailed, "client did not confirm session (%s)", confirm.Status)
	}
	release()

	s := newSession(RoleServer, id, r.cfg, peer, resumable)
	if !r.add(s) {
		return nil, OutcomeNew, coreerrors.ErrSessionClosed
	}
	s.start(conn, dec)
	return s, OutcomeNew, nil
}

// resume 尝试在 conn 上恢复 prev
//
// 返回 false 且无错误时表示序号无法对齐，prev 已终止，调用方回落为新建会话
func (r *Registry) resume(ctx context.Context, prev *Session, conn io.ReadWriteCloser, dec *frame.Decoder, hello frame.Handshake) (bool, error) {
	log := r.log.WithField(corelog.FieldSession, prev.ID())

	// 旧连接可能尚未被察觉断开，直接取代
	if err := prev.detach(ctx, coreerrors.New(coreerrors.CodeTransport, "superseded by resume")); err != nil {
		return false, err
	}

	prev.writeMu.Lock()
	defer prev.writeMu.Unlock()

	if prev.isClosed() {
		log.Info("registry: session ended before resume, starting new one")
		return false, nil
	}
	if !prev.backlog.CanResume(hello.RecvSeq) {
		log.Warnf("registry: cannot resume, peer received %d, last sent %d", hello.RecvSeq, prev.backlog.LastSeq())
		prev.fail(coreerrors.Wrapf(coreerrors.ErrResumeRejected, coreerrors.CodeResumeRejected,
			"peer sequence %d out of range", hello.RecvSeq))
		return false, nil
	}

	welcome := localHandshake(r.cfg, frame.KindWelcome)
	welcome.Status = frame.StatusResumed
	welcome.SessionID = prev.id
	welcome.RecvSeq = prev.rxSeq.Load()
	if err := writeFrame(conn, welcome.Frame()); err != nil {
		return false, err
	}

	confirm, err := readHandshake(conn, dec, frame.KindConfirm)
	if err != nil {
		return false, err
	}
	if confirm.Status == frame.StatusAbort {
		prev.fail(coreerrors.Wrap(coreerrors.ErrResumeRejected, coreerrors.CodeResumeRejected, "client aborted resume"))
		return false, coreerrors.ErrResumeRejected
	}
	if confirm.Status != frame.StatusNew || confirm.SessionID != prev.id {
		return false, coreerrors.Newf(coreerrors.CodeHandshakeFailed, "bad resume confirm (%s)", confirm.Status)
	}

	prev.resumeLocked(conn, dec, hello.RecvSeq)
	r.updateGauges()
	return true, nil
}

// reject 回复版本不兼容
func (r *Registry) reject(conn io.Writer) {
	welcome := localHandshake(r.cfg, frame.KindWelcome)
	welcome.Status = frame.StatusRejected
	_ = writeFrame(conn, welcome.Frame())
}

func (r *Registry) add(s *Session) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.sessions[s.id] = s
	r.mu.Unlock()

	safe.Go("registry-reap", func() {
		<-s.Done()
		r.mu.Lock()
		if r.sessions[s.id] == s {
			delete(r.sessions, s.id)
		}
		r.mu.Unlock()
		r.updateGauges()
	})
	safe.Go("registry-suspend", func() { r.watchSuspend(s) })
	return true
}

// watchSuspend 跟踪挂起状态以更新指标
func (r *Registry) watchSuspend(s *Session) {
	for {
		select {
		case <-s.Done():
			return
		case <-s.TransportLost():
			r.updateGauges()
		}
	}
}

func (r *Registry) updateGauges() {
	metrics.SetSuspendedSessions(r.Suspended())
}

func (r *Registry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Get 按 id 查找会话
func (r *Registry) Get(id string) *Session {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[uid]
}

// List 所有会话，按创建时间排序
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].createdAt.Before(out[j].createdAt) })
	return out
}

// Len 会话数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Suspended 挂起中的会话数量
func (r *Registry) Suspended() int {
	n := 0
	for _, s := range r.List() {
		if s.State() == StateSuspended {
			n++
		}
	}
	return n
}

// Close 拒绝新的握手并关闭所有会话
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	g := safe.NewGroup("registry-close", nil)
	for _, s := range r.List() {
		g.Go("shutdown", func() { _ = s.Shutdown(ctx) })
	}
	g.Wait()
	r.updateGauges()
	return nil
}
