package session

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	coreerrors "kq-tunnel/internal/core/errors"
	corelog "kq-tunnel/internal/core/log"
	"kq-tunnel/internal/core/metrics"
	"kq-tunnel/internal/core/safe"
	"kq-tunnel/internal/mux/frame"
	timeutil "kq-tunnel/internal/utils/time"
)

// State 会话状态
type State int32

const (
	StateHandshaking State = iota
	StateActive
	StateSuspended // 传输丢失，等待恢复
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateSuspended:
		return "suspended"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "closed"
	default:
		return "unknown"
	}
}

// Session 多路复用会话
//
// 锁顺序：writeMu → tmu；scheduler.mu → Stream.mu → Backlog.mu
type Session struct {
	id        uuid.UUID
	role      Role
	cfg       Config
	peer      peerParams
	resumable bool
	log       corelog.Logger
	createdAt time.Time

	table   *streamTable
	sched   *scheduler
	backlog *Backlog

	txSeq atomic.Uint64 // 最近一次写出的序号帧
	rxSeq atomic.Uint64 // 最近一次收到的序号帧

	ackMu          sync.Mutex
	unackedFrames  int
	unackedBytes   int
	ackBytesThresh int

	// writeMu 串行化所有对传输连接的写入，并在恢复期间阻止写循环
	writeMu sync.Mutex

	tmu          sync.Mutex
	conn         io.ReadWriteCloser
	gen          uint64
	ready        chan struct{} // 挂上传输连接时关闭
	readerDone   chan struct{} // 当前代读循环退出时关闭
	suspendTimer *time.Timer

	state     atomic.Int32
	accepting atomic.Bool
	goAway    atomic.Bool
	lost      chan error

	acceptCh  chan *Stream
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error

	loops    *safe.Group
	activity *timeutil.ActivityClock

	pingMu sync.Mutex
	pings  map[uint64]time.Time
	nonce  atomic.Uint64
	rtt    atomic.Int64

	framesSent atomic.Uint64
	framesRecv atomic.Uint64
	bytesSent  atomic.Uint64
	bytesRecv  atomic.Uint64
	reconnects atomic.Uint64
	violations atomic.Uint64
}

func newSession(role Role, id uuid.UUID, cfg Config, peer peerParams, resumable bool) *Session {
	s := &Session{
		id:        id,
		role:      role,
		cfg:       cfg,
		peer:      peer,
		resumable: resumable,
		createdAt: time.Now(),
		table:     newStreamTable(role, cfg.CloseGrace, cfg.TombstoneCapacity),
		ready:     make(chan struct{}),
		lost:      make(chan error, 1),
		acceptCh:  make(chan *Stream, cfg.AcceptBacklog),
		closed:    make(chan struct{}),
		activity:  timeutil.NewActivityClock(),
		pings:     make(map[uint64]time.Time),
	}
	s.log = corelog.Component(cfg.Logger, "session").WithFields(map[string]interface{}{
		corelog.FieldSession: id.String(),
		"role":               role.String(),
	})

	var admit func(int) bool
	if resumable {
		s.backlog = NewBacklog(cfg.BacklogWatermark)
		admit = s.backlog.Admit
	}
	s.sched = newScheduler(admit)

	s.ackBytesThresh = int(peer.watermark / 4)
	if s.ackBytesThresh <= 0 {
		s.ackBytesThresh = DefaultBacklogWatermark / 4
	}

	s.loops = safe.NewGroup("session-"+id.String()[:8], func(r interface{}) {
		s.fail(coreerrors.Newf(coreerrors.CodeInternal, "session loop panic: %v", r))
	})
	s.state.Store(int32(StateHandshaking))
	s.accepting.Store(true)
	return s
}

// start 挂上首个传输连接并启动写循环与心跳
func (s *Session) start(conn io.ReadWriteCloser, dec *frame.Decoder) {
	s.writeMu.Lock()
	s.attach(conn, dec)
	s.writeMu.Unlock()

	s.loops.Go("write", s.writeLoop)
	s.loops.Go("keepalive", s.keepaliveLoop)

	metrics.SessionUp()
	s.log.Infof("session: established, resumable=%v peer_max_payload=%d peer_window=%d",
		s.resumable, s.peer.maxPayload, s.peer.window)
}

// ID 会话 id
func (s *Session) ID() string { return s.id.String() }

// UUID 会话 id
func (s *Session) UUID() uuid.UUID { return s.id }

// Role 本端角色
func (s *Session) Role() Role { return s.role }

// Resumable 是否协商了断线恢复
func (s *Session) Resumable() bool { return s.resumable }

// State 当前状态
func (s *Session) State() State { return State(s.state.Load()) }

// Done 会话终止时关闭
func (s *Session) Done() <-chan struct{} { return s.closed }

// TransportLost 传输丢失且会话进入挂起时收到一个通知
//
// 重连器据此发起恢复；不可恢复的会话直接终止，不会在此通知
func (s *Session) TransportLost() <-chan error { return s.lost }

// Err 会话终止原因，未终止时为 nil
func (s *Session) Err() error {
	select {
	case <-s.closed:
		return s.closeErr
	default:
		return nil
	}
}

// NumStreams 活动流数量
func (s *Session) NumStreams() int { return s.table.len() }

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// OpenStream 打开一个新的逻辑流
//
// 立即返回：Open 帧排队后即可写入，数据保证在 Open 之后发出。
// 传输挂起期间打开的流在恢复后发出
func (s *Session) OpenStream(ctx context.Context, target string) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeCancelled, "open stream")
	}
	if s.isClosed() {
		return nil, s.Err()
	}
	if !s.accepting.Load() {
		return nil, coreerrors.ErrSessionClosed
	}
	if s.goAway.Load() {
		return nil, coreerrors.ErrGoAway
	}
	if len(target) > int(s.peer.maxPayload) {
		return nil, coreerrors.Newf(coreerrors.CodeInvalidParam, "target too long: %d bytes", len(target))
	}

	id, err := s.table.allocate()
	if err != nil {
		return nil, err
	}
	st := newStream(s, id, target, true)
	s.table.insertLocal(st)

	// 与 fail 竞争：插入后会话已终止则流不会被 drain 到
	if s.isClosed() {
		s.table.remove(id, tombResetLocal)
		return nil, s.Err()
	}

	st.enqueueOpen()
	metrics.StreamOpened("local")
	st.log.Debugf("session: stream opened, target=%q", target)
	return st, nil
}

// AcceptStream 等待对端打开的下一个流
func (s *Session) AcceptStream(ctx context.Context) (*Stream, error) {
	select {
	case st := <-s.acceptCh:
		return st, nil
	case <-s.closed:
		return nil, s.Err()
	case <-ctx.Done():
		return nil, coreerrors.Wrap(ctx.Err(), coreerrors.CodeCancelled, "accept stream")
	}
}

// queueControl 排队控制帧，会话终止后丢弃
func (s *Session) queueControl(f frame.Frame) {
	if s.isClosed() {
		return
	}
	s.sched.pushControl(outbound{frame: f})
}

// Close 优雅关闭，排空超时取 DrainTimeout
func (s *Session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown 优雅关闭：停止接受新流，尽力发出已排队的帧，发送 GoAway 后终止
//
// ctx 到期后不再等待，直接终止会话
func (s *Session) Shutdown(ctx context.Context) error {
	if s.isClosed() {
		return nil
	}
	s.accepting.Store(false)
	s.state.CompareAndSwap(int32(StateActive), int32(StateDraining))
	s.log.Info("session: draining")

	if s.connected() {
		s.drain(ctx)
	}
	if s.connected() {
		written := make(chan error, 1)
		s.sched.pushControl(outbound{frame: frame.NewGoAway(frame.GoAwayNormal), written: written})
		select {
		case <-written:
		case <-ctx.Done():
		case <-s.closed:
		}
	}

	s.fail(coreerrors.ErrSessionClosed)

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.loops.WaitContext(waitCtx); err != nil {
		s.log.Warn("session: loops did not exit in time")
	}
	return nil
}

// drain 等待调度器排空
func (s *Session) drain(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for s.sched.pending() {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			s.log.Warn("session: drain timeout, dropping queued frames")
			return
		case <-s.closed:
			return
		}
	}
}

// fail 终止会话：关闭传输连接，以 cause 终止所有流
func (s *Session) fail(cause error) {
	s.closeOnce.Do(func() {
		if cause == nil {
			cause = coreerrors.ErrSessionClosed
		}
		s.closeErr = cause
		s.state.Store(int32(StateTerminated))
		s.accepting.Store(false)
		close(s.closed)

		s.tmu.Lock()
		conn := s.conn
		s.conn = nil
		timeutil.StopTimer(s.suspendTimer)
		s.suspendTimer = nil
		s.tmu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}

		streams := s.table.drain()
		for _, st := range streams {
			st.terminate(cause)
		}

		if s.backlog != nil {
			metrics.SetBacklogBytes(s.ID(), 0)
		}
		metrics.SessionDown()

		if coreerrors.Is(cause, coreerrors.ErrSessionClosed) {
			s.log.Infof("session: closed, streams=%d", len(streams))
		} else {
			s.log.WithError(cause).Warnf("session: terminated, streams=%d", len(streams))
		}
	})
}

// ============================================================================
// 传输连接管理
// ============================================================================

// attach 挂上新一代传输连接并启动其读循环，调用方持有 writeMu
func (s *Session) attach(conn io.ReadWriteCloser, dec *frame.Decoder) {
	s.tmu.Lock()
	s.gen++
	gen := s.gen
	s.conn = conn
	done := make(chan struct{})
	s.readerDone = done
	timeutil.StopTimer(s.suspendTimer)
	s.suspendTimer = nil
	close(s.ready)
	s.tmu.Unlock()

	if !s.state.CompareAndSwap(int32(StateSuspended), int32(StateActive)) {
		s.state.CompareAndSwap(int32(StateHandshaking), int32(StateActive))
	}
	s.activity.Touch()
	s.resetAck()

	s.loops.Go("read", func() { s.readLoop(gen, conn, dec, done) })
}

// current 当前传输连接与代号，挂起时 conn 为 nil
func (s *Session) current() (io.ReadWriteCloser, uint64) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return s.conn, s.gen
}

func (s *Session) connected() bool {
	conn, _ := s.current()
	return conn != nil
}

func (s *Session) readyChan() <-chan struct{} {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return s.ready
}

// transportLost 第 gen 代传输连接失效
//
// 可恢复会话进入挂起并通知重连器，ResumeTimeout 内未恢复则终止；否则立即终止
func (s *Session) transportLost(gen uint64, cause error) {
	s.tmu.Lock()
	if gen != s.gen || s.conn == nil {
		s.tmu.Unlock()
		return
	}
	conn := s.conn
	s.conn = nil
	s.ready = make(chan struct{})
	s.tmu.Unlock()
	_ = conn.Close()

	if s.isClosed() {
		return
	}

	if s.goAway.Load() {
		s.fail(coreerrors.ErrGoAway)
		return
	}
	lost := coreerrors.Wrap(cause, coreerrors.CodeTransport, "transport lost")
	if !s.resumable || s.State() == StateDraining {
		s.fail(coreerrors.Wrapf(coreerrors.ErrTransportLost, coreerrors.CodeTransport, "transport lost: %v", cause))
		return
	}

	s.state.Store(int32(StateSuspended))
	s.tmu.Lock()
	if s.conn == nil && s.gen == gen {
		s.suspendTimer = time.AfterFunc(s.cfg.ResumeTimeout, func() { s.resumeExpired(gen) })
	}
	s.tmu.Unlock()

	s.log.WithField(corelog.FieldGen, gen).WithError(cause).Warn("session: transport lost, suspended")
	select {
	case s.lost <- lost:
	default:
	}
}

func (s *Session) resumeExpired(gen uint64) {
	s.tmu.Lock()
	expired := s.conn == nil && s.gen == gen
	s.tmu.Unlock()
	if expired {
		s.fail(coreerrors.ErrResumeTimeout)
	}
}

// detach 主动丢弃当前传输连接（被新连接取代），并等待其读循环退出
func (s *Session) detach(ctx context.Context, cause error) error {
	conn, gen := s.current()
	if conn != nil {
		s.transportLost(gen, cause)
	}
	s.tmu.Lock()
	done := s.readerDone
	s.tmu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return coreerrors.Wrap(ctx.Err(), coreerrors.CodeTimeout, "wait for previous reader")
	}
}

// resumeLocked 在新连接上恢复：裁剪重放缓冲、挂上连接并重放对端缺失的帧
//
// 调用方持有 writeMu，保证重放先于写循环的任何新帧
func (s *Session) resumeLocked(conn io.ReadWriteCloser, dec *frame.Decoder, peerRecv uint64) {
	if _, err := s.backlog.Trim(peerRecv); err != nil {
		s.log.WithError(err).Warn("session: trim on resume")
	}
	replay := s.backlog.After(peerRecv)

	s.attach(conn, dec)
	_, gen := s.current()

	for _, data := range replay {
		if _, err := conn.Write(data); err != nil {
			s.transportLost(gen, err)
			return
		}
		s.bytesSent.Add(uint64(len(data)))
	}

	s.reconnects.Add(1)
	metrics.FramesReplayed(len(replay))
	metrics.SetBacklogBytes(s.ID(), s.backlog.Bytes())
	s.log.WithField(corelog.FieldGen, gen).Infof("session: resumed, replayed=%d peer_recv=%d", len(replay), peerRecv)
}
