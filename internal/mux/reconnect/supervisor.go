package reconnect

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	coreerrors "kq-tunnel/internal/core/errors"
	corelog "kq-tunnel/internal/core/log"
	"kq-tunnel/internal/core/dispose"
	"kq-tunnel/internal/core/metrics"
	"kq-tunnel/internal/core/safe"
	"kq-tunnel/internal/mux/session"
	timeutil "kq-tunnel/internal/utils/time"
)

// Dialer 建立一条新的传输连接
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// EventKind 生命周期事件类型
type EventKind uint8

const (
	EventSessionUp EventKind = iota
	EventSessionResumed
	EventSessionDown
	EventReconnectAttempt
	EventTerminal
)

func (k EventKind) String() string {
	switch k {
	case EventSessionUp:
		return "session_up"
	case EventSessionResumed:
		return "session_resumed"
	case EventSessionDown:
		return "session_down"
	case EventReconnectAttempt:
		return "reconnect_attempt"
	case EventTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Event 生命周期事件
type Event struct {
	Kind      EventKind
	SessionID string
	Attempt   int
	Err       error
	Time      time.Time
}

// Stats 连接尝试与结果的累计次数，首次连接同样计入
type Stats struct {
	Attempts uint64 `json:"attempts"`
	Resumed  uint64 `json:"resumed"`
	Fresh    uint64 `json:"fresh"`
	Failed   uint64 `json:"failed"`
}

// Observer 接收生命周期事件，在监督协程中同步调用，不应阻塞
type Observer func(Event)

// Supervisor 客户端会话监督者
type Supervisor struct {
	dial     Dialer
	cfg      session.Config
	policy   Policy
	observer Observer
	log      corelog.Logger
	breaker  *circuitBreaker

	life  *dispose.Dispose
	loops *safe.Group

	mu      sync.Mutex
	current *session.Session
	changed chan struct{} // 当前会话变化时关闭
	started bool

	done    chan struct{}
	doneErr error
	once    sync.Once

	attempts atomic.Uint64
	resumed  atomic.Uint64
	fresh    atomic.Uint64
	failed   atomic.Uint64
}

// New 创建 Supervisor，observer 可为 nil
func New(dial Dialer, cfg session.Config, policy Policy, observer Observer) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = corelog.Default()
	}
	policy = policy.withDefaults()
	log := corelog.Component(cfg.Logger, "reconnect")
	return &Supervisor{
		dial:     dial,
		cfg:      cfg,
		policy:   policy,
		observer: observer,
		log:      log,
		breaker:  newCircuitBreaker(policy.CircuitBreakerThreshold, policy.CircuitBreakerTimeout, log),
		loops:    safe.NewGroup("reconnect", nil),
		changed:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start 建立首个会话并开始监督
//
// 首次连接同样按策略重试；策略耗尽或遇到致命错误时返回错误
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return coreerrors.Newf(coreerrors.CodeInvalidState, "supervisor already started")
	}
	s.started = true
	s.mu.Unlock()

	s.life = dispose.NewDispose(context.Background(), nil)

	// Start 的 ctx 只约束首次连接
	stop := context.AfterFunc(ctx, func() { s.life.Close() })
	sess, err := s.establish(s.life.Ctx(), nil)
	stop()
	if err != nil {
		s.terminate(err)
		s.life.Close()
		return err
	}

	s.setCurrent(sess)
	s.emit(Event{Kind: EventSessionUp, SessionID: sess.ID()})
	s.loops.Go("supervise", func() { s.supervise(sess) })
	return nil
}

// Session 返回当前会话，重建期间等待新会话就绪
//
// 挂起中的会话同样返回，其上打开的流在恢复后发出
func (s *Supervisor) Session(ctx context.Context) (*session.Session, error) {
	for {
		s.mu.Lock()
		cur, changed := s.current, s.changed
		s.mu.Unlock()

		if cur != nil && cur.Err() == nil {
			return cur, nil
		}
		select {
		case <-changed:
		case <-s.done:
			return nil, s.doneErr
		case <-ctx.Done():
			return nil, coreerrors.Wrap(ctx.Err(), coreerrors.CodeCancelled, "wait for session")
		}
	}
}

// Current 当前会话，可能为 nil 或已终止
func (s *Supervisor) Current() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Changed 当前会话变化时关闭的通道，每次变化后需重新获取
func (s *Supervisor) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// Done 监督结束（致命错误、策略耗尽或 Close）时关闭
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Err 监督结束的原因
func (s *Supervisor) Err() error {
	select {
	case <-s.done:
		return s.doneErr
	default:
		return nil
	}
}

// Close 停止重连并优雅关闭当前会话
func (s *Supervisor) Close() error {
	if s.life == nil {
		s.terminate(coreerrors.ErrSessionClosed)
		return nil
	}
	s.life.Close()
	if cur := s.Current(); cur != nil {
		_ = cur.Close()
	}
	s.terminate(coreerrors.ErrSessionClosed)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout+time.Second)
	defer cancel()
	return s.loops.WaitContext(ctx)
}

// Stats 返回累计的尝试与结果次数
func (s *Supervisor) Stats() Stats {
	return Stats{
		Attempts: s.attempts.Load(),
		Resumed:  s.resumed.Load(),
		Fresh:    s.fresh.Load(),
		Failed:   s.failed.Load(),
	}
}

func (s *Supervisor) setCurrent(sess *session.Session) {
	s.mu.Lock()
	s.current = sess
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

func (s *Supervisor) emit(ev Event) {
	ev.Time = time.Now()
	if s.observer != nil {
		s.observer(ev)
	}
}

func (s *Supervisor) terminate(err error) {
	s.once.Do(func() {
		s.doneErr = err
		close(s.done)
		if !coreerrors.Is(err, coreerrors.ErrSessionClosed) {
			metrics.ReconnectOutcome("terminal")
			s.log.WithError(err).Error("reconnect: giving up")
			s.emit(Event{Kind: EventTerminal, Err: err})
		}
	})
}

// supervise 监视当前会话直到监督结束
func (s *Supervisor) supervise(sess *session.Session) {
	ctx := s.life.Ctx()
	for {
		select {
		case <-ctx.Done():
			return

		case cause := <-sess.TransportLost():
			s.log.WithField(corelog.FieldSession, sess.ID()).WithError(cause).Warn("reconnect: transport lost, resuming")
			next, err := s.establish(ctx, sess)
			if err != nil {
				if ctx.Err() == nil {
					_ = sess.Close()
					s.terminate(err)
				}
				return
			}
			if next == sess {
				s.emit(Event{Kind: EventSessionResumed, SessionID: sess.ID()})
				continue
			}
			s.emit(Event{Kind: EventSessionDown, SessionID: sess.ID(), Err: sess.Err()})
			sess = next
			s.setCurrent(sess)
			s.emit(Event{Kind: EventSessionUp, SessionID: sess.ID()})

		case <-sess.Done():
			if ctx.Err() != nil {
				return
			}
			cause := sess.Err()
			s.emit(Event{Kind: EventSessionDown, SessionID: sess.ID(), Err: cause})
			if !coreerrors.IsRetryable(cause) {
				// 协议违规与致命错误重连也无法恢复
				s.terminate(cause)
				return
			}
			s.log.WithField(corelog.FieldSession, sess.ID()).WithError(cause).Warn("reconnect: session ended, starting a new one")
			next, err := s.establish(ctx, nil)
			if err != nil {
				if ctx.Err() == nil {
					s.terminate(err)
				}
				return
			}
			sess = next
			s.setCurrent(sess)
			s.emit(Event{Kind: EventSessionUp, SessionID: sess.ID()})
		}
	}
}

// establish 按策略重试直到得到可用会话
//
// prev 非 nil 时优先恢复 prev；prev 在过程中终止（恢复被拒或超时）后改为新建会话
func (s *Supervisor) establish(ctx context.Context, prev *session.Session) (*session.Session, error) {
	b := s.policy.backoff()
	timer := timeutil.NewSafeTimer(time.Hour)
	defer timer.Stop()

	var lastErr error
	for attempt := 1; ; attempt++ {
		if s.policy.MaxAttempts > 0 && attempt > s.policy.MaxAttempts {
			return nil, coreerrors.Wrapf(coreerrors.ErrAttemptsExhausted, coreerrors.CodeAttemptsExhaust,
				"%d attempts, last error: %v", s.policy.MaxAttempts, lastErr)
		}
		if attempt > 1 || prev != nil {
			timer.Reset(b.Duration())
			select {
			case <-timer.C():
			case <-ctx.Done():
				return nil, coreerrors.Wrap(ctx.Err(), coreerrors.CodeCancelled, "reconnect")
			}
		}

		resuming := prev != nil && prev.Err() == nil
		s.emit(Event{Kind: EventReconnectAttempt, Attempt: attempt})
		s.attempts.Add(1)
		metrics.ReconnectAttempt()

		sess, err := s.attempt(ctx, prev, resuming)
		if err == nil {
			s.breaker.success()
			if resuming && sess == prev {
				s.resumed.Add(1)
				metrics.ReconnectOutcome("resumed")
			} else {
				s.fresh.Add(1)
				metrics.ReconnectOutcome("fresh")
			}
			s.log.WithField("attempt", attempt).WithField(corelog.FieldSession, sess.ID()).Info("reconnect: session ready")
			return sess, nil
		}
		if ctx.Err() != nil {
			return nil, coreerrors.Wrap(ctx.Err(), coreerrors.CodeCancelled, "reconnect")
		}
		if !coreerrors.IsRetryable(err) {
			return nil, err
		}

		lastErr = err
		s.failed.Add(1)
		metrics.ReconnectOutcome("failed")
		s.log.WithField("attempt", attempt).WithError(err).Warn("reconnect: attempt failed")
		if pause := s.breaker.failure(); pause > 0 {
			timer.Reset(pause)
			select {
			case <-timer.C():
			case <-ctx.Done():
				return nil, coreerrors.Wrap(ctx.Err(), coreerrors.CodeCancelled, "reconnect")
			}
		}
	}
}

func (s *Supervisor) attempt(ctx context.Context, prev *session.Session, resuming bool) (*session.Session, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeDialFailed, "dial")
	}

	var sess *session.Session
	if resuming {
		sess, err = prev.Resume(ctx, conn)
	} else {
		sess, err = session.Client(ctx, conn, s.cfg)
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return sess, nil
}
