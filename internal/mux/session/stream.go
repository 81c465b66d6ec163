package session

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	coreerrors "kq-tunnel/internal/core/errors"
	corelog "kq-tunnel/internal/core/log"
	"kq-tunnel/internal/core/metrics"
	"kq-tunnel/internal/mux/flow"
	"kq-tunnel/internal/mux/frame"
)

// StreamState 逻辑流状态
type StreamState uint8

const (
	StateIdle StreamState = iota
	StateOpen
	StateHalfClosedLocal
	StateHalfClosedRemote
	StateClosed
	StateReset
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateHalfClosedLocal:
		return "half_closed_local"
	case StateHalfClosedRemote:
		return "half_closed_remote"
	case StateClosed:
		return "closed"
	case StateReset:
		return "reset"
	default:
		return "unknown"
	}
}

type outKind uint8

const (
	outOpen outKind = iota
	outData
	outFin
)

type outItem struct {
	kind outKind
	data []byte
}

// broadcast 关闭即广播的唤醒通道，调用方负责加锁
type broadcast struct {
	ch chan struct{}
}

func (b *broadcast) wait() <-chan struct{} {
	if b.ch == nil {
		b.ch = make(chan struct{})
	}
	return b.ch
}

func (b *broadcast) notify() {
	if b.ch != nil {
		close(b.ch)
		b.ch = nil
	}
}

// Stream 会话中的一个逻辑流
//
// 实现 io.ReadWriteCloser。Write 在窗口耗尽时挂起，Close 为优雅关闭（发送 Close 帧），
// Reset 为异常终止。流结束后句柄仍可安全调用，均返回终止错误
type Stream struct {
	id     uint32
	target string
	local  bool
	sess   *Session
	send   *flow.SendWindow
	recv   *flow.RecvWindow
	log    corelog.Logger

	mu         sync.Mutex
	state      StreamState
	localFin   bool
	remoteFin  bool
	readClosed bool
	finished   bool
	err        error
	readBuf    [][]byte
	buffered   int
	readWake   broadcast
	outq       []outItem
	done       chan struct{}

	// writeClosed 在写方向关闭或流结束时关闭，唤醒等待窗口的写者
	writeClosed chan struct{}

	// queued 由 scheduler.mu 保护
	queued bool

	bytesIn  atomic.Int64
	bytesOut atomic.Int64
}

func newStream(s *Session, id uint32, target string, local bool) *Stream {
	return &Stream{
		id:     id,
		target: target,
		local:  local,
		sess:   s,
		send:   flow.NewSendWindow(s.peer.window),
		recv:   flow.NewRecvWindow(s.cfg.InitialWindow, s.cfg.WindowUpdateRatio),
		log:    s.log.WithField(corelog.FieldStream, id),
		state:  StateIdle,
		done:   make(chan struct{}),

		writeClosed: make(chan struct{}),
	}
}

// ID 流 id
func (st *Stream) ID() uint32 { return st.id }

// Target Open 时携带的目标地址
func (st *Stream) Target() string { return st.target }

// Local 是否由本端发起
func (st *Stream) Local() bool { return st.local }

// SessionID 所属会话 id
func (st *Stream) SessionID() string { return st.sess.ID() }

// Done 流结束（正常关闭或被重置）时关闭
func (st *Stream) Done() <-chan struct{} { return st.done }

// State 当前状态
func (st *Stream) State() StreamState {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

// Err 终止错误，正常关闭时为 nil
func (st *Stream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

// InFlight 已发送但尚未被对端归还额度的字节数
func (st *Stream) InFlight() int64 {
	return st.send.InFlight()
}

// ============================================================================
// 应用侧接口
// ============================================================================

// Read 读取对端数据，对端 Close 且缓冲读尽后返回 io.EOF
func (st *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		st.mu.Lock()
		if st.err != nil {
			err := st.err
			st.mu.Unlock()
			return 0, err
		}
		if st.buffered > 0 {
			n := st.drainLocked(p)
			remoteFin := st.remoteFin
			st.mu.Unlock()

			if !remoteFin {
				if credit := st.recv.Consume(n); credit > 0 {
					st.sess.queueControl(frame.NewWindowUpdate(st.id, credit))
				}
			}
			return n, nil
		}
		if st.remoteFin {
			st.mu.Unlock()
			return 0, io.EOF
		}
		if st.readClosed {
			st.mu.Unlock()
			return 0, coreerrors.ErrStreamClosed
		}
		wake := st.readWake.wait()
		st.mu.Unlock()

		select {
		case <-wake:
		case <-st.done:
		}
	}
}

func (st *Stream) drainLocked(p []byte) int {
	n := 0
	for n < len(p) && len(st.readBuf) > 0 {
		c := copy(p[n:], st.readBuf[0])
		n += c
		if c == len(st.readBuf[0]) {
			st.readBuf[0] = nil
			st.readBuf = st.readBuf[1:]
		} else {
			st.readBuf[0] = st.readBuf[0][c:]
		}
	}
	st.buffered -= n
	return n
}

// Write 写入数据，窗口耗尽时挂起直到对端归还额度或流结束
func (st *Stream) Write(p []byte) (int, error) {
	return st.WriteContext(context.Background(), p)
}

// WriteContext 带取消的写入
func (st *Stream) WriteContext(ctx context.Context, p []byte) (int, error) {
	chunkMax := int(st.sess.peer.maxPayload)
	written := 0
	for len(p) > 0 {
		if err := st.writable(); err != nil {
			return written, err
		}

		want := len(p)
		if want > chunkMax {
			want = chunkMax
		}
		n := st.send.Reserve(want)
		if n == 0 {
			if err := st.send.Wait(ctx, st.writeClosed); err != nil {
				if e := st.writable(); e != nil {
					return written, e
				}
				return written, err
			}
			continue
		}

		chunk := make([]byte, n)
		copy(chunk, p[:n])

		st.mu.Lock()
		if st.err != nil || st.localFin {
			st.mu.Unlock()
			return written, st.writable()
		}
		st.outq = append(st.outq, outItem{kind: outData, data: chunk})
		st.mu.Unlock()
		st.sess.sched.markReady(st)

		st.bytesOut.Add(int64(n))
		written += n
		p = p[n:]
	}
	return written, nil
}

func (st *Stream) writable() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.err != nil {
		return st.err
	}
	if st.localFin {
		return coreerrors.ErrStreamClosed
	}
	return nil
}

// CloseWrite 半关闭：发送 Close 帧，之后仍可读取对端数据
func (st *Stream) CloseWrite() error {
	st.mu.Lock()
	if st.err != nil {
		err := st.err
		st.mu.Unlock()
		return err
	}
	if st.localFin {
		st.mu.Unlock()
		return nil
	}
	st.localFin = true
	st.shutWriteLocked()
	st.outq = append(st.outq, outItem{kind: outFin})
	switch st.state {
	case StateIdle, StateOpen:
		st.state = StateHalfClosedLocal
	case StateHalfClosedRemote:
		st.state = StateClosed
	}
	closed := st.state == StateClosed && st.finishLocked()
	st.mu.Unlock()

	st.sess.sched.markReady(st)
	if closed {
		st.onFinished(false)
	}
	return nil
}

// Close 优雅关闭：丢弃未读数据并归还额度，再半关闭写方向
//
// 对端尚未 Close 时流停留在 HalfClosedLocal，后续到达的数据被丢弃
func (st *Stream) Close() error {
	st.mu.Lock()
	if st.err != nil || st.finished {
		st.mu.Unlock()
		return nil
	}
	st.readClosed = true
	discarded := st.buffered
	st.readBuf = nil
	st.buffered = 0
	remoteFin := st.remoteFin
	st.readWake.notify()
	st.mu.Unlock()

	if !remoteFin {
		if credit := st.recv.Consume(discarded); credit > 0 {
			st.sess.queueControl(frame.NewWindowUpdate(st.id, credit))
		}
	}
	return st.CloseWrite()
}

// Reset 异常终止流，丢弃未发送的数据并通知对端
func (st *Stream) Reset() error {
	st.resetLocal(frame.ResetCancel, coreerrors.ErrStreamReset)
	return nil
}

// ============================================================================
// 会话侧接口
// ============================================================================

// finishLocked 标记流结束，仅第一次返回 true
func (st *Stream) finishLocked() bool {
	if st.finished {
		return false
	}
	st.finished = true
	close(st.done)
	st.shutWriteLocked()
	st.readWake.notify()
	return true
}

func (st *Stream) shutWriteLocked() {
	select {
	case <-st.writeClosed:
	default:
		close(st.writeClosed)
	}
}

// onFinished 流结束后的表操作与统计，不持有 st.mu
func (st *Stream) onFinished(reset bool) {
	reason := tombClosed
	if reset {
		reason = tombResetLocal
	}
	st.sess.table.remove(st.id, reason)
	metrics.StreamFinished(reset)
	st.log.Debugf("session: stream finished, reset=%v in=%d out=%d", reset, st.bytesIn.Load(), st.bytesOut.Load())
}

// resetLocal 本端重置：清空发送队列，表中写入本端重置墓碑，并发送 Reset 帧
func (st *Stream) resetLocal(code frame.ResetCode, cause error) {
	st.mu.Lock()
	if st.finished {
		st.mu.Unlock()
		return
	}
	st.err = cause
	st.state = StateReset
	st.outq = nil
	st.readBuf = nil
	st.buffered = 0
	st.finishLocked()
	st.mu.Unlock()

	st.sess.table.remove(st.id, tombResetLocal)
	st.sess.queueControl(frame.NewReset(st.id, code))
	metrics.StreamFinished(true)
	st.log.Debugf("session: stream reset locally, code=%s", code)
}

// onRemoteReset 对端重置
func (st *Stream) onRemoteReset(code frame.ResetCode) {
	st.mu.Lock()
	if st.finished {
		st.mu.Unlock()
		return
	}
	st.err = coreerrors.Wrapf(coreerrors.ErrStreamReset, coreerrors.CodeStreamReset, "stream %d reset by peer (%s)", st.id, code)
	st.state = StateReset
	st.outq = nil
	st.readBuf = nil
	st.buffered = 0
	st.finishLocked()
	st.mu.Unlock()

	st.sess.table.remove(st.id, tombResetByPeer)
	metrics.StreamFinished(true)
	st.log.Debugf("session: stream reset by peer, code=%s", code)
}

// onData 处理对端数据，返回的错误对整个会话致命
func (st *Stream) onData(p []byte) error {
	if err := st.recv.Receive(len(p)); err != nil {
		return err
	}

	st.mu.Lock()
	if st.finished && st.err != nil {
		st.mu.Unlock()
		return nil
	}
	if st.remoteFin {
		st.mu.Unlock()
		st.sess.noteViolation("data_after_close")
		st.log.Warn("session: data after peer close, resetting stream")
		st.resetLocal(frame.ResetProtocol, coreerrors.Newf(coreerrors.CodeStreamReset, "stream %d: data after peer close", st.id))
		return nil
	}
	if st.readClosed {
		st.mu.Unlock()
		if credit := st.recv.Consume(len(p)); credit > 0 {
			st.sess.queueControl(frame.NewWindowUpdate(st.id, credit))
		}
		return nil
	}
	if len(p) > 0 {
		st.readBuf = append(st.readBuf, p)
		st.buffered += len(p)
		st.bytesIn.Add(int64(len(p)))
		st.readWake.notify()
	}
	st.mu.Unlock()
	return nil
}

// onRemoteClose 对端结束写方向
func (st *Stream) onRemoteClose() {
	st.mu.Lock()
	if st.finished || st.remoteFin {
		st.mu.Unlock()
		return
	}
	st.remoteFin = true
	switch st.state {
	case StateIdle, StateOpen:
		st.state = StateHalfClosedRemote
	case StateHalfClosedLocal:
		st.state = StateClosed
	}
	st.readWake.notify()
	closed := st.state == StateClosed && st.finishLocked()
	st.mu.Unlock()

	if closed {
		st.onFinished(false)
	}
}

// terminate 会话级终止：流表已由调用方清空
func (st *Stream) terminate(cause error) {
	st.mu.Lock()
	if st.finished {
		st.mu.Unlock()
		return
	}
	st.err = cause
	st.state = StateReset
	st.outq = nil
	st.finishLocked()
	st.mu.Unlock()
	metrics.StreamFinished(true)
}

// enqueueOpen 排队 Open 帧，必须先于任何 Data
func (st *Stream) enqueueOpen() {
	st.mu.Lock()
	st.outq = append(st.outq, outItem{kind: outOpen, data: []byte(st.target)})
	st.state = StateOpen
	st.mu.Unlock()
	st.sess.sched.markReady(st)
}

// pop 由调度器调用，取出队首帧
//
// ok 为 false 且 more 为 true 表示队首帧因重放缓冲已满暂不能发送
func (st *Stream) pop(admit func(size int) bool) (f frame.Frame, ok bool, more bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if len(st.outq) == 0 {
		return frame.Frame{}, false, false
	}
	head := st.outq[0]
	if !admit(frame.HeaderSize + len(head.data)) {
		return frame.Frame{}, false, true
	}
	st.outq[0] = outItem{}
	st.outq = st.outq[1:]

	switch head.kind {
	case outOpen:
		f = frame.NewOpen(st.id, st.target)
	case outData:
		f = frame.NewData(st.id, head.data)
	case outFin:
		f = frame.NewClose(st.id)
	}
	return f, true, len(st.outq) > 0
}

// snapshot 流状态快照
func (st *Stream) snapshot() StreamSnapshot {
	st.mu.Lock()
	state, buffered, queued := st.state, st.buffered, len(st.outq)
	st.mu.Unlock()
	return StreamSnapshot{
		ID:       st.id,
		Target:   st.target,
		Local:    st.local,
		State:    state.String(),
		InFlight: st.send.InFlight(),
		Buffered: buffered,
		Queued:   queued,
		BytesIn:  st.bytesIn.Load(),
		BytesOut: st.bytesOut.Load(),
	}
}
