package session

import (
	"io"
	"time"

	coreerrors "kq-tunnel/internal/core/errors"
	"kq-tunnel/internal/core/metrics"
	"kq-tunnel/internal/mux/frame"
	timeutil "kq-tunnel/internal/utils/time"
)

const maxOutstandingPings = 16

// ============================================================================
// 写循环：会话的唯一写者
// ============================================================================

func (s *Session) writeLoop() {
	var buf []byte
	for {
		o, ok := s.sched.next()
		if !ok {
			select {
			case <-s.sched.wakeup():
				continue
			case <-s.closed:
				return
			}
		}
		if !s.writeOutbound(o, &buf) {
			return
		}
	}
}

// writeOutbound 写出一帧，挂起期间等待新的传输连接；会话终止时返回 false
//
// 序号帧在写出前分配序号并进入重放缓冲，写失败的帧在恢复时随缓冲一起重放
func (s *Session) writeOutbound(o outbound, buf *[]byte) bool {
	for {
		s.writeMu.Lock()
		conn, gen := s.current()
		if conn == nil {
			s.writeMu.Unlock()
			select {
			case <-s.readyChan():
				continue
			case <-s.closed:
				notify(o, coreerrors.ErrSessionClosed)
				return false
			}
		}

		var (
			data []byte
			err  error
		)
		if o.frame.Sequenced() {
			data, err = frame.Encode(o.frame)
			if err == nil {
				seq := s.txSeq.Add(1)
				if s.backlog != nil {
					err = s.backlog.Push(seq, data)
				}
			}
		} else {
			data, err = frame.AppendEncode((*buf)[:0], o.frame)
			*buf = data
		}
		if err != nil {
			s.writeMu.Unlock()
			notify(o, err)
			s.fail(coreerrors.Wrap(err, coreerrors.CodeInternal, "encode outbound frame"))
			return false
		}

		_, err = conn.Write(data)
		s.writeMu.Unlock()

		if err != nil {
			notify(o, err)
			s.transportLost(gen, err)
			return true
		}

		s.framesSent.Add(1)
		s.bytesSent.Add(uint64(len(data)))
		metrics.FrameSent(o.frame.Type.String(), len(o.frame.Payload))
		notify(o, nil)
		return true
	}
}

func notify(o outbound, err error) {
	if o.written != nil {
		select {
		case o.written <- err:
		default:
		}
	}
}

// ============================================================================
// 读循环：每代传输连接一个
// ============================================================================

func (s *Session) readLoop(gen uint64, conn io.Reader, dec *frame.Decoder, done chan struct{}) {
	defer close(done)

	for {
		f, err := dec.ReadFrame(conn)
		if err != nil {
			if coreerrors.IsCode(err, coreerrors.CodeMalformedFrame) {
				s.noteViolation("malformed_frame")
				s.fail(coreerrors.Wrap(err, coreerrors.CodeProtocolViolation, "malformed frame"))
				return
			}
			s.transportLost(gen, err)
			return
		}
		if s.isClosed() {
			return
		}

		s.activity.Touch()
		s.framesRecv.Add(1)
		s.bytesRecv.Add(uint64(f.EncodedLen()))
		metrics.FrameReceived(f.Type.String(), len(f.Payload))

		if f.Sequenced() {
			s.rxSeq.Add(1)
			s.noteReceived(f.EncodedLen())
		}

		if err := s.handleFrame(f); err != nil {
			s.noteViolation(f.Type.String())
			s.log.WithError(err).Errorf("session: protocol violation on %s", f)
			s.fail(err)
			return
		}
	}
}

// handleFrame 分发一个入站帧，返回的错误对会话致命
func (s *Session) handleFrame(f frame.Frame) error {
	switch f.Type {
	case frame.TypeHandshake:
		return coreerrors.New(coreerrors.CodeProtocolViolation, "unexpected handshake frame")

	case frame.TypeOpen:
		return s.handleOpen(f)

	case frame.TypeData:
		return s.handleData(f)

	case frame.TypeWindowUpdate:
		credit, err := f.Credit()
		if err != nil {
			return violation(err)
		}
		if st := s.table.get(f.StreamID); st != nil {
			if err := st.send.Update(credit); err != nil {
				return violation(err)
			}
		}

	case frame.TypeClose:
		if len(f.Payload) != 0 {
			return coreerrors.Newf(coreerrors.CodeProtocolViolation, "close frame with %d byte payload", len(f.Payload))
		}
		if st := s.table.get(f.StreamID); st != nil {
			st.onRemoteClose()
		}

	case frame.TypeReset:
		code, err := f.ResetCode()
		if err != nil {
			return violation(err)
		}
		if st := s.table.get(f.StreamID); st != nil {
			st.onRemoteReset(code)
		}

	case frame.TypePing:
		nonce, err := f.Nonce()
		if err != nil {
			return violation(err)
		}
		s.queueControl(frame.NewPong(nonce))

	case frame.TypePong:
		nonce, err := f.Nonce()
		if err != nil {
			return violation(err)
		}
		s.observePong(nonce)

	case frame.TypeAck:
		seq, err := f.AckSeq()
		if err != nil {
			return violation(err)
		}
		if s.backlog == nil {
			return nil
		}
		if _, err := s.backlog.Trim(seq); err != nil {
			return err
		}
		metrics.SetBacklogBytes(s.ID(), s.backlog.Bytes())
		s.sched.signal()

	case frame.TypeGoAway:
		code, err := f.GoAwayCode()
		if err != nil {
			return violation(err)
		}
		s.goAway.Store(true)
		s.log.Infof("session: peer going away, code=%d", code)
	}
	return nil
}

func violation(err error) error {
	return coreerrors.Wrap(err, coreerrors.CodeProtocolViolation, "bad frame payload")
}

// noteViolation 记录对端协议违规，计入会话统计与全局指标
func (s *Session) noteViolation(kind string) {
	s.violations.Add(1)
	metrics.ProtocolViolation(kind)
}

// handleOpen 对端打开新流；不合法或接收队列已满时回 Reset(Refused)，不影响会话
func (s *Session) handleOpen(f frame.Frame) error {
	target, err := f.Target()
	if err != nil {
		return violation(err)
	}

	refuse := func(reason string) {
		s.table.refuse(f.StreamID)
		s.queueControl(frame.NewReset(f.StreamID, frame.ResetRefused))
		s.log.Warnf("session: refused stream %d: %s", f.StreamID, reason)
	}

	if !s.accepting.Load() {
		refuse("session draining")
		return nil
	}

	st := newStream(s, f.StreamID, target, false)
	st.state = StateOpen
	if err := s.table.acceptRemote(st); err != nil {
		s.noteViolation("open_refused")
		refuse(err.Error())
		return nil
	}

	select {
	case s.acceptCh <- st:
		metrics.StreamOpened("remote")
		st.log.Debugf("session: stream accepted, target=%q", target)
	default:
		s.table.remove(f.StreamID, tombResetLocal)
		s.queueControl(frame.NewReset(f.StreamID, frame.ResetRefused))
		s.log.Warnf("session: accept backlog full, refused stream %d", f.StreamID)
	}
	return nil
}

// handleData 按墓碑原因处理迟到的数据，未知流的数据是致命错误
func (s *Session) handleData(f frame.Frame) error {
	st := s.table.get(f.StreamID)
	if st != nil {
		if err := st.onData(f.Payload); err != nil {
			return coreerrors.Wrapf(err, coreerrors.CodeProtocolViolation, "stream %d", f.StreamID)
		}
		return nil
	}

	reason, ok := s.table.tombstone(f.StreamID)
	if !ok {
		return coreerrors.Newf(coreerrors.CodeProtocolViolation, "data for unknown stream %d", f.StreamID)
	}
	switch reason {
	case tombResetByPeer:
		s.noteViolation("data_after_peer_reset")
		s.log.Warnf("session: data on stream %d after peer reset, dropped", f.StreamID)
	case tombClosed:
		s.noteViolation("data_after_close")
		s.log.Warnf("session: data on closed stream %d, dropped", f.StreamID)
	}
	return nil
}

// ============================================================================
// 确认与心跳
// ============================================================================

// noteReceived 累计收到的序号帧，达到阈值时发送 Ack
func (s *Session) noteReceived(n int) {
	if !s.resumable {
		return
	}
	s.ackMu.Lock()
	s.unackedFrames++
	s.unackedBytes += n
	due := s.unackedFrames >= DefaultAckFrames || s.unackedBytes >= s.ackBytesThresh
	if due {
		s.unackedFrames, s.unackedBytes = 0, 0
	}
	s.ackMu.Unlock()
	if due {
		s.queueControl(frame.NewAck(s.rxSeq.Load()))
	}
}

// flushAck 有未确认的帧时立即发送 Ack
func (s *Session) flushAck() {
	if !s.resumable {
		return
	}
	s.ackMu.Lock()
	due := s.unackedFrames > 0
	s.unackedFrames, s.unackedBytes = 0, 0
	s.ackMu.Unlock()
	if due {
		s.queueControl(frame.NewAck(s.rxSeq.Load()))
	}
}

// resetAck 新连接握手已交换接收序号，之前的累计清零
func (s *Session) resetAck() {
	s.ackMu.Lock()
	s.unackedFrames, s.unackedBytes = 0, 0
	s.ackMu.Unlock()
}

func (s *Session) keepaliveLoop() {
	interval := s.cfg.KeepaliveInterval
	timer := timeutil.NewSafeTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-timer.C():
		}
		timer.Reset(interval)

		conn, gen := s.current()
		if conn == nil {
			continue
		}
		if s.activity.Expired(s.cfg.KeepaliveTimeout) {
			s.log.Warnf("session: no traffic for %s", s.activity.IdleFor().Round(time.Millisecond))
			s.transportLost(gen, coreerrors.ErrKeepaliveTimeout)
			continue
		}

		nonce := s.nonce.Add(1)
		s.pingMu.Lock()
		if len(s.pings) >= maxOutstandingPings {
			s.pings = make(map[uint64]time.Time)
		}
		s.pings[nonce] = time.Now()
		s.pingMu.Unlock()

		s.queueControl(frame.NewPing(nonce))
		s.flushAck()
	}
}

func (s *Session) observePong(nonce uint64) {
	s.pingMu.Lock()
	sent, ok := s.pings[nonce]
	delete(s.pings, nonce)
	s.pingMu.Unlock()
	if !ok {
		return
	}
	rtt := time.Since(sent)
	s.rtt.Store(int64(rtt))
	metrics.ObserveRTT(rtt)
}

// RTT 最近一次心跳往返时延，尚无样本时为 0
func (s *Session) RTT() time.Duration {
	return time.Duration(s.rtt.Load())
}
