package session

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	coreerrors "kq-tunnel/internal/core/errors"
	"kq-tunnel/internal/mux/frame"
)

// ============================================================================
// 握手：Hello → Welcome → Confirm
// ============================================================================

type deadliner interface {
	SetDeadline(t time.Time) error
}

// guardHandshake 为握手设置超时：支持 deadline 的连接直接设置，
// 超时或 ctx 取消时关闭连接以打断阻塞的读写。返回的 release 可重复调用
func guardHandshake(ctx context.Context, timeout time.Duration, conn io.ReadWriteCloser) func() {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	dl, hasDeadline := conn.(deadliner)
	if hasDeadline {
		if d, ok := ctx.Deadline(); ok {
			_ = dl.SetDeadline(d)
		}
	}

	stopClose := context.AfterFunc(ctx, func() { _ = conn.Close() })

	var once sync.Once
	return func() {
		once.Do(func() {
			// 先撤销关闭回调再取消 ctx，释放后连接不会被关闭
			stopClose()
			cancel()
			if hasDeadline {
				_ = dl.SetDeadline(time.Time{})
			}
		})
	}
}

func writeFrame(w io.Writer, f frame.Frame) error {
	data, err := frame.Encode(f)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeHandshakeFailed, "write handshake")
	}
	return nil
}

func readHandshake(r io.Reader, dec *frame.Decoder, want frame.HandshakeKind) (frame.Handshake, error) {
	f, err := dec.ReadFrame(r)
	if err != nil {
		return frame.Handshake{}, coreerrors.Wrap(err, coreerrors.CodeHandshakeFailed, "read handshake")
	}
	h, err := frame.ParseHandshake(f)
	if err != nil {
		return frame.Handshake{}, err
	}
	if h.Kind != want {
		return frame.Handshake{}, coreerrors.Newf(coreerrors.CodeHandshakeFailed, "expected handshake kind %d, got %d", want, h.Kind)
	}
	return h, nil
}

// localHandshake 本端通告的参数
func localHandshake(cfg Config, kind frame.HandshakeKind) frame.Handshake {
	h := frame.Handshake{
		Kind:       kind,
		Version:    frame.ProtocolVersion,
		MaxPayload: cfg.MaxPayload,
		Window:     cfg.InitialWindow,
		Watermark:  uint32(cfg.BacklogWatermark),
	}
	if cfg.Resumable {
		h.Flags |= frame.FlagResumable
	}
	return h
}

func peerFrom(h frame.Handshake) peerParams {
	return peerParams{
		maxPayload: h.MaxPayload,
		window:     h.Window,
		watermark:  h.Watermark,
		resumable:  h.Resumable(),
	}
}

func mismatch(remote uint16) error {
	return coreerrors.WrapTyped(
		coreerrors.Newf(coreerrors.CodeHandshakeMismatch, "protocol version %d, peer %d", frame.ProtocolVersion, remote),
		coreerrors.ErrorTypeFatal, "handshake")
}

// Client 在 conn 上以客户端身份建立新会话
func Client(ctx context.Context, conn io.ReadWriteCloser, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return clientHandshake(ctx, conn, cfg, nil)
}

// Resume 在新的传输连接上恢复会话
//
// 服务端不认识该会话时，旧会话以 ErrResumeRejected 终止，并返回在 conn 上新建的会话；
// 序号无法对齐时放弃恢复、关闭 conn 并返回 ErrResumeRejected。
// 握手过程中的网络错误不影响旧会话，调用方可换一条连接重试
func (s *Session) Resume(ctx context.Context, conn io.ReadWriteCloser) (*Session, error) {
	if s.isClosed() {
		return nil, s.Err()
	}
	if s.role != RoleClient || !s.resumable {
		return nil, coreerrors.Newf(coreerrors.CodeResumeRejected, "session %s is not resumable", s.ID())
	}
	if err := s.detach(ctx, coreerrors.New(coreerrors.CodeTransport, "superseded by resume")); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.isClosed() {
		return nil, s.Err()
	}
	ns, err := clientHandshake(ctx, conn, s.cfg, s)
	if err != nil {
		if coreerrors.IsCode(err, coreerrors.CodeResumeRejected) || coreerrors.IsCode(err, coreerrors.CodeHandshakeMismatch) {
			s.fail(err)
		}
		return nil, err
	}
	if ns != s {
		s.fail(coreerrors.Wrapf(coreerrors.ErrResumeRejected, coreerrors.CodeResumeRejected, "server started new session %s", ns.ID()))
	}
	return ns, nil
}

// clientHandshake 客户端握手；prev 非 nil 时尝试恢复，调用方持有 prev.writeMu
func clientHandshake(ctx context.Context, conn io.ReadWriteCloser, cfg Config, prev *Session) (*Session, error) {
	release := guardHandshake(ctx, cfg.HandshakeTimeout, conn)
	defer release()

	dec := frame.NewDecoder(cfg.MaxPayload)

	hello := localHandshake(cfg, frame.KindHello)
	if prev != nil {
		hello.SessionID = prev.id
		hello.RecvSeq = prev.rxSeq.Load()
	}
	if err := writeFrame(conn, hello.Frame()); err != nil {
		return nil, err
	}

	welcome, err := readHandshake(conn, dec, frame.KindWelcome)
	if err != nil {
		return nil, err
	}
	if welcome.Status == frame.StatusRejected || welcome.Version != frame.ProtocolVersion {
		_ = conn.Close()
		return nil, mismatch(welcome.Version)
	}
	peer := peerFrom(welcome)
	if err := peer.validate(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	confirm := localHandshake(cfg, frame.KindConfirm)
	switch welcome.Status {
	case frame.StatusResumed:
		if prev == nil || welcome.SessionID != prev.id {
			_ = conn.Close()
			return nil, coreerrors.New(coreerrors.CodeHandshakeFailed, "unexpected resume acknowledgement")
		}
		if !prev.backlog.CanResume(welcome.RecvSeq) {
			confirm.Status = frame.StatusAbort
			_ = writeFrame(conn, confirm.Frame())
			_ = conn.Close()
			return nil, coreerrors.Wrapf(coreerrors.ErrResumeRejected, coreerrors.CodeResumeRejected,
				"peer received %d, last sent %d", welcome.RecvSeq, prev.backlog.LastSeq())
		}
		confirm.SessionID = prev.id
		confirm.RecvSeq = prev.rxSeq.Load()
		if err := writeFrame(conn, confirm.Frame()); err != nil {
			return nil, err
		}
		release()
		prev.resumeLocked(conn, dec, welcome.RecvSeq)
		return prev, nil

	case frame.StatusNew:
		if welcome.SessionID == uuid.Nil {
			_ = conn.Close()
			return nil, coreerrors.New(coreerrors.CodeHandshakeFailed, "server assigned empty session id")
		}
		confirm.SessionID = welcome.SessionID
		if err := writeFrame(conn, confirm.Frame()); err != nil {
			return nil, err
		}
		release()
		resumable := cfg.Resumable && peer.resumable
		s := newSession(RoleClient, welcome.SessionID, cfg, peer, resumable)
		s.start(conn, dec)
		return s, nil

	default:
		_ = conn.Close()
		return nil, coreerrors.Newf(coreerrors.CodeHandshakeFailed, "unexpected welcome status %s", welcome.Status)
	}
}
