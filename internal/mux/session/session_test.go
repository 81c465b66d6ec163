package session

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	coreerrors "kq-tunnel/internal/core/errors"
	corelog "kq-tunnel/internal/core/log"
	"kq-tunnel/internal/mux/frame"
)

// ============================================================================
// 测试辅助
// ============================================================================

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Logger = corelog.NewNopLogger()
	cfg.KeepaliveInterval = time.Hour
	cfg.KeepaliveTimeout = 2 * time.Hour
	cfg.DrainTimeout = 500 * time.Millisecond
	return cfg
}

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	reg, err := NewRegistry(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = reg.Close(ctx)
	})
	return reg
}

type handshakeResult struct {
	s       *Session
	outcome Outcome
	err     error
}

func serverHandshake(reg *Registry, conn net.Conn) <-chan handshakeResult {
	ch := make(chan handshakeResult, 1)
	go func() {
		s, outcome, err := reg.Handshake(context.Background(), conn)
		ch <- handshakeResult{s: s, outcome: outcome, err: err}
	}()
	return ch
}

func connect(t *testing.T, reg *Registry, cfg Config, cconn, sconn net.Conn) (*Session, *Session) {
	t.Helper()
	ch := serverHandshake(reg, sconn)
	client, err := Client(context.Background(), cconn, cfg)
	require.NoError(t, err)
	r := <-ch
	require.NoError(t, r.err)
	require.Equal(t, OutcomeNew, r.outcome)
	t.Cleanup(func() { _ = client.Close() })
	return client, r.s
}

func pair(t *testing.T, cfg Config) (*Session, *Session) {
	t.Helper()
	c, s := net.Pipe()
	return connect(t, newTestRegistry(t, cfg), cfg, c, s)
}

func serveEcho(s *Session) {
	go func() {
		for {
			st, err := s.AcceptStream(context.Background())
			if err != nil {
				return
			}
			go func() {
				_, _ = io.Copy(st, st)
				_ = st.CloseWrite()
			}()
		}
	}()
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// cutConn 打开 blackhole 后写入被静默吞掉，模拟在网络中丢失的帧
type cutConn struct {
	net.Conn
	blackhole atomic.Bool
}

func (c *cutConn) Write(p []byte) (int, error) {
	if c.blackhole.Load() {
		return len(p), nil
	}
	return c.Conn.Write(p)
}

// rawHandshake 不建立会话，手工完成客户端握手，返回后续读帧用的解码器
func rawHandshake(t *testing.T, conn net.Conn) *frame.Decoder {
	t.Helper()
	cfg := testConfig()
	dec := frame.NewDecoder(cfg.MaxPayload)
	require.NoError(t, writeFrame(conn, localHandshake(cfg, frame.KindHello).Frame()))
	welcome, err := readHandshake(conn, dec, frame.KindWelcome)
	require.NoError(t, err)
	confirm := localHandshake(cfg, frame.KindConfirm)
	confirm.SessionID = welcome.SessionID
	require.NoError(t, writeFrame(conn, confirm.Frame()))
	return dec
}

// rawFrames 在后台持续读取对端发来的帧
func rawFrames(conn net.Conn, dec *frame.Decoder) <-chan frame.Frame {
	ch := make(chan frame.Frame, 64)
	go func() {
		defer close(ch)
		for {
			f, err := dec.ReadFrame(conn)
			if err != nil {
				return
			}
			ch <- f
		}
	}()
	return ch
}

// nextFrame 跳过其他类型，等待指定类型的帧
func nextFrame(t *testing.T, frames <-chan frame.Frame, typ frame.Type) frame.Frame {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f, ok := <-frames:
			require.True(t, ok, "connection closed while waiting for %s", typ)
			if f.Type == typ {
				return f
			}
		case <-timeout:
			t.Fatalf("no %s frame received", typ)
		}
	}
}

// rawSession 服务端会话加手工驱动的客户端连接
func rawSession(t *testing.T) (*Session, net.Conn, <-chan frame.Frame) {
	t.Helper()
	reg := newTestRegistry(t, testConfig())
	c, s := net.Pipe()
	t.Cleanup(func() { _ = c.Close() })

	ch := serverHandshake(reg, s)
	dec := rawHandshake(t, c)
	r := <-ch
	require.NoError(t, r.err)
	return r.s, c, rawFrames(c, dec)
}

func requireAlive(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
		t.Fatalf("session terminated: %v", s.Err())
	default:
	}
}

// ============================================================================
// 数据传输
// ============================================================================

func TestSession_StreamRoundTrip(t *testing.T) {
	client, server := pair(t, testConfig())
	ctx := context.Background()

	payload := randomBytes(t, 1<<20) // 超过默认窗口，必然经历流控
	st, err := client.OpenStream(ctx, "db:5432")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), st.ID())

	writeErr := make(chan error, 1)
	go func() {
		_, err := st.Write(payload)
		if err == nil {
			err = st.CloseWrite()
		}
		writeErr <- err
	}()

	peer, err := server.AcceptStream(ctx)
	require.NoError(t, err)
	assert.Equal(t, "db:5432", peer.Target())
	assert.False(t, peer.Local())

	got, err := io.ReadAll(peer)
	require.NoError(t, err)
	require.NoError(t, <-writeErr)
	assert.True(t, bytes.Equal(payload, got), "payload corrupted: got %d bytes", len(got))

	reply := []byte("pong")
	_, err = peer.Write(reply)
	require.NoError(t, err)
	require.NoError(t, peer.Close())

	back, err := io.ReadAll(st)
	require.NoError(t, err)
	assert.Equal(t, reply, back)

	assert.Eventually(t, func() bool {
		return client.NumStreams() == 0 && server.NumStreams() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestSession_ConcurrentStreams(t *testing.T) {
	client, server := pair(t, testConfig())
	serveEcho(server)

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 16; i++ {
		payload := randomBytes(t, 64*1024+i)
		g.Go(func() error {
			st, err := client.OpenStream(ctx, "echo")
			if err != nil {
				return err
			}
			go func() {
				_, _ = st.Write(payload)
				_ = st.CloseWrite()
			}()
			got, err := io.ReadAll(st)
			if err != nil {
				return err
			}
			if !bytes.Equal(payload, got) {
				return coreerrors.Newf(coreerrors.CodeInternal, "stream %d echoed %d of %d bytes", st.ID(), len(got), len(payload))
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestSession_StreamIDsUniqueAndParity(t *testing.T) {
	client, server := pair(t, testConfig())
	ctx := context.Background()

	seen := make(map[uint32]bool)
	for i := 0; i < 50; i++ {
		st, err := client.OpenStream(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, uint32(1), st.ID()%2)
		assert.False(t, seen[st.ID()], "id %d reused", st.ID())
		seen[st.ID()] = true
		require.NoError(t, st.Reset())
	}

	st, err := server.OpenStream(ctx, "reverse")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), st.ID()%2)

	accepted, err := client.AcceptStream(ctx)
	require.NoError(t, err)
	assert.Equal(t, st.ID(), accepted.ID())
	assert.Equal(t, "reverse", accepted.Target())
}

func TestSession_Backpressure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPayload = 1024
	cfg.InitialWindow = 4096
	client, server := pair(t, cfg)
	ctx := context.Background()

	st, err := client.OpenStream(ctx, "slow")
	require.NoError(t, err)
	n, err := st.Write(make([]byte, 4096))
	require.NoError(t, err)
	assert.Equal(t, 4096, n)
	assert.Equal(t, int64(4096), st.InFlight())

	// 对端未读取，窗口耗尽后写入挂起
	wctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	n, err = st.WriteContext(wctx, []byte("x"))
	assert.Error(t, err)
	assert.Zero(t, n)

	peer, err := server.AcceptStream(ctx)
	require.NoError(t, err)
	buf := make([]byte, 4096)
	_, err = io.ReadFull(peer, buf)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := st.Write([]byte("x"))
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("write did not resume after window update")
	}
}

func TestSession_CloseReleasesBlockedWrite(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPayload = 1024
	cfg.InitialWindow = 4096
	client, _ := pair(t, cfg)
	ctx := context.Background()

	for name, closeFn := range map[string]func(*Stream) error{
		"close":       (*Stream).Close,
		"close write": (*Stream).CloseWrite,
	} {
		t.Run(name, func(t *testing.T) {
			st, err := client.OpenStream(ctx, "stuck")
			require.NoError(t, err)
			_, err = st.Write(make([]byte, 4096))
			require.NoError(t, err)

			done := make(chan error, 1)
			go func() {
				_, err := st.Write([]byte("blocked"))
				done <- err
			}()
			select {
			case err := <-done:
				t.Fatalf("write returned with an exhausted window: %v", err)
			case <-time.After(50 * time.Millisecond):
			}

			require.NoError(t, closeFn(st))
			select {
			case err := <-done:
				assert.ErrorIs(t, err, coreerrors.ErrStreamClosed)
			case <-time.After(2 * time.Second):
				t.Fatal("write still blocked after close")
			}
		})
	}
}

func TestSession_ResetPropagates(t *testing.T) {
	client, server := pair(t, testConfig())
	ctx := context.Background()

	st, err := client.OpenStream(ctx, "x")
	require.NoError(t, err)
	_, err = st.Write([]byte("hello"))
	require.NoError(t, err)

	peer, err := server.AcceptStream(ctx)
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(peer, buf)
	require.NoError(t, err)

	require.NoError(t, st.Reset())
	_, err = st.Write([]byte("more"))
	assert.ErrorIs(t, err, coreerrors.ErrStreamReset)

	select {
	case <-peer.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("peer stream not reset")
	}
	_, err = peer.Read(buf)
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeStreamReset), "got %v", err)
	assert.Equal(t, StateReset, peer.State())

	// 会话本身不受影响
	_, err = client.OpenStream(ctx, "y")
	assert.NoError(t, err)
}

// ============================================================================
// 协议违规
// ============================================================================

func TestSession_MalformedFrameTerminates(t *testing.T) {
	reg := newTestRegistry(t, testConfig())
	c, s := net.Pipe()
	defer c.Close()

	ch := serverHandshake(reg, s)
	rawHandshake(t, c)
	r := <-ch
	require.NoError(t, r.err)

	// 未知帧类型
	_, err := c.Write([]byte{0, 0, 0, 1, 0xEE, 0, 0, 0, 0})
	require.NoError(t, err)

	select {
	case <-r.s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session survived malformed frame")
	}
	assert.True(t, coreerrors.IsCode(r.s.Err(), coreerrors.CodeProtocolViolation), "got %v", r.s.Err())
}

func TestSession_DataForUnknownStreamIsFatal(t *testing.T) {
	reg := newTestRegistry(t, testConfig())
	c, s := net.Pipe()
	defer c.Close()

	ch := serverHandshake(reg, s)
	rawHandshake(t, c)
	r := <-ch
	require.NoError(t, r.err)

	require.NoError(t, writeFrame(c, frame.NewData(99, []byte("who"))))

	select {
	case <-r.s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session survived data for unknown stream")
	}
	assert.True(t, coreerrors.IsCode(r.s.Err(), coreerrors.CodeProtocolViolation))
}

func TestSession_InvalidOpenRefused(t *testing.T) {
	srv, c, frames := rawSession(t)
	ctx := context.Background()

	require.NoError(t, writeFrame(c, frame.NewOpen(5, "a")))
	st, err := srv.AcceptStream(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), st.ID())

	// 重复、奇偶错误、非单调递增
	for _, id := range []uint32{5, 8, 3} {
		require.NoError(t, writeFrame(c, frame.NewOpen(id, "bad")))
		f := nextFrame(t, frames, frame.TypeReset)
		assert.Equal(t, id, f.StreamID)
		code, err := f.ResetCode()
		require.NoError(t, err)
		assert.Equal(t, frame.ResetRefused, code)
	}

	require.NoError(t, writeFrame(c, frame.NewOpen(7, "b")))
	st, err = srv.AcceptStream(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), st.ID())
	requireAlive(t, srv)
	assert.Equal(t, uint64(3), srv.Snapshot().Violations)
}

func TestSession_LateDataAfterLocalResetDropped(t *testing.T) {
	srv, c, frames := rawSession(t)
	ctx := context.Background()

	require.NoError(t, writeFrame(c, frame.NewOpen(1, "a")))
	st, err := srv.AcceptStream(ctx)
	require.NoError(t, err)
	require.NoError(t, st.Reset())
	f := nextFrame(t, frames, frame.TypeReset)
	assert.Equal(t, uint32(1), f.StreamID)

	// 对端在收到 Reset 之前发出的数据
	require.NoError(t, writeFrame(c, frame.NewData(1, []byte("late"))))
	require.NoError(t, writeFrame(c, frame.NewOpen(3, "b")))
	st, err = srv.AcceptStream(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), st.ID())

	requireAlive(t, srv)
	assert.Zero(t, srv.Snapshot().Violations)
}

func TestSession_DataAfterPeerResetCounted(t *testing.T) {
	srv, c, _ := rawSession(t)
	ctx := context.Background()

	require.NoError(t, writeFrame(c, frame.NewOpen(1, "a")))
	st, err := srv.AcceptStream(ctx)
	require.NoError(t, err)
	require.NoError(t, writeFrame(c, frame.NewReset(1, frame.ResetCancel)))
	select {
	case <-st.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream not reset by peer")
	}
	assert.Equal(t, StateReset, st.State())

	require.NoError(t, writeFrame(c, frame.NewData(1, []byte("zombie"))))
	require.NoError(t, writeFrame(c, frame.NewOpen(3, "b")))
	_, err = srv.AcceptStream(ctx)
	require.NoError(t, err)

	requireAlive(t, srv)
	assert.Equal(t, uint64(1), srv.Snapshot().Violations)
}

func TestRegistry_ReapsAndClosesSessions(t *testing.T) {
	cfg := testConfig()
	reg := newTestRegistry(t, cfg)

	var clients []*Session
	for i := 0; i < 3; i++ {
		c, s := net.Pipe()
		client, _ := connect(t, reg, cfg, c, s)
		clients = append(clients, client)
	}
	require.Equal(t, 3, reg.Len())

	// 结束的会话从注册表中移除
	require.NoError(t, clients[0].Close())
	assert.Eventually(t, func() bool { return reg.Len() == 2 }, 2*time.Second, 10*time.Millisecond)

	servers := reg.List()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, reg.Close(ctx))
	for _, s := range servers {
		select {
		case <-s.Done():
		default:
			t.Fatalf("session %s still running after registry close", s.ID())
		}
	}
	assert.Eventually(t, func() bool { return reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRegistry_VersionMismatch(t *testing.T) {
	reg := newTestRegistry(t, testConfig())
	c, s := net.Pipe()
	defer c.Close()

	ch := serverHandshake(reg, s)

	hello := localHandshake(testConfig(), frame.KindHello)
	hello.Version = frame.ProtocolVersion + 1
	require.NoError(t, writeFrame(c, hello.Frame()))

	welcome, err := readHandshake(c, frame.NewDecoder(frame.DefaultMaxPayload), frame.KindWelcome)
	require.NoError(t, err)
	assert.Equal(t, frame.StatusRejected, welcome.Status)

	r := <-ch
	require.Error(t, r.err)
	assert.True(t, coreerrors.IsCode(r.err, coreerrors.CodeHandshakeMismatch))
	assert.Equal(t, coreerrors.ErrorTypeFatal, coreerrors.GetErrorType(r.err))
	assert.Zero(t, reg.Len())
}

// ============================================================================
// 关闭与断线
// ============================================================================

func TestSession_CloseSendsGoAway(t *testing.T) {
	client, server := pair(t, testConfig())
	ctx := context.Background()

	st, err := client.OpenStream(ctx, "x")
	require.NoError(t, err)
	_, err = server.AcceptStream(ctx)
	require.NoError(t, err)

	require.NoError(t, server.Close())

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not observe goaway")
	}
	assert.ErrorIs(t, client.Err(), coreerrors.ErrGoAway)
	assert.ErrorIs(t, server.Err(), coreerrors.ErrSessionClosed)

	_, err = st.Write([]byte("late"))
	assert.Error(t, err)
	_, err = client.OpenStream(ctx, "y")
	assert.Error(t, err)
}

func TestSession_NonResumableTransportLoss(t *testing.T) {
	cfg := testConfig()
	cfg.Resumable = false
	c, s := net.Pipe()
	client, server := connect(t, newTestRegistry(t, cfg), cfg, c, s)
	ctx := context.Background()
	assert.False(t, client.Resumable())

	st, err := client.OpenStream(ctx, "x")
	require.NoError(t, err)
	_, err = server.AcceptStream(ctx)
	require.NoError(t, err)

	_ = c.Close()

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client session survived transport loss")
	}
	assert.ErrorIs(t, client.Err(), coreerrors.ErrTransportLost)
	assert.Zero(t, client.NumStreams())

	_, err = st.Read(make([]byte, 1))
	assert.ErrorIs(t, err, coreerrors.ErrTransportLost)

	select {
	case <-server.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server session survived transport loss")
	}
}

func TestSession_KeepaliveTimeoutSuspends(t *testing.T) {
	cfg := testConfig()
	cfg.KeepaliveInterval = 20 * time.Millisecond
	cfg.KeepaliveTimeout = 60 * time.Millisecond
	cfg.ResumeTimeout = time.Minute
	reg := newTestRegistry(t, cfg)
	c, s := net.Pipe()
	defer c.Close()

	ch := serverHandshake(reg, s)
	rawHandshake(t, c)
	r := <-ch
	require.NoError(t, r.err)

	// 对端不再读写：Ping 写不出去，也收不到任何帧
	assert.Eventually(t, func() bool {
		return r.s.State() == StateSuspended
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, reg.Suspended())
}

func TestSession_ResumeTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ResumeTimeout = 100 * time.Millisecond
	c, s := net.Pipe()
	client, server := connect(t, newTestRegistry(t, cfg), cfg, c, s)

	_ = c.Close()

	for _, sess := range []*Session{client, server} {
		select {
		case <-sess.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("%s session not expired", sess.Role())
		}
		assert.ErrorIs(t, sess.Err(), coreerrors.ErrResumeTimeout)
	}
}

// ============================================================================
// 断线恢复
// ============================================================================

func TestSession_ResumeReplaysLostFrames(t *testing.T) {
	cfg := testConfig()
	reg := newTestRegistry(t, cfg)
	c1, s1 := net.Pipe()
	cc := &cutConn{Conn: c1}
	client, server := connect(t, reg, cfg, cc, s1)
	ctx := context.Background()

	st, err := client.OpenStream(ctx, "svc")
	require.NoError(t, err)
	first := randomBytes(t, 1000)
	_, err = st.Write(first)
	require.NoError(t, err)

	peer, err := server.AcceptStream(ctx)
	require.NoError(t, err)
	got := make([]byte, len(first))
	_, err = io.ReadFull(peer, got)
	require.NoError(t, err)
	require.Equal(t, first, got)

	// 之后写出的帧在网络中丢失
	cc.blackhole.Store(true)
	second := randomBytes(t, 5000)
	_, err = st.Write(second)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return !client.sched.pending() }, time.Second, 5*time.Millisecond)

	_ = c1.Close()
	select {
	case <-client.TransportLost():
	case <-time.After(2 * time.Second):
		t.Fatal("transport loss not reported")
	}
	assert.Equal(t, StateSuspended, client.State())

	c2, s2 := net.Pipe()
	ch := serverHandshake(reg, s2)
	resumed, err := client.Resume(ctx, c2)
	require.NoError(t, err)
	assert.Same(t, client, resumed)

	r := <-ch
	require.NoError(t, r.err)
	assert.Equal(t, OutcomeResumed, r.outcome)
	assert.Same(t, server, r.s)

	got = make([]byte, len(second))
	_, err = io.ReadFull(peer, got)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	snap := client.Snapshot()
	assert.Equal(t, uint64(1), snap.Reconnects)
	assert.Equal(t, uint64(2), snap.Generation)
	assert.Equal(t, StateActive.String(), snap.State)

	// 恢复后的流继续双向可用
	_, err = peer.Write([]byte("ok"))
	require.NoError(t, err)
	buf := make([]byte, 2)
	_, err = io.ReadFull(st, buf)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(buf))
}

func TestSession_ResumeUnknownSessionStartsFresh(t *testing.T) {
	cfg := testConfig()
	c1, s1 := net.Pipe()
	client, _ := connect(t, newTestRegistry(t, cfg), cfg, c1, s1)
	ctx := context.Background()

	st, err := client.OpenStream(ctx, "x")
	require.NoError(t, err)

	_ = c1.Close()
	<-client.TransportLost()

	// 换一个不认识该会话的服务端
	other := newTestRegistry(t, cfg)
	c2, s2 := net.Pipe()
	ch := serverHandshake(other, s2)
	fresh, err := client.Resume(ctx, c2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fresh.Close() })

	r := <-ch
	require.NoError(t, r.err)
	assert.Equal(t, OutcomeNew, r.outcome)
	assert.NotEqual(t, client.ID(), fresh.ID())
	assert.Equal(t, r.s.ID(), fresh.ID())

	assert.ErrorIs(t, client.Err(), coreerrors.ErrResumeRejected)
	_, err = st.Write([]byte("lost"))
	assert.ErrorIs(t, err, coreerrors.ErrResumeRejected)

	_, err = fresh.OpenStream(ctx, "y")
	assert.NoError(t, err)
}

func TestSession_SnapshotCountsStreams(t *testing.T) {
	client, server := pair(t, testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.OpenStream(ctx, "t")
		require.NoError(t, err)
	}
	assert.Eventually(t, func() bool { return server.NumStreams() == 3 }, time.Second, 5*time.Millisecond)

	snap := client.Snapshot()
	assert.Equal(t, "client", snap.Role)
	assert.True(t, snap.Resumable)
	require.Len(t, snap.Streams, 3)
	assert.Equal(t, uint32(1), snap.Streams[0].ID)
	assert.Equal(t, uint32(5), snap.Streams[2].ID)
	assert.Equal(t, client.ID(), server.ID())
}
