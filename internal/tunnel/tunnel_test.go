package tunnel

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corelog "kq-tunnel/internal/core/log"
	"kq-tunnel/internal/mux/reconnect"
	"kq-tunnel/internal/mux/session"
)

func testSessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.Logger = corelog.NewNopLogger()
	cfg.DrainTimeout = 300 * time.Millisecond
	return cfg
}

func testPolicy() reconnect.Policy {
	return reconnect.Policy{MaxAttempts: 3, MinBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}
}

// echoServer 本地 TCP 回显服务，读到 EOF 后半关闭
func echoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_, _ = io.Copy(c, c)
				_ = c.(*net.TCPConn).CloseWrite()
			}()
		}
	}()
	return ln.Addr().String()
}

func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()
	a, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	b := <-accepted
	require.NotNil(t, b)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

type events struct {
	ch chan Event
}

func newEvents() *events { return &events{ch: make(chan Event, 64)} }

func (e *events) observe(ev Event) {
	select {
	case e.ch <- ev:
	default:
	}
}

func (e *events) waitFor(t *testing.T, kind EventKind) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-e.ch:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("event %s not observed", kind)
		}
	}
}

type endpoints struct {
	server       *Server
	client       *Client
	serverEvents *events
	clientEvents *events
}

func startEndpoints(t *testing.T) endpoints {
	t.Helper()
	ev := endpoints{serverEvents: newEvents(), clientEvents: newEvents()}

	srv, err := NewServer(ServerConfig{
		Protocol: "tcp",
		Listen:   "127.0.0.1:0",
		Session:  testSessionConfig(),
		Observer: ev.serverEvents.observe,
		Logger:   corelog.NewNopLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop() })

	cli, err := NewClient(ClientConfig{
		Protocol: "tcp",
		Address:  srv.Addr().String(),
		Session:  testSessionConfig(),
		Policy:   testPolicy(),
		Observer: ev.clientEvents.observe,
		Logger:   corelog.NewNopLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, cli.Start(context.Background()))
	t.Cleanup(func() { _ = cli.Stop() })

	ev.server, ev.client = srv, cli
	return ev
}

func TestParseForwardSpec(t *testing.T) {
	tests := []struct {
		in     string
		listen string
		target string
		err    bool
	}{
		{in: "db.internal:5432", listen: "127.0.0.1:2222", target: "db.internal:5432"},
		{in: "8080=web:80", listen: "127.0.0.1:8080", target: "web:80"},
		{in: "0.0.0.0:9000=10.0.0.1:22", listen: "0.0.0.0:9000", target: "10.0.0.1:22"},
		{in: ":7000=svc:7000", listen: ":7000", target: "svc:7000"},
		{in: "=svc:1", listen: "127.0.0.1:2222", target: "svc:1"},
		{in: "70000=svc:1", err: true},
		{in: "8080=no-port", err: true},
		{in: "bad listen=svc:1", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			spec, err := ParseForwardSpec(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.listen, spec.Listen)
			assert.Equal(t, tt.target, spec.Target)
		})
	}
}

func TestBridge_CopiesBothWaysWithHalfClose(t *testing.T) {
	localApp, local := tcpPair(t)
	remote, remoteApp := tcpPair(t)

	up := bytes.Repeat([]byte("u"), 100_000)
	down := bytes.Repeat([]byte("d"), 50_000)

	type result struct {
		res BridgeResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := Bridge(context.Background(), local, remote, BridgeOptions{})
		done <- result{res, err}
	}()

	// 远端读完上行数据后再回写，验证半关闭不影响反方向
	go func() {
		got, _ := io.ReadAll(remoteApp)
		assert.Equal(t, len(up), len(got))
		_, _ = remoteApp.Write(down)
		_ = remoteApp.(*net.TCPConn).CloseWrite()
	}()

	_, err := localApp.Write(up)
	require.NoError(t, err)
	require.NoError(t, localApp.(*net.TCPConn).CloseWrite())

	got, err := io.ReadAll(localApp)
	require.NoError(t, err)
	assert.Equal(t, down, got)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, int64(len(up)), r.res.Upstream)
		assert.Equal(t, int64(len(down)), r.res.Downstream)
	case <-time.After(3 * time.Second):
		t.Fatal("bridge did not finish")
	}
}

func TestBridge_BandwidthLimit(t *testing.T) {
	localApp, local := tcpPair(t)
	remote, remoteApp := tcpPair(t)

	go func() {
		_, _ = Bridge(context.Background(), local, remote, BridgeOptions{BandwidthLimit: 64 * 1024})
	}()

	// 突发 64 KiB 立即放行，其余 64 KiB 需要约 1 秒
	payload := make([]byte, 128*1024)
	start := time.Now()
	go func() {
		_, _ = localApp.Write(payload)
		_ = localApp.(*net.TCPConn).CloseWrite()
	}()
	got, err := io.ReadAll(remoteApp)
	require.NoError(t, err)
	assert.Len(t, got, len(payload))
	assert.GreaterOrEqual(t, time.Since(start), 600*time.Millisecond)
}

func TestBridge_ContextCancelClosesBoth(t *testing.T) {
	localApp, local := tcpPair(t)
	remote, remoteApp := tcpPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := Bridge(ctx, local, remote, BridgeOptions{})
		done <- err
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge ignored cancellation")
	}
	_ = localApp.SetReadDeadline(time.Now().Add(time.Second))
	_, err := localApp.Read(make([]byte, 1))
	assert.Error(t, err)
	_ = remoteApp.SetReadDeadline(time.Now().Add(time.Second))
	_, err = remoteApp.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestEndpoints_SessionEvents(t *testing.T) {
	ep := startEndpoints(t)

	up := ep.clientEvents.waitFor(t, EventSessionUp)
	srvUp := ep.serverEvents.waitFor(t, EventSessionUp)
	assert.Equal(t, up.SessionID, srvUp.SessionID)

	snap := ep.client.Snapshot()
	assert.Equal(t, "client", snap.Role)
	assert.True(t, snap.Running)
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, up.SessionID, snap.Sessions[0].ID)
	require.NotNil(t, snap.Reconnect)
	assert.Equal(t, reconnect.Stats{Attempts: 1, Fresh: 1}, *snap.Reconnect)
	assert.Nil(t, ep.server.Snapshot().Reconnect)

	_, ok := ep.server.SessionSnapshot(up.SessionID)
	assert.True(t, ok)
	_, ok = ep.server.SessionSnapshot("missing")
	assert.False(t, ok)

	require.NoError(t, ep.client.Stop())
	down := ep.serverEvents.waitFor(t, EventSessionDown)
	assert.Equal(t, up.SessionID, down.SessionID)
}

func TestEndpoints_StreamsInBothDirections(t *testing.T) {
	ep := startEndpoints(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 客户端 → 服务端
	go func() {
		st, err := ep.server.Accept(ctx)
		if err != nil {
			return
		}
		assert.Equal(t, "svc:1", st.Target())
		_, _ = io.Copy(st, st)
		_ = st.CloseWrite()
	}()
	st, err := ep.client.OpenStream(ctx, "svc:1")
	require.NoError(t, err)
	_, err = st.Write([]byte("ping"))
	require.NoError(t, err)
	require.NoError(t, st.CloseWrite())
	got, err := io.ReadAll(st)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))

	// 服务端 → 客户端
	go func() {
		st, err := ep.client.Accept(ctx)
		if err != nil {
			return
		}
		_, _ = st.Write([]byte(strings.ToUpper(st.Target())))
		_ = st.Close()
	}()
	st, err = ep.server.OpenStream(ctx, "reverse")
	require.NoError(t, err)
	require.NoError(t, st.CloseWrite())
	got, err = io.ReadAll(st)
	require.NoError(t, err)
	assert.Equal(t, "REVERSE", string(got))
	assert.Zero(t, st.ID()%2, "server ids are even")
}

// 本地连接 → Forwarder → 隧道 → DialService → 回显服务
func TestForwarderAndDialService_EndToEnd(t *testing.T) {
	ep := startEndpoints(t)
	echoAddr := echoServer(t)

	svc := NewDialService(ep.server, DialServiceConfig{Logger: corelog.NewNopLogger()})
	svc.Start(context.Background())
	t.Cleanup(func() { _ = svc.Stop() })

	fwd := NewForwarder(ForwardSpec{Listen: "127.0.0.1:0", Target: echoAddr}, ep.client, BridgeOptions{}, corelog.NewNopLogger())
	require.NoError(t, fwd.Start(context.Background()))
	t.Cleanup(func() { _ = fwd.Stop() })

	payload := make([]byte, 256*1024)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		conn, err := net.Dial("tcp", fwd.Addr().String())
		require.NoError(t, err)
		go func() {
			_, _ = conn.Write(payload)
			_ = conn.(*net.TCPConn).CloseWrite()
		}()
		got, err := io.ReadAll(conn)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(payload, got), "connection %d", i)
		_ = conn.Close()
	}

	assert.Eventually(t, func() bool {
		s := fwd.Stats()
		return s.Total == 3 && s.Active == 0
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, int64(3*len(payload)), fwd.Stats().Upstream)
}

func TestDialService_UnreachableTargetResetsStream(t *testing.T) {
	ep := startEndpoints(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := ln.Addr().String()
	require.NoError(t, ln.Close())

	svc := NewDialService(ep.server, DialServiceConfig{Logger: corelog.NewNopLogger(), DialTimeout: time.Second})
	svc.Start(context.Background())
	t.Cleanup(func() { _ = svc.Stop() })

	st, err := ep.client.OpenStream(context.Background(), dead)
	require.NoError(t, err)
	_, err = io.ReadAll(st)
	assert.Error(t, err)
}

func TestDialService_AllowRejects(t *testing.T) {
	ep := startEndpoints(t)
	echoAddr := echoServer(t)

	svc := NewDialService(ep.server, DialServiceConfig{
		Logger: corelog.NewNopLogger(),
		Allow:  func(target string) bool { return target == echoAddr },
	})
	svc.Start(context.Background())
	t.Cleanup(func() { _ = svc.Stop() })

	st, err := ep.client.OpenStream(context.Background(), "10.255.255.1:1")
	require.NoError(t, err)
	_, err = io.ReadAll(st)
	assert.Error(t, err)
}

func TestClient_UnknownProtocol(t *testing.T) {
	_, err := NewClient(ClientConfig{Protocol: "smoke-signal", Address: "x:1"})
	assert.Error(t, err)
	_, err = NewServer(ServerConfig{Protocol: "smoke-signal"})
	assert.Error(t, err)
}
