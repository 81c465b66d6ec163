package tunnel

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	coreerrors "kq-tunnel/internal/core/errors"
	"kq-tunnel/internal/core/metrics"
)

const (
	copyBufferSize = 32 * 1024
	minBurst       = 64 * 1024
)

var copyBufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, copyBufferSize)
		return &buf
	},
}

// BridgeOptions 桥接参数
type BridgeOptions struct {
	// BandwidthLimit 每个方向的限速（字节/秒），0 表示不限速
	BandwidthLimit int64
}

// BridgeResult 桥接结果
type BridgeResult struct {
	Upstream   int64 // local → remote
	Downstream int64 // remote → local
}

type closeWriter interface {
	CloseWrite() error
}

// closeWrite 半关闭写方向，不支持时什么也不做，留给最终的 Close
func closeWrite(c io.ReadWriteCloser) {
	if cw, ok := c.(closeWriter); ok {
		_ = cw.CloseWrite()
	}
}

// rateLimitedReader 每次读取后按读到的字节数等待令牌
type rateLimitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (r *rateLimitedReader) Read(p []byte) (int, error) {
	if burst := r.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := r.r.Read(p)
	if n > 0 {
		if werr := r.limiter.WaitN(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func newLimiter(bytesPerSec int64) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := int(bytesPerSec)
	if burst < minBurst {
		burst = minBurst
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// Bridge 在 local 与 remote 之间双向拷贝直到两个方向都结束
//
// 一个方向读到 EOF 后对另一端半关闭；任一方向出错或 ctx 结束时两端都被关闭。
// 返回时两端均已关闭
func Bridge(ctx context.Context, local, remote io.ReadWriteCloser, opts BridgeOptions) (BridgeResult, error) {
	g, gctx := errgroup.WithContext(ctx)

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = local.Close()
			_ = remote.Close()
		})
	}
	stop := context.AfterFunc(gctx, closeBoth)
	defer stop()
	defer closeBoth()

	pipe := func(dst, src io.ReadWriteCloser, direction string, total *int64) func() error {
		return func() error {
			var r io.Reader = src
			if lim := newLimiter(opts.BandwidthLimit); lim != nil {
				r = &rateLimitedReader{ctx: gctx, r: src, limiter: lim}
			}
			bufPtr := copyBufferPool.Get().(*[]byte)
			defer copyBufferPool.Put(bufPtr)

			n, err := io.CopyBuffer(dst, r, *bufPtr)
			*total = n
			metrics.BridgeBytes(direction, n)
			if err != nil && !isClosedErr(err) {
				return coreerrors.Wrapf(err, coreerrors.CodeTransport, "bridge %s", direction)
			}
			closeWrite(dst)
			return nil
		}
	}

	var res BridgeResult
	g.Go(pipe(remote, local, "upstream", &res.Upstream))
	g.Go(pipe(local, remote, "downstream", &res.Downstream))
	err := g.Wait()
	return res, err
}

// isClosedErr 对端关闭或重置导致的正常结束
func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, context.Canceled) ||
		coreerrors.Is(err, coreerrors.ErrStreamReset) ||
		coreerrors.Is(err, coreerrors.ErrStreamClosed)
}
