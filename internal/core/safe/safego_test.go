package safe

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoWithCallback_RecoversPanic(t *testing.T) {
	before := GetStats().PanicCount
	got := make(chan interface{}, 1)

	GoWithCallback("boom", func() { panic("write loop") }, func(r interface{}) { got <- r })

	select {
	case r := <-got:
		assert.Equal(t, "write loop", r)
	case <-time.After(2 * time.Second):
		t.Fatal("onPanic not called")
	}
	assert.Greater(t, GetStats().PanicCount, before)
}

func TestGroup_Wait(t *testing.T) {
	var n atomic.Int32
	g := NewGroup("session", nil)
	for i := 0; i < 4; i++ {
		g.Go("loop", func() {
			time.Sleep(10 * time.Millisecond)
			n.Add(1)
		})
	}
	g.Wait()
	assert.Equal(t, int32(4), n.Load())
}

func TestGroup_PanicStillReleasesWait(t *testing.T) {
	var panicked atomic.Bool
	g := NewGroup("session", func(interface{}) { panicked.Store(true) })
	g.Go("reader", func() { panic("decode") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, g.WaitContext(ctx))

	// onPanic 在 Done 之后执行，稍作等待
	assert.Eventually(t, panicked.Load, time.Second, 5*time.Millisecond)
}

func TestGroup_WaitContextTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	g := NewGroup("session", nil)
	g.Go("stuck", func() { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.WaitContext(ctx), context.DeadlineExceeded)
}
