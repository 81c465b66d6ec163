package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kq-tunnel/internal/mux/frame"
)

func queuedStream(id uint32, chunks int) *Stream {
	st := &Stream{id: id, done: make(chan struct{})}
	for i := 0; i < chunks; i++ {
		st.outq = append(st.outq, outItem{kind: outData, data: []byte{byte(i)}})
	}
	return st
}

func TestScheduler_ControlFirstThenRoundRobin(t *testing.T) {
	q := newScheduler(nil)
	a, b := queuedStream(1, 3), queuedStream(3, 1)
	q.markReady(a)
	q.markReady(b)
	q.pushControl(outbound{frame: frame.NewPing(7)})

	var order []uint32
	for {
		o, ok := q.next()
		if !ok {
			break
		}
		order = append(order, o.frame.StreamID)
	}
	// Ping 的 stream id 为 0
	assert.Equal(t, []uint32{0, 1, 3, 1, 1}, order)
	assert.False(t, q.pending())
}

func TestScheduler_AdmitBlocksDataNotControl(t *testing.T) {
	allow := false
	q := newScheduler(func(int) bool { return allow })
	st := queuedStream(1, 1)
	q.markReady(st)
	q.pushControl(outbound{frame: frame.NewAck(1)})

	o, ok := q.next()
	require.True(t, ok)
	assert.Equal(t, frame.TypeAck, o.frame.Type)

	_, ok = q.next()
	assert.False(t, ok, "data held back by watermark")
	assert.True(t, q.pending())

	allow = true
	o, ok = q.next()
	require.True(t, ok)
	assert.Equal(t, frame.TypeData, o.frame.Type)
}

func TestScheduler_MarkReadyIsIdempotent(t *testing.T) {
	q := newScheduler(nil)
	st := queuedStream(1, 2)
	q.markReady(st)
	q.markReady(st)

	n := 0
	for {
		if _, ok := q.next(); !ok {
			break
		}
		n++
	}
	assert.Equal(t, 2, n)
}
