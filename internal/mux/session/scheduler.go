package session

import (
	"sync"

	"kq-tunnel/internal/mux/frame"
)

// outbound 写循环取出的待发送帧
type outbound struct {
	frame   frame.Frame
	written chan error // 非 nil 时在写出（或失败）后通知
}

// scheduler 出站帧调度器
//
// 控制帧优先且永不因重放缓冲水位而阻塞；流数据按轮询方式每次每流取一帧，
// 防止单个流独占传输连接
type scheduler struct {
	mu      sync.Mutex
	control []outbound
	ready   []*Stream
	wake    chan struct{}
	admit   func(size int) bool
}

func newScheduler(admit func(size int) bool) *scheduler {
	if admit == nil {
		admit = func(int) bool { return true }
	}
	return &scheduler{
		wake:  make(chan struct{}, 1),
		admit: admit,
	}
}

func (q *scheduler) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pushControl 排队控制帧
func (q *scheduler) pushControl(o outbound) {
	q.mu.Lock()
	q.control = append(q.control, o)
	q.mu.Unlock()
	q.signal()
}

// markReady 标记流有待发送的帧
func (q *scheduler) markReady(st *Stream) {
	q.mu.Lock()
	if !st.queued {
		st.queued = true
		q.ready = append(q.ready, st)
	}
	q.mu.Unlock()
	q.signal()
}

// next 取出下一个待发送帧，没有可发送的帧时返回 false
func (q *scheduler) next() (outbound, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.control) > 0 {
		o := q.control[0]
		q.control[0] = outbound{}
		q.control = q.control[1:]
		return o, true
	}

	// 每个就绪流最多检查一次
	for n := len(q.ready); n > 0; n-- {
		st := q.ready[0]
		q.ready[0] = nil
		q.ready = q.ready[1:]

		f, ok, more := st.pop(q.admit)
		if more {
			q.ready = append(q.ready, st)
		} else {
			st.queued = false
		}
		if ok {
			return outbound{frame: f}, true
		}
	}
	return outbound{}, false
}

// pending 是否还有排队的帧
func (q *scheduler) pending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.control) > 0 || len(q.ready) > 0
}

// wakeup 有新帧入队时可读
func (q *scheduler) wakeup() <-chan struct{} {
	return q.wake
}
