// Package time 提供会话循环使用的定时器工具
package time

import (
	"sync/atomic"
	"time"
)

// SafeTimer 安全的定时器，用于替代循环中的 time.After
// 使用方法:
//
//	timer := NewSafeTimer(interval)
//	defer timer.Stop()
//	for {
//	    timer.Reset(interval)
//	    select {
//	    case <-ctx.Done():
//	        return
//	    case <-timer.C():
//	        // 发送 Ping
//	    }
//	}
type SafeTimer struct {
	timer *time.Timer
}

// NewSafeTimer 创建新的安全定时器
func NewSafeTimer(d time.Duration) *SafeTimer {
	return &SafeTimer{timer: time.NewTimer(d)}
}

// C 返回定时器通道
func (t *SafeTimer) C() <-chan time.Time {
	return t.timer.C
}

// Reset 停止并排空后重置定时器
func (t *SafeTimer) Reset(d time.Duration) {
	StopTimer(t.timer)
	t.timer.Reset(d)
}

// Stop 停止定时器
func (t *SafeTimer) Stop() {
	StopTimer(t.timer)
}

// StopTimer 停止定时器并排空通道，timer 可为 nil
func StopTimer(timer *time.Timer) {
	if timer == nil {
		return
	}
	if !timer.Stop() && timer.C != nil {
		select {
		case <-timer.C:
		default:
		}
	}
}

// ActivityClock 记录最近一次活动时间，读写循环并发访问
//
// 保活循环用它判断对端是否在超时时间内发过任何帧
type ActivityClock struct {
	last atomic.Int64
}

// NewActivityClock 创建并以当前时间初始化
func NewActivityClock() *ActivityClock {
	c := &ActivityClock{}
	c.Touch()
	return c
}

// Touch 记录当前时间
func (c *ActivityClock) Touch() {
	c.last.Store(time.Now().UnixNano())
}

// Last 返回最近一次活动时间
func (c *ActivityClock) Last() time.Time {
	return time.Unix(0, c.last.Load())
}

// IdleFor 返回距最近一次活动的时长
func (c *ActivityClock) IdleFor() time.Duration {
	return time.Since(c.Last())
}

// Expired 距最近一次活动是否已超过 timeout，timeout <= 0 时永不过期
func (c *ActivityClock) Expired(timeout time.Duration) bool {
	return timeout > 0 && c.IdleFor() > timeout
}
