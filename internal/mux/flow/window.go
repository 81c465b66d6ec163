// Package flow 实现按流的基于额度（credit）的背压控制
//
// 发送方持有 SendWindow：发送数据前先预留额度，额度耗尽时挂起等待对端 WindowUpdate。
// 接收方持有 RecvWindow：校验对端未越过已授予的窗口，并在应用消费达到阈值后批量归还额度
package flow

import (
	"context"
	"math"
	"sync"

	coreerrors "kq-tunnel/internal/core/errors"
)

const (
	// DefaultWindow 每个流的默认初始窗口
	DefaultWindow = 256 * 1024
	// DefaultUpdateRatio 未通告的已消费字节达到窗口的该比例时发送 WindowUpdate
	DefaultUpdateRatio = 0.5
	// MaxWindow 窗口上限，累计额度超过即视为对端违规
	MaxWindow = math.MaxInt32
)

// ErrFlowControlExceeded 对端发送超出了本端授予的窗口
var ErrFlowControlExceeded = coreerrors.ErrFlowControlExceeded

// ============================================================================
// SendWindow
// ============================================================================

// SendWindow 发送方窗口
//
// 不变量：0 <= InFlight() <= initial，即已预留但尚未被对端归还的字节数不超过授予的窗口
type SendWindow struct {
	mu        sync.Mutex
	initial   int64
	available int64
	wake      chan struct{}
}

// NewSendWindow 以对端授予的初始窗口创建
func NewSendWindow(initial uint32) *SendWindow {
	return &SendWindow{
		initial:   int64(initial),
		available: int64(initial),
		wake:      make(chan struct{}),
	}
}

// Reserve 预留至多 n 字节，返回实际获得的字节数；返回 0 表示需要等待（WouldBlock）
func (w *SendWindow) Reserve(n int) int {
	if n <= 0 {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.available <= 0 {
		return 0
	}
	granted := int64(n)
	if granted > w.available {
		granted = w.available
	}
	w.available -= granted
	return int(granted)
}

// Update 处理对端的 WindowUpdate，唤醒所有等待者
func (w *SendWindow) Update(credit uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.available+int64(credit) > MaxWindow {
		return coreerrors.Newf(coreerrors.CodeFlowControl, "window overflow: available %d + credit %d", w.available, credit)
	}
	if credit == 0 {
		return nil
	}
	w.available += int64(credit)
	close(w.wake)
	w.wake = make(chan struct{})
	return nil
}

// Wait 挂起直到有可用额度，或 ctx/done 结束
func (w *SendWindow) Wait(ctx context.Context, done <-chan struct{}) error {
	for {
		w.mu.Lock()
		if w.available > 0 {
			w.mu.Unlock()
			return nil
		}
		wake := w.wake
		w.mu.Unlock()

		select {
		case <-wake:
		case <-done:
			return coreerrors.ErrStreamClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Available 当前可用额度
func (w *SendWindow) Available() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.available
}

// InFlight 已预留但尚未被对端归还的字节数
func (w *SendWindow) InFlight() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	inflight := w.initial - w.available
	if inflight < 0 {
		return 0
	}
	return inflight
}

// ============================================================================
// RecvWindow
// ============================================================================

// RecvWindow 接收方窗口
type RecvWindow struct {
	mu          sync.Mutex
	window      int64
	available   int64 // 对端还能发送的字节数
	unannounced int64 // 已消费但尚未通告的字节数
	threshold   int64
}

// NewRecvWindow 创建接收窗口，ratio 不在 (0,1] 时使用默认值
func NewRecvWindow(window uint32, ratio float64) *RecvWindow {
	if ratio <= 0 || ratio > 1 {
		ratio = DefaultUpdateRatio
	}
	threshold := int64(float64(window) * ratio)
	if threshold < 1 {
		threshold = 1
	}
	return &RecvWindow{
		window:    int64(window),
		available: int64(window),
		threshold: threshold,
	}
}

// Receive 记录对端发来的 n 字节，超过授予的窗口返回 ErrFlowControlExceeded
func (w *RecvWindow) Receive(n int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if int64(n) > w.available {
		return coreerrors.Wrapf(ErrFlowControlExceeded, coreerrors.CodeFlowControl,
			"peer sent %d bytes with only %d granted", n, w.available)
	}
	w.available -= int64(n)
	return nil
}

// Consume 记录应用已消费 n 字节，达到阈值时返回需要通告的额度，否则返回 0
func (w *RecvWindow) Consume(n int) uint32 {
	if n <= 0 {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	w.unannounced += int64(n)
	if w.unannounced < w.threshold {
		return 0
	}
	credit := w.unannounced
	w.unannounced = 0
	w.available += credit
	return uint32(credit)
}

// Outstanding 对端已发送但尚未归还额度的字节数（含未消费与未通告部分）
func (w *RecvWindow) Outstanding() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.window - w.available
}

// Window 初始窗口大小
func (w *RecvWindow) Window() int64 {
	return w.window
}
