// Package dispose 提供带 context 的资源生命周期管理
//
// 隧道端点、会话注册表、端口转发器都嵌入 Dispose：
// 父 context 取消或显式 Close 时，按注册的相反顺序执行清理函数
package dispose

import (
	"context"
	"fmt"
	"sync"

	corelog "kq-tunnel/internal/core/log"
)

// DisposeError 清理过程中的错误信息
type DisposeError struct {
	HandlerIndex int
	ResourceName string
	Err          error
}

func (e *DisposeError) Error() string {
	if e.ResourceName != "" {
		return fmt.Sprintf("cleanup resource[%s] handler[%d] failed: %v", e.ResourceName, e.HandlerIndex, e.Err)
	}
	return fmt.Sprintf("cleanup handler[%d] failed: %v", e.HandlerIndex, e.Err)
}

func (e *DisposeError) Unwrap() error {
	return e.Err
}

// DisposeResult 清理结果
type DisposeResult struct {
	Errors []*DisposeError
}

func (r *DisposeResult) HasErrors() bool {
	return r != nil && len(r.Errors) > 0
}

func (r *DisposeResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	return fmt.Sprintf("dispose cleanup failed with %d errors, first: %v", len(r.Errors), r.Errors[0])
}

// Err 无错误时返回 nil，便于直接作为 error 返回
func (r *DisposeResult) Err() error {
	if !r.HasErrors() {
		return nil
	}
	return r
}

// Disposable 统一的资源释放接口
type Disposable interface {
	Dispose() error
}

// Dispose 资源管理结构体
//
// 零值不可用，需先调用 SetCtx
type Dispose struct {
	mu       sync.Mutex
	closed   bool
	ctx      context.Context
	cancel   context.CancelFunc
	handlers []func() error
	result   *DisposeResult
	done     chan struct{}
}

// NewDispose 创建并初始化 Dispose，onClose 可为 nil
func NewDispose(parent context.Context, onClose func() error) *Dispose {
	d := &Dispose{}
	d.SetCtx(parent, onClose)
	return d
}

// SetCtx 绑定父 context，父 context 取消时自动执行清理
func (d *Dispose) SetCtx(parent context.Context, onClose func() error) {
	d.mu.Lock()
	if d.ctx != nil {
		d.mu.Unlock()
		corelog.Warn("dispose: ctx already set")
		return
	}
	if parent == nil {
		parent = context.Background()
	}
	d.ctx, d.cancel = context.WithCancel(parent)
	d.done = make(chan struct{})
	d.mu.Unlock()

	if onClose != nil {
		d.AddCleanHandler(onClose)
	}

	go func() {
		<-d.ctx.Done()
		d.Close()
	}()
}

// Ctx 返回生命周期 context，Close 后被取消
func (d *Dispose) Ctx() context.Context {
	return d.ctx
}

// Done 在清理函数全部执行完毕后关闭，需在 SetCtx 之后调用
func (d *Dispose) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// IsClosed 是否已关闭
func (d *Dispose) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// AddCleanHandler 添加清理函数，已关闭时立即执行
func (d *Dispose) AddCleanHandler(f func() error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		if err := f(); err != nil {
			corelog.Errorf("dispose: late cleanup handler failed: %v", err)
		}
		return
	}
	d.handlers = append(d.handlers, f)
	d.mu.Unlock()
}

// Close 关闭并返回清理结果，重复调用返回首次结果
func (d *Dispose) Close() *DisposeResult {
	d.mu.Lock()
	if d.done == nil {
		d.done = make(chan struct{})
	}
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return d.result
	}
	d.closed = true
	handlers := d.handlers
	d.handlers = nil
	d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}

	result := &DisposeResult{}
	for i := len(handlers) - 1; i >= 0; i-- {
		if err := handlers[i](); err != nil {
			result.Errors = append(result.Errors, &DisposeError{HandlerIndex: i, Err: err})
			corelog.Errorf("dispose: cleanup handler[%d] failed: %v", i, err)
		}
	}

	d.mu.Lock()
	d.result = result
	d.mu.Unlock()
	close(d.done)
	return result
}
