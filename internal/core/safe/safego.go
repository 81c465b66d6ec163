// Package safe 提供带 panic 恢复的 Goroutine 启动方式
//
// 会话的读写循环、保活循环、流桥接都通过本包启动：
// 单个循环 panic 不会拖垮整个进程，而是通过回调让所属会话走异常关闭流程
package safe

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	corelog "kq-tunnel/internal/core/log"
)

var (
	activeCount atomic.Int64
	totalCount  atomic.Int64
	panicCount  atomic.Int64
)

// Stats Goroutine 统计信息
type Stats struct {
	Active     int64 // 当前活跃数量
	Total      int64 // 累计创建数量
	PanicCount int64 // panic 次数
}

// GetStats 获取统计信息
func GetStats() Stats {
	return Stats{
		Active:     activeCount.Load(),
		Total:      totalCount.Load(),
		PanicCount: panicCount.Load(),
	}
}

// run 执行 fn 并恢复 panic，返回 recover 得到的值
func run(name string, fn func()) (recovered interface{}) {
	defer func() {
		if r := recover(); r != nil {
			panicCount.Add(1)
			corelog.Errorf("SafeGo[%s]: panic recovered: %v\n%s", name, r, debug.Stack())
			recovered = r
		}
	}()
	fn()
	return nil
}

// Go 安全启动 Goroutine（带 panic 恢复）
// name 用于日志标识
func Go(name string, fn func()) {
	GoWithCallback(name, fn, nil)
}

// GoWithContext 带 context 的安全 Goroutine
// 当 context 取消时，fn 应该检查 ctx.Done() 并退出
func GoWithContext(ctx context.Context, name string, fn func(ctx context.Context)) {
	GoWithCallback(name, func() { fn(ctx) }, nil)
}

// GoWithCallback 带回调的安全 Goroutine
// onPanic 在发生 panic 时调用，用于自定义处理
func GoWithCallback(name string, fn func(), onPanic func(recovered interface{})) {
	totalCount.Add(1)
	activeCount.Add(1)

	go func() {
		defer activeCount.Add(-1)
		if r := run(name, fn); r != nil && onPanic != nil {
			onPanic(r)
		}
	}()
}

// Group 一组需要统一等待的 Goroutine
//
// 会话关闭时 Wait 保证读写循环均已退出后才释放传输层
type Group struct {
	wg      sync.WaitGroup
	name    string
	onPanic func(recovered interface{})
}

// NewGroup 创建 Group，onPanic 可为 nil
func NewGroup(name string, onPanic func(recovered interface{})) *Group {
	return &Group{name: name, onPanic: onPanic}
}

// Go 在 Group 中安全启动 Goroutine
func (g *Group) Go(name string, fn func()) {
	g.wg.Add(1)
	GoWithCallback(g.name+"/"+name, func() {
		defer g.wg.Done()
		fn()
	}, g.onPanic)
}

// Wait 等待所有 Goroutine 完成
func (g *Group) Wait() {
	g.wg.Wait()
}

// WaitContext 等待所有 Goroutine 完成或 ctx 结束
func (g *Group) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
