package dispose

import (
	"context"
	"sync"

	coreerrors "kq-tunnel/internal/core/errors"
	corelog "kq-tunnel/internal/core/log"
)

// DisposeFunc 把普通函数适配为 Disposable
type DisposeFunc func() error

func (f DisposeFunc) Dispose() error { return f() }

// ResourceManager 按注册的相反顺序释放具名资源
//
// 端点停止时依赖这个顺序：先停转发器，再关会话，最后关监听
type ResourceManager struct {
	mu        sync.Mutex
	resources map[string]Disposable
	order     []string
	disposing bool
}

// NewResourceManager 创建资源管理器
func NewResourceManager() *ResourceManager {
	return &ResourceManager{resources: make(map[string]Disposable)}
}

// Register 注册资源，名称重复返回错误
func (rm *ResourceManager) Register(name string, resource Disposable) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.disposing {
		return coreerrors.Newf(coreerrors.CodeInvalidState, "resource manager disposing, cannot register %s", name)
	}
	if _, exists := rm.resources[name]; exists {
		return coreerrors.Newf(coreerrors.CodeInvalidParam, "resource %s already registered", name)
	}
	rm.resources[name] = resource
	rm.order = append(rm.order, name)
	return nil
}

// Unregister 注销资源，不执行释放
func (rm *ResourceManager) Unregister(name string) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, exists := rm.resources[name]; !exists {
		return false
	}
	delete(rm.resources, name)
	for i, n := range rm.order {
		if n == name {
			rm.order = append(rm.order[:i], rm.order[i+1:]...)
			break
		}
	}
	return true
}

// Names 按注册顺序列出资源名
func (rm *ResourceManager) Names() []string {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	names := make([]string, len(rm.order))
	copy(names, rm.order)
	return names
}

// DisposeAll 按注册的相反顺序释放所有资源
//
// ctx 结束后剩余资源不再等待，结果中记录超时错误
func (rm *ResourceManager) DisposeAll(ctx context.Context) *DisposeResult {
	rm.mu.Lock()
	if rm.disposing {
		rm.mu.Unlock()
		return &DisposeResult{}
	}
	rm.disposing = true
	order := rm.order
	resources := rm.resources
	rm.order = nil
	rm.resources = make(map[string]Disposable)
	rm.mu.Unlock()

	defer func() {
		rm.mu.Lock()
		rm.disposing = false
		rm.mu.Unlock()
	}()

	result := &DisposeResult{}
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		errCh := make(chan error, 1)
		go func(r Disposable) { errCh <- r.Dispose() }(resources[name])

		select {
		case err := <-errCh:
			if err != nil {
				result.Errors = append(result.Errors, &DisposeError{HandlerIndex: len(order) - 1 - i, ResourceName: name, Err: err})
				corelog.Errorf("dispose: failed to dispose resource %s: %v", name, err)
			} else {
				corelog.Debugf("dispose: resource %s disposed", name)
			}
		case <-ctx.Done():
			result.Errors = append(result.Errors, &DisposeError{
				HandlerIndex: len(order) - 1 - i,
				ResourceName: name,
				Err:          coreerrors.Wrap(ctx.Err(), coreerrors.CodeTimeout, "dispose timeout"),
			})
			return result
		}
	}
	return result
}
