package health

import (
	"context"
	"sort"
	"time"
)

// ComponentStatus 组件状态
type ComponentStatus string

const (
	ComponentStatusHealthy   ComponentStatus = "healthy"
	ComponentStatusDegraded  ComponentStatus = "degraded"  // 部分可用，例如客户端正在重连
	ComponentStatusUnhealthy ComponentStatus = "unhealthy" // 完全不可用
)

// ComponentHealth 组件健康信息
type ComponentHealth struct {
	Name      string          `json:"name"`
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	LastCheck time.Time       `json:"last_check"`
}

// Checker 健康检查器
type Checker interface {
	Check(ctx context.Context) (*ComponentHealth, error)
}

// CheckerFunc 函数形式的检查器
type CheckerFunc func(ctx context.Context) (*ComponentHealth, error)

// Check 实现 Checker
func (f CheckerFunc) Check(ctx context.Context) (*ComponentHealth, error) { return f(ctx) }

// Composite 组合检查器，逐个执行并汇总
type Composite struct {
	names    []string
	checkers map[string]Checker
	timeout  time.Duration
}

// NewComposite 创建组合检查器，timeout 为单个检查的超时
func NewComposite(timeout time.Duration) *Composite {
	return &Composite{
		checkers: make(map[string]Checker),
		timeout:  timeout,
	}
}

// Register 注册检查器，同名覆盖
func (c *Composite) Register(name string, checker Checker) {
	if _, ok := c.checkers[name]; !ok {
		c.names = append(c.names, name)
		sort.Strings(c.names)
	}
	c.checkers[name] = checker
}

// CheckAll 检查所有组件
func (c *Composite) CheckAll(ctx context.Context) map[string]*ComponentHealth {
	results := make(map[string]*ComponentHealth, len(c.names))
	for _, name := range c.names {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		h, err := c.checkers[name].Check(checkCtx)
		cancel()

		if err != nil {
			h = &ComponentHealth{
				Name:      name,
				Status:    ComponentStatusUnhealthy,
				Message:   err.Error(),
				LastCheck: time.Now(),
			}
		}
		if h != nil {
			results[name] = h
		}
	}
	return results
}

// Overall 汇总状态：任一不健康即不健康，任一降级即降级
func Overall(results map[string]*ComponentHealth) ComponentStatus {
	status := ComponentStatusHealthy
	for _, h := range results {
		switch h.Status {
		case ComponentStatusUnhealthy:
			return ComponentStatusUnhealthy
		case ComponentStatusDegraded:
			status = ComponentStatusDegraded
		}
	}
	return status
}
