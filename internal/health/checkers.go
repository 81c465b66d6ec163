package health

import (
	"context"
	"fmt"
	"time"

	"kq-tunnel/internal/mux/session"
)

// EndpointChecker 端点健康检查器
//
// 端点未运行为不健康；客户端没有活动会话（正在重连或会话挂起）为降级
type EndpointChecker struct {
	source SnapshotSource
}

// NewEndpointChecker 创建端点健康检查器
func NewEndpointChecker(source SnapshotSource) *EndpointChecker {
	return &EndpointChecker{source: source}
}

// Check 检查端点健康状态
func (c *EndpointChecker) Check(ctx context.Context) (*ComponentHealth, error) {
	h := &ComponentHealth{Name: "endpoint", LastCheck: time.Now()}
	if c.source == nil {
		h.Status = ComponentStatusUnhealthy
		h.Message = "endpoint not configured"
		return h, nil
	}

	snap := c.source.Snapshot()
	if !snap.Running {
		h.Status = ComponentStatusUnhealthy
		h.Message = "endpoint not running"
		return h, nil
	}

	var active, suspended int
	for _, s := range snap.Sessions {
		switch s.State {
		case session.StateActive.String():
			active++
		case session.StateSuspended.String():
			suspended++
		}
	}

	h.Status = ComponentStatusHealthy
	h.Message = fmt.Sprintf("%d active, %d suspended", active, suspended)
	if snap.Role == session.RoleClient.String() && active == 0 {
		h.Status = ComponentStatusDegraded
		h.Message = "no active session"
	}
	return h, nil
}
