// Package health 端点健康状态
package health

import (
	"maps"
	"sync"
	"time"

	"kq-tunnel/internal/tunnel"
)

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// 健康状态管理
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// Status 健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"   // 健康，接受新会话和新流
	StatusDraining  Status = "draining"  // 排空中，处理现有流但即将退出
	StatusUnhealthy Status = "unhealthy" // 不可用
)

// Info 健康信息
type Info struct {
	Status           Status            `json:"status"`
	Role             string            `json:"role,omitempty"`
	Protocol         string            `json:"protocol,omitempty"`
	Sessions         int               `json:"sessions"`
	Streams          int               `json:"streams"`
	Uptime           int64             `json:"uptime_seconds"`
	Version          string            `json:"version,omitempty"`
	Details          map[string]string `json:"details,omitempty"`
	LastStatusChange time.Time         `json:"last_status_change"`
	Accepting        bool              `json:"accepting"`
}

// SnapshotSource 提供端点快照
type SnapshotSource interface {
	Snapshot() tunnel.Snapshot
}

// Manager 健康状态管理器
//
// 退出时先切到 draining，探活方据此摘除节点，再关闭端点
type Manager struct {
	mu sync.RWMutex

	status           Status
	startTime        time.Time
	lastStatusChange time.Time
	version          string
	details          map[string]string

	source SnapshotSource
}

// NewManager 创建健康状态管理器
func NewManager(version string, source SnapshotSource) *Manager {
	now := time.Now()
	return &Manager{
		status:           StatusHealthy,
		startTime:        now,
		lastStatusChange: now,
		version:          version,
		details:          make(map[string]string),
		source:           source,
	}
}

// Status 当前健康状态
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// SetStatus 设置健康状态
func (m *Manager) SetStatus(status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStatusLocked(status)
}

func (m *Manager) setStatusLocked(status Status) {
	if m.status != status {
		m.status = status
		m.lastStatusChange = time.Now()
	}
}

// IsHealthy 是否健康
func (m *Manager) IsHealthy() bool {
	return m.Status() == StatusHealthy
}

// MarkDraining 标记为排空中
func (m *Manager) MarkDraining() {
	m.SetStatus(StatusDraining)
}

// MarkUnhealthy 标记为不健康并记录原因
func (m *Manager) MarkUnhealthy(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStatusLocked(StatusUnhealthy)
	m.details["unhealthy_reason"] = reason
}

// SetDetail 设置详细信息
func (m *Manager) SetDetail(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.details[key] = value
}

// Info 采集完整健康信息
func (m *Manager) Info() *Info {
	m.mu.RLock()
	info := &Info{
		Status:           m.status,
		Uptime:           int64(time.Since(m.startTime).Seconds()),
		Version:          m.version,
		Details:          maps.Clone(m.details),
		LastStatusChange: m.lastStatusChange,
		Accepting:        m.status == StatusHealthy,
	}
	source := m.source
	m.mu.RUnlock()

	if source != nil {
		snap := source.Snapshot()
		info.Role = snap.Role
		info.Protocol = snap.Protocol
		info.Sessions = len(snap.Sessions)
		for _, s := range snap.Sessions {
			info.Streams += len(s.Streams)
		}
	}
	return info
}
