package metrics

import (
	"context"
	"sort"
	"strings"
	"sync"

	"kq-tunnel/internal/core/dispose"
)

// MemoryMetrics 内存指标实现（无外部依赖）
type MemoryMetrics struct {
	dispose.Dispose

	mu       sync.RWMutex
	counters map[string]float64
	gauges   map[string]float64
	histSum  map[string]float64
	histCnt  map[string]float64
}

// NewMemoryMetrics 创建内存指标收集器
func NewMemoryMetrics(parentCtx context.Context) *MemoryMetrics {
	m := &MemoryMetrics{
		counters: make(map[string]float64),
		gauges:   make(map[string]float64),
		histSum:  make(map[string]float64),
		histCnt:  make(map[string]float64),
	}
	m.SetCtx(parentCtx, nil)
	return m
}

// IncrementCounter 增加计数器
func (m *MemoryMetrics) IncrementCounter(name string, labels map[string]string) error {
	return m.AddCounter(name, 1, labels)
}

// AddCounter 增加计数器指定值
func (m *MemoryMetrics) AddCounter(name string, value float64, labels map[string]string) error {
	key := buildKey(name, labels)
	m.mu.Lock()
	m.counters[key] += value
	m.mu.Unlock()
	return nil
}

// GetCounter 获取计数器值
func (m *MemoryMetrics) GetCounter(name string, labels map[string]string) (float64, error) {
	key := buildKey(name, labels)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[key], nil
}

// SetGauge 设置 Gauge 值
func (m *MemoryMetrics) SetGauge(name string, value float64, labels map[string]string) error {
	key := buildKey(name, labels)
	m.mu.Lock()
	m.gauges[key] = value
	m.mu.Unlock()
	return nil
}

// AddGauge Gauge 增减
func (m *MemoryMetrics) AddGauge(name string, delta float64, labels map[string]string) error {
	key := buildKey(name, labels)
	m.mu.Lock()
	m.gauges[key] += delta
	m.mu.Unlock()
	return nil
}

// GetGauge 获取 Gauge 值
func (m *MemoryMetrics) GetGauge(name string, labels map[string]string) (float64, error) {
	key := buildKey(name, labels)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gauges[key], nil
}

// ObserveHistogram 记录观测值，导出为 _sum 与 _count
func (m *MemoryMetrics) ObserveHistogram(name string, value float64, labels map[string]string) error {
	key := buildKey(name, labels)
	m.mu.Lock()
	m.histSum[key] += value
	m.histCnt[key]++
	m.mu.Unlock()
	return nil
}

// Snapshot 导出全部指标
func (m *MemoryMetrics) Snapshot() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.counters)+len(m.gauges)+2*len(m.histCnt))
	for k, v := range m.counters {
		out[k] = v
	}
	for k, v := range m.gauges {
		out[k] = v
	}
	for k, v := range m.histSum {
		out[k+"_sum"] = v
		out[k+"_count"] = m.histCnt[k]
	}
	return out
}

// Close 关闭指标收集器
func (m *MemoryMetrics) Close() error {
	return m.Dispose.Close().Err()
}

// buildKey 构建指标键名，形如 name{k1=v1,k2=v2}
func buildKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	// 按标签键名排序，确保相同标签集合生成相同的 key
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}
