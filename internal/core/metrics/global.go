package metrics

import (
	"sync"

	coreerrors "kq-tunnel/internal/core/errors"
)

var (
	globalMetrics Metrics
	globalMu      sync.RWMutex
)

// SetGlobalMetrics 设置全局 Metrics 实例
func SetGlobalMetrics(m Metrics) error {
	if m == nil {
		return coreerrors.New(coreerrors.CodeInvalidParam, "metrics: SetGlobalMetrics called with nil")
	}
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
	return nil
}

// GetGlobalMetrics 获取全局 Metrics 实例，未设置时返回 nil
func GetGlobalMetrics() Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// resetGlobalMetrics 仅供测试使用
func resetGlobalMetrics(m Metrics) {
	globalMu.Lock()
	globalMetrics = m
	globalMu.Unlock()
}

// 以下便捷方法在未设置全局实例时静默忽略，热路径无需判空

func incr(name string, labels map[string]string) {
	if m := GetGlobalMetrics(); m != nil {
		_ = m.IncrementCounter(name, labels)
	}
}

func add(name string, v float64, labels map[string]string) {
	if m := GetGlobalMetrics(); m != nil {
		_ = m.AddCounter(name, v, labels)
	}
}

func gaugeAdd(name string, delta float64, labels map[string]string) {
	if m := GetGlobalMetrics(); m != nil {
		_ = m.AddGauge(name, delta, labels)
	}
}

func gaugeSet(name string, v float64, labels map[string]string) {
	if m := GetGlobalMetrics(); m != nil {
		_ = m.SetGauge(name, v, labels)
	}
}

func observe(name string, v float64, labels map[string]string) {
	if m := GetGlobalMetrics(); m != nil {
		_ = m.ObserveHistogram(name, v, labels)
	}
}
