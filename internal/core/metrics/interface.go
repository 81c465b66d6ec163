package metrics

// Metrics 指标收集接口
// 默认使用内存实现，由管理 API 以快照形式导出
type Metrics interface {
	// Counter 操作
	IncrementCounter(name string, labels map[string]string) error
	AddCounter(name string, value float64, labels map[string]string) error
	GetCounter(name string, labels map[string]string) (float64, error)

	// Gauge 操作
	SetGauge(name string, value float64, labels map[string]string) error
	AddGauge(name string, delta float64, labels map[string]string) error
	GetGauge(name string, labels map[string]string) (float64, error)

	// Histogram 操作，内存实现只记录次数与总和
	ObserveHistogram(name string, value float64, labels map[string]string) error

	// Snapshot 导出全部指标，键为带标签的指标名
	Snapshot() map[string]float64

	// 关闭指标收集器
	Close() error
}
