// Package reconnect 客户端会话的断线重连
//
// Supervisor 拨号建立会话并监视传输连接：可恢复的会话断线后在新连接上恢复，
// 恢复失败或会话不可恢复时重建新会话。重连尝试按指数退避顺序进行
package reconnect

import (
	"sync"
	"time"

	"github.com/jpillora/backoff"

	corelog "kq-tunnel/internal/core/log"
)

// Policy 重连策略
type Policy struct {
	MaxAttempts int           // 单次断线的最大尝试次数（0=无限）
	MinBackoff  time.Duration // 初始延迟
	MaxBackoff  time.Duration // 最大延迟
	Factor      float64       // 退避因子（2.0=指数退避）
	Jitter      bool          // 是否添加随机抖动

	// 熔断：连续失败达到阈值后暂停 CircuitBreakerTimeout 再继续
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

// DefaultPolicy 默认重连策略
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:             0,
		MinBackoff:              200 * time.Millisecond,
		MaxBackoff:              30 * time.Second,
		Factor:                  2.0,
		Jitter:                  true,
		CircuitBreakerThreshold: 10,
		CircuitBreakerTimeout:   time.Minute,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MinBackoff <= 0 {
		p.MinBackoff = d.MinBackoff
	}
	if p.MaxBackoff < p.MinBackoff {
		p.MaxBackoff = d.MaxBackoff
		if p.MaxBackoff < p.MinBackoff {
			p.MaxBackoff = p.MinBackoff
		}
	}
	if p.Factor < 1 {
		p.Factor = d.Factor
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	return p
}

func (p Policy) backoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    p.MinBackoff,
		Max:    p.MaxBackoff,
		Factor: p.Factor,
		Jitter: p.Jitter,
	}
}

// circuitBreaker 连续失败计数，阈值为 0 时不熔断
type circuitBreaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	timeout   time.Duration
	log       corelog.Logger
}

func newCircuitBreaker(threshold int, timeout time.Duration, log corelog.Logger) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, timeout: timeout, log: log}
}

func (cb *circuitBreaker) success() {
	cb.mu.Lock()
	cb.failures = 0
	cb.mu.Unlock()
}

// failure 记录一次失败，返回需要额外暂停的时长
func (cb *circuitBreaker) failure() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.threshold <= 0 || cb.timeout <= 0 || cb.failures%cb.threshold != 0 {
		return 0
	}
	cb.log.Warnf("reconnect: circuit open after %d consecutive failures, pausing %s", cb.failures, cb.timeout)
	return cb.timeout
}
