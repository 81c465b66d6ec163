// Package session 实现多路复用会话：在一条传输连接上承载多个逻辑流
//
// 一个 Session 拥有：
//   - 当前传输连接（断线后由重连器替换）
//   - 流表（id → Stream，含短期墓碑）
//   - 一个写循环（唯一写者）与每代传输连接各一个读循环
//   - 会话级发送/接收序号与重放缓冲，用于断线恢复
package session

import (
	"time"

	coreerrors "kq-tunnel/internal/core/errors"
	corelog "kq-tunnel/internal/core/log"
	"kq-tunnel/internal/mux/flow"
	"kq-tunnel/internal/mux/frame"
)

// Role 会话角色，决定流 id 的奇偶
type Role uint8

const (
	RoleClient Role = iota // 本端发起的流 id 为奇数
	RoleServer             // 本端发起的流 id 为偶数
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// 默认参数
const (
	DefaultKeepaliveInterval = 15 * time.Second
	DefaultKeepaliveTimeout  = 45 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultDrainTimeout      = 5 * time.Second
	DefaultResumeTimeout     = 60 * time.Second
	DefaultCloseGrace        = 30 * time.Second
	DefaultTombstoneCapacity = 4096
	DefaultAcceptBacklog     = 256
	DefaultAckFrames         = 64
)

// Config 会话参数
//
// MaxPayload、InitialWindow 描述本端的接收能力，握手时通告给对端；
// 对端按这些值限制发往本端的帧大小与每个流的在途字节数
type Config struct {
	MaxPayload        uint32
	InitialWindow     uint32
	WindowUpdateRatio float64

	Resumable        bool
	BacklogWatermark int
	ResumeTimeout    time.Duration

	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration
	HandshakeTimeout  time.Duration
	DrainTimeout      time.Duration

	AcceptBacklog     int
	CloseGrace        time.Duration
	TombstoneCapacity int

	Logger corelog.Logger
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxPayload:        frame.DefaultMaxPayload,
		InitialWindow:     flow.DefaultWindow,
		WindowUpdateRatio: flow.DefaultUpdateRatio,
		Resumable:         true,
		BacklogWatermark:  DefaultBacklogWatermark,
		ResumeTimeout:     DefaultResumeTimeout,
		KeepaliveInterval: DefaultKeepaliveInterval,
		KeepaliveTimeout:  DefaultKeepaliveTimeout,
		HandshakeTimeout:  DefaultHandshakeTimeout,
		DrainTimeout:      DefaultDrainTimeout,
		AcceptBacklog:     DefaultAcceptBacklog,
		CloseGrace:        DefaultCloseGrace,
		TombstoneCapacity: DefaultTombstoneCapacity,
	}
}

// withDefaults 用默认值填充零值字段
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxPayload == 0 {
		c.MaxPayload = d.MaxPayload
	}
	if c.InitialWindow == 0 {
		c.InitialWindow = d.InitialWindow
	}
	if c.WindowUpdateRatio <= 0 || c.WindowUpdateRatio > 1 {
		c.WindowUpdateRatio = d.WindowUpdateRatio
	}
	if c.BacklogWatermark <= 0 {
		c.BacklogWatermark = d.BacklogWatermark
	}
	if c.ResumeTimeout <= 0 {
		c.ResumeTimeout = d.ResumeTimeout
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = d.KeepaliveInterval
	}
	if c.KeepaliveTimeout <= 0 {
		c.KeepaliveTimeout = 3 * c.KeepaliveInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	if c.AcceptBacklog <= 0 {
		c.AcceptBacklog = d.AcceptBacklog
	}
	if c.CloseGrace <= 0 {
		c.CloseGrace = d.CloseGrace
	}
	if c.TombstoneCapacity <= 0 {
		c.TombstoneCapacity = d.TombstoneCapacity
	}
	if c.Logger == nil {
		c.Logger = corelog.Default()
	}
	return c
}

// Validate 校验参数取值范围
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.MaxPayload < frame.MinMaxPayload || c.MaxPayload > frame.AbsoluteMaxPayload {
		return coreerrors.Newf(coreerrors.CodeInvalidParam, "max payload %d out of range [%d, %d]",
			c.MaxPayload, frame.MinMaxPayload, frame.AbsoluteMaxPayload)
	}
	if c.InitialWindow < c.MaxPayload || c.InitialWindow > flow.MaxWindow {
		return coreerrors.Newf(coreerrors.CodeInvalidParam, "initial window %d must be in [max payload %d, %d]",
			c.InitialWindow, c.MaxPayload, flow.MaxWindow)
	}
	if c.BacklogWatermark < int(c.MaxPayload)+frame.HeaderSize {
		return coreerrors.Newf(coreerrors.CodeInvalidParam, "backlog watermark %d smaller than one frame", c.BacklogWatermark)
	}
	if c.KeepaliveTimeout <= c.KeepaliveInterval {
		return coreerrors.Newf(coreerrors.CodeInvalidParam, "keepalive timeout %s must exceed interval %s",
			c.KeepaliveTimeout, c.KeepaliveInterval)
	}
	return nil
}

// peerParams 握手得到的对端参数
type peerParams struct {
	maxPayload uint32 // 发往对端的单帧负载上限
	window     uint32 // 对端给每个流授予的初始窗口
	watermark  uint32 // 对端的重放水位，用于决定 Ack 频率
	resumable  bool
}

func (p peerParams) validate() error {
	if p.maxPayload < frame.MinMaxPayload || p.maxPayload > frame.AbsoluteMaxPayload {
		return coreerrors.Newf(coreerrors.CodeHandshakeFailed, "peer max payload %d out of range", p.maxPayload)
	}
	if p.window == 0 || p.window > flow.MaxWindow {
		return coreerrors.Newf(coreerrors.CodeHandshakeFailed, "peer window %d out of range", p.window)
	}
	return nil
}
