// Package tunnel 隧道端点
//
// Client 拨号并在断线后自动恢复会话，Server 监听并管理多个客户端会话。
// 两者对上层提供相同的流接口：OpenStream 打开到指定目标的流，Accept 接受对端打开的流。
// Forwarder 与 DialService 在此之上把本地 TCP 连接与远端目标桥接起来
package tunnel

import (
	"context"

	"kq-tunnel/internal/mux/reconnect"
	"kq-tunnel/internal/mux/session"
)

// Event 端点生命周期事件
type Event = reconnect.Event

// EventKind 事件类型
type EventKind = reconnect.EventKind

// Observer 事件回调，不应阻塞
type Observer = reconnect.Observer

const (
	EventSessionUp        = reconnect.EventSessionUp
	EventSessionResumed   = reconnect.EventSessionResumed
	EventSessionDown      = reconnect.EventSessionDown
	EventReconnectAttempt = reconnect.EventReconnectAttempt
	EventTerminal         = reconnect.EventTerminal
)

// Opener 能打开到目标的流
type Opener interface {
	OpenStream(ctx context.Context, target string) (*session.Stream, error)
}

// Acceptor 能接受对端打开的流
type Acceptor interface {
	Accept(ctx context.Context) (*session.Stream, error)
}

// Endpoint 隧道端点的公共接口
type Endpoint interface {
	Opener
	Acceptor
	Start(ctx context.Context) error
	Stop() error
	Snapshot() Snapshot
	SessionSnapshot(id string) (session.Snapshot, bool)
}

// Snapshot 端点快照
type Snapshot struct {
	Role     string             `json:"role"`
	Protocol string             `json:"protocol"`
	Address  string             `json:"address"`
	Running  bool               `json:"running"`
	Sessions []session.Snapshot `json:"sessions"`

	// Reconnect 仅客户端：包括首次连接在内的尝试与结果次数
	Reconnect *reconnect.Stats `json:"reconnect,omitempty"`
}
