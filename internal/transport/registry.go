// Package transport 隧道底层传输协议注册表
//
// 每种协议提供拨号与监听两端，产出的连接都是字节流 net.Conn，
// 会话层不关心具体协议
package transport

import (
	"context"
	"net"
	"sort"
	"sync"

	coreerrors "kq-tunnel/internal/core/errors"
)

// Dialer 协议拨号器
type Dialer func(ctx context.Context, address string) (net.Conn, error)

// ListenFunc 协议监听器构造函数
type ListenFunc func(ctx context.Context, address string) (net.Listener, error)

// Protocol 协议信息
type Protocol struct {
	Name     string // tcp, websocket, kcp, quic
	Priority int    // 数字越小优先级越高
	Dial     Dialer
	Listen   ListenFunc
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*Protocol)
)

// Register 注册协议，同名协议会被覆盖
func Register(name string, priority int, dial Dialer, listen ListenFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = &Protocol{
		Name:     name,
		Priority: priority,
		Dial:     dial,
		Listen:   listen,
	}
}

// Lookup 查找协议
func Lookup(name string) (*Protocol, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[name]
	return p, ok
}

// Protocols 已注册协议，按优先级排序
func Protocols() []*Protocol {
	registryMu.RLock()
	list := make([]*Protocol, 0, len(registry))
	for _, p := range registry {
		list = append(list, p)
	}
	registryMu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority < list[j].Priority
		}
		return list[i].Name < list[j].Name
	})
	return list
}

// Names 已注册协议名称，按优先级排序
func Names() []string {
	list := Protocols()
	names := make([]string, len(list))
	for i, p := range list {
		names[i] = p.Name
	}
	return names
}

func lookup(name string) (*Protocol, error) {
	p, ok := Lookup(name)
	if !ok {
		return nil, coreerrors.Newf(coreerrors.CodeUnknownProtocol, "protocol %q is not available", name)
	}
	return p, nil
}

// Dial 使用指定协议建立连接
func Dial(ctx context.Context, protocol, address string) (net.Conn, error) {
	p, err := lookup(protocol)
	if err != nil {
		return nil, err
	}
	conn, err := p.Dial(ctx, address)
	if err != nil {
		return nil, coreerrors.Wrapf(err, coreerrors.CodeDialFailed, "%s dial %s", protocol, address)
	}
	return conn, nil
}

// Listen 使用指定协议监听，ctx 结束时监听器随之关闭
func Listen(ctx context.Context, protocol, address string) (net.Listener, error) {
	p, err := lookup(protocol)
	if err != nil {
		return nil, err
	}
	ln, err := p.Listen(ctx, address)
	if err != nil {
		return nil, coreerrors.Wrapf(err, coreerrors.CodeListenFailed, "%s listen %s", protocol, address)
	}
	context.AfterFunc(ctx, func() { _ = ln.Close() })
	return ln, nil
}
