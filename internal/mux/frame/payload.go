package frame

import (
	"encoding/binary"

	coreerrors "kq-tunnel/internal/core/errors"
)

// ResetCode Reset 帧携带的原因码
type ResetCode uint32

const (
	ResetCancel        ResetCode = 0 // 本端主动放弃
	ResetRefused       ResetCode = 1 // 拒绝 Open（重复/非法 id、接收队列已满、目标不可达）
	ResetProtocol      ResetCode = 2 // 流级协议错误（如对端 Close 后仍发 Data）
	ResetTransportLost ResetCode = 3 // 传输丢失且无法恢复
	ResetSessionClosed ResetCode = 4 // 会话关闭
)

func (c ResetCode) String() string {
	switch c {
	case ResetCancel:
		return "cancel"
	case ResetRefused:
		return "refused"
	case ResetProtocol:
		return "protocol"
	case ResetTransportLost:
		return "transport_lost"
	case ResetSessionClosed:
		return "session_closed"
	default:
		return "unknown"
	}
}

// GoAwayCode GoAway 帧携带的原因码
type GoAwayCode uint32

const (
	GoAwayNormal   GoAwayCode = 0
	GoAwayProtocol GoAwayCode = 1
	GoAwayInternal GoAwayCode = 2
)

// ============================================================================
// 构造函数
// ============================================================================

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// NewOpen 打开流，负载为目标地址
func NewOpen(id uint32, target string) Frame {
	return Frame{StreamID: id, Type: TypeOpen, Payload: []byte(target)}
}

// NewData 数据帧，p 不会被复制
func NewData(id uint32, p []byte) Frame {
	return Frame{StreamID: id, Type: TypeData, Payload: p}
}

// NewWindowUpdate 归还接收额度
func NewWindowUpdate(id uint32, credit uint32) Frame {
	return Frame{StreamID: id, Type: TypeWindowUpdate, Payload: u32(credit)}
}

// NewClose 结束本端写方向
func NewClose(id uint32) Frame {
	return Frame{StreamID: id, Type: TypeClose}
}

// NewReset 异常终止流
func NewReset(id uint32, code ResetCode) Frame {
	return Frame{StreamID: id, Type: TypeReset, Payload: u32(uint32(code))}
}

// NewPing 保活探测
func NewPing(nonce uint64) Frame {
	return Frame{Type: TypePing, Payload: u64(nonce)}
}

// NewPong 保活应答，回显 nonce
func NewPong(nonce uint64) Frame {
	return Frame{Type: TypePong, Payload: u64(nonce)}
}

// NewAck 会话级累计确认，seq 为已收到的最大序号
func NewAck(seq uint64) Frame {
	return Frame{Type: TypeAck, Payload: u64(seq)}
}

// NewGoAway 通知对端本端即将关闭会话
func NewGoAway(code GoAwayCode) Frame {
	return Frame{Type: TypeGoAway, Payload: u32(uint32(code))}
}

// ============================================================================
// 解析函数
// ============================================================================

func (f Frame) expect(t Type, size int) error {
	if f.Type != t {
		return coreerrors.Newf(coreerrors.CodeMalformedFrame, "expected %s frame, got %s", t, f.Type)
	}
	if len(f.Payload) != size {
		return coreerrors.Newf(coreerrors.CodeMalformedFrame, "%s payload must be %d bytes, got %d", t, size, len(f.Payload))
	}
	return nil
}

// Credit 解析 WindowUpdate 额度
func (f Frame) Credit() (uint32, error) {
	if err := f.expect(TypeWindowUpdate, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(f.Payload), nil
}

// ResetCode 解析 Reset 原因码
func (f Frame) ResetCode() (ResetCode, error) {
	if err := f.expect(TypeReset, 4); err != nil {
		return 0, err
	}
	return ResetCode(binary.BigEndian.Uint32(f.Payload)), nil
}

// Nonce 解析 Ping/Pong 的 nonce
func (f Frame) Nonce() (uint64, error) {
	t := TypePing
	if f.Type == TypePong {
		t = TypePong
	}
	if err := f.expect(t, 8); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(f.Payload), nil
}

// AckSeq 解析 Ack 序号
func (f Frame) AckSeq() (uint64, error) {
	if err := f.expect(TypeAck, 8); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(f.Payload), nil
}

// GoAwayCode 解析 GoAway 原因码
func (f Frame) GoAwayCode() (GoAwayCode, error) {
	if err := f.expect(TypeGoAway, 4); err != nil {
		return 0, err
	}
	return GoAwayCode(binary.BigEndian.Uint32(f.Payload)), nil
}

// Target 解析 Open 的目标地址
func (f Frame) Target() (string, error) {
	if f.Type != TypeOpen {
		return "", coreerrors.Newf(coreerrors.CodeMalformedFrame, "expected open frame, got %s", f.Type)
	}
	return string(f.Payload), nil
}
