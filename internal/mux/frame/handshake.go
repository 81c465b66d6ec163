package frame

import (
	"encoding/binary"

	"github.com/google/uuid"

	coreerrors "kq-tunnel/internal/core/errors"
)

// ProtocolVersion 当前协议版本，双方不一致时握手失败且不重试
const ProtocolVersion uint16 = 1

// Magic 握手负载前缀，用于尽早识别非本协议的对端
var Magic = [4]byte{'K', 'Q', 'M', 'X'}

// HandshakeKind 握手消息类型
type HandshakeKind uint8

const (
	KindHello   HandshakeKind = 1 // 客户端 → 服务端
	KindWelcome HandshakeKind = 2 // 服务端 → 客户端
	KindConfirm HandshakeKind = 3 // 客户端 → 服务端
)

// HandshakeStatus Welcome/Confirm 的状态
type HandshakeStatus uint8

const (
	StatusNew      HandshakeStatus = 0 // 新会话（Welcome）/ 确认（Confirm）
	StatusResumed  HandshakeStatus = 1 // 恢复已有会话
	StatusRejected HandshakeStatus = 2 // 版本不兼容
	StatusAbort    HandshakeStatus = 3 // 序号校验失败，放弃恢复
)

func (s HandshakeStatus) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusResumed:
		return "resumed"
	case StatusRejected:
		return "rejected"
	case StatusAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// 能力标志位
const (
	FlagResumable uint16 = 1 << 0
)

// handshakeSize magic(4) kind(1) status(1) version(2) flags(2)
// maxPayload(4) window(4) watermark(4) sessionID(16) recvSeq(8)
const handshakeSize = 46

// Handshake 握手消息
//
// Hello/Welcome 交换版本、能力与各自的接收参数；恢复时 SessionID 非零，
// RecvSeq 为发送方已收到的最大会话序号
type Handshake struct {
	Kind       HandshakeKind
	Status     HandshakeStatus
	Version    uint16
	Flags      uint16
	MaxPayload uint32
	Window     uint32
	Watermark  uint32
	SessionID  uuid.UUID
	RecvSeq    uint64
}

// Resumable 是否声明了可恢复能力
func (h Handshake) Resumable() bool {
	return h.Flags&FlagResumable != 0
}

// Frame 编码为握手帧（stream id 固定为 0）
func (h Handshake) Frame() Frame {
	b := make([]byte, handshakeSize)
	copy(b[0:4], Magic[:])
	b[4] = byte(h.Kind)
	b[5] = byte(h.Status)
	binary.BigEndian.PutUint16(b[6:8], h.Version)
	binary.BigEndian.PutUint16(b[8:10], h.Flags)
	binary.BigEndian.PutUint32(b[10:14], h.MaxPayload)
	binary.BigEndian.PutUint32(b[14:18], h.Window)
	binary.BigEndian.PutUint32(b[18:22], h.Watermark)
	copy(b[22:38], h.SessionID[:])
	binary.BigEndian.PutUint64(b[38:46], h.RecvSeq)
	return Frame{Type: TypeHandshake, Payload: b}
}

// ParseHandshake 解析握手帧
//
// 魔数错误视为协议不兼容（HandshakeMismatch），长度或类型错误视为畸形帧
func ParseHandshake(f Frame) (Handshake, error) {
	if f.Type != TypeHandshake {
		return Handshake{}, coreerrors.Newf(coreerrors.CodeHandshakeFailed, "expected handshake frame, got %s", f.Type)
	}
	if len(f.Payload) < 4 || [4]byte(f.Payload[0:4]) != Magic {
		return Handshake{}, coreerrors.New(coreerrors.CodeHandshakeMismatch, "bad handshake magic")
	}
	if len(f.Payload) != handshakeSize {
		return Handshake{}, coreerrors.Newf(coreerrors.CodeMalformedFrame, "handshake payload must be %d bytes, got %d", handshakeSize, len(f.Payload))
	}

	b := f.Payload
	h := Handshake{
		Kind:       HandshakeKind(b[4]),
		Status:     HandshakeStatus(b[5]),
		Version:    binary.BigEndian.Uint16(b[6:8]),
		Flags:      binary.BigEndian.Uint16(b[8:10]),
		MaxPayload: binary.BigEndian.Uint32(b[10:14]),
		Window:     binary.BigEndian.Uint32(b[14:18]),
		Watermark:  binary.BigEndian.Uint32(b[18:22]),
		RecvSeq:    binary.BigEndian.Uint64(b[38:46]),
	}
	copy(h.SessionID[:], b[22:38])

	if h.Kind < KindHello || h.Kind > KindConfirm {
		return Handshake{}, coreerrors.Newf(coreerrors.CodeMalformedFrame, "unknown handshake kind %d", h.Kind)
	}
	return h, nil
}
