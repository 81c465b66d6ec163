// Package frame 实现多路复用隧道的线上帧编解码
//
// 帧格式（大端序）：
//
//	+-------------+--------+----------------+-----------------+
//	| StreamID(4) | Type(1)| PayloadLen(4)  | Payload(N)      |
//	+-------------+--------+----------------+-----------------+
//
// 纯长度前缀，不依赖分隔符；长度超过协商上限的帧在分配内存前即被拒绝
package frame

import (
	"encoding/binary"
	"fmt"

	coreerrors "kq-tunnel/internal/core/errors"
)

// 帧头与负载大小常量
const (
	HeaderSize = 9 // StreamID(4) + Type(1) + Length(4)

	DefaultMaxPayload  = 32 * 1024        // 默认单帧最大负载
	MinMaxPayload      = 1024             // 可协商的最小上限
	AbsoluteMaxPayload = 16 * 1024 * 1024 // 可协商的最大上限
)

// Type 帧类型
type Type uint8

const (
	TypeHandshake    Type = 0 // 握手（Hello/Welcome/Confirm）
	TypeOpen         Type = 1 // 打开流，负载为目标地址
	TypeData         Type = 2 // 流数据
	TypeWindowUpdate Type = 3 // 接收窗口额度
	TypeClose        Type = 4 // 本端写方向结束
	TypeReset        Type = 5 // 异常终止流
	TypePing         Type = 6 // 保活探测
	TypePong         Type = 7 // 保活应答
	TypeAck          Type = 8 // 会话级累计确认
	TypeGoAway       Type = 9 // 会话即将关闭

	typeCount = 10
)

var typeNames = [typeCount]string{
	"handshake", "open", "data", "window_update", "close",
	"reset", "ping", "pong", "ack", "go_away",
}

// String 返回帧类型名称，用于日志与指标标签
func (t Type) String() string {
	if t.Valid() {
		return typeNames[t]
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// Valid 是否为已定义的帧类型
func (t Type) Valid() bool {
	return t < typeCount
}

// Sequenced 该类型的帧是否占用会话序号
//
// 占用序号的帧在断线恢复时需要重放，其余帧（握手、保活、确认、GoAway）只对当前传输连接有意义
func (t Type) Sequenced() bool {
	switch t {
	case TypeOpen, TypeData, TypeWindowUpdate, TypeClose, TypeReset:
		return true
	default:
		return false
	}
}

// Frame 线上传输的最小单元
type Frame struct {
	StreamID uint32
	Type     Type
	Payload  []byte
}

// Sequenced 见 Type.Sequenced
func (f Frame) Sequenced() bool {
	return f.Type.Sequenced()
}

// EncodedLen 编码后的总字节数
func (f Frame) EncodedLen() int {
	return HeaderSize + len(f.Payload)
}

func (f Frame) String() string {
	return fmt.Sprintf("%s[stream=%d len=%d]", f.Type, f.StreamID, len(f.Payload))
}

var (
	// ErrNeedMoreData 缓冲区内不足一个完整帧
	ErrNeedMoreData = coreerrors.New(coreerrors.CodeNeedMoreData, "need more data")
	// ErrMalformed 帧头非法（未知类型或长度超限）
	ErrMalformed = coreerrors.ErrMalformedFrame
)

// Encode 编码单个帧
func Encode(f Frame) ([]byte, error) {
	return AppendEncode(make([]byte, 0, f.EncodedLen()), f)
}

// AppendEncode 将帧追加编码到 dst，返回新的切片
func AppendEncode(dst []byte, f Frame) ([]byte, error) {
	if !f.Type.Valid() {
		return dst, coreerrors.Newf(coreerrors.CodeMalformedFrame, "cannot encode frame type %d", uint8(f.Type))
	}
	if len(f.Payload) > AbsoluteMaxPayload {
		return dst, coreerrors.Newf(coreerrors.CodeFrameTooLarge, "payload too large: %d > %d", len(f.Payload), AbsoluteMaxPayload)
	}

	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], f.StreamID)
	hdr[4] = byte(f.Type)
	binary.BigEndian.PutUint32(hdr[5:9], uint32(len(f.Payload)))

	dst = append(dst, hdr[:]...)
	dst = append(dst, f.Payload...)
	return dst, nil
}

// Decode 从 buf 头部解码一个帧
//
// 返回帧与消耗的字节数；数据不足返回 ErrNeedMoreData，帧头非法返回 ErrMalformed。
// 负载会被复制，调用方可以复用 buf
func Decode(buf []byte, maxPayload uint32) (Frame, int, error) {
	if len(buf) < HeaderSize {
		return Frame{}, 0, ErrNeedMoreData
	}

	id := binary.BigEndian.Uint32(buf[0:4])
	t := Type(buf[4])
	length := binary.BigEndian.Uint32(buf[5:9])

	if !t.Valid() {
		return Frame{}, 0, coreerrors.Newf(coreerrors.CodeMalformedFrame, "unknown frame type %d on stream %d", uint8(t), id)
	}
	if length > maxPayload {
		return Frame{}, 0, coreerrors.Newf(coreerrors.CodeMalformedFrame, "payload length %d exceeds max %d on stream %d", length, maxPayload, id)
	}

	total := HeaderSize + int(length)
	if len(buf) < total {
		return Frame{}, 0, ErrNeedMoreData
	}

	f := Frame{StreamID: id, Type: t}
	if length > 0 {
		f.Payload = make([]byte, length)
		copy(f.Payload, buf[HeaderSize:total])
	}
	return f, total, nil
}
