package frame

import (
	"io"

	coreerrors "kq-tunnel/internal/core/errors"
)

const readChunk = 32 * 1024

// Decoder 可跨多次读取续解的解码游标
//
// 未消费的字节保留在内部缓冲区中，直到凑齐一个完整帧。
// 一旦遇到非法帧，后续 Next 持续返回同一错误
type Decoder struct {
	max  uint32
	buf  []byte
	off  int
	err  error
	read []byte
}

// NewDecoder 创建解码器，maxPayload 为本端可接受的最大负载
func NewDecoder(maxPayload uint32) *Decoder {
	return &Decoder{max: maxPayload}
}

// Feed 追加收到的原始字节
func (d *Decoder) Feed(p []byte) {
	if len(p) == 0 {
		return
	}
	// 已消费部分超过一半时整理缓冲区，避免无限增长
	if d.off > 0 && d.off >= len(d.buf)/2 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, p...)
}

// Buffered 尚未消费的字节数
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Next 解码下一个帧
func (d *Decoder) Next() (Frame, error) {
	if d.err != nil {
		return Frame{}, d.err
	}
	f, n, err := Decode(d.buf[d.off:], d.max)
	if err != nil {
		if err != ErrNeedMoreData {
			d.err = err
		}
		return Frame{}, err
	}
	d.off += n
	if d.off == len(d.buf) {
		d.buf = d.buf[:0]
		d.off = 0
	}
	return f, nil
}

// ReadFrame 从 r 读取直到得到一个完整帧
//
// r 返回的错误原样透传（含 io.EOF），已缓冲但不完整的帧在 EOF 时报告为 io.ErrUnexpectedEOF
func (d *Decoder) ReadFrame(r io.Reader) (Frame, error) {
	for {
		f, err := d.Next()
		if err == nil {
			return f, nil
		}
		if err != ErrNeedMoreData {
			return Frame{}, err
		}

		if d.read == nil {
			d.read = make([]byte, readChunk)
		}
		n, rerr := r.Read(d.read)
		if n > 0 {
			d.Feed(d.read[:n])
			continue
		}
		if rerr != nil {
			if rerr == io.EOF && d.Buffered() > 0 {
				return Frame{}, coreerrors.Wrap(io.ErrUnexpectedEOF, coreerrors.CodeTransport, "partial frame at eof")
			}
			return Frame{}, rerr
		}
	}
}
