package session

import (
	"sync"

	coreerrors "kq-tunnel/internal/core/errors"
)

// ============================================================================
// 发送端重放缓冲
// ============================================================================

// DefaultBacklogWatermark 默认重放缓冲上限（字节）
const DefaultBacklogWatermark = 4 * 1024 * 1024

type backlogEntry struct {
	seq  uint64
	data []byte // 已编码的完整帧
}

// Backlog 已发送但未被对端确认的带序号帧
//
// 序号连续递增；对端的累计 Ack 从头部裁剪；断线恢复时按对端已收到的序号重放其后的帧
type Backlog struct {
	mu        sync.Mutex
	entries   []backlogEntry
	bytes     int
	watermark int
	lastSeq   uint64 // 最近一次 Push 的序号
	acked     uint64 // 对端确认的最大序号
}

// NewBacklog 创建重放缓冲
func NewBacklog(watermark int) *Backlog {
	if watermark <= 0 {
		watermark = DefaultBacklogWatermark
	}
	return &Backlog{watermark: watermark}
}

// Push 追加一个已编码的帧，seq 必须严格递增且连续
func (b *Backlog) Push(seq uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if seq != b.lastSeq+1 {
		return coreerrors.Newf(coreerrors.CodeInternal, "backlog sequence gap: last %d, got %d", b.lastSeq, seq)
	}
	b.entries = append(b.entries, backlogEntry{seq: seq, data: data})
	b.bytes += len(data)
	b.lastSeq = seq
	return nil
}

// Admit 再放入 n 字节是否不超过水位
//
// 缓冲为空时总是放行，保证单个大帧不会永久阻塞
func (b *Backlog) Admit(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries) == 0 || b.bytes+n <= b.watermark
}

// Trim 裁剪序号不大于 ack 的帧，返回释放的字节数
func (b *Backlog) Trim(ack uint64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ack > b.lastSeq {
		return 0, coreerrors.Newf(coreerrors.CodeProtocolViolation, "ack %d beyond last sent %d", ack, b.lastSeq)
	}
	if ack <= b.acked {
		return 0, nil
	}
	b.acked = ack

	i, freed := 0, 0
	for i < len(b.entries) && b.entries[i].seq <= ack {
		freed += len(b.entries[i].data)
		b.entries[i].data = nil
		i++
	}
	b.entries = b.entries[i:]
	b.bytes -= freed
	return freed, nil
}

// CanResume 对端声明已收到 peerRecv 时能否无损恢复
//
// peerRecv 必须落在 [首个未确认序号-1, 最近发送序号] 内：
// 过小说明对端缺失的帧已被裁剪，过大说明对端收到了本端从未发送的帧
func (b *Backlog) CanResume(peerRecv uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return peerRecv >= b.acked && peerRecv <= b.lastSeq
}

// After 返回序号大于 seq 的帧（按序），用于重放
func (b *Backlog) After(seq uint64) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([][]byte, 0, len(b.entries))
	for _, e := range b.entries {
		if e.seq > seq {
			out = append(out, e.data)
		}
	}
	return out
}

// Len 缓冲中的帧数
func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Bytes 缓冲中的字节数
func (b *Backlog) Bytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes
}

// LastSeq 最近一次 Push 的序号
func (b *Backlog) LastSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeq
}
