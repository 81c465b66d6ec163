package session

import (
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	coreerrors "kq-tunnel/internal/core/errors"
)

// tombReason 流从表中移除的原因，决定迟到帧的处理方式
type tombReason uint8

const (
	tombClosed      tombReason = iota // 双向正常关闭
	tombResetLocal                    // 本端 Reset，对端可能尚未感知，迟到帧静默丢弃
	tombResetByPeer                   // 对端 Reset，之后再收到 Data 视为违规信号
)

// tomb 墓碑，过期后视同不存在
type tomb struct {
	reason tombReason
	until  time.Time
}

// streamTable 会话的流表
//
// 结构性修改（插入/移除）在写锁下进行，查找走读锁；流内部缓冲由各自的锁保护
type streamTable struct {
	mu      sync.RWMutex
	streams map[uint32]*Stream
	tombs   *lru.Cache[uint32, tomb]
	grace   time.Duration

	nextLocal  uint32 // 下一个本端分配的 id
	lastRemote uint32 // 对端最近一次打开的 id
	remoteOdd  bool   // 对端发起的 id 是否为奇数
	exhausted  bool
}

func newStreamTable(role Role, grace time.Duration, capacity int) *streamTable {
	if capacity <= 0 {
		capacity = DefaultTombstoneCapacity
	}
	// 容量为正时 lru.New 不会失败
	tombs, _ := lru.New[uint32, tomb](capacity)
	t := &streamTable{
		streams: make(map[uint32]*Stream),
		tombs:   tombs,
		grace:   grace,
	}
	if role == RoleClient {
		t.nextLocal = 1
		t.remoteOdd = false
	} else {
		t.nextLocal = 2
		t.remoteOdd = true
	}
	return t
}

// allocate 分配下一个本端流 id，id 在会话内永不复用
func (t *streamTable) allocate() (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.exhausted {
		return 0, coreerrors.ErrStreamIDsExhausted
	}
	id := t.nextLocal
	if id > math.MaxUint32-2 {
		t.exhausted = true
	} else {
		t.nextLocal += 2
	}
	return id, nil
}

// insertLocal 插入本端发起的流
func (t *streamTable) insertLocal(st *Stream) {
	t.mu.Lock()
	t.streams[st.id] = st
	t.mu.Unlock()
}

// acceptRemote 校验并插入对端发起的流
//
// 奇偶错误、非单调递增、重复或仍在墓碑期的 id 返回 ErrStreamRefused
func (t *streamTable) acceptRemote(st *Stream) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := st.id
	if id == 0 || (id%2 == 1) != t.remoteOdd {
		return coreerrors.Wrapf(coreerrors.ErrStreamRefused, coreerrors.CodeStreamRefused, "stream %d has wrong parity", id)
	}
	if _, exists := t.streams[id]; exists {
		return coreerrors.Wrapf(coreerrors.ErrStreamRefused, coreerrors.CodeStreamRefused, "stream %d already open", id)
	}
	if _, ok := t.tombstone(id); ok {
		return coreerrors.Wrapf(coreerrors.ErrStreamRefused, coreerrors.CodeStreamRefused, "stream %d recently closed", id)
	}
	if id <= t.lastRemote {
		return coreerrors.Wrapf(coreerrors.ErrStreamRefused, coreerrors.CodeStreamRefused, "stream %d not above last %d", id, t.lastRemote)
	}
	t.lastRemote = id
	t.streams[id] = st
	return nil
}

func (t *streamTable) get(id uint32) *Stream {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.streams[id]
}

// remove 移除流并写入墓碑，返回是否确实移除
func (t *streamTable) remove(id uint32, reason tombReason) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.streams[id]; !ok {
		return false
	}
	delete(t.streams, id)
	t.bury(id, reason)
	return true
}

// refuse 为被拒绝的对端 Open 写入墓碑，吸收其后续帧
func (t *streamTable) refuse(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.streams[id]; !exists {
		t.bury(id, tombResetLocal)
	}
}

func (t *streamTable) bury(id uint32, reason tombReason) {
	t.tombs.Add(id, tomb{reason: reason, until: time.Now().Add(t.grace)})
}

// tombstone 查询墓碑，过期的墓碑在查询时顺带清除
func (t *streamTable) tombstone(id uint32) (tombReason, bool) {
	tb, ok := t.tombs.Get(id)
	if !ok {
		return 0, false
	}
	if time.Now().After(tb.until) {
		t.tombs.Remove(id)
		return 0, false
	}
	return tb.reason, true
}

func (t *streamTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.streams)
}

// list 当前所有流的快照
func (t *streamTable) list() []*Stream {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Stream, 0, len(t.streams))
	for _, st := range t.streams {
		out = append(out, st)
	}
	return out
}

// drain 清空流表并返回原有的流
func (t *streamTable) drain() []*Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Stream, 0, len(t.streams))
	for id, st := range t.streams {
		out = append(out, st)
		delete(t.streams, id)
	}
	return out
}
