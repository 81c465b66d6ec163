package session

import (
	"sort"
	"time"
)

// StreamSnapshot 流的只读快照
type StreamSnapshot struct {
	ID       uint32 `json:"id"`
	Target   string `json:"target,omitempty"`
	Local    bool   `json:"local"`
	State    string `json:"state"`
	InFlight int64  `json:"in_flight"`
	Buffered int    `json:"buffered"`
	Queued   int    `json:"queued"`
	BytesIn  int64  `json:"bytes_in"`
	BytesOut int64  `json:"bytes_out"`
}

// Snapshot 会话的只读快照，供管理接口与命令行展示
type Snapshot struct {
	ID             string           `json:"id"`
	Role           string           `json:"role"`
	State          string           `json:"state"`
	Resumable      bool             `json:"resumable"`
	Generation     uint64           `json:"generation"`
	CreatedAt      time.Time        `json:"created_at"`
	LastActivity   time.Time        `json:"last_activity"`
	RTT            time.Duration    `json:"rtt"`
	TxSeq          uint64           `json:"tx_seq"`
	RxSeq          uint64           `json:"rx_seq"`
	BacklogFrames  int              `json:"backlog_frames"`
	BacklogBytes   int              `json:"backlog_bytes"`
	FramesSent     uint64           `json:"frames_sent"`
	FramesReceived uint64           `json:"frames_received"`
	BytesSent      uint64           `json:"bytes_sent"`
	BytesReceived  uint64           `json:"bytes_received"`
	Reconnects     uint64           `json:"reconnects"`
	Violations     uint64           `json:"protocol_violations"`
	BytesInFlight  int64            `json:"bytes_in_flight"`
	Streams        []StreamSnapshot `json:"streams"`
	Error          string           `json:"error,omitempty"`
}

// Snapshot 采集当前状态
func (s *Session) Snapshot() Snapshot {
	_, gen := s.current()
	snap := Snapshot{
		ID:             s.ID(),
		Role:           s.role.String(),
		State:          s.State().String(),
		Resumable:      s.resumable,
		Generation:     gen,
		CreatedAt:      s.createdAt,
		LastActivity:   s.activity.Last(),
		RTT:            s.RTT(),
		TxSeq:          s.txSeq.Load(),
		RxSeq:          s.rxSeq.Load(),
		FramesSent:     s.framesSent.Load(),
		FramesReceived: s.framesRecv.Load(),
		BytesSent:      s.bytesSent.Load(),
		BytesReceived:  s.bytesRecv.Load(),
		Reconnects:     s.reconnects.Load(),
		Violations:     s.violations.Load(),
	}
	if s.backlog != nil {
		snap.BacklogFrames = s.backlog.Len()
		snap.BacklogBytes = s.backlog.Bytes()
	}
	if err := s.Err(); err != nil {
		snap.Error = err.Error()
	}

	streams := s.table.list()
	snap.Streams = make([]StreamSnapshot, 0, len(streams))
	for _, st := range streams {
		ss := st.snapshot()
		snap.BytesInFlight += ss.InFlight
		snap.Streams = append(snap.Streams, ss)
	}
	sort.Slice(snap.Streams, func(i, j int) bool { return snap.Streams[i].ID < snap.Streams[j].ID })
	return snap
}
