package metrics

import "time"

// 指标名
const (
	MetricFramesSent         = "mux_frames_sent"
	MetricFramesReceived     = "mux_frames_received"
	MetricBytesSent          = "mux_bytes_sent"
	MetricBytesReceived      = "mux_bytes_received"
	MetricStreamsOpened      = "mux_streams_opened"
	MetricStreamsClosed      = "mux_streams_closed"
	MetricStreamsReset       = "mux_streams_reset"
	MetricStreamsActive      = "mux_streams_active"
	MetricSessionsActive     = "mux_sessions_active"
	MetricSessionsSuspended  = "mux_sessions_suspended"
	MetricProtocolViolations = "mux_protocol_violations"
	MetricReconnectAttempts  = "reconnect_attempts"
	MetricReconnectOutcome   = "reconnect_outcome"
	MetricReplayedFrames     = "mux_replayed_frames"
	MetricBacklogBytes       = "mux_backlog_bytes"
	MetricRTT                = "mux_rtt_seconds"
	MetricBridgeBytes        = "tunnel_bridge_bytes"
)

// FrameSent 记录发送的帧
func FrameSent(frameType string, payloadLen int) {
	incr(MetricFramesSent, map[string]string{"type": frameType})
	add(MetricBytesSent, float64(payloadLen), nil)
}

// FrameReceived 记录接收的帧
func FrameReceived(frameType string, payloadLen int) {
	incr(MetricFramesReceived, map[string]string{"type": frameType})
	add(MetricBytesReceived, float64(payloadLen), nil)
}

// StreamOpened 记录新建的流，initiator 为 local 或 remote
func StreamOpened(initiator string) {
	incr(MetricStreamsOpened, map[string]string{"initiator": initiator})
	gaugeAdd(MetricStreamsActive, 1, nil)
}

// StreamFinished 记录流结束，reset 表示异常终止
func StreamFinished(reset bool) {
	if reset {
		incr(MetricStreamsReset, nil)
	} else {
		incr(MetricStreamsClosed, nil)
	}
	gaugeAdd(MetricStreamsActive, -1, nil)
}

// SessionUp 会话进入活跃状态
func SessionUp() {
	gaugeAdd(MetricSessionsActive, 1, nil)
}

// SessionDown 会话结束
func SessionDown() {
	gaugeAdd(MetricSessionsActive, -1, nil)
}

// SetSuspendedSessions 设置等待恢复的会话数
func SetSuspendedSessions(n int) {
	gaugeSet(MetricSessionsSuspended, float64(n), nil)
}

// ProtocolViolation 记录对端协议违规，kind 描述违规类别
func ProtocolViolation(kind string) {
	incr(MetricProtocolViolations, map[string]string{"kind": kind})
}

// ReconnectAttempt 记录一次重连尝试
func ReconnectAttempt() {
	incr(MetricReconnectAttempts, nil)
}

// ReconnectOutcome 记录重连结果：resumed / fresh / failed / terminal
func ReconnectOutcome(outcome string) {
	incr(MetricReconnectOutcome, map[string]string{"outcome": outcome})
}

// FramesReplayed 记录恢复时重放的帧数
func FramesReplayed(n int) {
	add(MetricReplayedFrames, float64(n), nil)
}

// SetBacklogBytes 设置当前未确认字节数
func SetBacklogBytes(sessionID string, n int) {
	gaugeSet(MetricBacklogBytes, float64(n), map[string]string{"session": sessionID})
}

// ObserveRTT 记录 Ping/Pong 往返时延
func ObserveRTT(d time.Duration) {
	observe(MetricRTT, d.Seconds(), nil)
}

// BridgeBytes 记录转发桥接的字节数，direction 为 up 或 down
func BridgeBytes(direction string, n int64) {
	add(MetricBridgeBytes, float64(n), map[string]string{"direction": direction})
}
