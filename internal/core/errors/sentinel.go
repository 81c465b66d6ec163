package errors

// 预定义哨兵错误（用于 errors.Is 比较）
// 这些错误只用于快速类型检查，不包含详细信息
var (
	// 协议错误
	ErrProtocolViolation = New(CodeProtocolViolation, "protocol violation")
	ErrMalformedFrame    = New(CodeMalformedFrame, "malformed frame")
	ErrFrameTooLarge     = New(CodeFrameTooLarge, "frame too large")
	ErrHandshakeMismatch = New(CodeHandshakeMismatch, "handshake mismatch")
	ErrHandshakeFailed   = New(CodeHandshakeFailed, "handshake failed")

	// 流错误
	ErrStreamRefused          = New(CodeStreamRefused, "stream refused")
	ErrStreamReset            = New(CodeStreamReset, "stream reset")
	ErrStreamClosed           = New(CodeStreamClosed, "stream closed")
	ErrFlowControlExceeded    = New(CodeFlowControl, "flow control window exceeded")
	ErrStreamIDsExhausted     = New(CodeStreamIDsExhausted, "stream ids exhausted")
	ErrAcceptBacklogExhausted = New(CodeStreamRefused, "accept backlog full")

	// 会话错误
	ErrSessionClosed      = New(CodeSessionClosed, "session closed")
	ErrResumeRejected     = New(CodeResumeRejected, "resume rejected")
	ErrResumeTimeout      = New(CodeResumeTimeout, "resume timeout")
	ErrGoAway             = New(CodeGoAway, "peer going away")
	ErrAttemptsExhausted  = New(CodeAttemptsExhaust, "reconnect attempts exhausted")
	ErrTransportLost      = New(CodeTransport, "transport lost")
	ErrTransportMissing   = New(CodeTransportMissing, "no transport attached")
	ErrKeepaliveTimeout   = New(CodeTimeout, "keepalive timeout")
	ErrUnknownProtocol    = New(CodeUnknownProtocol, "unknown transport protocol")
	ErrInvalidParam       = New(CodeInvalidParam, "invalid parameter")
	ErrInvalidState       = New(CodeInvalidState, "invalid state")
	ErrNotFound           = New(CodeNotFound, "not found")
	ErrInternal           = New(CodeInternal, "internal error")
	ErrTimeout            = New(CodeTimeout, "operation timeout")
	ErrCancelled          = New(CodeCancelled, "operation cancelled")
	ErrConfigError        = New(CodeConfigError, "configuration error")
	ErrDialFailed         = New(CodeDialFailed, "dial failed")
	ErrListenFailed       = New(CodeListenFailed, "listen failed")
)
