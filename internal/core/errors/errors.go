// Package errors 提供隧道统一的错误处理机制
//
// 设计原则：
// 1. 所有错误都可以通过 errors.Is() 和 errors.As() 进行类型检查
// 2. 错误码用于日志分类、指标统计和对端 Reset 原因
// 3. 支持错误链（error wrapping）
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

// 错误码定义
const (
	// 协议错误
	CodeProtocolViolation ErrorCode = "PROTOCOL_VIOLATION"
	CodeMalformedFrame    ErrorCode = "MALFORMED_FRAME"
	CodeNeedMoreData      ErrorCode = "NEED_MORE_DATA"
	CodeFrameTooLarge     ErrorCode = "FRAME_TOO_LARGE"
	CodeHandshakeMismatch ErrorCode = "HANDSHAKE_MISMATCH"
	CodeHandshakeFailed   ErrorCode = "HANDSHAKE_FAILED"

	// 流错误
	CodeStreamRefused      ErrorCode = "STREAM_REFUSED"
	CodeStreamReset        ErrorCode = "STREAM_RESET"
	CodeStreamClosed       ErrorCode = "STREAM_CLOSED"
	CodeFlowControl        ErrorCode = "FLOW_CONTROL"
	CodeStreamIDsExhausted ErrorCode = "STREAM_IDS_EXHAUSTED"

	// 会话错误
	CodeSessionClosed   ErrorCode = "SESSION_CLOSED"
	CodeResumeRejected  ErrorCode = "RESUME_REJECTED"
	CodeResumeTimeout   ErrorCode = "RESUME_TIMEOUT"
	CodeGoAway          ErrorCode = "GO_AWAY"
	CodeAttemptsExhaust ErrorCode = "ATTEMPTS_EXHAUSTED"

	// 传输错误
	CodeTransport        ErrorCode = "TRANSPORT_ERROR"
	CodeNetworkError     ErrorCode = "NETWORK_ERROR"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeUnknownProtocol  ErrorCode = "UNKNOWN_PROTOCOL"
	CodeDialFailed       ErrorCode = "DIAL_FAILED"
	CodeListenFailed     ErrorCode = "LISTEN_FAILED"
	CodeTransportMissing ErrorCode = "TRANSPORT_MISSING"

	// 请求/配置错误
	CodeInvalidParam ErrorCode = "INVALID_PARAM"
	CodeInvalidState ErrorCode = "INVALID_STATE"
	CodeConfigError  ErrorCode = "CONFIG_ERROR"
	CodeNotFound     ErrorCode = "NOT_FOUND"

	// 系统错误
	CodeInternal  ErrorCode = "INTERNAL_ERROR"
	CodeCancelled ErrorCode = "CANCELLED"
)

// Error 统一错误类型
type Error struct {
	Code    ErrorCode // 错误码
	Message string    // 错误消息
	Cause   error     // 原始错误
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 支持 errors.Is 进行错误码比较
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New 创建新错误
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf 创建格式化消息的错误
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装已有错误，err 为 nil 时返回 nil
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf 包装错误并格式化消息
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// GetCode 沿错误链查找错误码，找不到返回空串
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode 判断错误链中是否包含指定错误码
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Is 透传标准库 errors.Is
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As 透传标准库 errors.As
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join 透传标准库 errors.Join
func Join(errs ...error) error {
	return errors.Join(errs...)
}
