package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// ErrorType 错误类型
type ErrorType string

const (
	ErrorTypeTemporary ErrorType = "temporary" // 可重试
	ErrorTypePermanent ErrorType = "permanent" // 永久错误
	ErrorTypeProtocol  ErrorType = "protocol"  // 协议错误
	ErrorTypeNetwork   ErrorType = "network"   // 网络错误
	ErrorTypeFatal     ErrorType = "fatal"     // 致命错误
)

// TypedError 带类型的错误，供重连器判断是否继续尝试
type TypedError struct {
	Type      ErrorType
	Message   string
	Err       error
	Retryable bool
}

// Error 实现 error 接口
func (e *TypedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *TypedError) Unwrap() error {
	return e.Err
}

func isRetryableType(errType ErrorType) bool {
	switch errType {
	case ErrorTypeTemporary, ErrorTypeNetwork:
		return true
	default:
		return false
	}
}

// WrapTyped 为错误附加类型，err 为 nil 时返回 nil
func WrapTyped(err error, errType ErrorType, message string) error {
	if err == nil {
		return nil
	}
	return &TypedError{
		Type:      errType,
		Message:   message,
		Err:       err,
		Retryable: isRetryableType(errType),
	}
}

// 各错误码对应的类型，未列出的按永久错误处理
var codeTypes = map[ErrorCode]ErrorType{
	CodeProtocolViolation: ErrorTypeProtocol,
	CodeMalformedFrame:    ErrorTypeProtocol,
	CodeFrameTooLarge:     ErrorTypeProtocol,
	CodeFlowControl:       ErrorTypeProtocol,
	CodeHandshakeMismatch: ErrorTypeFatal,
	CodeHandshakeFailed:   ErrorTypeTemporary,
	CodeResumeRejected:    ErrorTypeTemporary,
	CodeResumeTimeout:     ErrorTypeTemporary,
	CodeGoAway:            ErrorTypeTemporary,
	CodeTransport:         ErrorTypeNetwork,
	CodeNetworkError:      ErrorTypeNetwork,
	CodeDialFailed:        ErrorTypeNetwork,
	CodeTimeout:           ErrorTypeTemporary,
	CodeAttemptsExhaust:   ErrorTypeFatal,
	CodeConfigError:       ErrorTypeFatal,
	CodeUnknownProtocol:   ErrorTypeFatal,
}

// GetErrorType 推断错误类型
//
// 优先使用 TypedError，其次按错误码映射，再次识别网络错误
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ""
	}
	var te *TypedError
	if errors.As(err, &te) {
		return te.Type
	}
	if code := GetCode(err); code != "" {
		if t, ok := codeTypes[code]; ok {
			return t
		}
		return ErrorTypePermanent
	}
	if errors.Is(err, context.Canceled) {
		return ErrorTypePermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTemporary
	}
	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrorTypeNetwork
	}
	return ErrorTypeTemporary
}

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TypedError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return isRetryableType(GetErrorType(err))
}
