package log

import (
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

type holder struct{ l Logger }

var defaultLogger atomic.Pointer[holder]

func init() {
	l := logrus.New()
	l.SetOutput(io.Discard)
	SetDefault(NewLogrusLogger(l))
}

// Default 默认 Logger，Configure 之前丢弃所有输出
func Default() Logger {
	return defaultLogger.Load().l
}

// SetDefault 替换默认 Logger
func SetDefault(l Logger) {
	if l == nil {
		l = NopLogger{}
	}
	defaultLogger.Store(&holder{l: l})
}

// 包级便捷函数，用于没有注入 Logger 的底层代码

func Debugf(format string, args ...any) { Default().Debugf(format, args...) }
func Infof(format string, args ...any)  { Default().Infof(format, args...) }
func Warn(args ...any)                  { Default().Warn(args...) }
func Warnf(format string, args ...any)  { Default().Warnf(format, args...) }
func Errorf(format string, args ...any) { Default().Errorf(format, args...) }
