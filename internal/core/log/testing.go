package log

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// NopLogger 丢弃所有输出
type NopLogger struct{}

// NewNopLogger 创建静默日志
func NewNopLogger() Logger { return NopLogger{} }

func (NopLogger) Debug(...any)                       {}
func (NopLogger) Info(...any)                        {}
func (NopLogger) Warn(...any)                        {}
func (NopLogger) Error(...any)                       {}
func (NopLogger) Debugf(string, ...any)              {}
func (NopLogger) Infof(string, ...any)               {}
func (NopLogger) Warnf(string, ...any)               {}
func (NopLogger) Errorf(string, ...any)              {}
func (n NopLogger) WithField(string, any) Logger     { return n }
func (n NopLogger) WithFields(map[string]any) Logger { return n }
func (n NopLogger) WithError(error) Logger           { return n }

// TestingT testing.T 的日志子集
type TestingT interface {
	Log(args ...any)
	Logf(format string, args ...any)
}

// TestLogger 输出到 testing.T，每行以 [LEVEL] 开头，字段按 key 排序
type TestLogger struct {
	t      TestingT
	fields map[string]any
}

// NewTestLogger 创建测试日志
func NewTestLogger(t TestingT) Logger {
	return &TestLogger{t: t}
}

func (l *TestLogger) line(level, msg string) {
	var b strings.Builder
	b.WriteString("[" + level + "]")
	for _, k := range slices.Sorted(maps.Keys(l.fields)) {
		fmt.Fprintf(&b, " %s=%v", k, l.fields[k])
	}
	b.WriteString(" " + msg)
	l.t.Log(b.String())
}

func (l *TestLogger) Debug(args ...any) { l.line("DEBUG", fmt.Sprint(args...)) }
func (l *TestLogger) Info(args ...any)  { l.line("INFO", fmt.Sprint(args...)) }
func (l *TestLogger) Warn(args ...any)  { l.line("WARN", fmt.Sprint(args...)) }
func (l *TestLogger) Error(args ...any) { l.line("ERROR", fmt.Sprint(args...)) }

func (l *TestLogger) Debugf(format string, args ...any) { l.line("DEBUG", fmt.Sprintf(format, args...)) }
func (l *TestLogger) Infof(format string, args ...any)  { l.line("INFO", fmt.Sprintf(format, args...)) }
func (l *TestLogger) Warnf(format string, args ...any)  { l.line("WARN", fmt.Sprintf(format, args...)) }
func (l *TestLogger) Errorf(format string, args ...any) { l.line("ERROR", fmt.Sprintf(format, args...)) }

func (l *TestLogger) WithField(key string, value any) Logger {
	return l.WithFields(map[string]any{key: value})
}

func (l *TestLogger) WithFields(fields map[string]any) Logger {
	merged := maps.Clone(l.fields)
	if merged == nil {
		merged = make(map[string]any, len(fields))
	}
	maps.Copy(merged, fields)
	return &TestLogger{t: l.t, fields: merged}
}

func (l *TestLogger) WithError(err error) Logger {
	return l.WithField(FieldError, err)
}
