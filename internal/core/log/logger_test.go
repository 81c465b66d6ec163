package log

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

// TestNopLogger 测试静默日志
func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()

	// 所有方法都不应该 panic
	logger.Debug("test")
	logger.Info("test")
	logger.Warn("test")
	logger.Error("test")
	logger.Debugf("test %s", "arg")
	logger.Infof("test %s", "arg")
	logger.Warnf("test %s", "arg")
	logger.Errorf("test %s", "arg")

	// WithField 应该返回自身
	l := logger.WithField("key", "value")
	if _, ok := l.(NopLogger); !ok {
		t.Error("WithField should return NopLogger")
	}

	// WithFields 应该返回自身
	l = logger.WithFields(map[string]any{"key": "value"})
	if _, ok := l.(NopLogger); !ok {
		t.Error("WithFields should return NopLogger")
	}

	// WithError 应该返回自身
	l = logger.WithError(nil)
	if _, ok := l.(NopLogger); !ok {
		t.Error("WithError should return NopLogger")
	}
}

// mockTestingT 模拟 testing.T
type mockTestingT struct {
	logs []string
}

func (m *mockTestingT) Log(args ...any) {
	m.logs = append(m.logs, fmt.Sprint(args...))
}

func (m *mockTestingT) Logf(format string, args ...any) {
	m.logs = append(m.logs, fmt.Sprintf(format, args...))
}

// TestTestLogger 测试测试日志
func TestTestLogger(t *testing.T) {
	mock := &mockTestingT{}
	logger := NewTestLogger(mock)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	if len(mock.logs) != 4 {
		t.Errorf("Expected 4 logs, got %d", len(mock.logs))
	}

	// 测试格式化方法
	mock.logs = nil
	logger.Debugf("debug %s", "formatted")
	logger.Infof("info %s", "formatted")
	logger.Warnf("warn %s", "formatted")
	logger.Errorf("error %s", "formatted")

	if len(mock.logs) != 4 {
		t.Errorf("Expected 4 logs, got %d", len(mock.logs))
	}
}

// TestLogrusLogger 测试 logrus 日志
func TestLogrusLogger(t *testing.T) {
	// 创建一个带缓冲区的 logrus logger
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})

	logger := NewLogrusLogger(l)

	// 测试基础方法
	logger.Debug("debug message")
	if !strings.Contains(buf.String(), "debug message") {
		t.Error("Debug message not found in output")
	}

	buf.Reset()
	logger.Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Error("Info message not found in output")
	}

	buf.Reset()
	logger.Warn("warn message")
	if !strings.Contains(buf.String(), "warn message") {
		t.Error("Warn message not found in output")
	}

	buf.Reset()
	logger.Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Error("Error message not found in output")
	}

	// 测试 WithField
	buf.Reset()
	logger.WithField("key", "value").Info("with field")
	if !strings.Contains(buf.String(), "key=value") {
		t.Error("Field not found in output")
	}

	// 测试 WithFields
	buf.Reset()
	logger.WithFields(map[string]any{"k1": "v1", "k2": "v2"}).Info("with fields")
	output := buf.String()
	if !strings.Contains(output, "k1=v1") || !strings.Contains(output, "k2=v2") {
		t.Error("Fields not found in output")
	}
}

// TestDefaultLogger 测试默认日志
func TestDefaultLogger(t *testing.T) {
	// 获取默认 logger
	logger := Default()
	if logger == nil {
		t.Fatal("Default logger should not be nil")
	}

	// 设置新的默认 logger
	nopLogger := NewNopLogger()
	SetDefault(nopLogger)

	// 验证设置成功
	if Default() != nopLogger {
		t.Error("SetDefault did not work")
	}

	// 恢复原始 logger
	SetDefault(logger)
}

// TestGlobalFunctions 测试全局函数
func TestGlobalFunctions(t *testing.T) {
	// 设置静默日志以避免输出
	SetDefault(NewNopLogger())

	// 所有全局函数都不应该 panic
	Debugf("test %s", "arg")
	Infof("test %s", "arg")
	Warn("test")
	Warnf("test %s", "arg")
	Errorf("test %s", "arg")

	SetDefault(nil)
	if _, ok := Default().(NopLogger); !ok {
		t.Error("SetDefault(nil) should fall back to NopLogger")
	}
}

// TestComponent 测试组件字段
func TestComponent(t *testing.T) {
	mock := &mockTestingT{}
	Component(NewTestLogger(mock), "reconnect").WithError(errors.New("dial refused")).Warn("retrying")

	if len(mock.logs) != 1 {
		t.Fatalf("Expected 1 log, got %d", len(mock.logs))
	}
	want := "[WARN] component=reconnect error=dial refused retrying"
	if mock.logs[0] != want {
		t.Errorf("got %q, want %q", mock.logs[0], want)
	}
}

// TestTestLogger_Fields 测试字段按 key 排序输出
func TestTestLogger_Fields(t *testing.T) {
	mock := &mockTestingT{}
	logger := NewTestLogger(mock).
		WithField(FieldStream, 3).
		WithField(FieldSession, "s1")

	logger.Infof("opened %s", "ok")

	if len(mock.logs) != 1 {
		t.Fatalf("Expected 1 log, got %d", len(mock.logs))
	}
	if mock.logs[0] != "[INFO] session=s1 stream=3 opened ok" {
		t.Errorf("unexpected output: %q", mock.logs[0])
	}
}

// TestParseLevel 测试日志级别解析
func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logrus.Level
		wantErr bool
	}{
		{"", logrus.InfoLevel, false},
		{"debug", logrus.DebugLevel, false},
		{"WARN", logrus.WarnLevel, false},
		{"warning", logrus.WarnLevel, false},
		{"error", logrus.ErrorLevel, false},
		{"loud", logrus.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// TestConfigure_File 测试输出到文件
func TestConfigure_File(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	path := filepath.Join(t.TempDir(), "logs", "tunnel.log")
	logger, closer, err := Configure(Config{Level: "debug", Format: "json", Output: "file", File: path})
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	Component(logger, "session").Debug("frame written")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"component":"session"`) {
		t.Errorf("component field missing: %s", data)
	}
}

// TestConfigure_Invalid 测试非法配置
func TestConfigure_Invalid(t *testing.T) {
	if _, _, err := Configure(Config{Output: "file"}); err == nil {
		t.Error("file output without path should fail")
	}
	if _, _, err := Configure(Config{Output: "syslog"}); err == nil {
		t.Error("unknown output should fail")
	}
	if _, _, err := Configure(Config{Format: "xml"}); err == nil {
		t.Error("unknown format should fail")
	}
}
