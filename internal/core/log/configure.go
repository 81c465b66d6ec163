package log

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	coreerrors "kq-tunnel/internal/core/errors"
)

// ParseLevel 解析日志级别，兼容 warning/warn 两种写法
func ParseLevel(level string) (logrus.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	default:
		l, err := logrus.ParseLevel(level)
		if err != nil {
			return logrus.InfoLevel, coreerrors.Wrapf(err, coreerrors.CodeConfigError, "invalid log level %q", level)
		}
		return l, nil
	}
}

// Configure 按配置创建 logrus 日志并设为默认 Logger
//
// 返回的 io.Closer 用于关闭日志文件，输出到终端时为空操作
func Configure(cfg Config) (Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		out    io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
		isTTY  bool
	)
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		isTTY = isatty.IsTerminal(os.Stderr.Fd())
	case "stdout":
		out = os.Stdout
		isTTY = isatty.IsTerminal(os.Stdout.Fd())
	case "file":
		if cfg.File == "" {
			return nil, nil, coreerrors.New(coreerrors.CodeConfigError, "log output is file but no file path given")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, coreerrors.Wrap(err, coreerrors.CodeConfigError, "create log directory")
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, coreerrors.Wrap(err, coreerrors.CodeConfigError, "open log file")
		}
		out, closer = f, f
	default:
		return nil, nil, coreerrors.Newf(coreerrors.CodeConfigError, "unknown log output %q", cfg.Output)
	}

	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(level)
	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
			ForceColors:     isTTY,
			DisableColors:   !isTTY,
		})
	default:
		closer.Close()
		return nil, nil, coreerrors.Newf(coreerrors.CodeConfigError, "unknown log format %q", cfg.Format)
	}

	logger := NewLogrusLogger(l)
	SetDefault(logger)
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
