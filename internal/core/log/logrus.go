package log

import "github.com/sirupsen/logrus"

// logrusLogger 基于 logrus.Entry，字段随 With* 逐层累积
type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger 包装 logrus.Logger
func NewLogrusLogger(l *logrus.Logger) Logger {
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) Debug(args ...any) { l.entry.Log(logrus.DebugLevel, args...) }
func (l *logrusLogger) Info(args ...any)  { l.entry.Log(logrus.InfoLevel, args...) }
func (l *logrusLogger) Warn(args ...any)  { l.entry.Log(logrus.WarnLevel, args...) }
func (l *logrusLogger) Error(args ...any) { l.entry.Log(logrus.ErrorLevel, args...) }

func (l *logrusLogger) Debugf(format string, args ...any) {
	l.entry.Logf(logrus.DebugLevel, format, args...)
}

func (l *logrusLogger) Infof(format string, args ...any) {
	l.entry.Logf(logrus.InfoLevel, format, args...)
}

func (l *logrusLogger) Warnf(format string, args ...any) {
	l.entry.Logf(logrus.WarnLevel, format, args...)
}

func (l *logrusLogger) Errorf(format string, args ...any) {
	l.entry.Logf(logrus.ErrorLevel, format, args...)
}

func (l *logrusLogger) WithField(key string, value any) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

func (l *logrusLogger) WithFields(fields map[string]any) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{entry: l.entry.WithError(err)}
}
