// Package log 隧道统一日志
//
// 组件通过注入的 Logger 记录日志；未注入时使用 Default()，
// 进程启动后由 Configure 按配置替换为 logrus 实现
package log

// Logger 日志接口
type Logger interface {
	Debug(args ...any)
	Info(args ...any)
	Warn(args ...any)
	Error(args ...any)

	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)

	WithField(key string, value any) Logger
	WithFields(fields map[string]any) Logger
	WithError(err error) Logger
}

// 常用字段名，便于在日志中按会话/流过滤
const (
	FieldComponent = "component"
	FieldSession   = "session"
	FieldStream    = "stream"
	FieldRemote    = "remote"
	FieldGen       = "gen"
	FieldError     = "error"
)

// Config 日志配置
//
// Output 取值 stdout / stderr / file，Output 为 file 时写入 File 指定的路径
type Config struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
	Output string `json:"output" yaml:"output" toml:"output"`
	File   string `json:"file" yaml:"file" toml:"file"`
}

// Component 返回带组件名的日志，l 为 nil 时使用默认 Logger
func Component(l Logger, name string) Logger {
	if l == nil {
		l = Default()
	}
	return l.WithField(FieldComponent, name)
}
