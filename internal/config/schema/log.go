package schema

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level" json:"level" toml:"level"`    // debug/info/warn/error
	Format string `yaml:"format" json:"format" toml:"format"` // text/json
	Output string `yaml:"output" json:"output" toml:"output"` // stderr/stdout/file
	File   string `yaml:"file" json:"file" toml:"file"`       // log file path when output is file
}

// Log levels
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log formats
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)
