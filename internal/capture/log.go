package capture

import "strings"

// LogLevel orders log messages by severity.
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
)

func (l LogLevel) String() string {
	switch l {
	case LogDebug:
		return "debug"
	case LogWarn:
		return "warn"
	case LogError:
		return "error"
	default:
		return "info"
	}
}

// ParseLogLevel accepts debug, info, warn/warning and error.
func ParseLogLevel(raw string) (LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return LogDebug, true
	case "", "info":
		return LogInfo, true
	case "warn", "warning":
		return LogWarn, true
	case "error":
		return LogError, true
	}
	return LogInfo, false
}

// Logger receives levelled messages from the capture pipeline.
type Logger interface {
	Log(level LogLevel, msg string)
}

type nopLogger struct{}

func (nopLogger) Log(LogLevel, string) {}

func orNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}
