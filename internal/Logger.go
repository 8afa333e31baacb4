package internal

import (
	"context"
	"log/slog"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	Info LogLevel = iota
	Warning
	Error
	Debug
)

func (l LogLevel) String() string {
	switch l {
	case Info:
		return "Info"
	case Warning:
		return "Warning"
	case Error:
		return "Error"
	case Debug:
		return "Debug"
	default:
		return "Unknown"
	}
}

// LogStruct represents a log entry with a level and message
type LogStruct struct {
	LogLevel LogLevel
	Message  string
}

// Logger receives log entries from a single engine session.
type Logger interface {
	PushLog(log LogStruct)
}

// LogHandlerFunc adapts a plain function to a Logger
type LogHandlerFunc func(log LogStruct)

func (f LogHandlerFunc) PushLog(log LogStruct) {
	f(log)
}

// slogLogger forwards engine logs to a structured slog.Logger
type slogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger returns a Logger backed by the given slog.Logger.
// A nil logger falls back to slog.Default().
func NewSlogLogger(logger *slog.Logger) Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &slogLogger{logger: logger}
}

func (s *slogLogger) PushLog(log LogStruct) {
	var level slog.Level
	switch log.LogLevel {
	case Debug:
		level = slog.LevelDebug
	case Warning:
		level = slog.LevelWarn
	case Error:
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	s.logger.Log(context.Background(), level, log.Message)
}

func pushLog(logger Logger, level LogLevel, message string) {
	if logger == nil {
		return
	}
	logger.PushLog(LogStruct{LogLevel: level, Message: message})
}

// PushLogDebug sends a debug log message
func PushLogDebug(logger Logger, message string) {
	pushLog(logger, Debug, message)
}

// PushLogInfo sends an info log message
func PushLogInfo(logger Logger, message string) {
	pushLog(logger, Info, message)
}

// PushLogWarning sends a warning log message
func PushLogWarning(logger Logger, message string) {
	pushLog(logger, Warning, message)
}

// PushLogError sends an error log message
func PushLogError(logger Logger, message string) {
	pushLog(logger, Error, message)
}
