package vox

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// LogifaceLogger adapts a logiface.Logger, backed by stumpy's low-allocation
// JSON encoder, to the Logger interface. Use it in place of DefaultLogger
// when a caller already standardizes on logiface elsewhere in their stack.
type LogifaceLogger struct {
	logger *logiface.Logger[*stumpy.Event]
	level  LogLevel
}

// NewLogifaceLogger builds a LogifaceLogger writing newline-delimited JSON
// to w (os.Stderr if nil), filtering out entries below level.
func NewLogifaceLogger(level LogLevel, w io.Writer) *LogifaceLogger {
	if w == nil {
		w = os.Stderr
	}
	return &LogifaceLogger{
		level: level,
		logger: stumpy.L.New(
			stumpy.L.WithStumpy(stumpy.WithWriter(w)),
			stumpy.L.WithLevel(toLogifaceLevel(level)),
		),
	}
}

// IsEnabled reports whether level would be written, satisfying Logger.
func (l *LogifaceLogger) IsEnabled(level LogLevel) bool {
	return level >= l.level
}

// Log writes entry via the underlying logiface.Logger, satisfying Logger.
func (l *LogifaceLogger) Log(entry LogEntry) {
	b := l.logger.Build(toLogifaceLevel(entry.Level))
	if b == nil {
		return
	}
	if entry.Category != "" {
		b = b.Str("category", entry.Category)
	}
	if entry.LoopID != 0 {
		b = b.Int64("loop_id", entry.LoopID)
	}
	if entry.TaskID != 0 {
		b = b.Int64("task_id", entry.TaskID)
	}
	if entry.TimerID != 0 {
		b = b.Int64("timer_id", entry.TimerID)
	}
	for k, v := range entry.Context {
		b = b.Interface(k, v)
	}
	if entry.Err != nil {
		b = b.Err(entry.Err)
	}
	b.Log(entry.Message)
}

// toLogifaceLevel maps our four-level scheme onto logiface's syslog-derived
// severities, picking the closest equivalent.
func toLogifaceLevel(level LogLevel) logiface.Level {
	switch level {
	case LevelDebug:
		return logiface.LevelDebug
	case LevelInfo:
		return logiface.LevelInformational
	case LevelWarn:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}
