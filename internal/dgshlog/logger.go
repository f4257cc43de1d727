// Package dgshlog provides the structured-logging façade shared by the
// negotiation engine, the concentrator and the tee data engine. It wraps
// logrus, the logging library the majority of the teacher codebase
// imports directly as "log".
package dgshlog

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// Level mirrors the DGSH_DEBUG_LEVEL values consumed by every component:
// 0 disables diagnostics, higher numbers increase verbosity.
type Level int

const (
	LevelSilent Level = 0
	LevelError  Level = 1
	LevelInfo   Level = 2
	LevelDebug  Level = 3
)

func logrusLevel(l Level) log.Level {
	switch {
	case l <= LevelSilent:
		return log.PanicLevel
	case l == LevelError:
		return log.ErrorLevel
	case l == LevelInfo:
		return log.InfoLevel
	default:
		return log.DebugLevel
	}
}

// New builds a per-session logger entry carrying the fields every
// participant attaches to its diagnostics: pid and tool name. A fresh *log.Logger is used per session (rather than the
// package-level default) so concurrent negotiation sessions in tests
// don't share global logger state.
func New(level Level, toolName string, pid int) *log.Entry {
	logger := log.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrusLevel(level))
	logger.SetFormatter(&log.TextFormatter{
		DisableColors:   false,
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	return logger.WithFields(log.Fields{
		"tool": toolName,
		"pid":  pid,
	})
}
