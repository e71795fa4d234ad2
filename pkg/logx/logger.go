// Package logx provides structured key-value logging for the linkward daemon.
// It is a thin facade over logrus so call sites stay terse:
//
//	logger.Info("failover", "interface", "sat0", "score", 0.31)
package logx

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus entry with a fixed component field
type Logger struct {
	entry *logrus.Entry
}

// NewLogger creates a logger for the given component writing JSON to stderr
func NewLogger(level, component string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	base.SetLevel(parseLevel(level))
	return &Logger{entry: base.WithField("component", component)}
}

// SetLevel changes the log level at runtime (used on SIGHUP reload)
func (l *Logger) SetLevel(level string) {
	l.entry.Logger.SetLevel(parseLevel(level))
}

// SetOutput redirects log output, e.g. to a file
func (l *Logger) SetOutput(w io.Writer) {
	l.entry.Logger.SetOutput(w)
}

// WithComponent returns a logger with a different component field
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{entry: l.entry.Logger.WithField("component", component)}
}

// WithFields returns a logger carrying additional fixed fields
func (l *Logger) WithFields(keysAndValues ...interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(fields(keysAndValues))}
}

func (l *Logger) Trace(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Trace(msg)
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Info(msg)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Warn(msg)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Error(msg)
}

// Verbose reports whether debug logging is enabled
func (l *Logger) Verbose() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}

// fields converts alternating key-value pairs into logrus fields.
// A single map argument is accepted as-is. Odd trailing values are
// kept under the "extra" key rather than dropped.
func fields(keysAndValues []interface{}) logrus.Fields {
	f := logrus.Fields{}
	if len(keysAndValues) == 1 {
		if m, ok := keysAndValues[0].(map[string]interface{}); ok {
			for k, v := range m {
				f[k] = v
			}
			return f
		}
	}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		f[key] = keysAndValues[i+1]
	}
	if len(keysAndValues)%2 == 1 && len(keysAndValues) > 1 {
		f["extra"] = keysAndValues[len(keysAndValues)-1]
	}
	return f
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
