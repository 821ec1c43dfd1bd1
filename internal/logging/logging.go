// Package logging provides a component-tagged structured logger.
//
// Every call site names the component it is logging on behalf of, mirroring
// the fs.Debugf(component, fmt, args...) convention used throughout the
// caching backend this gateway is descended from.
package logging

import (
	"fmt"
	"io"

	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"
)

// Level controls verbosity.
type Level string

// Supported levels, from quietest to loudest.
const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
)

// Logger wraps a logrus.Logger with component-tagged helpers.
type Logger struct {
	l *logrus.Logger
}

// New builds a Logger at the given level, writing to out (typically
// os.Stderr) unwrapped. A nil out selects go-colorable's colorable stderr.
func New(level Level, out io.Writer) *Logger {
	if out == nil {
		out = colorable.NewColorableStderr()
	}
	l := logrus.New()
	l.Out = out
	l.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	l.Level = parseLevel(level)
	return &Logger{l: l}
}

func parseLevel(level Level) logrus.Level {
	switch level {
	case LevelError:
		return logrus.ErrorLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelDebug:
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

// Debugf logs at debug level, prefixed by component.
func (lg *Logger) Debugf(component interface{}, format string, args ...interface{}) {
	lg.l.Debugf("%v: %s", component, fmt.Sprintf(format, args...))
}

// Infof logs at info level, prefixed by component.
func (lg *Logger) Infof(component interface{}, format string, args ...interface{}) {
	lg.l.Infof("%v: %s", component, fmt.Sprintf(format, args...))
}

// Errorf logs at error level, prefixed by component.
func (lg *Logger) Errorf(component interface{}, format string, args ...interface{}) {
	lg.l.Errorf("%v: %s", component, fmt.Sprintf(format, args...))
}

// Warnf logs at warn level, prefixed by component.
func (lg *Logger) Warnf(component interface{}, format string, args ...interface{}) {
	lg.l.Warnf("%v: %s", component, fmt.Sprintf(format, args...))
}

// Nop returns a Logger that discards everything; handy as a test default.
func Nop() *Logger {
	l := logrus.New()
	l.Out = io.Discard
	return &Logger{l: l}
}
