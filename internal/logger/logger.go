// Package logger adds level filtering on top of a logs.Log.
package logger

import (
	"fmt"
	"strings"

	"github.com/cyclopcam/logs"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel accepts debug, info, warn (or warning) and error.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Filtered drops messages below its level. Errors and critical messages
// always pass. Methods it does not override go straight to the base log.
type Filtered struct {
	logs.Log
	level Level
}

// New wraps base so that only messages at level or above are written.
func New(base logs.Log, level Level) *Filtered {
	return &Filtered{Log: base, level: level}
}

func (f *Filtered) Debugf(format string, args ...any) {
	if f.level <= LevelDebug {
		f.Log.Debugf(format, args...)
	}
}

func (f *Filtered) Infof(format string, args ...any) {
	if f.level <= LevelInfo {
		f.Log.Infof(format, args...)
	}
}

func (f *Filtered) Warnf(format string, args ...any) {
	if f.level <= LevelWarn {
		f.Log.Warnf(format, args...)
	}
}

// Level returns the active threshold.
func (f *Filtered) Level() Level { return f.level }

type discard struct{ logs.Log }

func (discard) Debugf(string, ...any)    {}
func (discard) Infof(string, ...any)     {}
func (discard) Warnf(string, ...any)     {}
func (discard) Errorf(string, ...any)    {}
func (discard) Criticalf(string, ...any) {}

// Discard returns a log that writes nothing.
func Discard() logs.Log { return discard{} }

// OrDiscard returns l, or Discard if l is nil.
func OrDiscard(l logs.Log) logs.Log {
	if l == nil {
		return Discard()
	}
	return l
}
