package logger

import (
	"fmt"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	logs.Log
	lines []string
}

func (r *recorder) Debugf(format string, args ...any) { r.add("D", format, args...) }
func (r *recorder) Infof(format string, args ...any)  { r.add("I", format, args...) }
func (r *recorder) Warnf(format string, args ...any)  { r.add("W", format, args...) }
func (r *recorder) Errorf(format string, args ...any) { r.add("E", format, args...) }

func (r *recorder) add(prefix, format string, args ...any) {
	r.lines = append(r.lines, prefix+" "+fmt.Sprintf(format, args...))
}

func emitAll(l logs.Log) {
	l.Debugf("d %d", 1)
	l.Infof("i %d", 2)
	l.Warnf("w %d", 3)
	l.Errorf("e %d", 4)
}

func TestFilteredLevels(t *testing.T) {
	tests := []struct {
		level Level
		want  []string
	}{
		{LevelDebug, []string{"D d 1", "I i 2", "W w 3", "E e 4"}},
		{LevelInfo, []string{"I i 2", "W w 3", "E e 4"}},
		{LevelWarn, []string{"W w 3", "E e 4"}},
		{LevelError, []string{"E e 4"}},
	}
	for _, tt := range tests {
		rec := &recorder{}
		emitAll(New(rec, tt.level))
		require.Equal(t, tt.want, rec.lines, "level %d", tt.level)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug": LevelDebug, "INFO": LevelInfo, "": LevelInfo,
		"warn": LevelWarn, "warning": LevelWarn, "error": LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseLevel("trace")
	require.Error(t, err)
}

func TestWrapsTestingLog(t *testing.T) {
	l := New(logs.NewTestingLog(t), LevelDebug)
	l.Infof("hello from %s", t.Name())
	require.Equal(t, LevelDebug, l.Level())
}

func TestOrDiscard(t *testing.T) {
	l := OrDiscard(nil)
	l.Infof("dropped")
	l.Errorf("dropped")

	rec := &recorder{}
	require.Same(t, rec, OrDiscard(rec))
}
