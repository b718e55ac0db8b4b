package utils

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps exec.Cmd with a buffer that captures Stderr, so an
// ffmpeg or detector process that dies still leaves its last words behind.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand prepares a command bound to ctx and attaches a buffer to
// its Stderr. It does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// Tail returns the captured stderr, trimmed, for error messages.
func (s *SafeCommand) Tail() string {
	if s == nil || s.Stderr == nil {
		return ""
	}
	out := strings.TrimSpace(s.Stderr.String())
	const limit = 2048
	if len(out) > limit {
		out = "..." + out[len(out)-limit:]
	}
	return out
}

// Wrap annotates err with the command's stderr, if any was captured.
func (s *SafeCommand) Wrap(err error) error {
	if err == nil {
		return nil
	}
	if tail := s.Tail(); tail != "" {
		return fmt.Errorf("%w: %s", err, tail)
	}
	return err
}

// ErrorOutput is where ShowError writes. Tests swap it out.
var ErrorOutput io.Writer = os.Stderr

// ShowError prints a formatted error box, plus process logs if a
// SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(ErrorOutput, "\n---------------------------------------------------------\n")
	fmt.Fprintf(ErrorOutput, "🚨 REFRAME ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(ErrorOutput, "DETAILS: %v\n", err)
	}

	if s != nil && s.Stderr != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(ErrorOutput, "\nPROCESS LOGS:\n%s\n", s.Tail())
	}
	fmt.Fprintf(ErrorOutput, "---------------------------------------------------------\n")
}

// Die is the unified exit strategy: ShowError, then exit 1.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// GenerateVideoID creates a deterministic fingerprint for the video file
// based on its path, size, and modification time.
func GenerateVideoID(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	input := fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:]), nil
}

// SamePath reports whether a and b resolve to the same absolute path.
func SamePath(a, b string) bool {
	aAbs, errA := filepath.Abs(a)
	bAbs, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return aAbs == bAbs
}
