package types

import (
	"errors"
	"fmt"
)

// Job-level failures. These abort a reframe and reach the caller.
var (
	ErrInputNotFound   = errors.New("input not found")
	ErrInputUnreadable = errors.New("input unreadable")
	ErrNoFramesDecoded = errors.New("no frames decoded")
	ErrOutputWrite     = errors.New("output write failed")
)

// Per-frame stages.
const (
	StageDetect = "detect"
	StageRender = "render"
)

// FrameError is a per-frame failure. It is absorbed by a fallback and
// logged, never returned from a job.
type FrameError struct {
	Index int
	Stage string
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d: %s: %v", e.Index, e.Stage, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }
