package worker

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/andresmejia3/reframe/internal/utils"
)

// MaxMessageSize bounds a single response so a misbehaving child cannot
// make us allocate unbounded memory.
const MaxMessageSize = 64 << 20

// ErrClosed is returned by Communicate after Close.
var ErrClosed = errors.New("worker closed")

// Process is a long-lived external detector. Requests go over its stdin,
// responses come back on a dedicated pipe that the child sees as FD 3, so
// whatever it prints to stdout or stderr never corrupts the stream.
type Process struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	closed   bool

	interrupted atomic.Bool
}

// Start launches command (argv form) as worker id.
func Start(ctx context.Context, id int, command []string) (*Process, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("worker %d: empty command", id)
	}
	proc := utils.NewSafeCommand(ctx, command[0], command[1:]...)

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// The write end becomes FD 3 in the child.
	proc.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := proc.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := proc.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Only the child may hold the write end, or reads never see EOF.
	w.Close()

	return &Process{
		ID:       id,
		Cmd:      proc,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Communicate sends one request and waits for its response.
// Protocol, both directions: [uint32 big-endian length][payload].
func (p *Process) Communicate(data []byte) ([]byte, error) {
	if p.closed {
		return nil, ErrClosed
	}
	if err := binary.Write(p.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, p.wrap(fmt.Errorf("write header: %w", err))
	}
	if _, err := p.Stdin.Write(data); err != nil {
		return nil, p.wrap(fmt.Errorf("write body: %w", err))
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(p.DataPipe, header); err != nil {
		// A crashed child surfaces here; its stderr says why.
		return nil, p.wrap(fmt.Errorf("read header: %w", err))
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > MaxMessageSize {
		return nil, fmt.Errorf("worker %d: response of %d bytes exceeds limit", p.ID, respLen)
	}
	body := make([]byte, respLen)
	if _, err := io.ReadFull(p.DataPipe, body); err != nil {
		return nil, p.wrap(fmt.Errorf("read body: %w", err))
	}
	return body, nil
}

// Interrupt kills the child so that a Communicate blocked on its reply
// returns. It is the only method safe to call while Communicate runs.
func (p *Process) Interrupt() error {
	p.interrupted.Store(true)
	if p.Cmd == nil || p.Cmd.Process == nil {
		return nil
	}
	if err := p.Cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Close ends the child's input and waits for it to exit.
func (p *Process) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.Stdin.Close()
	p.DataPipe.Close()
	if p.Cmd == nil {
		return nil
	}
	if err := p.Cmd.Wait(); err != nil && !p.interrupted.Load() {
		return p.wrap(fmt.Errorf("worker %d exited: %w", p.ID, err))
	}
	return nil
}

func (p *Process) wrap(err error) error {
	if p.Cmd == nil {
		return err
	}
	return p.Cmd.Wrap(err)
}
