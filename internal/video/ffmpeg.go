package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"strconv"

	"github.com/andresmejia3/reframe/internal/types"
	"github.com/andresmejia3/reframe/internal/utils"
)

// FFmpegSource decodes a file through `ffmpeg -f rawvideo -pix_fmt rgba`.
// Every Open starts a fresh decoder from the first frame.
type FFmpegSource struct {
	path string
	info Info
}

// NewFFmpegSource wraps path. info must come from Probe on the same file.
func NewFFmpegSource(path string, info Info) *FFmpegSource {
	return &FFmpegSource{path: path, info: info}
}

// OpenFile probes path and returns a Source for it.
func OpenFile(ctx context.Context, path string) (*FFmpegSource, error) {
	info, err := Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	return NewFFmpegSource(path, info), nil
}

func (s *FFmpegSource) Info() Info { return s.info }

// Open starts the decoder process.
func (s *FFmpegSource) Open(ctx context.Context) (FrameReader, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := utils.NewSafeCommand(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error",
		"-i", s.path,
		"-map", "0:v:0",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-")

	out, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create decoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start decoder: %w", err)
	}

	return &ffmpegReader{
		cmd:    cmd,
		out:    out,
		cancel: cancel,
		width:  s.info.Width,
		height: s.info.Height,
	}, nil
}

type ffmpegReader struct {
	cmd    *utils.SafeCommand
	out    io.ReadCloser
	cancel context.CancelFunc
	width  int
	height int
	next   int
	eof    bool
	closed bool
}

func (r *ffmpegReader) Next() (types.Frame, error) {
	if r.eof || r.closed {
		return types.Frame{}, io.EOF
	}

	buf := getBuffer(r.width * r.height * 4)
	if _, err := io.ReadFull(r.out, buf); err != nil {
		putBuffer(buf)
		// A trailing partial frame is treated as the end of the stream.
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			r.eof = true
			return types.Frame{}, io.EOF
		}
		return types.Frame{}, fmt.Errorf("read frame %d: %w", r.next, err)
	}

	f := types.Frame{Index: r.next, Image: wrapRGBA(buf, r.width, r.height)}
	r.next++
	return f, nil
}

func (r *ffmpegReader) Release(f types.Frame) {
	if f.Image != nil {
		putBuffer(f.Image.Pix)
	}
}

// Close stops the decoder. If the stream was read to the end the exit
// status is reported, otherwise the process is killed and reaped.
func (r *ffmpegReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	if !r.eof {
		r.cancel()
	}
	r.out.Close()
	err := r.cmd.Wait()
	r.cancel()

	if r.eof && err != nil {
		return r.cmd.Wrap(fmt.Errorf("decoder exited: %w", err))
	}
	return nil
}

// SinkOptions tunes the output encoder.
type SinkOptions struct {
	Codec  string
	Preset string
	CRF    int
}

// DefaultSinkOptions is libx264, medium preset, CRF 18.
func DefaultSinkOptions() SinkOptions {
	return SinkOptions{Codec: "libx264", Preset: "medium", CRF: 18}
}

// FFmpegSink encodes RGBA frames into a silent video file. Nothing is
// created on disk until the first WriteFrame.
type FFmpegSink struct {
	ctx    context.Context
	cancel context.CancelFunc
	path   string
	width  int
	height int
	fps    float64
	opts   SinkOptions

	cmd     *utils.SafeCommand
	in      io.WriteCloser
	started bool
	done    bool
}

// NewFFmpegSink prepares an encoder for width x height frames at fps.
func NewFFmpegSink(ctx context.Context, path string, width, height int, fps float64, opts SinkOptions) *FFmpegSink {
	ctx, cancel := context.WithCancel(ctx)
	return &FFmpegSink{
		ctx:    ctx,
		cancel: cancel,
		path:   path,
		width:  width,
		height: height,
		fps:    fps,
		opts:   opts,
	}
}

func (s *FFmpegSink) args() []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", s.width, s.height),
		"-r", strconv.FormatFloat(s.fps, 'f', -1, 64),
		"-i", "-",
		"-an",
		"-c:v", s.opts.Codec,
	}
	if s.opts.Preset != "" {
		args = append(args, "-preset", s.opts.Preset)
	}
	if s.opts.CRF > 0 {
		args = append(args, "-crf", strconv.Itoa(s.opts.CRF))
	}
	return append(args, "-pix_fmt", "yuv420p", s.path)
}

func (s *FFmpegSink) start() error {
	s.cmd = utils.NewSafeCommand(s.ctx, "ffmpeg", s.args()...)
	in, err := s.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create encoder pipe: %w", err)
	}
	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start encoder: %w", err)
	}
	s.in = in
	s.started = true
	return nil
}

// WriteFrame sends one frame to the encoder, starting it on first use.
func (s *FFmpegSink) WriteFrame(img *image.RGBA) error {
	if s.done {
		return fmt.Errorf("write to closed sink")
	}
	if img.Rect.Dx() != s.width || img.Rect.Dy() != s.height {
		return fmt.Errorf("frame is %dx%d, encoder expects %dx%d", img.Rect.Dx(), img.Rect.Dy(), s.width, s.height)
	}
	if !s.started {
		if err := s.start(); err != nil {
			return err
		}
	}
	if err := writeRGBA(s.in, img); err != nil {
		return s.cmd.Wrap(err)
	}
	return nil
}

// Close flushes the encoder and waits for the file to be finalized.
// A sink that never received a frame has nothing to close.
func (s *FFmpegSink) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	defer s.cancel()

	if !s.started {
		return nil
	}
	s.in.Close()
	if err := s.cmd.Wait(); err != nil {
		return s.cmd.Wrap(fmt.Errorf("encoder exited: %w", err))
	}
	return nil
}

// Abort kills the encoder and removes the partial output file.
func (s *FFmpegSink) Abort() {
	wasStarted := s.started && !s.done
	s.done = true
	s.cancel()
	if wasStarted {
		s.in.Close()
		s.cmd.Wait()
	}
	if s.started {
		os.Remove(s.path)
	}
}

// writeRGBA writes the pixel rows of img, skipping any stride padding.
func writeRGBA(w io.Writer, img *image.RGBA) error {
	rowLen := img.Rect.Dx() * 4
	if img.Stride == rowLen {
		start := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y)
		_, err := w.Write(img.Pix[start : start+rowLen*img.Rect.Dy()])
		return err
	}
	for y := img.Rect.Min.Y; y < img.Rect.Max.Y; y++ {
		start := img.PixOffset(img.Rect.Min.X, y)
		if _, err := w.Write(img.Pix[start : start+rowLen]); err != nil {
			return err
		}
	}
	return nil
}
