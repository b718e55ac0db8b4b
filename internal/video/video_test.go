package video

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func TestParseRate(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"30/1", 30, false},
		{"30000/1001", 29.97002997, false},
		{"25", 25, false},
		{"0/0", 0, true},
		{"", 0, true},
		{"abc/1", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRate(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("ParseRate(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseProbe(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		want    Info
		wantErr bool
	}{
		{
			name: "full metadata",
			json: `{"streams":[{"width":1920,"height":1080,"r_frame_rate":"30/1","avg_frame_rate":"30/1","nb_frames":"60"}]}`,
			want: Info{Width: 1920, Height: 1080, FPS: 30, Frames: 60},
		},
		{
			name: "avg rate missing falls back to r_frame_rate",
			json: `{"streams":[{"width":640,"height":360,"r_frame_rate":"25/1","avg_frame_rate":"0/0"}]}`,
			want: Info{Width: 640, Height: 360, FPS: 25, Frames: 0},
		},
		{
			name: "nb_frames N/A",
			json: `{"streams":[{"width":640,"height":360,"r_frame_rate":"24/1","avg_frame_rate":"24/1","nb_frames":"N/A"}]}`,
			want: Info{Width: 640, Height: 360, FPS: 24, Frames: 0},
		},
		{name: "no streams", json: `{"streams":[]}`, wantErr: true},
		{name: "zero size", json: `{"streams":[{"width":0,"height":0,"r_frame_rate":"30/1"}]}`, wantErr: true},
		{name: "no rate", json: `{"streams":[{"width":10,"height":10,"r_frame_rate":"0/0","avg_frame_rate":"0/0"}]}`, wantErr: true},
		{name: "garbage", json: `not json`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseProbe([]byte(tt.json))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseProbe() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseProbe() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestWriteRGBASkipsStridePadding(t *testing.T) {
	full := image.NewRGBA(image.Rect(0, 0, 4, 3))
	for i := range full.Pix {
		full.Pix[i] = byte(i)
	}
	sub := full.SubImage(image.Rect(1, 1, 3, 3)).(*image.RGBA)

	var buf bytes.Buffer
	if err := writeRGBA(&buf, sub); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 2*2*4 {
		t.Fatalf("wrote %d bytes, want 16", buf.Len())
	}
	want := append(append([]byte{}, full.Pix[20:28]...), full.Pix[36:44]...)
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("wrote %v, want %v", buf.Bytes(), want)
	}
}

func TestMemorySourceReopensFromStart(t *testing.T) {
	frames := []*image.RGBA{image.NewRGBA(image.Rect(0, 0, 8, 4)), image.NewRGBA(image.Rect(0, 0, 8, 4))}
	src := NewMemorySource(frames, 30)

	if info := src.Info(); info.Width != 8 || info.Height != 4 || info.Frames != 2 || info.FPS != 30 {
		t.Errorf("unexpected info %+v", info)
	}

	for pass := 0; pass < 2; pass++ {
		r, err := src.Open(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		n := 0
		for {
			f, err := r.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				t.Fatal(err)
			}
			if f.Index != n {
				t.Errorf("pass %d: got index %d, want %d", pass, f.Index, n)
			}
			n++
		}
		r.Close()
		if n != 2 {
			t.Errorf("pass %d: read %d frames, want 2", pass, n)
		}
	}
	if src.Opens() != 2 {
		t.Errorf("Opens() = %d, want 2", src.Opens())
	}
}

func TestMemorySinkFailAfter(t *testing.T) {
	sink := &MemorySink{FailAfter: 1}
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	if err := sink.WriteFrame(img); err != nil {
		t.Fatal(err)
	}
	if err := sink.WriteFrame(img); !errors.Is(err, ErrSinkFull) {
		t.Errorf("expected ErrSinkFull, got %v", err)
	}
}

func TestFFmpegSinkIsLazy(t *testing.T) {
	out := filepath.Join(t.TempDir(), "never.mp4")
	sink := NewFFmpegSink(context.Background(), out, 64, 64, 30, DefaultSinkOptions())
	if err := sink.Close(); err != nil {
		t.Fatalf("Close on unused sink: %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("unused sink created %s", out)
	}
}

func TestFFmpegSinkRejectsWrongSize(t *testing.T) {
	out := filepath.Join(t.TempDir(), "wrong.mp4")
	sink := NewFFmpegSink(context.Background(), out, 64, 64, 30, DefaultSinkOptions())
	defer sink.Abort()
	if err := sink.WriteFrame(image.NewRGBA(image.Rect(0, 0, 32, 32))); err == nil {
		t.Error("expected size mismatch error")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("rejected frame still created %s", out)
	}
}

// TestFFmpegRoundTrip encodes a short clip and decodes it back.
// It requires ffmpeg and ffprobe in PATH.
func TestFFmpegRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping ffmpeg test in short mode")
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found, skipping test")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found, skipping test")
	}

	ctx := context.Background()
	out := filepath.Join(t.TempDir(), "clip.mp4")
	sink := NewFFmpegSink(ctx, out, 64, 48, 10, DefaultSinkOptions())

	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for i := 0; i < 12; i++ {
		for p := 0; p < len(img.Pix); p += 4 {
			img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = uint8(i*20), 128, 64, 255
		}
		if err := sink.WriteFrame(img); err != nil {
			t.Fatalf("WriteFrame %d: %v", i, err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	src, err := OpenFile(ctx, out)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	info := src.Info()
	if info.Width != 64 || info.Height != 48 {
		t.Errorf("probed %dx%d, want 64x48", info.Width, info.Height)
	}
	if math.Abs(info.FPS-10) > 0.01 {
		t.Errorf("probed fps %v, want 10", info.FPS)
	}

	r, err := src.Open(ctx)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if f.Width() != 64 || f.Height() != 48 {
			t.Errorf("frame %d is %dx%d", n, f.Width(), f.Height())
		}
		if c := f.Image.RGBAAt(10, 10); c.A != 255 {
			t.Errorf("frame %d alpha %d", n, c.A)
		}
		r.Release(f)
		n++
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if n != 12 {
		t.Errorf("decoded %d frames, want 12", n)
	}
}

func TestFFmpegSourceEarlyClose(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping ffmpeg test in short mode")
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found, skipping test")
	}

	ctx := context.Background()
	out := filepath.Join(t.TempDir(), "early.mp4")
	sink := NewFFmpegSink(ctx, out, 32, 32, 25, DefaultSinkOptions())
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	img.Set(1, 1, color.RGBA{255, 0, 0, 255})
	for i := 0; i < 50; i++ {
		if err := sink.WriteFrame(img); err != nil {
			t.Fatal(err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	src := NewFFmpegSource(out, Info{Width: 32, Height: 32, FPS: 25})
	r, err := src.Open(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Next(); err != nil {
		t.Fatal(err)
	}
	// Stopping mid-stream kills the decoder without reporting its exit.
	if err := r.Close(); err != nil {
		t.Errorf("early Close returned %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}
}
