package video

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/andresmejia3/reframe/internal/utils"
)

type ffprobeOutput struct {
	Streams []struct {
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		RFrameRate    string `json:"r_frame_rate"`
		AvgFrameRate  string `json:"avg_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
	} `json:"streams"`
}

// Probe reads the first video stream's geometry, frame rate and, when the
// container records it, frame count.
func Probe(ctx context.Context, path string) (Info, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return Info{}, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	cmd := utils.NewSafeCommand(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames",
		"-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return Info{}, cmd.Wrap(fmt.Errorf("ffprobe: %w", err))
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (Info, error) {
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return Info{}, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(res.Streams) == 0 {
		return Info{}, fmt.Errorf("no video stream found")
	}

	s := res.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return Info{}, fmt.Errorf("invalid video dimensions %dx%d", s.Width, s.Height)
	}

	// avg_frame_rate is what the muxer will honour; r_frame_rate is the
	// fallback for streams that leave it as 0/0.
	fps, err := ParseRate(s.AvgFrameRate)
	if err != nil || fps <= 0 {
		fps, err = ParseRate(s.RFrameRate)
	}
	if err != nil || fps <= 0 {
		return Info{}, fmt.Errorf("could not determine frame rate (avg=%q r=%q)", s.AvgFrameRate, s.RFrameRate)
	}

	frames, _ := strconv.Atoi(s.NbFrames)
	return Info{Width: s.Width, Height: s.Height, FPS: fps, Frames: max(frames, 0)}, nil
}

// ParseRate parses ffprobe rates such as "30000/1001" or "25".
func ParseRate(rate string) (float64, error) {
	num, den, found := strings.Cut(strings.TrimSpace(rate), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rate %q: %w", rate, err)
	}
	if !found {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rate %q: %w", rate, err)
	}
	if d == 0 {
		return 0, fmt.Errorf("invalid rate %q: zero denominator", rate)
	}
	return n / d, nil
}

// CountFrames counts packets in the first video stream. It is the slow
// path for progress estimation when the container has no frame count,
// and returns 0 on any failure so callers can fall back to a spinner.
func CountFrames(ctx context.Context, path string) int {
	cmd := utils.NewSafeCommand(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0", "-count_packets",
		"-show_entries", "stream=nb_read_packets", "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}

	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil || len(res.Streams) == 0 {
		return 0
	}
	count, err := strconv.Atoi(res.Streams[0].NbReadPackets)
	if err != nil {
		return 0
	}
	return count
}
