package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/reframe/internal/config"
	"github.com/andresmejia3/reframe/internal/utils"
	"github.com/andresmejia3/reframe/internal/watcher"
)

var (
	watchOpts Options
	watchDir  string
	watchOut  string
	watchMax  int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reframe every new video dropped into a directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		c, err := buildConfig(cmd, watchOpts)
		if err != nil {
			utils.ShowError("Configuration Error", err, nil)
			return err
		}
		applyWatchFlags(cmd, c)
		if err := validateWatchConfig(c); err != nil {
			return err
		}
		return runWatch(cmd.Context(), c)
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchDir, "dir", "", "Directory to watch for new videos")
	watchCmd.Flags().StringVar(&watchOut, "out", "", "Directory for reframed videos (default: watched directory)")
	watchCmd.Flags().IntVar(&watchMax, "max-concurrent", 1, "Maximum videos processed at once")
	addSpecFlags(watchCmd, &watchOpts)
	addEncodeFlags(watchCmd, &watchOpts)
	rootCmd.AddCommand(watchCmd)
}

func applyWatchFlags(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("dir") {
		c.Watch.Dir = watchDir
	}
	if f.Changed("out") {
		c.Watch.Out = watchOut
	}
	if f.Changed("max-concurrent") {
		c.Watch.MaxConcurrent = watchMax
	}
	if c.Watch.Out == "" {
		c.Watch.Out = c.Watch.Dir
	}
}

func validateWatchConfig(c *config.Config) error {
	if c.Watch.Dir == "" {
		err := fmt.Errorf("--dir is required (or watch.dir in the config file)")
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	info, err := os.Stat(c.Watch.Dir)
	if err != nil {
		utils.ShowError("Unable to access watch directory", err, nil)
		return err
	}
	if !info.IsDir() {
		err := fmt.Errorf("%s is not a directory", c.Watch.Dir)
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	if c.Watch.MaxConcurrent < 1 {
		err := fmt.Errorf("must be at least 1, got %d", c.Watch.MaxConcurrent)
		utils.ShowError("Invalid max concurrent", err, nil)
		return err
	}
	return nil
}

// verticalName maps clip.mov to <out>/clip_vertical.mp4.
func verticalName(out, input string) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(out, base+"_vertical.mp4")
}

// isOwnOutput reports whether path is something this watcher wrote, so
// watching a directory that is also the output does not loop.
func isOwnOutput(path string) bool {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.HasSuffix(base, "_vertical")
}

func runWatch(ctx context.Context, c *config.Config) error {
	handler := func(ctx context.Context, path string) error {
		if isOwnOutput(path) {
			Log.Debugf("Skipping reframed output %s", path)
			return nil
		}
		out := verticalName(c.Watch.Out, path)
		// Progress bars from parallel jobs would interleave.
		return runCrop(ctx, c, path, out, c.Watch.MaxConcurrent == 1)
	}

	w, err := watcher.New(c.Watch.Dir, handler, watcher.Options{
		MaxConcurrent: c.Watch.MaxConcurrent,
		SettleDelay:   c.Watch.SettleDelay,
		Log:           Log,
	})
	if err != nil {
		utils.ShowError("Failed to start watcher", err, nil)
		return err
	}
	defer w.Stop()

	fmt.Fprintf(os.Stderr, "👀 Watching %s, writing to %s (Ctrl+C to stop)\n", c.Watch.Dir, c.Watch.Out)
	if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
