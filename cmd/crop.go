package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/reframe/internal/config"
	"github.com/andresmejia3/reframe/internal/reframe"
	"github.com/andresmejia3/reframe/internal/render"
	"github.com/andresmejia3/reframe/internal/store"
	"github.com/andresmejia3/reframe/internal/types"
	"github.com/andresmejia3/reframe/internal/utils"
)

var cropOpts Options

var cropCmd = &cobra.Command{
	Use:   "crop",
	Short: "Reframe a landscape video into a face-following vertical video",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := validateCropFlags(&cropOpts); err != nil {
			return err
		}
		c, err := buildConfig(cmd, cropOpts)
		if err != nil {
			utils.ShowError("Configuration Error", err, nil)
			return err
		}
		return runCrop(cmd.Context(), c, cropOpts.InputPath, cropOpts.OutputPath, true)
	},
}

func init() {
	cropCmd.Flags().StringVarP(&cropOpts.InputPath, "input", "i", "", "Path to input video")
	cropCmd.Flags().StringVarP(&cropOpts.OutputPath, "output", "o", "vertical.mp4", "Path to output video")
	addSpecFlags(cropCmd, &cropOpts)
	addEncodeFlags(cropCmd, &cropOpts)

	cropCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(cropCmd)
}

func defaultWorkers() int {
	return runtime.NumCPU()
}

// runCrop reframes one file and records the job when history is enabled.
func runCrop(ctx context.Context, c *config.Config, input, output string, bars bool) error {
	// Cancelling on return kills any ffmpeg or detector children still running.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r, err := newReframer(c, bars)
	if err != nil {
		utils.ShowError("Detector setup failed", err, nil)
		return err
	}
	spec := c.OutputSpec()

	jobID := uuid.Nil
	if DB != nil {
		videoID, err := utils.GenerateVideoID(input)
		if err != nil {
			videoID = input
		}
		if jobID, err = DB.CreateJob(ctx, videoID, input, output, spec); err != nil {
			Log.Warnf("Failed to record job for %s: %v", input, err)
		}
	}

	start := time.Now()
	res, err := r.Reframe(ctx, input, output, spec)
	if err != nil {
		recordFailure(jobID, err)
		utils.ShowError(failureMessage(err), err, nil)
		return err
	}
	recordSuccess(jobID, res)

	fmt.Fprintf(os.Stderr, "✅ Wrote %s (%d frames, %d detection failures, %d render failures) in %s\n",
		output, res.Frames, res.DetectionFailures, res.RenderFailures, time.Since(start).Round(time.Millisecond))
	return nil
}

// failureMessage names the job-level failure for the user.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, types.ErrInputNotFound):
		return "Input file does not exist"
	case errors.Is(err, types.ErrInputUnreadable):
		return "Input video could not be read"
	case errors.Is(err, types.ErrNoFramesDecoded):
		return "Input video contains no decodable frames"
	case errors.Is(err, types.ErrOutputWrite):
		return "Failed to write output video"
	case errors.Is(err, reframe.ErrSamePath):
		return "Input and output must be different files"
	case errors.Is(err, context.Canceled):
		return "Interrupted"
	default:
		return "Reframe failed"
	}
}

// History writes use a fresh context so an interrupted job is still
// marked failed.
func recordFailure(id uuid.UUID, jobErr error) {
	if DB == nil || id == uuid.Nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := DB.FailJob(ctx, id, jobErr.Error()); err != nil {
		Log.Warnf("Failed to update job %s: %v", id, err)
	}
}

func recordSuccess(id uuid.UUID, res *render.Result) {
	if DB == nil || id == uuid.Nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := DB.CompleteJob(ctx, id, store.JobResult{
		FPS:               res.FPS,
		Frames:            res.Frames,
		DetectionFailures: res.DetectionFailures,
		RenderFailures:    res.RenderFailures,
		Regions:           res.Smoothed,
	})
	if err != nil {
		Log.Warnf("Failed to update job %s: %v", id, err)
	}
}
