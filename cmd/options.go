package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/reframe/internal/config"
	"github.com/andresmejia3/reframe/internal/detector"
	"github.com/andresmejia3/reframe/internal/reframe"
	"github.com/andresmejia3/reframe/internal/render"
	"github.com/andresmejia3/reframe/internal/types"
	"github.com/andresmejia3/reframe/internal/utils"
	"github.com/andresmejia3/reframe/internal/video"
	"github.com/schollz/progressbar/v3"
)

// addSpecFlags registers the output and detector flags. Defaults mirror
// config.Default; only flags the user sets override the config file.
func addSpecFlags(cmd *cobra.Command, opts *Options) {
	def := config.Default()
	f := cmd.Flags()
	f.IntVar(&opts.Width, "width", def.Output.Width, "Output width in pixels (even)")
	f.IntVar(&opts.Height, "height", def.Output.Height, "Output height in pixels (even)")
	f.IntVar(&opts.Smooth, "smooth", def.Smoothing.Window, "Smoothing window in frames")
	f.Float64Var(&opts.Padding, "padding", def.Output.Padding, "Padding factor around faces (>= 1.0)")
	f.Float64Var(&opts.Confidence, "confidence", def.Output.Confidence, "Minimum face detection confidence (0-1)")
	f.StringVar(&opts.Selection, "selection", def.Output.Selection, "Multi-face strategy: envelope, primary")
	f.StringVarP(&opts.Detector, "detector", "d", def.Detector.Backend, "Face detector: pigo, process, yunet, none")
	f.StringVar(&opts.Cascade, "cascade", "", "Pigo cascade file, required by the pigo detector (e.g. facefinder)")
	f.StringVar(&opts.Model, "model", "", "YuNet ONNX model file")
	f.IntVarP(&opts.Workers, "workers", "w", 0, "Parallel detector workers (0 = number of CPUs)")
}

// addEncodeFlags registers the output encoder flags.
func addEncodeFlags(cmd *cobra.Command, opts *Options) {
	def := config.Default()
	f := cmd.Flags()
	f.StringVar(&opts.Resample, "resample", def.Render.Resampling, "Resize kernel: bilinear, nearest, catmullrom")
	f.IntVar(&opts.CRF, "crf", def.Render.CRF, "x264 constant rate factor (0-51)")
	f.StringVar(&opts.Preset, "preset", def.Render.Preset, "x264 preset")
}

// buildConfig overlays explicitly set flags on the loaded config.
func buildConfig(cmd *cobra.Command, opts Options) (*config.Config, error) {
	c := config.Default()
	if Cfg != nil {
		cp := *Cfg
		c = &cp
	}

	f := cmd.Flags()
	set := func(name string, apply func()) {
		if fl := f.Lookup(name); fl != nil && fl.Changed {
			apply()
		}
	}
	set("width", func() { c.Output.Width = opts.Width })
	set("height", func() { c.Output.Height = opts.Height })
	set("smooth", func() { c.Smoothing.Window = opts.Smooth })
	set("padding", func() { c.Output.Padding = opts.Padding })
	set("confidence", func() { c.Output.Confidence = opts.Confidence })
	set("selection", func() { c.Output.Selection = opts.Selection })
	set("detector", func() { c.Detector.Backend = opts.Detector })
	set("cascade", func() { c.Detector.Cascade = opts.Cascade })
	set("model", func() { c.Detector.Model = opts.Model })
	set("workers", func() { c.Detector.Workers = opts.Workers })
	set("resample", func() { c.Render.Resampling = opts.Resample })
	set("crf", func() { c.Render.CRF = opts.CRF })
	set("preset", func() { c.Render.Preset = opts.Preset })

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func validateInput(path string) error {
	if path == "" {
		err := fmt.Errorf("--input is required")
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			utils.ShowError("Input file does not exist", err, nil)
			return err
		}
		utils.ShowError("Unable to access input file", err, nil)
		return err
	}
	if info.IsDir() {
		err := fmt.Errorf("is a directory")
		utils.ShowError("Input path is a directory, expected a video file", err, nil)
		return err
	}
	return nil
}

// validateSpecFlags checks flag values before any work starts.
func validateSpecFlags(opts *Options) error {
	spec := types.OutputSpec{
		TargetWidth:             opts.Width,
		TargetHeight:            opts.Height,
		SmoothingWindow:         opts.Smooth,
		PaddingFactor:           opts.Padding,
		FaceDetectionConfidence: opts.Confidence,
		Selection:               opts.Selection,
	}
	if err := spec.Validate(); err != nil {
		utils.ShowError("Invalid output settings", err, nil)
		return err
	}

	validDetectors := map[string]bool{"pigo": true, "process": true, "yunet": true, "none": true}
	if !validDetectors[opts.Detector] {
		err := fmt.Errorf("invalid detector '%s'. Must be one of: pigo, process, yunet, none", opts.Detector)
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	if opts.Workers < 0 {
		err := fmt.Errorf("must not be negative, got %d", opts.Workers)
		utils.ShowError("Invalid worker count", err, nil)
		return err
	}
	return nil
}

func validateCropFlags(opts *Options) error {
	if err := validateInput(opts.InputPath); err != nil {
		return err
	}
	if opts.OutputPath == "" {
		err := fmt.Errorf("--output is required")
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	// Safety Check: Prevent overwriting input file which causes corruption
	if utils.SamePath(opts.InputPath, opts.OutputPath) {
		err := fmt.Errorf("input and output paths must be different to prevent file corruption")
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	if err := validateSpecFlags(opts); err != nil {
		return err
	}

	validResample := map[string]bool{"bilinear": true, "nearest": true, "catmullrom": true}
	if !validResample[opts.Resample] {
		err := fmt.Errorf("invalid resample '%s'. Must be one of: bilinear, nearest, catmullrom", opts.Resample)
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	if opts.CRF < 0 || opts.CRF > 51 {
		err := fmt.Errorf("must be between 0 and 51, got %d", opts.CRF)
		utils.ShowError("Invalid CRF", err, nil)
		return err
	}
	return nil
}

// newReframer wires a detector backend and encoder settings from c.
// With bars set, each pass gets a progress bar on stderr.
func newReframer(c *config.Config, bars bool) (*reframe.Reframer, error) {
	factory, err := detector.New(c.Detector)
	if err != nil {
		return nil, err
	}
	workers := c.Detector.Workers
	if workers == 0 {
		workers = defaultWorkers()
	}
	rc := reframe.Config{
		Detector:   factory,
		Workers:    workers,
		Smoothing:  c.SmoothParams(),
		Resampling: c.Render.Resampling,
		Encoder: video.SinkOptions{
			Codec:  c.Render.Codec,
			Preset: c.Render.Preset,
			CRF:    c.Render.CRF,
		},
		Log: Log,
	}
	if bars {
		rc.OnAnalyze = progressBar("Analyzing")
		rc.OnRender = progressBar("Rendering")
	}
	return reframe.New(rc), nil
}

// progressBar returns a hook that starts a bar for a pass. An unknown
// total shows a spinner instead.
func progressBar(desc string) func(frames int) render.Progress {
	return func(frames int) render.Progress {
		total := int64(frames)
		if total <= 0 {
			total = -1 // Trigger spinner mode
		}
		return progressbar.NewOptions64(total,
			progressbar.OptionSetDescription(desc),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
}
