package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/andresmejia3/reframe/internal/render"
	"github.com/andresmejia3/reframe/internal/utils"
)

var (
	planOpts   Options
	planOutput string
	planFormat string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the smoothed crop path for a video without rendering it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := validatePlanFlags(&planOpts); err != nil {
			return err
		}
		c, err := buildConfig(cmd, planOpts)
		if err != nil {
			utils.ShowError("Configuration Error", err, nil)
			return err
		}
		r, err := newReframer(c, true)
		if err != nil {
			utils.ShowError("Detector setup failed", err, nil)
			return err
		}

		res, err := r.Plan(cmd.Context(), planOpts.InputPath, c.OutputSpec())
		if err != nil {
			utils.ShowError(failureMessage(err), err, nil)
			return err
		}

		var w io.Writer = os.Stdout
		if planOutput != "" {
			f, err := os.Create(planOutput)
			if err != nil {
				utils.ShowError("Failed to create plan file", err, nil)
				return err
			}
			defer f.Close()
			w = f
		}
		return writePlan(w, res, planFormat)
	},
}

func init() {
	planCmd.Flags().StringVarP(&planOpts.InputPath, "input", "i", "", "Path to input video")
	planCmd.Flags().StringVarP(&planOutput, "output", "o", "", "Write the plan to a file instead of stdout")
	planCmd.Flags().StringVarP(&planFormat, "format", "f", "json", "Plan format: json, yaml")
	addSpecFlags(planCmd, &planOpts)

	planCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(planCmd)
}

func validatePlanFlags(opts *Options) error {
	if err := validateInput(opts.InputPath); err != nil {
		return err
	}
	if planFormat != "json" && planFormat != "yaml" {
		err := fmt.Errorf("invalid format '%s'. Must be one of: json, yaml", planFormat)
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	return validateSpecFlags(opts)
}

func writePlan(w io.Writer, res *render.Result, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(res); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	default:
		return fmt.Errorf("unknown plan format %q", format)
	}
}
