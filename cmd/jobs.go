package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/reframe/internal/store"
	"github.com/andresmejia3/reframe/internal/utils"
)

var (
	jobsLimit   int
	jobsRegions string
)

var jobsCmd = &cobra.Command{
	Use:     "jobs",
	Short:   "List recorded reframe jobs",
	PreRunE: requireDB,
	Run: func(cmd *cobra.Command, args []string) {
		if jobsRegions != "" {
			runJobRegions(cmd, jobsRegions)
			return
		}
		runJobs(cmd)
	},
}

func init() {
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 20, "Number of jobs to show (0 = all)")
	jobsCmd.Flags().StringVar(&jobsRegions, "regions", "", "Print the stored crop path of a job id")
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command) {
	jobs, err := DB.ListJobs(cmd.Context(), jobsLimit)
	if err != nil {
		utils.Die("Failed to list jobs", err, nil)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found in database.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tINPUT\tOUTPUT\tSIZE\tFRAMES\tDET FAIL\tCREATED")
	fmt.Fprintln(w, "--\t------\t-----\t------\t----\t------\t--------\t-------")

	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dx%d\t%d\t%d\t%s\n",
			j.ID, j.Status, j.InputPath, j.OutputPath, j.Spec.TargetWidth, j.Spec.TargetHeight,
			j.Frames, j.DetectionFailures, j.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func runJobRegions(cmd *cobra.Command, raw string) {
	id, err := uuid.Parse(raw)
	if err != nil {
		utils.Die("Invalid job id", err, nil)
	}
	fps, regions, err := DB.GetRegions(cmd.Context(), id)
	if errors.Is(err, store.ErrJobNotFound) {
		utils.Die("No such job", err, nil)
	}
	if err != nil {
		utils.Die("Failed to load regions", err, nil)
	}
	if len(regions) == 0 {
		fmt.Println("Job has no stored regions (still running or failed).")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FRAME\tTIME\tX\tY\tW\tH")
	for i, r := range regions {
		fmt.Fprintf(w, "%d\t%.3f\t%d\t%d\t%d\t%d\n", i, float64(i)/fps, r.X, r.Y, r.W, r.H)
	}
	w.Flush()
}
