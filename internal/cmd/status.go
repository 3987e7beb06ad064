package cmd

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the status of a job",
	Long: `Fetch the current state of a job.

Completed jobs include a time-limited artifact URL. Failed and
dead-lettered jobs include the structured error and, when verification
ran, the violation report.

Example:
  factgate status 0b26f0f4-6a1e-4f7a-9c50-2f318f3f2d3a`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}

	var view map[string]any
	if err := apiCall(cmd.Context(), "GET", "/jobs/"+url.PathEscape(jobID), nil, &view); err != nil {
		return err
	}
	return printJSON(view)
}
