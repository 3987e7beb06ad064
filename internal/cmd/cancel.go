package cmd

import (
	"net/url"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job",
	Long: `Request cancellation of a job.

Pending jobs never run. Jobs already processing lose their commit, so
any in-flight result is discarded. Jobs in a terminal state are left
unchanged.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	var view map[string]any
	if err := apiCall(cmd.Context(), "POST", "/jobs/"+url.PathEscape(args[0])+"/cancel", nil, &view); err != nil {
		return err
	}
	return printJSON(view)
}
