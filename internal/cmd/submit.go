package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a generation job",
	Long: `Submit a generation job to the pipeline server.

The request body can be given inline or read from a file. Submitting
content identical to a live job returns that job's handle instead of
creating a new one.

Example:
  factgate submit --subject cand-123 --kind summary --payload '{"target_role":"SRE"}'
  factgate submit --file request.json`,
	RunE: runSubmit,
}

var (
	submitSubject string
	submitKind    string
	submitPayload string
	submitFile    string
)

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVar(&submitSubject, "subject", "", "Subject id the artifact is about")
	submitCmd.Flags().StringVar(&submitKind, "kind", "", "Artifact kind (summary|resume|cover_letter|interview_questions)")
	submitCmd.Flags().StringVar(&submitPayload, "payload", "{}", "Kind-specific payload as JSON")
	submitCmd.Flags().StringVarP(&submitFile, "file", "f", "", "Read the full submission body from a file")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	var body []byte
	switch {
	case submitFile != "":
		b, err := os.ReadFile(submitFile)
		if err != nil {
			return fmt.Errorf("read submission file: %w", err)
		}
		body = b

	default:
		if submitSubject == "" || submitKind == "" {
			return fmt.Errorf("either --file or both --subject and --kind are required")
		}
		b, err := json.Marshal(map[string]any{
			"subject_id": submitSubject,
			"kind":       submitKind,
			"payload":    json.RawMessage(submitPayload),
		})
		if err != nil {
			return fmt.Errorf("build submission: %w", err)
		}
		body = b
	}

	var handle map[string]any
	if err := apiCall(cmd.Context(), "POST", "/jobs", body, &handle); err != nil {
		return err
	}
	return printJSON(handle)
}
