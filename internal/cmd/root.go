// Package cmd implements the factgate command tree.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// versionInfo carries build metadata injected via ldflags.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata for the version command and
// the /version endpoint.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   "factgate",
	Short: "Reliable artifact generation pipeline",
	Long: `factgate runs a fact-verified artifact generation pipeline.

Documents are generated from durable, idempotent jobs, checked against
the subject's source-of-truth facts before release, and retried with
bounded backoff on transient failures.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
