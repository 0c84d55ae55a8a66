package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/HDI-Project/FeatureFactory/internal/cli/config"
	"github.com/HDI-Project/FeatureFactory/internal/executor"
)

// NewWorkerCommand creates the hidden worker command run by process
// isolation. It reads one request on stdin, writes one response on stdout
// and exits with the worker status code.
func NewWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Run one feature execution request (internal)",
		Hidden: true,
		Args:   cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			code := executor.ServeWorker(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), config.GetLogger(cmd.Context()))
			os.Exit(code) //nolint:revive // the exit status is the worker protocol
		},
	}
}
