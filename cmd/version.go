package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/onepicture/onepicture/pkg/runtime"
)

func VersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Example: `  onepicture version
  onepicture version --help`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) error {
	_, err := fmt.Fprintf(w, "onepicture %s (commit %s, built %s)\n", runtime.Version, runtime.GitCommit, runtime.Timestamp)
	return err
}
