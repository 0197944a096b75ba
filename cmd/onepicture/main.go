package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/onepicture/onepicture/cmd"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "onepicture",
		Short: "A CLI photo deduplicator and archiver",
		Long: `A CLI application that keeps one copy of every photo in a monthly archive
and sets the other copies aside for review.
`,
	}

	// Parse persistent flags
	rootCmd.PersistentFlags().StringVar(&cmd.FlagConfigFolder, "config-dir", cmd.FlagConfigFolder, "Config folder")
	rootCmd.PersistentFlags().StringVarP(&cmd.FlagConfigFile, "config", "c", cmd.FlagConfigFile, "Config file")
	rootCmd.PersistentFlags().StringVarP(&cmd.FlagLogFile, "log", "l", cmd.FlagLogFile, "Log file")
	rootCmd.PersistentFlags().CountVarP(&cmd.FlagLogLevel, "verbose", "v", "Verbose level")

	rootCmd.PersistentFlags().BoolVar(&cmd.FlagDryRun, "dry-run", false, "Dry run mode")

	rootCmd.AddCommand(cmd.ArchiveCommand())
	rootCmd.AddCommand(cmd.ScanCommand())
	rootCmd.AddCommand(cmd.VersionCommand())

	// finish the current file and account for the rest on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
