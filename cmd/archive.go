package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/onepicture/onepicture/pkg/config"
	"github.com/onepicture/onepicture/pkg/logger"
	"github.com/onepicture/onepicture/pkg/pipeline"
)

func ArchiveCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "archive",
		Short: "Deduplicate the source tree into the monthly archive",
		Long: `Fingerprint every file under the source, copy one copy of each distinct file into
archive/YYYY-MM and every other copy into the quarantine for review.

Re-running is safe: files already recorded in a partition ledger are skipped.`,
		Example: `  onepicture archive --source ~/Pictures/unsorted --archive /mnt/photos --quarantine /mnt/photos-dupes
  onepicture archive --dry-run -v`,
		Args: cobra.NoArgs,
	}

	addPathFlags(command)

	command.Run = func(cmd *cobra.Command, args []string) {
		// init core
		if !initialized {
			initCore(true)
			initialized = true
		}

		// set log
		log := logger.GetLogger("archive")

		sum, err := pipeline.Run(cmd.Context(), config.Config, FlagDryRun)
		if err != nil {
			log.WithError(err).Fatal("Failed archiving")
		}

		log.Info("-----")
		for _, f := range sum.ScanFailures {
			log.WithError(f.Cause).Errorf("Could not read: %q", f.Path)
		}
		if sum.SizeMismatches > 0 {
			log.Warnf("%d duplicate groups share a fingerprint but differ in size, review the quarantine before deleting",
				sum.SizeMismatches)
		}
		sum.Log(log)

		if !sum.Clean() {
			os.Exit(2)
		}
	}

	return command
}

func addPathFlags(command *cobra.Command) {
	command.Flags().StringVar(&flagSource, "source", "", "Source folder to deduplicate (overrides config)")
	command.Flags().StringVar(&flagQuarantine, "quarantine", "", "Quarantine folder for duplicates (overrides config)")
	command.Flags().StringVar(&flagArchive, "archive", "", "Archive root folder (overrides config)")
}
