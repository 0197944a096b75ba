package cmd

import (
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/onepicture/onepicture/pkg/config"
	"github.com/onepicture/onepicture/pkg/logger"
	"github.com/onepicture/onepicture/pkg/pipeline"
)

func ScanCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "scan",
		Short: "Report duplicate files under the source without copying anything",
		Long:  `Fingerprint every file under the source and list each group of identical files, kept copy first.`,
		Example: `  onepicture scan --source ~/Pictures/unsorted
  onepicture scan -v`,
		Args: cobra.NoArgs,
	}

	command.Flags().StringVar(&flagSource, "source", "", "Source folder to scan (overrides config)")

	command.Run = func(cmd *cobra.Command, args []string) {
		// init core
		if !initialized {
			initCore(true)
			initialized = true
		}

		// set log
		log := logger.GetLogger("scan")

		if config.Config.Source == "" {
			log.Fatal("Source path must be set...")
		}

		res, classes, err := pipeline.Analyze(cmd.Context(), config.Config)
		if err != nil {
			log.WithError(err).Fatal("Failed scanning")
		}

		var wasted int64
		for _, class := range classes.Duplicates() {
			log.Info("-----")
			log.Infof("Keep: %q (%s)", class.Representative.SourcePath, humanize.IBytes(uint64(class.Representative.Size)))
			for _, r := range class.Redundant {
				log.Infof("Duplicate: %q", r.SourcePath)
				wasted += r.Size
			}
			if class.SizeMismatch {
				log.Warn("Files share a fingerprint but differ in size")
			}
		}

		for _, f := range res.Failures {
			log.WithError(f.Cause).Errorf("Could not read: %q", f.Path)
		}

		log.Info("-----")
		log.WithField("reclaimable_space", humanize.IBytes(uint64(wasted))).
			Infof("Scanned %d files: %d unique, %d duplicates in %d groups, %d failures, %d ignored",
				res.Scanned(), len(classes.Representatives), len(classes.Redundant),
				len(classes.Duplicates()), len(res.Failures), res.Ignored)
	}

	return command
}
