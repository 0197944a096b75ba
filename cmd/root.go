package cmd

import (
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/onepicture/onepicture/pkg/config"
	"github.com/onepicture/onepicture/pkg/logger"
)

var (
	// Global flags
	FlagLogLevel     = 0
	FlagConfigFile   = "config.yaml"
	FlagConfigFolder = config.GetDefaultConfigDirectory("onepicture", FlagConfigFile)
	FlagLogFile      = "activity.log"
	FlagDryRun       bool

	// Path overrides
	flagSource     string
	flagQuarantine string
	flagArchive    string

	// Global vars
	log         *logrus.Entry
	initialized bool
)

func initCore(showAppInfo bool) {
	// set config file path
	configPath := FlagConfigFile
	if !filepath.IsAbs(configPath) {
		configPath = filepath.Join(FlagConfigFolder, FlagConfigFile)
	}

	logPath := ""
	if FlagLogFile != "" {
		logPath = FlagLogFile
		if !filepath.IsAbs(logPath) {
			logPath = filepath.Join(FlagConfigFolder, FlagLogFile)
		}
	}

	// init logging
	if err := logger.Init(FlagLogLevel, logPath); err != nil {
		panic("Failed initializing logger")
	}
	log = logger.GetLogger("app")

	// init config
	if err := config.Init(configPath); err != nil {
		log.WithError(err).Fatal("Failed initializing config")
	}

	applyOverrides(config.Config)

	if showAppInfo {
		log.Infof("Using %s = %q", "CONFIG", configPath)
		log.Infof("Using %s = %q", "LOG", logPath)
		log.Infof("Using %s = %d", "VERBOSITY", FlagLogLevel)
		log.Infof("Using %s = %v", "DRY_RUN", FlagDryRun)
	}
}

// applyOverrides lets command-line paths win over the config file.
func applyOverrides(cfg *config.Configuration) {
	if flagSource != "" {
		cfg.Source = flagSource
	}
	if flagQuarantine != "" {
		cfg.Quarantine = flagQuarantine
	}
	if flagArchive != "" {
		cfg.Archive.Root = flagArchive
	}
}
