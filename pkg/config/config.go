package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/pkg/errors"
)

const (
	// DefaultWindowBytes is the size of the prefix and suffix windows fed into the fingerprint.
	DefaultWindowBytes int64 = 1024 * 1024

	envPrefix = "ONEPICTURE_"
)

type ScanConfiguration struct {
	Workers        int   `koanf:"workers"`
	WindowBytes    int64 `koanf:"window_bytes"`
	FollowSymlinks bool  `koanf:"follow_symlinks"`
	UseExifDate    bool  `koanf:"use_exif_date"`
	MediaOnly      bool  `koanf:"media_only"`
}

type ArchiveConfiguration struct {
	Root              string `koanf:"root"`
	RemoveSource      bool   `koanf:"remove_source"`
	MaxFilesPerSecond int    `koanf:"max_files_per_second"`
}

type Configuration struct {
	Source     string               `koanf:"source"`
	Quarantine string               `koanf:"quarantine"`
	Archive    ArchiveConfiguration `koanf:"archive"`
	Scan       ScanConfiguration    `koanf:"scan"`
	Filter     FilterConfiguration  `koanf:"filter"`
}

var (
	// Config is the configuration loaded by Init.
	Config *Configuration
)

/* Public */

// Init loads configFilePath into the package level Config.
func Init(configFilePath string) error {
	cfg, err := load(configFilePath)
	if err != nil {
		return err
	}

	Config = cfg
	return nil
}

// Load reads a configuration without touching the package level state.
// A missing file is not an error: defaults and environment overrides still apply.
func Load(configFilePath string) (*Configuration, error) {
	return load(configFilePath)
}

// Defaults returns a configuration populated with default values only.
func Defaults() *Configuration {
	return &Configuration{
		Archive: ArchiveConfiguration{},
		Scan: ScanConfiguration{
			Workers:     runtime.NumCPU(),
			WindowBytes: DefaultWindowBytes,
		},
	}
}

// GetDefaultConfigDirectory returns the folder holding filename, preferring the
// working directory, then the user config directory.
func GetDefaultConfigDirectory(app string, filename string) string {
	if _, err := os.Stat(filename); err == nil {
		if dir, err := os.Getwd(); err == nil {
			return dir
		}
	}

	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, app)
	}

	return "."
}

// Validate checks that the paths required for archival are present and distinct.
func (c *Configuration) Validate() error {
	switch {
	case c.Source == "":
		return errors.New("source path must be set")
	case c.Quarantine == "":
		return errors.New("quarantine path must be set")
	case c.Archive.Root == "":
		return errors.New("archive root must be set")
	case c.Scan.WindowBytes <= 0:
		return errors.Errorf("scan window must be positive, got %d", c.Scan.WindowBytes)
	}

	src := filepath.Clean(c.Source)
	for name, p := range map[string]string{"quarantine": c.Quarantine, "archive root": c.Archive.Root} {
		if filepath.Clean(p) == src {
			return errors.Errorf("%s must differ from the source path: %q", name, p)
		}
	}

	return nil
}

/* Private */

func load(configFilePath string) (*Configuration, error) {
	k := koanf.New(".")
	def := Defaults()

	if err := k.Load(confmap.Provider(map[string]interface{}{
		"scan.workers":      def.Scan.Workers,
		"scan.window_bytes": def.Scan.WindowBytes,
	}, "."), nil); err != nil {
		return nil, errors.Wrap(err, "load defaults")
	}

	if configFilePath != "" {
		if _, err := os.Stat(configFilePath); err == nil {
			if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
				return nil, errors.Wrapf(err, "load config file %q", configFilePath)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "stat config file %q", configFilePath)
		}
	}

	// ONEPICTURE_ARCHIVE__REMOVE_SOURCE=true -> archive.remove_source
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load environment")
	}

	cfg := &Configuration{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	// an explicit zero means one worker per CPU
	if cfg.Scan.Workers <= 0 {
		cfg.Scan.Workers = runtime.NumCPU()
	}

	return cfg, nil
}
