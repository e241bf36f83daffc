package internal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hbomb79/Fetcharr/internal/api"
	"github.com/hbomb79/Fetcharr/internal/download"
	"github.com/hbomb79/Fetcharr/internal/extractor"
	"github.com/hbomb79/Fetcharr/internal/sweep"
	"github.com/ilyakaznacheev/cleanenv"
)

// FetcharrConfig is the struct used to contain the
// various user config supplied by file, or
// manually inside the code.
type FetcharrConfig struct {
	Download     download.Config  `yaml:"download"`
	Format       extractor.Config `yaml:"formatter"`
	Sweep        sweep.Config     `yaml:"sweeper"`
	RestConfig   api.RestConfig   `yaml:"api"`
	DatabasePath string           `yaml:"database_path" env:"DATABASE_PATH"`
}

// LoadFromFile loads a configuration file formatted in YAML in to a
// FetcharrConfig struct ready to be passed to the Fetcharr constructor.
// Values absent from the file fall back to their environment variable
// counterparts (and their defaults).
func (config *FetcharrConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}

	return nil
}

// LoadFromEnv populates the config entirely from environment variables,
// applying defaults where no variable is set.
func (config *FetcharrConfig) LoadFromEnv() error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	return nil
}

// getOutputDir returns the directory in which completed artifacts are stored.
// It will first look in the config for a value, but if none is found a default
// below the user cache dir is used. If the default cannot be derived due to
// an error, a panic will occur.
func (config *FetcharrConfig) getOutputDir() string {
	if config.Download.OutputPath != "" {
		return config.Download.OutputPath
	}

	dir, err := os.UserCacheDir()
	if err != nil {
		panic(fmt.Sprintf("FAILURE to derive user cache dir %s", err))
	}

	return filepath.Join(dir, "fetcharr", "downloads")
}
