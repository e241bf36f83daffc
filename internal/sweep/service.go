// Package sweep implements the retention sweeper: a long-lived background
// service which reclaims aged artifact files and job records on a timer.
package sweep

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Fetcharr/pkg/logger"
)

var log = logger.Get("SweepServ")

type (
	Config struct {
		ArtifactPath string        `yaml:"artifact_path" env:"SWEEP_ARTIFACT_PATH"`
		Interval     time.Duration `yaml:"interval" env:"SWEEP_INTERVAL" env-default:"1h"`
		Horizon      time.Duration `yaml:"horizon" env:"SWEEP_HORIZON" env-default:"24h"`
	}

	jobStore interface {
		DeleteExpired(before time.Time) ([]uuid.UUID, error)
	}

	sweepService struct {
		config Config
		store  jobStore

		// extensions this server can produce; anything else sharing the
		// artifact directory is never touched.
		knownExtensions map[string]struct{}
	}
)

// Transient files the extraction tool leaves behind alongside genuine
// artifacts; these are swept on the same horizon.
var temporaryExtensions = []string{"part", "ytdl", "webm"}

func New(config Config, store jobStore, containers map[string]struct{}) *sweepService {
	known := make(map[string]struct{}, len(containers)+len(temporaryExtensions))
	for ext := range containers {
		known[ext] = struct{}{}
	}
	for _, ext := range temporaryExtensions {
		known[ext] = struct{}{}
	}

	return &sweepService{config: config, store: store, knownExtensions: known}
}

// Run performs one sweep immediately, then sweeps on the configured
// interval until the context is cancelled.
func (service *sweepService) Run(ctx context.Context) error {
	ticker := time.NewTicker(service.config.Interval)
	defer ticker.Stop()

	service.Sweep()
	for {
		select {
		case <-ticker.C:
			service.Sweep()
		case <-ctx.Done():
			log.Emit(logger.STOP, "Shutting down (context cancelled)\n")
			return nil
		}
	}
}

// Sweep runs both retention passes against the same horizon: first the
// artifact directory, then the job store. A failure to remove any single
// file or record is logged and skipped; it never aborts the sweep.
func (service *sweepService) Sweep() {
	cutoff := time.Now().Add(-service.config.Horizon)
	service.sweepArtifacts(cutoff)
	service.sweepRecords(cutoff)
}

// sweepArtifacts deletes files in the artifact directory which are older
// than the cutoff AND were provably produced by this server: the file stem
// must parse as a job id and the extension must be one this server writes.
// The directory may be shared (it defaults to the OS temp dir), so
// anything failing the shape check is left alone.
func (service *sweepService) sweepArtifacts(cutoff time.Time) {
	entries, err := os.ReadDir(service.config.ArtifactPath)
	if err != nil {
		log.Warnf("Cannot scan artifact directory %s: %v\n", service.config.ArtifactPath, err)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !service.isOwnedArtifact(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			log.Warnf("Skipping artifact %s, cannot stat: %v\n", entry.Name(), err)
			continue
		}

		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(service.config.ArtifactPath, entry.Name())
		if err := os.Remove(path); err != nil {
			log.Warnf("Failed to remove expired artifact %s: %v\n", path, err)
			continue
		}

		log.Emit(logger.REMOVE, "Removed expired artifact %s\n", path)
	}
}

// isOwnedArtifact reports whether the filename matches the shape of files
// this server generates: <job-uuid>.<known extension>.
func (service *sweepService) isOwnedArtifact(name string) bool {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if _, ok := service.knownExtensions[strings.ToLower(ext)]; !ok {
		return false
	}

	stem := strings.TrimSuffix(name, filepath.Ext(name))
	_, err := uuid.Parse(stem)
	return err == nil
}

func (service *sweepService) sweepRecords(cutoff time.Time) {
	removed, err := service.store.DeleteExpired(cutoff)
	if err != nil {
		log.Warnf("Failed to sweep expired job records: %v\n", err)
		return
	}

	if len(removed) > 0 {
		log.Emit(logger.REMOVE, "Removed %d expired job records\n", len(removed))
	}
}
