package download

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/hbomb79/Fetcharr/internal/event"
	"github.com/hbomb79/Fetcharr/internal/extractor"
	"github.com/hbomb79/Fetcharr/internal/profile"
	"github.com/hbomb79/Fetcharr/pkg/logger"
)

var (
	log = logger.Get("DownloadServ")

	// ErrInvalidURL is the synchronous validation failure for a source
	// URL which is missing or not absolute http(s). No job is created.
	ErrInvalidURL = errors.New("source URL must be an absolute http(s) URL")
)

type (
	Config struct {
		OutputPath   string `yaml:"output_path" env:"DOWNLOAD_OUTPUT_PATH"`
		MaxBatchSize int    `yaml:"max_batch_size" env:"DOWNLOAD_MAX_BATCH_SIZE" env-default:"10"`
	}

	// Executor abstracts the extraction/transcode adapter for this
	// service (and lets tests substitute synthetic progress sequences).
	Executor interface {
		Execute(ctx context.Context, sourceURL string, p profile.Profile, outputStem string, sink extractor.ProgressSink) (*extractor.Result, error)
		VerifyArtifact(path string) (int64, error)
	}

	// downloadService owns the job lifecycle: it validates submissions,
	// creates the pending record synchronously, then drives each job
	// through its state machine on a dedicated goroutine. Jobs are fully
	// independent of one another; the only shared structure they touch
	// is the Store, through its per-id atomic update contract.
	downloadService struct {
		mu    sync.Mutex
		jobWg sync.WaitGroup
		ctx   context.Context

		config   Config
		store    Store
		executor Executor
		catalog  *profile.Catalog
		eventBus event.EventCoordinator
	}
)

// New constructs the download service, ensuring the artifact output
// directory exists (created if missing, error if the path is a file).
func New(config Config, store Store, executor Executor, catalog *profile.Catalog, eventBus event.EventCoordinator) (*downloadService, error) {
	if info, err := os.Stat(config.OutputPath); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("download output path '%s' is not a directory", config.OutputPath)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(config.OutputPath, os.ModeDir|os.ModePerm); err != nil {
			return nil, fmt.Errorf("download output path '%s' could not be created: %w", config.OutputPath, err)
		}
	} else {
		return nil, fmt.Errorf("download output path '%s' could not be accessed: %w", config.OutputPath, err)
	}

	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = 10
	}

	return &downloadService{
		ctx:      context.Background(),
		config:   config,
		store:    store,
		executor: executor,
		catalog:  catalog,
		eventBus: eventBus,
	}, nil
}

// Run blocks until the provided context is cancelled, then waits for all
// in-flight jobs to finish. Note that jobs are not interrupted; once
// started, a job runs to completion or failure.
func (service *downloadService) Run(ctx context.Context) error {
	service.mu.Lock()
	service.ctx = ctx
	service.mu.Unlock()

	<-ctx.Done()
	log.Emit(logger.STOP, "Shutting down (context cancelled). Waiting for in-flight downloads to finish.\n")
	service.jobWg.Wait()
	return nil
}

// NewDownload validates the submission, creates the job record in its
// pending state, and launches the asynchronous execution unit. The job id
// is returned immediately without waiting for any work to happen; a status
// query against the returned id will never report not-found.
func (service *downloadService) NewDownload(sourceURL string, qualityKey string, requesterAddress string) (uuid.UUID, error) {
	if err := validateSourceURL(sourceURL); err != nil {
		return uuid.Nil, err
	}

	p := service.catalog.Lookup(qualityKey)
	job := NewDownloadJob(sourceURL, p.Key, requesterAddress)
	if err := service.store.Create(job); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create job record: %w", err)
	}

	log.Emit(logger.NEW, "Accepted download %s (%s) for %s\n", job.ID, p.Key, requesterAddress)

	service.mu.Lock()
	ctx := service.ctx
	service.mu.Unlock()

	service.jobWg.Add(1)
	go service.runJob(ctx, job.ID, sourceURL, p)

	return job.ID, nil
}

// NewBatch launches an independent job for each valid URL, capped at the
// configured batch size. Invalid URLs are skipped rather than failing the
// whole batch; no ordering or fairness between the launched jobs is
// guaranteed.
func (service *downloadService) NewBatch(sourceURLs []string, qualityKey string, requesterAddress string) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(sourceURLs))
	for _, sourceURL := range sourceURLs {
		if len(ids) >= service.config.MaxBatchSize {
			log.Warnf("Batch submission from %s truncated to %d jobs\n", requesterAddress, service.config.MaxBatchSize)
			break
		}

		id, err := service.NewDownload(sourceURL, qualityKey, requesterAddress)
		if err != nil {
			log.Debugf("Skipping batch URL %q: %v\n", sourceURL, err)
			continue
		}

		ids = append(ids, id)
	}

	return ids
}

// runJob is the asynchronous execution unit for a single job. The progress
// sink closes over this job's id, so interleaved callbacks from many
// concurrently processing jobs can never be attributed to the wrong record.
func (service *downloadService) runJob(ctx context.Context, jobID uuid.UUID, sourceURL string, p profile.Profile) {
	defer service.jobWg.Done()

	sink := func(percent float64) {
		err := service.store.Update(jobID, func(job *DownloadJob) {
			job.ApplyProgress(percent, fmt.Sprintf("Downloading... %.1f%%", percent))
		})
		if err != nil {
			log.Warnf("Dropping progress signal for job %s: %v\n", jobID, err)
			return
		}

		service.eventBus.Dispatch(event.DOWNLOAD_PROGRESS, jobID)
	}

	if err := service.store.Update(jobID, func(job *DownloadJob) {
		job.BeginProcessing("Starting download...")
	}); err != nil {
		log.Errorf("Cannot start job %s, record missing from store: %v\n", jobID, err)
		return
	}
	service.eventBus.Dispatch(event.DOWNLOAD_UPDATE, jobID)

	outputStem := filepath.Join(service.config.OutputPath, jobID.String())
	result, err := service.executor.Execute(ctx, sourceURL, p, outputStem, sink)
	if err != nil {
		service.failJob(jobID, err)
		return
	}

	// The tool reporting success is not enough; the artifact must exist
	// on disk (and probe as valid media) before the job may complete.
	size, err := service.executor.VerifyArtifact(result.Path)
	if err != nil {
		service.failJob(jobID, err)
		return
	}

	if err := service.store.Update(jobID, func(job *DownloadJob) {
		job.Complete(Artifact{Path: result.Path, SizeBytes: size, DisplayTitle: result.Title})
	}); err != nil {
		log.Errorf("Failed to mark job %s completed: %v\n", jobID, err)
		return
	}

	log.Emit(logger.SUCCESS, "Download %s completed (%s, %d bytes)\n", jobID, result.Path, size)
	service.eventBus.Dispatch(event.DOWNLOAD_COMPLETE, jobID)
}

func (service *downloadService) failJob(jobID uuid.UUID, cause error) {
	message := cause.Error()
	if err := service.store.Update(jobID, func(job *DownloadJob) {
		job.Fail(message)
	}); err != nil {
		log.Errorf("Failed to mark job %s errored: %v\n", jobID, err)
		return
	}

	log.Errorf("Download %s failed (%s): %s\n", jobID, extractor.KindOf(cause), message)
	service.eventBus.Dispatch(event.DOWNLOAD_UPDATE, jobID)
}

func validateSourceURL(sourceURL string) error {
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return ErrInvalidURL
	}

	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return ErrInvalidURL
	}

	return nil
}
