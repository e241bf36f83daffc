package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hbomb79/Fetcharr/internal/api"
	"github.com/hbomb79/Fetcharr/internal/download"
	"github.com/hbomb79/Fetcharr/internal/event"
	"github.com/hbomb79/Fetcharr/internal/extractor"
	"github.com/hbomb79/Fetcharr/internal/profile"
	"github.com/hbomb79/Fetcharr/internal/sweep"
	"github.com/hbomb79/Fetcharr/pkg/logger"
)

var log = logger.Get("Core")

const Version = "1.0.0"

type (
	RunnableService interface {
		Run(context.Context) error
	}

	RestGateway interface {
		RunnableService
		BroadcastDownloadUpdate(uuid.UUID) error
		BroadcastDownloadProgressUpdate(uuid.UUID) error
		BroadcastDownloadComplete(uuid.UUID) error
	}

	DownloadService interface {
		RunnableService
		NewDownload(sourceURL string, qualityKey string, requesterAddress string) (uuid.UUID, error)
		NewBatch(sourceURLs []string, qualityKey string, requesterAddress string) []uuid.UUID
	}
)

// Fetcharr represents the top-level object for the server, and is responsible
// for initialising embedded support services, services, stores, event
// handling, et cetera...
type fetcharrImpl struct {
	eventBus        event.EventCoordinator
	activityManager *activityManager
	config          FetcharrConfig

	catalog  *profile.Catalog
	jobStore download.Store

	restGateway     RestGateway
	downloadService DownloadService
	sweepService    RunnableService
}

func New(config FetcharrConfig) *fetcharrImpl {
	log.Emit(logger.DEBUG, "Bootstrapping Fetcharr services using config: %#v\n", config)
	config.Download.OutputPath = config.getOutputDir()
	if config.Sweep.ArtifactPath == "" {
		config.Sweep.ArtifactPath = config.Download.OutputPath
	}
	config.RestConfig.ServerVersion = Version

	fetcharr := &fetcharrImpl{
		eventBus: event.New(),
		config:   config,
		catalog:  profile.NewCatalog(),
	}

	if store, err := fetcharr.initialiseStore(config); err == nil {
		fetcharr.jobStore = store
	} else {
		panic(fmt.Sprintf("failed to construct job store due to error: %s", err.Error()))
	}

	mediaExtractor := extractor.New(config.Format)
	if serv, err := download.New(config.Download, fetcharr.jobStore, mediaExtractor, fetcharr.catalog, fetcharr.eventBus); err == nil {
		fetcharr.downloadService = serv
	} else {
		panic(fmt.Sprintf("failed to construct download service due to error: %s", err.Error()))
	}

	fetcharr.sweepService = sweep.New(config.Sweep, fetcharr.jobStore, fetcharr.catalog.Containers())
	fetcharr.restGateway = api.NewRestGateway(
		&fetcharr.config.RestConfig,
		fetcharr.downloadService,
		mediaExtractor,
		mediaExtractor,
		fetcharr.jobStore,
		fetcharr.catalog,
		config.Download.OutputPath,
	)
	fetcharr.activityManager = newActivityManager(fetcharr.restGateway, fetcharr.eventBus)

	return fetcharr
}

// Run will start all of Fetcharr by bringing up all required services:
// - Job store
// - Download service and its worker goroutines
// - Artifact sweeper
// - REST gateway and websocket hub
//
// This function will not return until Fetcharr is stopped.
// To stop Fetcharr, the provided context must be cancelled. Errors from which
// Fetcharr cannot recover will also cause it to stop.
func (fetcharr *fetcharrImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	wg := &sync.WaitGroup{}
	fetcharr.spawnAsyncService(ctx, wg, fetcharr.downloadService, "download-service", crashHandler)
	fetcharr.spawnAsyncService(ctx, wg, fetcharr.sweepService, "sweep-service", crashHandler)
	fetcharr.spawnAsyncService(ctx, wg, fetcharr.activityManager, "activity-manager", crashHandler)
	fetcharr.spawnAsyncService(ctx, wg, fetcharr.restGateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "Fetcharr services spawned!\n")

	wg.Wait()
	return nil
}

// spawnAsyncService will run the provided function/service as it's own
// go-routine, ensuring that the Fetcharr service waitgroup is updated correctly
func (fetcharr *fetcharrImpl) spawnAsyncService(context context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(context); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}

// initialiseStore constructs the job store backing all services. A sqlite
// backed store is used when a database path has been configured, otherwise
// job state is held in memory and lost on restart.
func (fetcharr *fetcharrImpl) initialiseStore(config FetcharrConfig) (download.Store, error) {
	if config.DatabasePath == "" {
		log.Emit(logger.INFO, "No database path configured, using in-memory job store\n")
		return download.NewMemoryStore(), nil
	}

	log.Emit(logger.INFO, "Opening sqlite job store at %s\n", config.DatabasePath)
	return download.NewSqliteStore(config.DatabasePath)
}
