package system

import (
	"net/http"

	"github.com/hbomb79/Fetcharr/internal/extractor"
	"github.com/hbomb79/Fetcharr/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/disk"
)

var controllerLogger = logger.Get("SystemController")

type (
	DiskSpaceDto struct {
		Total  uint64 `json:"total"`
		Used   uint64 `json:"used"`
		Free   uint64 `json:"free"`
		FreeGb uint64 `json:"free_gb"`
	}

	StatusDto struct {
		ExtractorAvailable bool         `json:"extractor_available"`
		FfmpegAvailable    bool         `json:"ffmpeg_available"`
		DiskSpace          DiskSpaceDto `json:"disk_space"`
		ActiveDownloads    int          `json:"active_downloads"`
		TotalDownloads     int          `json:"total_downloads"`
	}

	VersionDto struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}

	ToolReporter interface {
		ToolStatus() extractor.ToolStatus
	}

	Store interface {
		Count() (int, error)
		CountProcessing() (int, error)
	}

	Controller struct {
		tools        ToolReporter
		store        Store
		artifactPath string
		version      string
	}
)

func New(tools ToolReporter, store Store, artifactPath string, version string) *Controller {
	return &Controller{tools: tools, store: store, artifactPath: artifactPath, version: version}
}

// SetRoutes accepts the Echo group for the system endpoints
// and sets the routes on them.
func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/system-status/", controller.status)
	eg.GET("/version/", controller.versionInfo)
}

// status reports external tool availability, disk headroom in the
// artifact directory, and job counts. A missing transcoder surfaces here
// proactively rather than only as per-job failures.
func (controller *Controller) status(ec echo.Context) error {
	tools := controller.tools.ToolStatus()

	var space DiskSpaceDto
	if usage, err := disk.Usage(controller.artifactPath); err == nil {
		space = DiskSpaceDto{
			Total:  usage.Total,
			Used:   usage.Used,
			Free:   usage.Free,
			FreeGb: usage.Free >> 30,
		}
	} else {
		controllerLogger.Warnf("Failed to read disk usage for %s: %v\n", controller.artifactPath, err)
	}

	active, err := controller.store.CountProcessing()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	total, err := controller.store.Count()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, StatusDto{
		ExtractorAvailable: tools.ExtractorAvailable,
		FfmpegAvailable:    tools.FfmpegAvailable,
		DiskSpace:          space,
		ActiveDownloads:    active,
		TotalDownloads:     total,
	})
}

func (controller *Controller) versionInfo(ec echo.Context) error {
	return ec.JSON(http.StatusOK, VersionDto{Name: "fetcharr", Version: controller.version})
}
