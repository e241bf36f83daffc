package history

import (
	"net/http"
	"time"

	"github.com/hbomb79/Fetcharr/internal/api/util"
	"github.com/hbomb79/Fetcharr/internal/download"
	"github.com/hbomb79/Fetcharr/internal/profile"
	"github.com/labstack/echo/v4"
)

// History listings are capped; a requester only ever sees their most
// recent completed downloads.
const historyLimit = 20

type (
	// EntryDto is the read-oriented projection of a completed job,
	// attributed to the requester that submitted it.
	EntryDto struct {
		JobId     string    `json:"job_id"`
		Url       string    `json:"url"`
		Title     string    `json:"title"`
		Quality   string    `json:"quality"`
		Timestamp time.Time `json:"timestamp"`
		Filesize  int64     `json:"filesize"`
	}

	Store interface {
		ListByRequester(address string, limit int) ([]*download.DownloadJob, error)
		DeleteByRequester(address string) (int, error)
	}

	Controller struct {
		store   Store
		catalog *profile.Catalog
	}
)

func New(store Store, catalog *profile.Catalog) *Controller {
	return &Controller{store: store, catalog: catalog}
}

// SetRoutes accepts the Echo group for the history endpoints
// and sets the routes on them.
func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/history/", controller.list)
	eg.POST("/clear-history/", controller.clear)
}

// list returns the caller's completed downloads, newest first. Queries are
// always scoped by requester address; one user can never read another's
// history.
func (controller *Controller) list(ec echo.Context) error {
	jobs, err := controller.store.ListByRequester(util.RequesterAddress(ec), 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	entries := make([]EntryDto, 0)
	for _, job := range jobs {
		if job.State != download.StateCompleted || job.Artifact == nil {
			continue
		}

		entries = append(entries, EntryDto{
			JobId:     job.ID.String(),
			Url:       job.SourceURL,
			Title:     job.Artifact.DisplayTitle,
			Quality:   controller.catalog.Lookup(job.QualityKey).DisplayName,
			Timestamp: job.CreatedAt,
			Filesize:  job.Artifact.SizeBytes,
		})

		if len(entries) >= historyLimit {
			break
		}
	}

	return ec.JSON(http.StatusOK, map[string]interface{}{"history": entries})
}

// clear deletes the caller's history only; other requesters' entries are
// untouched.
func (controller *Controller) clear(ec echo.Context) error {
	count, err := controller.store.DeleteByRequester(util.RequesterAddress(ec))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"cleared": count,
		"message": "History cleared",
	})
}
