package downloads

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hbomb79/Fetcharr/internal/api/util"
	"github.com/hbomb79/Fetcharr/internal/download"
	"github.com/hbomb79/Fetcharr/internal/extractor"
	"github.com/hbomb79/Fetcharr/internal/profile"
	"github.com/hbomb79/Fetcharr/pkg/logger"
	"github.com/labstack/echo/v4"
)

var controllerLogger = logger.Get("DownloadsController")

type (
	VideoInfoRequest struct {
		Url string `json:"url" validate:"required"`
	}

	DownloadRequest struct {
		Url    string `json:"url" validate:"required"`
		Format string `json:"format"`
	}

	AudioTrackDto struct {
		FormatId    string  `json:"format_id"`
		Ext         string  `json:"ext"`
		BitrateKbps float64 `json:"abr"`
		Note        string  `json:"format_note"`
	}

	VideoInfoDto struct {
		Success      bool            `json:"success"`
		Title        string          `json:"title"`
		Duration     int             `json:"duration"`
		Thumbnail    string          `json:"thumbnail"`
		Channel      string          `json:"channel"`
		ViewCount    int64           `json:"view_count"`
		AudioFormats []AudioTrackDto `json:"audio_formats"`
		Description  string          `json:"description"`
	}

	// StatusDto is the job projection returned by the status endpoint.
	// File details are only present once the job has completed.
	StatusDto struct {
		Status   string  `json:"status"`
		Progress float64 `json:"progress"`
		Message  string  `json:"message"`
		Filename string  `json:"filename,omitempty"`
		Filesize int64   `json:"filesize,omitempty"`
		Title    string  `json:"title,omitempty"`
		Quality  string  `json:"quality,omitempty"`
	}

	DownloadService interface {
		NewDownload(sourceURL string, qualityKey string, requesterAddress string) (uuid.UUID, error)
		NewBatch(sourceURLs []string, qualityKey string, requesterAddress string) []uuid.UUID
	}

	MetadataFetcher interface {
		FetchMetadata(ctx context.Context, sourceURL string) (*extractor.Metadata, error)
	}

	Store interface {
		Get(id uuid.UUID) (*download.DownloadJob, error)
	}

	Controller struct {
		validate *validator.Validate
		service  DownloadService
		fetcher  MetadataFetcher
		store    Store
		catalog  *profile.Catalog
	}
)

func New(validate *validator.Validate, service DownloadService, fetcher MetadataFetcher, store Store, catalog *profile.Catalog) *Controller {
	return &Controller{validate: validate, service: service, fetcher: fetcher, store: store, catalog: catalog}
}

// SetRoutes accepts the Echo group for the download endpoints
// and sets the routes on them.
func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/video-info/", controller.videoInfo)
	eg.POST("/download/", controller.startDownload)
	eg.GET("/status/:id/", controller.status)
	eg.GET("/download-file/:id/", controller.downloadFile)
	eg.POST("/batch-download/", controller.batchDownload)
}

func (controller *Controller) videoInfo(ec echo.Context) error {
	var request VideoInfoRequest
	if err := ec.Bind(&request); err != nil {
		return failure(ec, http.StatusBadRequest, "URL required")
	}
	if err := controller.validate.Struct(request); err != nil {
		return failure(ec, http.StatusBadRequest, "URL required")
	}

	metadata, err := controller.fetcher.FetchMetadata(ec.Request().Context(), request.Url)
	if err != nil {
		// Extraction failures are a property of the source, not the
		// request; report them in-band the way clients expect.
		return failure(ec, http.StatusOK, err.Error())
	}

	return ec.JSON(http.StatusOK, VideoInfoDto{
		Success:      true,
		Title:        metadata.Title,
		Duration:     metadata.DurationSeconds,
		Thumbnail:    metadata.ThumbnailURL,
		Channel:      metadata.Channel,
		ViewCount:    metadata.ViewCount,
		AudioFormats: util.ApplyConversion(metadata.AudioTracks, newAudioTrackDto),
		Description:  metadata.ShortDescription,
	})
}

func (controller *Controller) startDownload(ec echo.Context) error {
	var request DownloadRequest
	if err := ec.Bind(&request); err != nil {
		return failure(ec, http.StatusBadRequest, "URL required")
	}
	if err := controller.validate.Struct(request); err != nil {
		return failure(ec, http.StatusBadRequest, "URL required")
	}

	jobID, err := controller.service.NewDownload(request.Url, request.Format, util.RequesterAddress(ec))
	if errors.Is(err, download.ErrInvalidURL) {
		return failure(ec, http.StatusBadRequest, "Invalid URL")
	} else if err != nil {
		// Anything else is a server-side failure (the store refusing the
		// record), not a problem with the submission.
		controllerLogger.Errorf("Failed to accept download submission: %v\n", err)
		return failure(ec, http.StatusInternalServerError, "Failed to start download")
	}

	return ec.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"job_id":  jobID,
		"message": "Download started in background",
	})
}

func (controller *Controller) status(ec echo.Context) error {
	notFound := func() error {
		return ec.JSON(http.StatusOK, map[string]string{"status": "not_found"})
	}

	jobID, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return notFound()
	}

	job, err := controller.store.Get(jobID)
	if err != nil {
		return notFound()
	}

	return ec.JSON(http.StatusOK, controller.newStatusDto(job))
}

func (controller *Controller) downloadFile(ec echo.Context) error {
	jobID, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.ErrNotFound
	}

	job, err := controller.store.Get(jobID)
	if err != nil || job.State != download.StateCompleted || job.Artifact == nil {
		return echo.ErrNotFound
	}

	ext := strings.TrimPrefix(filepath.Ext(job.Artifact.Path), ".")
	downloadName := sanitizeFilename(job.Artifact.DisplayTitle) + "." + ext

	ec.Response().Header().Set(echo.HeaderContentType, mimeForContainer(ext))
	return ec.Attachment(job.Artifact.Path, downloadName)
}

func (controller *Controller) batchDownload(ec echo.Context) error {
	fileHeader, err := ec.FormFile("file")
	if err != nil {
		return failure(ec, http.StatusBadRequest, "No file uploaded")
	}

	if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".txt") {
		return failure(ec, http.StatusBadRequest, "Invalid file type")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return failure(ec, http.StatusBadRequest, "No file uploaded")
	}
	defer file.Close()

	urls := make([]string, 0)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			urls = append(urls, line)
		}
	}
	if err := scanner.Err(); err != nil {
		controllerLogger.Warnf("Failed reading batch upload: %v\n", err)
		return failure(ec, http.StatusBadRequest, "Malformed batch file")
	}

	jobIDs := controller.service.NewBatch(urls, ec.FormValue("format"), util.RequesterAddress(ec))
	return ec.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"job_ids": jobIDs,
		"count":   len(jobIDs),
	})
}

func (controller *Controller) newStatusDto(job *download.DownloadJob) StatusDto {
	dto := StatusDto{
		Status:   job.State.String(),
		Progress: job.ProgressPercent,
		Message:  job.StatusMessage,
	}

	if job.Artifact != nil {
		dto.Filename = filepath.Base(job.Artifact.Path)
		dto.Filesize = job.Artifact.SizeBytes
		dto.Title = job.Artifact.DisplayTitle
		dto.Quality = controller.catalog.Lookup(job.QualityKey).DisplayName
	}

	return dto
}

func newAudioTrackDto(track extractor.AudioTrack) AudioTrackDto {
	return AudioTrackDto{FormatId: track.FormatID, Ext: track.Ext, BitrateKbps: track.BitrateKbps, Note: track.Note}
}

func failure(ec echo.Context, code int, message string) error {
	return ec.JSON(code, map[string]interface{}{"success": false, "error": message})
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// sanitizeFilename reduces an arbitrary media title to something safe to
// offer as a download name.
func sanitizeFilename(title string) string {
	cleaned := unsafeFilenameChars.ReplaceAllString(title, "_")
	cleaned = strings.Trim(cleaned, "._-")
	if cleaned == "" {
		return "download"
	}

	return cleaned
}

func mimeForContainer(ext string) string {
	switch strings.ToLower(ext) {
	case "mp3":
		return "audio/mpeg"
	case "flac":
		return "audio/flac"
	case "m4a":
		return "audio/mp4"
	case "wav":
		return "audio/wav"
	case "opus":
		return "audio/opus"
	case "mp4":
		return "video/mp4"
	}

	return "application/octet-stream"
}
