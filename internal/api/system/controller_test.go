package system_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hbomb79/Fetcharr/internal/api/system"
	"github.com/hbomb79/Fetcharr/internal/download"
	"github.com/hbomb79/Fetcharr/internal/extractor"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTools struct {
	status extractor.ToolStatus
}

func (s stubTools) ToolStatus() extractor.ToolStatus { return s.status }

func newRouter(t *testing.T, tools system.ToolReporter, store system.Store) *echo.Echo {
	router := echo.New()
	system.New(tools, store, t.TempDir(), "1.0.0").SetRoutes(router.Group(""))
	return router
}

func Test_SystemStatus_ReportsToolsDiskAndCounts(t *testing.T) {
	t.Parallel()
	store := download.NewMemoryStore()

	processing := download.NewDownloadJob("https://example.com/v/1", "mp3_320", "10.0.0.1")
	require.Nil(t, store.Create(processing))
	require.Nil(t, store.Update(processing.ID, func(j *download.DownloadJob) {
		j.BeginProcessing("Starting download...")
	}))
	require.Nil(t, store.Create(download.NewDownloadJob("https://example.com/v/2", "mp3_320", "10.0.0.1")))

	tools := stubTools{status: extractor.ToolStatus{ExtractorAvailable: true, FfmpegAvailable: false}}
	router := newRouter(t, tools, store)

	req := httptest.NewRequest(http.MethodGet, "/system-status/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var status system.StatusDto
	require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.ExtractorAvailable)
	assert.False(t, status.FfmpegAvailable)
	assert.Equal(t, 1, status.ActiveDownloads)
	assert.Equal(t, 2, status.TotalDownloads)
	assert.NotZero(t, status.DiskSpace.Total, "disk usage of the artifact directory should be populated")
}

func Test_Version_ReportsServerIdentity(t *testing.T) {
	t.Parallel()
	router := newRouter(t, stubTools{}, download.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/version/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var version system.VersionDto
	require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &version))
	assert.Equal(t, "fetcharr", version.Name)
	assert.Equal(t, "1.0.0", version.Version)
}
