package download_test

import (
	"path/filepath"
	"testing"

	"github.com/hbomb79/Fetcharr/internal/download"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSqliteStore(t *testing.T) download.Store {
	store, err := download.NewSqliteStore(filepath.Join(t.TempDir(), "jobs.db"))
	require.Nil(t, err, "failed to open sqlite store")
	return store
}

func Test_SqliteStore_Contract(t *testing.T) {
	t.Parallel()
	runStoreContract(t, newSqliteStore)
}

func Test_SqliteStore_SurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jobs.db")

	store, err := download.NewSqliteStore(path)
	require.Nil(t, err)

	job := download.NewDownloadJob("https://example.com/v/1", "mp3_320", "10.0.0.1")
	require.Nil(t, store.Create(job))
	require.Nil(t, store.Update(job.ID, func(j *download.DownloadJob) {
		j.Complete(download.Artifact{Path: "/data/out.mp3", SizeBytes: 512, DisplayTitle: "A Song"})
	}))

	reopened, err := download.NewSqliteStore(path)
	require.Nil(t, err)

	fetched, err := reopened.Get(job.ID)
	require.Nil(t, err)
	assert.Equal(t, download.StateCompleted, fetched.State)
	require.NotNil(t, fetched.Artifact)
	assert.Equal(t, int64(512), fetched.Artifact.SizeBytes)
}
