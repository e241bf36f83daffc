package sweep_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Fetcharr/internal/profile"
	"github.com/hbomb79/Fetcharr/internal/sweep"
	"github.com/hbomb79/Fetcharr/pkg/logger"
	"github.com/hbomb79/Fetcharr/tests/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

type MockJobStore struct {
	mock.Mock
}

func (m *MockJobStore) DeleteExpired(before time.Time) ([]uuid.UUID, error) {
	args := m.Called(before)
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

// age pushes a file's modification time beyond the given duration in the past.
func age(t *testing.T, path string, by time.Duration) {
	past := time.Now().Add(-by)
	require.Nil(t, os.Chtimes(path, past, past))
}

func Test_Sweep_RemovesOnlyExpiredOwnedArtifacts(t *testing.T) {
	t.Parallel()

	oldOwned := uuid.New().String() + ".mp3"
	freshOwned := uuid.New().String() + ".mp4"
	oldFragment := uuid.New().String() + ".part"
	oldForeignExt := uuid.New().String() + ".txt"
	oldForeignName := "holiday-video.mp3"

	dir, _ := helpers.TempDirWithNamedFiles(t, []string{
		oldOwned, freshOwned, oldFragment, oldForeignExt, oldForeignName,
	})

	for _, name := range []string{oldOwned, oldFragment, oldForeignExt, oldForeignName} {
		age(t, filepath.Join(dir, name), 48*time.Hour)
	}

	storeMock := &MockJobStore{}
	storeMock.On("DeleteExpired", mock.Anything).Return([]uuid.UUID{}, nil)

	srv := sweep.New(
		sweep.Config{ArtifactPath: dir, Interval: time.Hour, Horizon: 24 * time.Hour},
		storeMock,
		profile.NewCatalog().Containers(),
	)
	srv.Sweep()

	assert.NoFileExists(t, filepath.Join(dir, oldOwned), "expired artifact should be removed")
	assert.NoFileExists(t, filepath.Join(dir, oldFragment), "expired tool fragment should be removed")
	assert.FileExists(t, filepath.Join(dir, freshOwned), "artifact inside the horizon must survive")
	assert.FileExists(t, filepath.Join(dir, oldForeignExt), "unknown extensions must never be touched")
	assert.FileExists(t, filepath.Join(dir, oldForeignName), "files without a job id stem must never be touched")
}

func Test_Sweep_ReclaimsEveryContainerTheCatalogProduces(t *testing.T) {
	t.Parallel()

	// One aged artifact per catalog container; a container the sweeper
	// does not recognise would leave that profile's output orphaned.
	containers := profile.NewCatalog().Containers()
	names := make([]string, 0, len(containers))
	for ext := range containers {
		names = append(names, uuid.New().String()+"."+ext)
	}

	dir, files := helpers.TempDirWithNamedFiles(t, names)
	for _, file := range files {
		age(t, file, 48*time.Hour)
	}

	storeMock := &MockJobStore{}
	storeMock.On("DeleteExpired", mock.Anything).Return([]uuid.UUID{}, nil)

	srv := sweep.New(
		sweep.Config{ArtifactPath: dir, Interval: time.Hour, Horizon: 24 * time.Hour},
		storeMock,
		containers,
	)
	srv.Sweep()

	for _, file := range files {
		assert.NoFileExists(t, file, "aged artifact %s should be reclaimed", filepath.Base(file))
	}
}

func Test_Sweep_IgnoresFilesWithForeignStems(t *testing.T) {
	t.Parallel()

	// Random-stemmed files carrying extensions the server does produce;
	// the stem failing to parse as a job id must be enough to spare them.
	dir, files := helpers.TempDirWithFiles(t, []string{"recording.mp3", "clip.mp4", "session.flac"})
	for _, file := range files {
		age(t, file, 48*time.Hour)
	}

	storeMock := &MockJobStore{}
	storeMock.On("DeleteExpired", mock.Anything).Return([]uuid.UUID{}, nil)

	srv := sweep.New(
		sweep.Config{ArtifactPath: dir, Interval: time.Hour, Horizon: 24 * time.Hour},
		storeMock,
		profile.NewCatalog().Containers(),
	)
	srv.Sweep()

	for _, file := range files {
		assert.FileExists(t, file, "file %s has no job id stem and must survive", filepath.Base(file))
	}
}

func Test_Sweep_PassesHorizonCutoffToStore(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	horizon := 24 * time.Hour
	storeMock := &MockJobStore{}
	storeMock.On("DeleteExpired", mock.MatchedBy(func(cutoff time.Time) bool {
		expected := time.Now().Add(-horizon)
		return cutoff.Sub(expected).Abs() < time.Minute
	})).Return([]uuid.UUID{uuid.New()}, nil).Once()

	srv := sweep.New(
		sweep.Config{ArtifactPath: dir, Interval: time.Hour, Horizon: horizon},
		storeMock,
		profile.NewCatalog().Containers(),
	)
	srv.Sweep()

	storeMock.AssertExpectations(t)
}

func Test_Sweep_StoreFailureDoesNotAbortArtifactPass(t *testing.T) {
	t.Parallel()

	expired := uuid.New().String() + ".flac"
	dir, files := helpers.TempDirWithNamedFiles(t, []string{expired})
	age(t, files[0], 48*time.Hour)

	storeMock := &MockJobStore{}
	storeMock.On("DeleteExpired", mock.Anything).Return([]uuid.UUID{}, fmt.Errorf("database locked"))

	srv := sweep.New(
		sweep.Config{ArtifactPath: dir, Interval: time.Hour, Horizon: 24 * time.Hour},
		storeMock,
		profile.NewCatalog().Containers(),
	)
	srv.Sweep()

	assert.NoFileExists(t, files[0], "artifact sweep must proceed regardless of record sweep failures")
}
