package download_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Fetcharr/internal/download"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract asserts the Store behaviour every implementation must
// honour. It is run against both the in-memory store and the sqlite store.
func runStoreContract(t *testing.T, newStore func(t *testing.T) download.Store) {
	t.Run("CreateAndGet", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)

		job := download.NewDownloadJob("https://example.com/v/1", "mp3_320", "10.0.0.1")
		require.Nil(t, store.Create(job))

		fetched, err := store.Get(job.ID)
		require.Nil(t, err)
		assert.Equal(t, job.ID, fetched.ID)
		assert.Equal(t, download.StatePending, fetched.State)
		assert.Equal(t, "https://example.com/v/1", fetched.SourceURL)
		assert.Equal(t, "10.0.0.1", fetched.RequesterAddress)
	})

	t.Run("GetUnknownID", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)

		_, err := store.Get(uuid.New())
		assert.ErrorIs(t, err, download.ErrJobNotFound)
	})

	t.Run("UpdateAppliesMutation", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)

		job := download.NewDownloadJob("https://example.com/v/1", "mp3_320", "10.0.0.1")
		require.Nil(t, store.Create(job))

		require.Nil(t, store.Update(job.ID, func(j *download.DownloadJob) {
			j.BeginProcessing("Starting download...")
			j.ApplyProgress(42, "Downloading... 42.0%")
		}))

		fetched, err := store.Get(job.ID)
		require.Nil(t, err)
		assert.Equal(t, download.StateProcessing, fetched.State)
		assert.Equal(t, float64(42), fetched.ProgressPercent)

		assert.ErrorIs(t, store.Update(uuid.New(), func(j *download.DownloadJob) {}), download.ErrJobNotFound)
	})

	t.Run("ConcurrentUpdatesAreAtomic", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)

		job := download.NewDownloadJob("https://example.com/v/1", "mp3_320", "10.0.0.1")
		require.Nil(t, store.Create(job))

		// Each worker increments via read-modify-write. Any lost update
		// means the Update contract is broken.
		const workers, perWorker = 8, 25
		wg := sync.WaitGroup{}
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for n := 0; n < perWorker; n++ {
					assert.Nil(t, store.Update(job.ID, func(j *download.DownloadJob) {
						j.ProgressPercent++
					}))
				}
			}()
		}
		wg.Wait()

		fetched, err := store.Get(job.ID)
		require.Nil(t, err)
		assert.Equal(t, float64(workers*perWorker), fetched.ProgressPercent)
	})

	t.Run("ListByRequesterScopedAndOrdered", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)

		mine := make([]uuid.UUID, 0, 5)
		for i := 0; i < 5; i++ {
			job := download.NewDownloadJob(fmt.Sprintf("https://example.com/v/%d", i), "mp3_320", "10.0.0.1")
			job.CreatedAt = time.Now().Add(time.Duration(i) * time.Millisecond)
			require.Nil(t, store.Create(job))
			mine = append(mine, job.ID)
		}

		other := download.NewDownloadJob("https://example.com/v/other", "mp3_320", "192.168.1.50")
		require.Nil(t, store.Create(other))

		listed, err := store.ListByRequester("10.0.0.1", 0)
		require.Nil(t, err)
		require.Len(t, listed, 5, "another requester's jobs must never appear")

		// Newest first
		for i, job := range listed {
			assert.Equal(t, mine[len(mine)-1-i], job.ID)
		}

		limited, err := store.ListByRequester("10.0.0.1", 2)
		require.Nil(t, err)
		assert.Len(t, limited, 2)
		assert.Equal(t, mine[4], limited[0].ID)

		empty, err := store.ListByRequester("172.16.0.9", 0)
		require.Nil(t, err)
		assert.Empty(t, empty)
	})

	t.Run("DeleteByRequesterScoped", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)

		for i := 0; i < 3; i++ {
			job := download.NewDownloadJob(fmt.Sprintf("https://example.com/v/%d", i), "mp3_320", "10.0.0.1")
			require.Nil(t, store.Create(job))
			require.Nil(t, store.Update(job.ID, func(j *download.DownloadJob) {
				j.Complete(download.Artifact{Path: "/data/" + j.ID.String() + ".mp3", SizeBytes: 1, DisplayTitle: "done"})
			}))
		}

		inflight := download.NewDownloadJob("https://example.com/v/live", "mp3_320", "10.0.0.1")
		require.Nil(t, store.Create(inflight))
		require.Nil(t, store.Update(inflight.ID, func(j *download.DownloadJob) {
			j.BeginProcessing("Starting download...")
		}))

		other := download.NewDownloadJob("https://example.com/v/other", "mp3_320", "192.168.1.50")
		require.Nil(t, store.Create(other))
		require.Nil(t, store.Update(other.ID, func(j *download.DownloadJob) {
			j.Complete(download.Artifact{Path: "/data/" + j.ID.String() + ".mp3", SizeBytes: 1, DisplayTitle: "theirs"})
		}))

		count, err := store.DeleteByRequester("10.0.0.1")
		require.Nil(t, err)
		assert.Equal(t, 3, count, "only the requester's completed jobs count towards the clear")

		fetched, err := store.Get(inflight.ID)
		require.Nil(t, err, "in-flight job must remain queryable after a history clear")
		assert.Equal(t, download.StateProcessing, fetched.State)

		_, err = store.Get(other.ID)
		assert.Nil(t, err, "other requester's job must survive the clear")

		remaining, err := store.Count()
		require.Nil(t, err)
		assert.Equal(t, 2, remaining)
	})

	t.Run("DeleteExpiredHonoursHorizon", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)

		old := download.NewDownloadJob("https://example.com/v/old", "mp3_320", "10.0.0.1")
		old.CreatedAt = time.Now().Add(-48 * time.Hour)
		require.Nil(t, store.Create(old))

		fresh := download.NewDownloadJob("https://example.com/v/fresh", "mp3_320", "10.0.0.1")
		require.Nil(t, store.Create(fresh))

		removed, err := store.DeleteExpired(time.Now().Add(-24 * time.Hour))
		require.Nil(t, err)
		require.Len(t, removed, 1)
		assert.Equal(t, old.ID, removed[0])

		_, err = store.Get(old.ID)
		assert.ErrorIs(t, err, download.ErrJobNotFound)
		_, err = store.Get(fresh.ID)
		assert.Nil(t, err)
	})

	t.Run("Counts", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)

		processing := download.NewDownloadJob("https://example.com/v/1", "mp3_320", "10.0.0.1")
		require.Nil(t, store.Create(processing))
		require.Nil(t, store.Update(processing.ID, func(j *download.DownloadJob) {
			j.BeginProcessing("Starting download...")
		}))

		require.Nil(t, store.Create(download.NewDownloadJob("https://example.com/v/2", "mp3_320", "10.0.0.1")))

		total, err := store.Count()
		require.Nil(t, err)
		assert.Equal(t, 2, total)

		active, err := store.CountProcessing()
		require.Nil(t, err)
		assert.Equal(t, 1, active)
	})

	t.Run("ArtifactRoundTrip", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)

		job := download.NewDownloadJob("https://example.com/v/1", "mp3_320", "10.0.0.1")
		require.Nil(t, store.Create(job))
		require.Nil(t, store.Update(job.ID, func(j *download.DownloadJob) {
			j.Complete(download.Artifact{Path: "/data/out.mp3", SizeBytes: 1024, DisplayTitle: "A Song"})
		}))

		fetched, err := store.Get(job.ID)
		require.Nil(t, err)
		assert.Equal(t, download.StateCompleted, fetched.State)
		require.NotNil(t, fetched.Artifact)
		assert.Equal(t, "/data/out.mp3", fetched.Artifact.Path)
		assert.Equal(t, int64(1024), fetched.Artifact.SizeBytes)
		assert.Equal(t, "A Song", fetched.Artifact.DisplayTitle)
	})
}

func Test_MemoryStore_Contract(t *testing.T) {
	t.Parallel()
	runStoreContract(t, func(t *testing.T) download.Store {
		return download.NewMemoryStore()
	})
}

func Test_MemoryStore_GetReturnsSnapshot(t *testing.T) {
	t.Parallel()
	store := download.NewMemoryStore()

	job := download.NewDownloadJob("https://example.com/v/1", "mp3_320", "10.0.0.1")
	require.Nil(t, store.Create(job))

	fetched, err := store.Get(job.ID)
	require.Nil(t, err)

	// Mutating the returned job must not leak in to the store
	fetched.ProgressPercent = 99

	again, err := store.Get(job.ID)
	require.Nil(t, err)
	assert.Zero(t, again.ProgressPercent)
}
