package download

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrJobNotFound = errors.New("no job found")

// Store is the single source of truth for job state. Update is atomic with
// respect to concurrent Update calls against the same id (the
// read-modify-write of the mutation closure cannot interleave with
// another); updates against distinct ids never contend.
type Store interface {
	Create(job *DownloadJob) error
	Get(id uuid.UUID) (*DownloadJob, error)
	Update(id uuid.UUID, mutate func(*DownloadJob)) error
	ListByRequester(address string, limit int) ([]*DownloadJob, error)

	// DeleteByRequester removes the requester's COMPLETED jobs only; a
	// history clear must never make an in-flight job unqueryable.
	DeleteByRequester(address string) (int, error)
	DeleteExpired(before time.Time) ([]uuid.UUID, error)
	Count() (int, error)
	CountProcessing() (int, error)
}

type jobEntry struct {
	mu  sync.Mutex
	seq uint64
	job DownloadJob
}

// memoryStore is the in-memory Store implementation: a guarded map of
// per-entry locked records. The outer RWMutex protects the map shape only;
// each entry carries its own mutex so mutation of one job never blocks
// another's.
type memoryStore struct {
	mu      sync.RWMutex
	nextSeq uint64
	jobs    map[uuid.UUID]*jobEntry
}

func NewMemoryStore() Store {
	return &memoryStore{jobs: make(map[uuid.UUID]*jobEntry)}
}

func (store *memoryStore) Create(job *DownloadJob) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, exists := store.jobs[job.ID]; exists {
		return errors.New("job with this ID already exists")
	}

	store.nextSeq++
	store.jobs[job.ID] = &jobEntry{seq: store.nextSeq, job: *job}
	return nil
}

func (store *memoryStore) Get(id uuid.UUID) (*DownloadJob, error) {
	store.mu.RLock()
	entry, ok := store.jobs[id]
	store.mu.RUnlock()

	if !ok {
		return nil, ErrJobNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	snapshot := entry.job
	return &snapshot, nil
}

func (store *memoryStore) Update(id uuid.UUID, mutate func(*DownloadJob)) error {
	store.mu.RLock()
	entry, ok := store.jobs[id]
	store.mu.RUnlock()

	if !ok {
		return ErrJobNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	mutate(&entry.job)
	return nil
}

func (store *memoryStore) ListByRequester(address string, limit int) ([]*DownloadJob, error) {
	store.mu.RLock()
	entries := make([]*jobEntry, 0)
	for _, entry := range store.jobs {
		entries = append(entries, entry)
	}
	store.mu.RUnlock()

	matched := make([]*DownloadJob, 0)
	seqs := make(map[uuid.UUID]uint64)
	for _, entry := range entries {
		entry.mu.Lock()
		if entry.job.RequesterAddress == address {
			snapshot := entry.job
			matched = append(matched, &snapshot)
			seqs[snapshot.ID] = entry.seq
		}
		entry.mu.Unlock()
	}

	// Newest first. Creation sequence breaks ties between jobs created
	// within the same clock tick.
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return seqs[matched[i].ID] > seqs[matched[j].ID]
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}

func (store *memoryStore) DeleteByRequester(address string) (int, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	count := 0
	for id, entry := range store.jobs {
		entry.mu.Lock()
		owned := entry.job.RequesterAddress == address && entry.job.State == StateCompleted
		entry.mu.Unlock()

		if owned {
			delete(store.jobs, id)
			count++
		}
	}

	return count, nil
}

func (store *memoryStore) DeleteExpired(before time.Time) ([]uuid.UUID, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	removed := make([]uuid.UUID, 0)
	for id, entry := range store.jobs {
		entry.mu.Lock()
		expired := entry.job.CreatedAt.Before(before)
		entry.mu.Unlock()

		if expired {
			delete(store.jobs, id)
			removed = append(removed, id)
		}
	}

	return removed, nil
}

func (store *memoryStore) Count() (int, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	return len(store.jobs), nil
}

func (store *memoryStore) CountProcessing() (int, error) {
	store.mu.RLock()
	entries := make([]*jobEntry, 0, len(store.jobs))
	for _, entry := range store.jobs {
		entries = append(entries, entry)
	}
	store.mu.RUnlock()

	count := 0
	for _, entry := range entries {
		entry.mu.Lock()
		if entry.job.State == StateProcessing {
			count++
		}
		entry.mu.Unlock()
	}

	return count, nil
}
