package download

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	source_url TEXT NOT NULL,
	quality_key TEXT NOT NULL,
	state INTEGER NOT NULL DEFAULT 0,
	progress_percent REAL NOT NULL DEFAULT 0,
	status_message TEXT NOT NULL DEFAULT '',
	requester_address TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	seq INTEGER,
	artifact_path TEXT,
	artifact_size INTEGER,
	artifact_title TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_requester ON jobs(requester_address);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
`

type jobRow struct {
	ID               string         `db:"id"`
	SourceURL        string         `db:"source_url"`
	QualityKey       string         `db:"quality_key"`
	State            int            `db:"state"`
	ProgressPercent  float64        `db:"progress_percent"`
	StatusMessage    string         `db:"status_message"`
	RequesterAddress string         `db:"requester_address"`
	CreatedAt        int64          `db:"created_at"`
	Seq              sql.NullInt64  `db:"seq"`
	ArtifactPath     sql.NullString `db:"artifact_path"`
	ArtifactSize     sql.NullInt64  `db:"artifact_size"`
	ArtifactTitle    sql.NullString `db:"artifact_title"`
}

func (row *jobRow) toJob() (*DownloadJob, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, fmt.Errorf("job row holds malformed id %q: %w", row.ID, err)
	}

	job := &DownloadJob{
		ID:               id,
		SourceURL:        row.SourceURL,
		QualityKey:       row.QualityKey,
		State:            JobState(row.State),
		ProgressPercent:  row.ProgressPercent,
		StatusMessage:    row.StatusMessage,
		RequesterAddress: row.RequesterAddress,
		CreatedAt:        time.UnixMilli(row.CreatedAt),
	}

	if job.State == StateCompleted && row.ArtifactPath.Valid {
		job.Artifact = &Artifact{
			Path:         row.ArtifactPath.String,
			SizeBytes:    row.ArtifactSize.Int64,
			DisplayTitle: row.ArtifactTitle.String,
		}
	}

	return job, nil
}

// sqliteStore is the persistent Store implementation, satisfying the same
// contract as the in-memory variant. Per-id update atomicity comes from
// running the read-modify-write inside an immediate transaction, which
// sqlite serialises against all other writers.
type sqliteStore struct {
	db *sqlx.DB
}

// NewSqliteStore opens (creating if needed) the database at the path
// provided and ensures the job schema exists. Pass ":memory:" for an
// ephemeral store.
func NewSqliteStore(path string) (Store, error) {
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open job database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping job database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to initialise job schema: %w", err)
	}

	return &sqliteStore{db: db}, nil
}

func (store *sqliteStore) Create(job *DownloadJob) error {
	_, err := store.db.Exec(
		`INSERT INTO jobs (id, source_url, quality_key, state, progress_percent, status_message, requester_address, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID.String(), job.SourceURL, job.QualityKey, int(job.State), job.ProgressPercent,
		job.StatusMessage, job.RequesterAddress, job.CreatedAt.UnixMilli(),
	)

	return err
}

func (store *sqliteStore) Get(id uuid.UUID) (*DownloadJob, error) {
	var row jobRow
	if err := store.db.Get(&row, `SELECT * FROM jobs WHERE id = ?`, id.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}

		return nil, err
	}

	return row.toJob()
}

func (store *sqliteStore) Update(id uuid.UUID, mutate func(*DownloadJob)) error {
	tx, err := store.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var row jobRow
	if err := tx.Get(&row, `SELECT * FROM jobs WHERE id = ?`, id.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrJobNotFound
		}

		return err
	}

	job, err := row.toJob()
	if err != nil {
		return err
	}

	mutate(job)

	var artifactPath, artifactTitle sql.NullString
	var artifactSize sql.NullInt64
	if job.Artifact != nil {
		artifactPath = sql.NullString{String: job.Artifact.Path, Valid: true}
		artifactSize = sql.NullInt64{Int64: job.Artifact.SizeBytes, Valid: true}
		artifactTitle = sql.NullString{String: job.Artifact.DisplayTitle, Valid: true}
	}

	if _, err := tx.Exec(
		`UPDATE jobs SET state = ?, progress_percent = ?, status_message = ?, artifact_path = ?, artifact_size = ?, artifact_title = ?
		 WHERE id = ?`,
		int(job.State), job.ProgressPercent, job.StatusMessage, artifactPath, artifactSize, artifactTitle, id.String(),
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (store *sqliteStore) ListByRequester(address string, limit int) ([]*DownloadJob, error) {
	query := `SELECT * FROM jobs WHERE requester_address = ? ORDER BY created_at DESC, rowid DESC`
	args := []any{address}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []jobRow
	if err := store.db.Select(&rows, query, args...); err != nil {
		return nil, err
	}

	jobs := make([]*DownloadJob, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toJob()
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, job)
	}

	return jobs, nil
}

func (store *sqliteStore) DeleteByRequester(address string) (int, error) {
	result, err := store.db.Exec(
		`DELETE FROM jobs WHERE requester_address = ? AND state = ?`,
		address, int(StateCompleted),
	)
	if err != nil {
		return 0, err
	}

	count, err := result.RowsAffected()
	return int(count), err
}

func (store *sqliteStore) DeleteExpired(before time.Time) ([]uuid.UUID, error) {
	var ids []string
	if err := store.db.Select(&ids, `SELECT id FROM jobs WHERE created_at < ?`, before.UnixMilli()); err != nil {
		return nil, err
	}

	removed := make([]uuid.UUID, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}

		if _, err := store.db.Exec(`DELETE FROM jobs WHERE id = ?`, raw); err != nil {
			return removed, err
		}

		removed = append(removed, id)
	}

	return removed, nil
}

func (store *sqliteStore) Count() (int, error) {
	var count int
	err := store.db.Get(&count, `SELECT COUNT(*) FROM jobs`)
	return count, err
}

func (store *sqliteStore) CountProcessing() (int, error) {
	var count int
	err := store.db.Get(&count, `SELECT COUNT(*) FROM jobs WHERE state = ?`, int(StateProcessing))
	return count, err
}
