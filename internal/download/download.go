package download

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobState int

const (
	StatePending JobState = iota
	StateProcessing
	StateCompleted
	StateErrored
)

func (s JobState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateProcessing:
		return "processing"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "error"
	}

	return fmt.Sprintf("unknown[%d]", s)
}

// Terminal reports whether the state accepts no further transitions.
func (s JobState) Terminal() bool { return s == StateCompleted || s == StateErrored }

// Artifact describes the output file produced for a completed job. It is
// present on a job if and only if the job has reached StateCompleted.
type Artifact struct {
	Path         string
	SizeBytes    int64
	DisplayTitle string
}

// DownloadJob is a single tracked download/transcode request. A job is
// created in StatePending before any asynchronous work begins, is mutated
// exclusively through Store.Update closures by the goroutine executing it,
// and reaches exactly one terminal state.
type DownloadJob struct {
	ID               uuid.UUID
	SourceURL        string
	QualityKey       string
	State            JobState
	ProgressPercent  float64
	StatusMessage    string
	RequesterAddress string
	CreatedAt        time.Time
	Artifact         *Artifact
}

func NewDownloadJob(sourceURL string, qualityKey string, requesterAddress string) *DownloadJob {
	return &DownloadJob{
		ID:               uuid.New(),
		SourceURL:        sourceURL,
		QualityKey:       qualityKey,
		State:            StatePending,
		ProgressPercent:  0,
		StatusMessage:    "Waiting to start...",
		RequesterAddress: requesterAddress,
		CreatedAt:        time.Now(),
	}
}

// BeginProcessing moves a pending job to processing. Calls against a job
// which has already left the pending state are ignored.
func (job *DownloadJob) BeginProcessing(message string) {
	if job.State != StatePending {
		return
	}

	job.State = StateProcessing
	job.StatusMessage = message
}

// ApplyProgress records a progress signal from the executing unit. Signals
// arriving after a terminal state are dropped, and regressions are ignored
// so the observed progress of a job is non-decreasing. A signal against a
// pending job implies processing has begun.
func (job *DownloadJob) ApplyProgress(percent float64, message string) {
	if job.State.Terminal() {
		return
	}

	if job.State == StatePending {
		job.State = StateProcessing
	}

	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}

	if percent < job.ProgressPercent {
		return
	}

	job.ProgressPercent = percent
	job.StatusMessage = message
}

// Complete transitions the job to its completed terminal state, attaching
// the artifact and forcing progress to exactly 100. Ignored if the job has
// already terminated.
func (job *DownloadJob) Complete(artifact Artifact) {
	if job.State.Terminal() {
		return
	}

	job.State = StateCompleted
	job.ProgressPercent = 100
	job.StatusMessage = "Download completed"
	job.Artifact = &artifact
}

// Fail transitions the job to its errored terminal state, preserving the
// failure message verbatim for diagnostics. Ignored if the job has already
// terminated.
func (job *DownloadJob) Fail(message string) {
	if job.State.Terminal() {
		return
	}

	job.State = StateErrored
	job.StatusMessage = message
}

func (job *DownloadJob) String() string {
	return fmt.Sprintf("Job{ID=%s State=%s Progress=%.1f}", job.ID, job.State, job.ProgressPercent)
}
