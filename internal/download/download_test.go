package download_test

import (
	"testing"

	"github.com/hbomb79/Fetcharr/internal/download"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_JobStates_ReportedNames(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "pending", download.StatePending.String())
	assert.Equal(t, "processing", download.StateProcessing.String())
	assert.Equal(t, "completed", download.StateCompleted.String())
	assert.Equal(t, "error", download.StateErrored.String())
}

func Test_Job_ProgressClampedAndMonotonic(t *testing.T) {
	t.Parallel()
	job := download.NewDownloadJob("https://example.com/v/1", "mp3_320", "10.0.0.1")

	job.ApplyProgress(-20, "negative")
	assert.Equal(t, download.StateProcessing, job.State, "progress against a pending job implies processing")
	assert.Zero(t, job.ProgressPercent)

	job.ApplyProgress(55, "ok")
	assert.Equal(t, float64(55), job.ProgressPercent)

	job.ApplyProgress(30, "regression")
	assert.Equal(t, float64(55), job.ProgressPercent, "regressions must be ignored")
	assert.Equal(t, "ok", job.StatusMessage, "a dropped signal must not change the message")

	job.ApplyProgress(250, "overshoot")
	assert.Equal(t, float64(100), job.ProgressPercent)
}

func Test_Job_TerminalStatesAbsorbSignals(t *testing.T) {
	t.Parallel()

	completed := download.NewDownloadJob("https://example.com/v/1", "mp3_320", "10.0.0.1")
	completed.Complete(download.Artifact{Path: "/data/out.mp3", SizeBytes: 10, DisplayTitle: "Song"})
	require.Equal(t, download.StateCompleted, completed.State)
	assert.Equal(t, float64(100), completed.ProgressPercent, "completion forces progress to 100")

	completed.ApplyProgress(50, "late signal")
	completed.Fail("late failure")
	completed.BeginProcessing("late start")
	assert.Equal(t, download.StateCompleted, completed.State)
	assert.Equal(t, float64(100), completed.ProgressPercent)
	assert.NotNil(t, completed.Artifact)

	errored := download.NewDownloadJob("https://example.com/v/2", "mp3_320", "10.0.0.1")
	errored.Fail("tool exploded")
	require.Equal(t, download.StateErrored, errored.State)
	assert.Equal(t, "tool exploded", errored.StatusMessage)

	errored.Complete(download.Artifact{Path: "/data/out.mp3"})
	assert.Equal(t, download.StateErrored, errored.State)
	assert.Nil(t, errored.Artifact, "a failed job can never gain an artifact")
}
