package extractor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/register-extractor/internal/domain"
)

func batchEvent(percent, current, total int) ProgressEvent {
	ev := domain.NewProgress(percent, domain.StageAnalyzing, "Analyzing batch")
	ev.Counters = &domain.BatchCounters{TotalBatches: total, CurrentBatch: current, TotalPages: 8, PagesProcessed: current * 4}
	return ev
}

func TestTracker_HappyPath(t *testing.T) {
	var seen []Phase
	tr := NewTracker(func(s Snapshot) { seen = append(seen, s.Phase) })

	_, err := tr.Dispatch(BeginUpload())
	require.NoError(t, err)
	_, err = tr.Dispatch(Uploaded())
	require.NoError(t, err)

	snap, err := tr.Dispatch(Observe(batchEvent(25, 1, 2)))
	require.NoError(t, err)
	assert.Equal(t, PhaseExtracting, snap.Phase)
	assert.Equal(t, 25, snap.Progress)
	require.NotNil(t, snap.Counters)
	assert.Equal(t, 1, snap.Counters.CurrentBatch)

	result := &Result{Filename: "manual.pdf", Registers: []Register{{Address: 40001, Name: "Voltage"}}}
	snap, err = tr.Dispatch(Observe(domain.NewComplete(result)))
	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, snap.Phase)
	assert.Equal(t, 100, snap.Progress)
	assert.Same(t, result, snap.Result)

	assert.Equal(t, []Phase{PhaseUploading, PhaseExtracting, PhaseExtracting, PhaseComplete}, seen)
}

func TestTracker_StreamWithoutAcknowledgement(t *testing.T) {
	tr := NewTracker(nil)
	_, err := tr.Dispatch(BeginUpload())
	require.NoError(t, err)

	snap, err := tr.Dispatch(Observe(domain.NewProgress(10, domain.StageExtracting, "Extracting")))
	require.NoError(t, err)
	assert.Equal(t, PhaseExtracting, snap.Phase)
	assert.Equal(t, domain.StageExtracting, snap.Stage)
}

func TestTracker_ProgressNeverGoesBackwards(t *testing.T) {
	tr := NewTracker(nil)
	_, _ = tr.Dispatch(BeginUpload())
	_, _ = tr.Dispatch(Observe(batchEvent(57, 1, 2)))

	snap, err := tr.Dispatch(Observe(batchEvent(40, 2, 2)))
	require.NoError(t, err)
	assert.Equal(t, 57, snap.Progress)
	assert.Equal(t, 2, snap.Counters.CurrentBatch)
}

func TestTracker_ErrorEvent(t *testing.T) {
	tr := NewTracker(nil)
	_, _ = tr.Dispatch(BeginUpload())
	_, _ = tr.Dispatch(Observe(batchEvent(25, 1, 2)))

	snap, err := tr.Dispatch(Observe(domain.NewErrorEvent("batch 1 of 2 failed: timeout")))
	require.NoError(t, err)
	assert.Equal(t, PhaseError, snap.Phase)
	assert.Equal(t, "batch 1 of 2 failed: timeout", snap.Error)
	assert.Equal(t, 25, snap.Progress)
	assert.Nil(t, snap.Result)
}

func TestTracker_FailUsesUserMessage(t *testing.T) {
	tr := NewTracker(nil)
	_, _ = tr.Dispatch(BeginUpload())

	snap, err := tr.Dispatch(Fail(domain.ValidationError("invalid upload", errors.New("file is empty"))))
	require.NoError(t, err)
	assert.Equal(t, PhaseError, snap.Phase)
	assert.Equal(t, "invalid upload: file is empty", snap.Error)
}

func TestTracker_CancelResetsFromAnyPhase(t *testing.T) {
	tests := []struct {
		name  string
		setup []Action
	}{
		{"idle", nil},
		{"uploading", []Action{BeginUpload()}},
		{"extracting", []Action{BeginUpload(), Observe(batchEvent(57, 1, 2))}},
		{"complete", []Action{BeginUpload(), Observe(domain.NewComplete(&Result{}))}},
		{"error", []Action{BeginUpload(), Fail(nil)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(nil)
			for _, a := range tt.setup {
				_, err := tr.Dispatch(a)
				require.NoError(t, err)
			}

			snap, err := tr.Dispatch(CancelAction())
			require.NoError(t, err)
			assert.Equal(t, Snapshot{Phase: PhaseIdle}, snap)
		})
	}
}

func TestTracker_RejectsOutOfOrderActions(t *testing.T) {
	tr := NewTracker(nil)

	_, err := tr.Dispatch(Uploaded())
	var unexpected *ErrUnexpectedAction
	require.ErrorAs(t, err, &unexpected)
	assert.Equal(t, PhaseIdle, unexpected.Phase)

	_, err = tr.Dispatch(Observe(batchEvent(25, 1, 1)))
	require.Error(t, err)

	_, _ = tr.Dispatch(BeginUpload())
	snap, err := tr.Dispatch(BeginUpload())
	require.Error(t, err)
	assert.Equal(t, PhaseUploading, snap.Phase)

	_, _ = tr.Dispatch(Observe(domain.NewComplete(&Result{})))
	_, err = tr.Dispatch(Observe(batchEvent(30, 1, 1)))
	require.Error(t, err)
	assert.Equal(t, PhaseComplete, tr.Snapshot().Phase)
}

func TestTracker_NewRunAfterCompletion(t *testing.T) {
	tr := NewTracker(nil)
	_, _ = tr.Dispatch(BeginUpload())
	_, _ = tr.Dispatch(Observe(domain.NewComplete(&Result{})))

	snap, err := tr.Dispatch(BeginUpload())
	require.NoError(t, err)
	assert.Equal(t, Snapshot{Phase: PhaseUploading}, snap)
}
