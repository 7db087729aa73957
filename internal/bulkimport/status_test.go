package bulkimport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLeadJobStatus(t *testing.T) {
	cases := []struct {
		name     string
		statuses []FileStatus
		want     JobStatus
		ok       bool
	}{
		{"all pending", []FileStatus{FilePending, FilePending}, JobDownloading, true},
		{"earliest wins", []FileStatus{FileAnalyzing, FileDownloading, FileCompleted}, JobDownloading, true},
		{"converting reports as downloading", []FileStatus{FileConverting, FileCompleted}, JobDownloading, true},
		{"transcribing lead", []FileStatus{FileTranscribing, FileCategorized}, JobTranscribing, true},
		{"failed files ignored", []FileStatus{FileFailed, FileAnalyzing}, JobAnalyzing, true},
		{"all terminal", []FileStatus{FileCompleted, FileFailed}, "", false},
		{"empty", nil, "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := LeadJobStatus(tc.statuses)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestSentinelHelpers(t *testing.T) {
	require.True(t, IsSentinelTranscript(SentinelProcessing))
	require.True(t, IsSentinelTranscript(SentinelTranscribing))
	require.False(t, IsSentinelTranscript("Hello, thanks for calling."))

	// Sentinels are never degraded; degradation only applies to final values.
	require.False(t, IsDegradedTranscript(SentinelProcessing))
	require.True(t, IsDegradedTranscript("Transcription error: upstream returned 502"))
	require.True(t, IsDegradedTranscript("provider timeout after 120s"))
	require.False(t, IsDegradedTranscript("We discussed pricing and scheduling."))

	require.True(t, IsAdvisoryMessage("note: call log mapping skipped (no call log file found)"))
	require.False(t, IsAdvisoryMessage("download failed: 403"))

	require.True(t, IsHeuristicNotes(HeuristicNotesMarker+": matched keywords pricing"))
	require.False(t, IsHeuristicNotes("model judged this a scheduling call"))
}

func TestProgressPercentage(t *testing.T) {
	j := &Job{TotalFiles: 0}
	require.Zero(t, j.ProgressPercentage())

	j = &Job{TotalFiles: 4, ProcessedFiles: 3}
	require.InDelta(t, 75.0, j.ProgressPercentage(), 0.001)
}
