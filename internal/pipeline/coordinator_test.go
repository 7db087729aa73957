package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tidewater.systems/callintake/internal/analysis"
	"tidewater.systems/callintake/internal/bulkimport"
)

type stubSource struct {
	mu      sync.Mutex
	entries []bulkimport.DiscoveredEntry
	listErr error
	// content keys by entry name; missing keys fail the fetch.
	content map[string][]byte
}

func (s *stubSource) List(ctx context.Context, sourceURL string) ([]bulkimport.DiscoveredEntry, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.entries, nil
}

func (s *stubSource) Fetch(ctx context.Context, entry bulkimport.DiscoveredEntry) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.content[entryName(entry)]
	if !ok {
		return nil, fmt.Errorf("%w: fetch %s", bulkimport.ErrSourceUnavailable, entryName(entry))
	}
	return data, nil
}

type stubBlobs struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func (b *stubBlobs) Put(data []byte, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.objs == nil {
		b.objs = map[string][]byte{}
	}
	handle := fmt.Sprintf("h-%d-%s", len(b.objs), name)
	b.objs[handle] = data
	return handle, nil
}

func (b *stubBlobs) SignedURL(handle string, ttl time.Duration) string {
	return "https://files.test/" + handle
}

type stubConverter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *stubConverter) Convert(ctx context.Context, data []byte, srcFormat string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return append([]byte("mp3:"), data...), nil
}

type stubTranscriber struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (t *stubTranscriber) Transcribe(ctx context.Context, audioURL string, diarization bool, provider string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if t.err != nil {
		return "", t.err
	}
	return t.text, nil
}

type stubEngine struct {
	mu    sync.Mutex
	res   *analysis.Result
	err   error
	calls int
}

func (e *stubEngine) Analyze(ctx context.Context, transcript, customerContext string) (*analysis.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.res, nil
}

type fixture struct {
	store       *bulkimport.MemStore
	source      *stubSource
	blobs       *stubBlobs
	converter   *stubConverter
	transcriber *stubTranscriber
	engine      *stubEngine
	coord       *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     bulkimport.NewMemStore(),
		source:    &stubSource{content: map[string][]byte{}},
		blobs:     &stubBlobs{},
		converter: &stubConverter{},
		transcriber: &stubTranscriber{
			text: "Customer asked about pricing and we scheduled you for Friday.",
		},
		engine: &stubEngine{
			res: &analysis.Result{
				Category:   "Pricing",
				CallType:   "inquiry",
				Confidence: 0.9,
				Notes:      "engine output",
			},
		},
	}
	f.coord = New(f.store, f.source, f.blobs, f.converter, f.transcriber, f.engine, Options{
		FileWorkers:  2,
		StageTimeout: 5 * time.Second,
	})
	return f
}

func (f *fixture) startJob(t *testing.T) *bulkimport.Job {
	t.Helper()
	job := &bulkimport.Job{
		CustomerName: "Acme Plumbing",
		SourceURL:    "https://recordings.test/folder",
		Provider:     "assembly",
	}
	require.NoError(t, f.store.CreateJob(context.Background(), job))
	claimed, err := f.store.DequeuePendingJob(context.Background())
	require.NoError(t, err)
	return claimed
}

func TestRunJobEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.source.entries = []bulkimport.DiscoveredEntry{
		{Name: "call_log.csv", URL: "https://recordings.test/folder/call_log.csv"},
		{Name: "a.mp3", FileID: "rec-1", URL: "https://recordings.test/folder/a.mp3"},
		{Name: "a-copy.mp3", FileID: "rec-1", URL: "https://recordings.test/folder/a.mp3?session=2"},
		{Name: "b.m4a", URL: "https://recordings.test/folder/b.m4a"},
		{Name: "c.wav", URL: "https://recordings.test/folder/c.wav"},
	}
	f.source.content = map[string][]byte{
		"call_log.csv": []byte("file,agent,campaign\na.mp3,Dana,Spring\nb.m4a,Lee,Spring\n"),
		"a.mp3":        []byte("audio-a"),
		"b.m4a":        []byte("audio-b"),
		"c.wav":        []byte("audio-c"),
	}

	job := f.startJob(t)
	require.NoError(t, f.coord.RunJob(context.Background(), job))

	got, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, bulkimport.JobCompleted, got.Status)
	require.Equal(t, 3, got.TotalFiles, "two entries share rec-1 and collapse to one file")
	require.Equal(t, 3, got.ProcessedFiles)
	require.Equal(t, 0, got.FailedFiles)
	require.False(t, got.CallLogMappingSkipped)
	require.NotNil(t, got.CompletedAt)
	require.Equal(t, float64(100), got.ProgressPercentage())

	require.NotNil(t, got.DiscoveryDetails)
	require.Equal(t, 4, got.DiscoveryDetails.DiscoveredFiles)
	require.Equal(t, 3, got.DiscoveryDetails.UniqueFiles)
	require.Len(t, got.DiscoveryDetails.Duplicates, 1)
	require.Equal(t, 2, got.DiscoveryDetails.Duplicates[0].Count)

	files, err := f.store.ListFiles(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, files, 3)
	byName := map[string]*bulkimport.File{}
	for _, fl := range files {
		require.Equal(t, bulkimport.FileCompleted, fl.Status)
		require.NotEmpty(t, fl.StorageHandle)
		require.NotNil(t, fl.CallRecordID)
		byName[fl.FileName] = fl
	}

	require.Equal(t, "Dana / Spring", byName["a.mp3"].CallLogLabel)
	require.Equal(t, "Lee / Spring", byName["b.m4a"].CallLogLabel)
	require.Empty(t, byName["c.wav"].CallLogLabel)

	// Only the m4a needed transcoding, and it was stored as mp3.
	require.Equal(t, 1, f.converter.calls)
	require.Equal(t, "mp3", byName["b.m4a"].FileFormat)
	require.Equal(t, "mp3", byName["a.mp3"].FileFormat)

	rec, err := f.store.GetCallRecord(context.Background(), *byName["a.mp3"].CallRecordID)
	require.NoError(t, err)
	require.Equal(t, "Pricing", rec.CallCategory)
	require.False(t, bulkimport.IsSentinelTranscript(rec.Transcript))
	require.False(t, bulkimport.IsHeuristicNotes(rec.CategorizationNotes))
}

func TestRunJobUnreachableSourceFailsJob(t *testing.T) {
	f := newFixture(t)
	f.source.listErr = fmt.Errorf("%w: connection refused", bulkimport.ErrSourceUnavailable)

	job := f.startJob(t)
	require.NoError(t, f.coord.RunJob(context.Background(), job))

	got, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, bulkimport.JobFailed, got.Status)
	require.Contains(t, got.ErrorMessage, "connection refused")
}

func TestRunJobEmptySourceCompletes(t *testing.T) {
	f := newFixture(t)

	job := f.startJob(t)
	require.NoError(t, f.coord.RunJob(context.Background(), job))

	got, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, bulkimport.JobCompleted, got.Status)
	require.Equal(t, 0, got.TotalFiles)
	require.True(t, got.CallLogMappingSkipped)
	require.True(t, bulkimport.IsAdvisoryMessage(got.ErrorMessage))
	require.NotNil(t, got.CompletedAt)
}

func TestRunJobPartialFailureStillCompletes(t *testing.T) {
	f := newFixture(t)
	f.source.entries = []bulkimport.DiscoveredEntry{
		{Name: "good.mp3", URL: "https://recordings.test/folder/good.mp3"},
		{Name: "missing.mp3", URL: "https://recordings.test/folder/missing.mp3"},
	}
	f.source.content = map[string][]byte{"good.mp3": []byte("audio")}

	job := f.startJob(t)
	require.NoError(t, f.coord.RunJob(context.Background(), job))

	got, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, bulkimport.JobCompleted, got.Status)
	require.Equal(t, 1, got.ProcessedFiles)
	require.Equal(t, 1, got.FailedFiles)
	require.Equal(t, float64(50), got.ProgressPercentage())

	files, err := f.store.ListFiles(context.Background(), job.ID)
	require.NoError(t, err)
	for _, fl := range files {
		switch fl.FileName {
		case "good.mp3":
			require.Equal(t, bulkimport.FileCompleted, fl.Status)
		case "missing.mp3":
			require.Equal(t, bulkimport.FileFailed, fl.Status)
			require.Contains(t, fl.ErrorMessage, "download")
		}
	}
}

func TestRunJobUnsupportedFormatFailsFile(t *testing.T) {
	f := newFixture(t)
	f.source.entries = []bulkimport.DiscoveredEntry{
		{Name: "notes.opus", URL: "https://recordings.test/folder/notes.opus"},
	}
	f.source.content = map[string][]byte{"notes.opus": []byte("audio")}

	job := f.startJob(t)
	require.NoError(t, f.coord.RunJob(context.Background(), job))

	files, err := f.store.ListFiles(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, bulkimport.FileFailed, files[0].Status)
	require.Contains(t, files[0].ErrorMessage, "unsupported format")
}

func TestDegradedTranscriptStillCompletesFile(t *testing.T) {
	f := newFixture(t)
	f.source.entries = []bulkimport.DiscoveredEntry{
		{Name: "a.mp3", URL: "https://recordings.test/folder/a.mp3"},
	}
	f.source.content = map[string][]byte{"a.mp3": []byte("audio")}
	f.transcriber.err = fmt.Errorf("%w: media stuck", bulkimport.ErrProvider)

	job := f.startJob(t)
	require.NoError(t, f.coord.RunJob(context.Background(), job))

	got, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, bulkimport.JobCompleted, got.Status)
	require.Equal(t, 1, got.ProcessedFiles)

	files, err := f.store.ListFiles(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, bulkimport.FileCompleted, files[0].Status)

	rec, err := f.store.GetCallRecord(context.Background(), *files[0].CallRecordID)
	require.NoError(t, err)
	require.True(t, bulkimport.IsDegradedTranscript(rec.Transcript))
	require.True(t, strings.HasPrefix(rec.Transcript, "Transcription error"))
	require.Empty(t, rec.CallCategory, "degraded transcripts are not analyzed")
	require.Zero(t, f.engine.calls)
}

func TestAnalysisFallsBackToHeuristicWhenEngineUnavailable(t *testing.T) {
	f := newFixture(t)
	f.source.entries = []bulkimport.DiscoveredEntry{
		{Name: "a.mp3", URL: "https://recordings.test/folder/a.mp3"},
	}
	f.source.content = map[string][]byte{"a.mp3": []byte("audio")}
	f.transcriber.text = "They said it was too expensive but we can offer a discount."
	f.engine.err = analysis.ErrUnavailable

	job := f.startJob(t)
	require.NoError(t, f.coord.RunJob(context.Background(), job))

	files, err := f.store.ListFiles(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, bulkimport.FileCompleted, files[0].Status)

	rec, err := f.store.GetCallRecord(context.Background(), *files[0].CallRecordID)
	require.NoError(t, err)
	require.Equal(t, bulkimport.HeuristicConfidence, rec.CategorizationConfidence)
	require.True(t, bulkimport.IsHeuristicNotes(rec.CategorizationNotes))
	require.True(t, rec.ObjectionDetected)
}

func TestAnalysisFailureKeepsTranscript(t *testing.T) {
	f := newFixture(t)
	f.source.entries = []bulkimport.DiscoveredEntry{
		{Name: "a.mp3", URL: "https://recordings.test/folder/a.mp3"},
	}
	f.source.content = map[string][]byte{"a.mp3": []byte("audio")}
	f.engine.err = fmt.Errorf("%w: malformed response", bulkimport.ErrProvider)

	job := f.startJob(t)
	require.NoError(t, f.coord.RunJob(context.Background(), job))

	files, err := f.store.ListFiles(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, bulkimport.FileCompleted, files[0].Status)

	rec, err := f.store.GetCallRecord(context.Background(), *files[0].CallRecordID)
	require.NoError(t, err)
	require.NotEmpty(t, rec.Transcript)
	require.False(t, bulkimport.IsSentinelTranscript(rec.Transcript))
	require.Empty(t, rec.CallCategory)
}

func TestRunRetranscribe(t *testing.T) {
	f := newFixture(t)
	f.source.entries = []bulkimport.DiscoveredEntry{
		{Name: "a.mp3", URL: "https://recordings.test/folder/a.mp3"},
	}
	f.source.content = map[string][]byte{"a.mp3": []byte("audio")}

	job := f.startJob(t)
	require.NoError(t, f.coord.RunJob(context.Background(), job))

	files, err := f.store.ListFiles(context.Background(), job.ID)
	require.NoError(t, err)
	recordID := *files[0].CallRecordID

	before, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)

	// Improve the transcript on retry.
	f.transcriber.text = "Much clearer audio about pricing this time."
	f.engine.res = &analysis.Result{Category: "Pricing", CallType: "inquiry", Confidence: 0.95, Notes: "second pass"}

	_, err = f.store.BeginRetranscribe(context.Background(), recordID)
	require.NoError(t, err)

	// Overlapping requests are rejected while the retry is in flight.
	_, err = f.store.BeginRetranscribe(context.Background(), recordID)
	require.ErrorIs(t, err, bulkimport.ErrConflict)

	rec, err := f.store.DequeueRetranscribe(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.coord.RunRetranscribe(context.Background(), rec))

	got, err := f.store.GetCallRecord(context.Background(), recordID)
	require.NoError(t, err)
	require.Equal(t, recordID, got.ID, "record identity survives the retry")
	require.Equal(t, "Much clearer audio about pricing this time.", got.Transcript)
	require.Equal(t, "second pass", got.CategorizationNotes)
	require.Equal(t, bulkimport.RetryIdle, got.RetryState)

	after, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, before.ProcessedFiles, after.ProcessedFiles, "retries never move job counters")
	require.Equal(t, before.FailedFiles, after.FailedFiles)

	files, err = f.store.ListFiles(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, bulkimport.FileCompleted, files[0].Status)

	// The guard releases; a fresh retry is allowed again.
	_, err = f.store.BeginRetranscribe(context.Background(), recordID)
	require.NoError(t, err)
}
