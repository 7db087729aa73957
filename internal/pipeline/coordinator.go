// Package pipeline runs bulk-import jobs end to end: source discovery,
// dedup, then a bounded worker pool driving each file through download,
// convert, upload, transcribe, and analyze. All durable state lives in the
// store; the coordinator itself is stateless and safe to restart.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tidewater.systems/callintake/internal/analysis"
	"tidewater.systems/callintake/internal/bulkimport"
	"tidewater.systems/callintake/internal/discovery"
	"tidewater.systems/callintake/internal/transcribe"
	"tidewater.systems/callintake/pkg/audioconv"
)

// Source lists a folder URL and fetches individual entries.
type Source interface {
	List(ctx context.Context, sourceURL string) ([]bulkimport.DiscoveredEntry, error)
	Fetch(ctx context.Context, entry bulkimport.DiscoveredEntry) ([]byte, error)
}

// Blobs is durable audio storage plus time-limited access links for the
// transcription provider.
type Blobs interface {
	Put(data []byte, name string) (string, error)
	SignedURL(handle string, ttl time.Duration) string
}

// Converter transcodes audio bytes to the upload format.
type Converter interface {
	Convert(ctx context.Context, data []byte, srcFormat string) ([]byte, error)
}

type Options struct {
	// FileWorkers bounds per-job file concurrency.
	FileWorkers int
	// StageTimeout is the deadline applied to each external stage call.
	StageTimeout time.Duration
	// SignedURLTTL is the validity window of audio links handed to the
	// transcription provider.
	SignedURLTTL time.Duration

	Log *slog.Logger
}

func (o *Options) fill() {
	if o.FileWorkers <= 0 {
		o.FileWorkers = 4
	}
	if o.StageTimeout <= 0 {
		o.StageTimeout = 5 * time.Minute
	}
	if o.SignedURLTTL <= 0 {
		o.SignedURLTTL = time.Hour
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
}

type Coordinator struct {
	store       bulkimport.Store
	source      Source
	blobs       Blobs
	converter   Converter
	transcriber transcribe.Transcriber
	engine      analysis.Engine
	fallback    analysis.Engine
	opts        Options
}

func New(store bulkimport.Store, source Source, blobs Blobs, converter Converter, transcriber transcribe.Transcriber, engine analysis.Engine, opts Options) *Coordinator {
	opts.fill()
	return &Coordinator{
		store:       store,
		source:      source,
		blobs:       blobs,
		converter:   converter,
		transcriber: transcriber,
		engine:      engine,
		fallback:    analysis.Heuristic{},
		opts:        opts,
	}
}

// stageCtx applies the per-stage deadline.
func (c *Coordinator) stageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opts.StageTimeout)
}

// stageErr classifies a stage failure, folding context deadlines into the
// timeout taxonomy so file error messages say what actually happened.
func stageErr(stage string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s stage exceeded deadline", bulkimport.ErrTimeout, stage)
	}
	return fmt.Errorf("%s: %w", stage, err)
}

// RunJob drives one claimed job from discovery to a terminal state. Errors
// before files exist fail the job; per-file errors fail only that file.
func (c *Coordinator) RunJob(ctx context.Context, job *bulkimport.Job) error {
	log := c.opts.Log.With("job_id", job.ID, "customer", job.CustomerName)
	log.Info("starting bulk import job", "source_url", job.SourceURL)

	listCtx, cancel := c.stageCtx(ctx)
	entries, err := c.source.List(listCtx, job.SourceURL)
	cancel()
	if err != nil {
		msg := stageErr("discovery", err).Error()
		log.Error("discovery failed", "error", err)
		if ferr := c.store.FailJob(ctx, job.ID, msg); ferr != nil {
			return ferr
		}
		return nil
	}

	audio, labels, callLogSkipped := c.splitCallLog(ctx, log, entries)

	dedup := bulkimport.Deduplicate(audio)
	advisory := ""
	if callLogSkipped {
		advisory = bulkimport.AdvisoryCallLogSkipped
	}
	if err := c.store.SetJobDiscovery(ctx, job.ID, dedup.Details(audio), len(dedup.Unique), callLogSkipped, advisory); err != nil {
		return err
	}
	log.Info("discovery finished",
		"discovered", dedup.Discovered,
		"unique", len(dedup.Unique),
		"duplicate_groups", len(dedup.Duplicates),
		"call_log_mapping_skipped", callLogSkipped)

	if len(dedup.Unique) == 0 {
		// A reachable but empty source is a successful no-op import.
		return c.store.SetJobStage(ctx, job.ID, bulkimport.JobCompleted)
	}

	files := buildFiles(job.ID, dedup.Unique, labels)
	if err := c.store.CreateFiles(ctx, files); err != nil {
		return err
	}

	c.runPool(ctx, log, job, files)
	return nil
}

// splitCallLog pulls the optional call-log spreadsheet out of the listing
// and parses it into a file-name -> label map. Any failure here is advisory.
func (c *Coordinator) splitCallLog(ctx context.Context, log *slog.Logger, entries []bulkimport.DiscoveredEntry) (audio []bulkimport.DiscoveredEntry, labels map[string]string, skipped bool) {
	var callLog *bulkimport.DiscoveredEntry
	for _, e := range entries {
		if callLog == nil && discovery.IsCallLogEntry(entryName(e)) {
			cp := e
			callLog = &cp
			continue
		}
		// Everything else materializes as a file row, unsupported formats
		// included, so they fail visibly at the convert stage instead of
		// vanishing during discovery.
		audio = append(audio, e)
	}

	if callLog == nil {
		return audio, nil, true
	}

	fetchCtx, cancel := c.stageCtx(ctx)
	data, err := c.source.Fetch(fetchCtx, *callLog)
	cancel()
	if err != nil {
		log.Warn("call log fetch failed", "entry", entryName(*callLog), "error", err)
		return audio, nil, true
	}

	parsed, err := discovery.ParseCallLog(entryName(*callLog), data)
	if err != nil {
		log.Warn("call log parse failed", "entry", entryName(*callLog), "error", err)
		return audio, nil, true
	}

	labels = make(map[string]string, len(parsed))
	for k, v := range parsed {
		labels[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return audio, labels, false
}

func buildFiles(jobID uuid.UUID, unique []bulkimport.DiscoveredEntry, labels map[string]string) []*bulkimport.File {
	files := make([]*bulkimport.File, 0, len(unique))
	for i, e := range unique {
		name := entryName(e)
		files = append(files, &bulkimport.File{
			ID:           uuid.New(),
			JobID:        jobID,
			FileName:     name,
			Status:       bulkimport.FilePending,
			FileFormat:   audioconv.FormatFromName(name),
			OriginalURL:  e.URL,
			RemoteFileID: e.FileID,
			CallLogLabel: labels[strings.ToLower(name)],
			Position:     i,
		})
	}
	return files
}

// runPool processes files in discovery order with bounded concurrency,
// refreshing the job's lead-stage label as files move.
func (c *Coordinator) runPool(ctx context.Context, log *slog.Logger, job *bulkimport.Job, files []*bulkimport.File) {
	queue := make(chan *bulkimport.File)
	var wg sync.WaitGroup
	for range c.opts.FileWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range queue {
				c.processFile(ctx, log, job, f)
			}
		}()
	}

	for _, f := range files {
		select {
		case queue <- f:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(queue)
	wg.Wait()
}

// refreshJobStage recomputes the job-level stage label from current file
// statuses. Terminal transitions are owned by FinishFile, not here.
func (c *Coordinator) refreshJobStage(ctx context.Context, jobID uuid.UUID) {
	files, err := c.store.ListFiles(ctx, jobID)
	if err != nil {
		return
	}
	statuses := make([]bulkimport.FileStatus, 0, len(files))
	for _, f := range files {
		statuses = append(statuses, f.Status)
	}
	if lead, ok := bulkimport.LeadJobStatus(statuses); ok {
		_ = c.store.SetJobStage(ctx, jobID, lead)
	}
}

func (c *Coordinator) advanceFile(ctx context.Context, f *bulkimport.File, status bulkimport.FileStatus) error {
	if err := c.store.SetFileStatus(ctx, f.ID, status); err != nil {
		return err
	}
	c.refreshJobStage(ctx, f.JobID)
	return nil
}

// processFile runs one file through every stage. A stage error fails the
// file (never the job); the transcribe stage is the exception, where provider
// failures degrade the transcript but let the file keep moving.
func (c *Coordinator) processFile(ctx context.Context, log *slog.Logger, job *bulkimport.Job, f *bulkimport.File) {
	fail := func(err error) {
		log.Warn("file failed", "file_id", f.ID, "file_name", f.FileName, "error", err)
		if _, ferr := c.store.FinishFile(ctx, f.ID, true, err.Error()); ferr != nil {
			log.Error("recording file failure", "file_id", f.ID, "error", ferr)
		}
	}

	// Download.
	if err := c.advanceFile(ctx, f, bulkimport.FileDownloading); err != nil {
		fail(err)
		return
	}
	dlCtx, cancel := c.stageCtx(ctx)
	data, err := c.source.Fetch(dlCtx, bulkimport.DiscoveredEntry{Name: f.FileName, FileID: f.RemoteFileID, URL: f.OriginalURL})
	cancel()
	if err != nil {
		fail(stageErr("download", err))
		return
	}

	// Convert when the container needs it. Extension-less files (id-only
	// listings) are assumed already playable and pass through unconverted.
	format := f.FileFormat
	needs := false
	if format != "" {
		var err error
		needs, err = audioconv.NeedsConversion(format)
		if err != nil {
			fail(fmt.Errorf("%w: %s", bulkimport.ErrUnsupportedFormat, format))
			return
		}
	}
	name := f.FileName
	if needs {
		if err := c.advanceFile(ctx, f, bulkimport.FileConverting); err != nil {
			fail(err)
			return
		}
		convCtx, cancel := c.stageCtx(ctx)
		converted, err := c.converter.Convert(convCtx, data, format)
		cancel()
		if err != nil {
			fail(stageErr("convert", err))
			return
		}
		data = converted
		format = audioconv.UploadFormat
		name = strings.TrimSuffix(name, path.Ext(name)) + "." + audioconv.UploadFormat
	}

	// Upload.
	if err := c.advanceFile(ctx, f, bulkimport.FileUploading); err != nil {
		fail(err)
		return
	}
	handle, err := c.blobs.Put(data, name)
	if err != nil {
		fail(stageErr("upload", err))
		return
	}
	if err := c.store.SetFileStorage(ctx, f.ID, handle, int64(len(data)), format); err != nil {
		fail(err)
		return
	}
	f.StorageHandle = handle

	// Transcribe + analyze.
	if err := c.advanceFile(ctx, f, bulkimport.FileTranscribing); err != nil {
		fail(err)
		return
	}
	rec, err := c.store.EnsureCallRecord(ctx, f.ID)
	if err != nil {
		fail(err)
		return
	}
	if err := c.transcribeAndAnalyze(ctx, log, f, rec.ID, job.Provider, job.CustomerName); err != nil {
		fail(err)
		return
	}

	if _, err := c.store.FinishFile(ctx, f.ID, false, ""); err != nil {
		log.Error("recording file completion", "file_id", f.ID, "error", err)
		return
	}
	c.refreshJobStage(ctx, f.JobID)
	log.Info("file processed", "file_id", f.ID, "file_name", f.FileName)
}

// transcribeAndAnalyze runs the transcription and analysis stages against an
// already-uploaded file. Provider failures during transcription write a
// degraded transcript and skip analysis rather than failing the file;
// analysis failures with a good transcript leave a partial record. Shared
// with the retranscribe path.
func (c *Coordinator) transcribeAndAnalyze(ctx context.Context, log *slog.Logger, f *bulkimport.File, recordID uuid.UUID, provider, customer string) error {
	if err := c.store.SetTranscript(ctx, recordID, bulkimport.SentinelTranscribing); err != nil {
		return err
	}

	audioURL := c.blobs.SignedURL(f.StorageHandle, c.opts.SignedURLTTL)
	trCtx, cancel := c.stageCtx(ctx)
	transcript, err := c.transcriber.Transcribe(trCtx, audioURL, true, provider)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			transcript = "Transcription timeout"
		} else {
			transcript = fmt.Sprintf("Transcription error: %v", err)
		}
		log.Warn("transcription degraded", "file_id", f.ID, "error", err)
	}
	if err := c.store.SetTranscript(ctx, recordID, transcript); err != nil {
		return err
	}

	if err := c.advanceFile(ctx, f, bulkimport.FileAnalyzing); err != nil {
		return err
	}
	if bulkimport.IsDegradedTranscript(transcript) {
		// Nothing meaningful to analyze; keep the partial record.
		return c.advanceFile(ctx, f, bulkimport.FileCategorized)
	}

	anCtx, cancel := c.stageCtx(ctx)
	res, err := c.engine.Analyze(anCtx, transcript, customer)
	cancel()
	if errors.Is(err, analysis.ErrUnavailable) {
		log.Warn("analysis engine unavailable, using heuristic fallback", "file_id", f.ID)
		res, err = c.fallback.Analyze(ctx, transcript, customer)
	}
	if err != nil {
		// The transcript survives; the record just carries no analysis.
		log.Warn("analysis failed", "file_id", f.ID, "error", err)
		return c.advanceFile(ctx, f, bulkimport.FileCategorized)
	}

	if err := c.store.SetAnalysis(ctx, recordID, toStoreAnalysis(recordID, res)); err != nil {
		return err
	}
	return c.advanceFile(ctx, f, bulkimport.FileCategorized)
}

// toStoreAnalysis assigns durable ids so overcome -> objection links survive
// storage. An overcome whose index points at no objection keeps a zero
// objection id and is stored as an orphan.
func toStoreAnalysis(recordID uuid.UUID, res *analysis.Result) bulkimport.Analysis {
	a := bulkimport.Analysis{
		Category:          res.Category,
		CallType:          res.CallType,
		Confidence:        res.Confidence,
		Notes:             res.Notes,
		ConsultScheduled:  res.ConsultScheduled,
		ObjectionDetected: res.ObjectionDetected,
	}

	ids := make([]uuid.UUID, len(res.Objections))
	for i, o := range res.Objections {
		ids[i] = uuid.New()
		a.Objections = append(a.Objections, bulkimport.Objection{
			ID:                ids[i],
			CallRecordID:      recordID,
			ObjectionType:     o.Type,
			ObjectionText:     o.Text,
			TranscriptSegment: o.Segment,
			Confidence:        o.Confidence,
		})
	}
	for _, ov := range res.Overcomes {
		var objID uuid.UUID
		if ov.ObjectionIndex >= 0 && ov.ObjectionIndex < len(ids) {
			objID = ids[ov.ObjectionIndex]
		}
		a.Overcomes = append(a.Overcomes, bulkimport.ObjectionOvercome{
			ID:              uuid.New(),
			CallRecordID:    recordID,
			ObjectionID:     objID,
			OvercomeMethod:  ov.Method,
			TranscriptQuote: ov.Quote,
			Confidence:      ov.Confidence,
		})
	}
	return a
}

// RunRetranscribe services one queued retranscribe request: re-run the
// transcribe and analyze stages against the already-stored audio, then
// release the record's retry guard. Job counters never move here; the file
// was already counted when it first finished.
func (c *Coordinator) RunRetranscribe(ctx context.Context, rec *bulkimport.CallRecord) error {
	log := c.opts.Log.With("call_record_id", rec.ID)

	f, err := c.store.GetFile(ctx, rec.FileID)
	if err != nil {
		return err
	}
	job, err := c.store.GetJob(ctx, f.JobID)
	if err != nil {
		return err
	}
	log.Info("retranscribing", "file_id", f.ID, "file_name", f.FileName)

	if f.StorageHandle == "" {
		if err := c.store.SetTranscript(ctx, rec.ID, "Transcription error: no stored audio"); err != nil {
			return err
		}
		_ = c.store.SetFileStatus(ctx, f.ID, bulkimport.FileCompleted)
		return c.store.FinishRetranscribe(ctx, rec.ID)
	}

	if err := c.transcribeAndAnalyze(ctx, log, f, rec.ID, job.Provider, job.CustomerName); err != nil {
		_ = c.store.FinishRetranscribe(ctx, rec.ID)
		return err
	}
	if err := c.store.SetFileStatus(ctx, f.ID, bulkimport.FileCompleted); err != nil {
		return err
	}
	return c.store.FinishRetranscribe(ctx, rec.ID)
}

func entryName(e bulkimport.DiscoveredEntry) string {
	if e.Name != "" {
		return e.Name
	}
	if e.URL != "" {
		return path.Base(strings.TrimRight(e.URL, "/"))
	}
	return e.FileID
}
