package bulkimport

import (
	"context"

	"github.com/google/uuid"
)

// Analysis is the derived content written onto a call record after the
// analyze stage. Objection/overcome ids are assigned by the caller so the
// overcome -> objection linkage survives storage round-trips.
type Analysis struct {
	Category          string
	CallType          string
	Confidence        float64
	Notes             string
	ConsultScheduled  bool
	ObjectionDetected bool
	Objections        []Objection
	Overcomes         []ObjectionOvercome
}

// Store is the durable status store. It is the only shared mutable resource
// in the pipeline; every job/file/record mutation goes through it, and reads
// are consistent snapshots (a poller never observes progress regress for a
// fixed total).
//
// Absent rows surface as ErrNotFound regardless of backend.
type Store interface {
	// Jobs.
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	ListJobs(ctx context.Context) ([]*Job, error)
	// DequeuePendingJob atomically claims the oldest pending job, moving it
	// to discovering. ErrNotFound when the queue is empty.
	DequeuePendingJob(ctx context.Context) (*Job, error)
	// RecoverStuckJobs returns orphaned non-terminal jobs (and their
	// non-terminal files) to pending after a crash or restart.
	RecoverStuckJobs(ctx context.Context) (int, error)
	// SetJobStage updates the non-terminal stage label. It never overwrites
	// a terminal status.
	SetJobStage(ctx context.Context, id uuid.UUID, status JobStatus) error
	SetJobDiscovery(ctx context.Context, id uuid.UUID, details *DiscoveryDetails, totalFiles int, callLogSkipped bool, advisory string) error
	FailJob(ctx context.Context, id uuid.UUID, msg string) error

	// Files.
	CreateFiles(ctx context.Context, files []*File) error
	GetFile(ctx context.Context, id uuid.UUID) (*File, error)
	ListFiles(ctx context.Context, jobID uuid.UUID) ([]*File, error)
	SetFileStatus(ctx context.Context, id uuid.UUID, status FileStatus) error
	SetFileStorage(ctx context.Context, id uuid.UUID, handle string, size int64, format string) error
	// FinishFile records a file's terminal state and atomically folds it
	// into the job counters, completing the job when this was the last
	// non-terminal file. Returns the updated job.
	FinishFile(ctx context.Context, id uuid.UUID, failed bool, errMsg string) (*Job, error)

	// Call records.
	// EnsureCallRecord creates the file's call record (transcript set to
	// SentinelProcessing) on first use and returns the existing one after.
	EnsureCallRecord(ctx context.Context, fileID uuid.UUID) (*CallRecord, error)
	GetCallRecord(ctx context.Context, id uuid.UUID) (*CallRecord, error)
	SetTranscript(ctx context.Context, id uuid.UUID, transcript string) error
	// SetAnalysis writes derived analysis fields and replaces the record's
	// objection/overcome collections in one step.
	SetAnalysis(ctx context.Context, id uuid.UUID, a Analysis) error

	// Retranscribe.
	// BeginRetranscribe guards against overlap (ErrConflict while a retry is
	// in flight), destructively resets the record's derived content while
	// preserving its identity, re-enters the owning file at the transcribe
	// stage, and enqueues the request for the importer.
	BeginRetranscribe(ctx context.Context, recordID uuid.UUID) (*CallRecord, error)
	// DequeueRetranscribe claims the oldest queued request. ErrNotFound when
	// the queue is empty.
	DequeueRetranscribe(ctx context.Context) (*CallRecord, error)
	FinishRetranscribe(ctx context.Context, recordID uuid.UUID) error

	// Snapshot returns the polling view of a job, optionally with all files
	// and their nested call record data.
	Snapshot(ctx context.Context, jobID uuid.UUID, includeFiles bool) (*JobSnapshot, error)
}
