package bulkimport

import (
	"time"

	"github.com/google/uuid"
)

// Job is one bulk-import request, spanning discovery through completion of
// all of its files.
type Job struct {
	ID                    uuid.UUID         `json:"id"`
	CustomerName          string            `json:"customer_name"`
	SourceURL             string            `json:"source_url"`
	Provider              string            `json:"provider"`
	Status                JobStatus         `json:"status"`
	TotalFiles            int               `json:"total_files"`
	ProcessedFiles        int               `json:"processed_files"`
	FailedFiles           int               `json:"failed_files"`
	ErrorMessage          string            `json:"error_message,omitempty"`
	CallLogMappingSkipped bool              `json:"call_log_mapping_skipped"`
	DiscoveryDetails      *DiscoveryDetails `json:"discovery_details,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
	CompletedAt           *time.Time        `json:"completed_at,omitempty"`
}

// ProgressPercentage derives display progress from the counters. Failed
// files do not count as progress; a job with total 0 reports 0.
func (j *Job) ProgressPercentage() float64 {
	if j.TotalFiles == 0 {
		return 0
	}
	return 100 * float64(j.ProcessedFiles) / float64(j.TotalFiles)
}

// File is one discovered, deduplicated audio source and its processing
// record within a job.
type File struct {
	ID            uuid.UUID  `json:"id"`
	JobID         uuid.UUID  `json:"job_id"`
	FileName      string     `json:"file_name"`
	Status        FileStatus `json:"status"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	FileSize      int64      `json:"file_size"`
	FileFormat    string     `json:"file_format"`
	OriginalURL   string     `json:"original_url"`
	RemoteFileID  string     `json:"remote_file_id,omitempty"`
	StorageHandle string     `json:"-"`
	CallLogLabel  string     `json:"call_log_label,omitempty"`
	Position      int        `json:"-"`
	CallRecordID  *uuid.UUID `json:"call_record_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// RetryState guards a call record against overlapping retranscribe requests.
type RetryState string

const (
	RetryIdle     RetryState = "idle"
	RetryInFlight RetryState = "retrying"
)

// CallRecord is the durable transcription/analysis output for a file. The
// record's identity is stable across retranscribes; only its derived content
// is reset.
type CallRecord struct {
	ID                        uuid.UUID  `json:"id"`
	FileID                    uuid.UUID  `json:"file_id"`
	Transcript                string     `json:"transcript"`
	CallCategory              string     `json:"call_category,omitempty"`
	CallType                  string     `json:"call_type,omitempty"`
	CategorizationConfidence  float64    `json:"categorization_confidence"`
	CategorizationNotes       string     `json:"categorization_notes,omitempty"`
	ConsultScheduled          bool       `json:"consult_scheduled"`
	ObjectionDetected         bool       `json:"objection_detected"`
	RetryState                RetryState `json:"-"`
	CreatedAt                 time.Time  `json:"created_at"`
	UpdatedAt                 time.Time  `json:"updated_at"`
}

// Objection is one detected objection within a call record.
type Objection struct {
	ID                uuid.UUID `json:"id"`
	CallRecordID      uuid.UUID `json:"call_record_id"`
	ObjectionType     string    `json:"objection_type"`
	ObjectionText     string    `json:"objection_text"`
	TranscriptSegment string    `json:"transcript_segment,omitempty"`
	Confidence        float64   `json:"confidence"`
}

// ObjectionOvercome records how an objection was handled. ObjectionID may
// reference no surviving objection; such orphans are valid and rendered
// without objection context.
type ObjectionOvercome struct {
	ID              uuid.UUID `json:"id"`
	CallRecordID    uuid.UUID `json:"call_record_id"`
	ObjectionID     uuid.UUID `json:"objection_id"`
	OvercomeMethod  string    `json:"overcome_method"`
	TranscriptQuote string    `json:"transcript_quote,omitempty"`
	Confidence      float64   `json:"confidence"`
}

// DiscoveredEntry is one raw listing entry from the source, before dedup.
type DiscoveredEntry struct {
	Name   string `json:"name"`
	FileID string `json:"file_id,omitempty"`
	URL    string `json:"url,omitempty"`
}

// DuplicateGroup records one identity group of size > 1 found during dedup.
type DuplicateGroup struct {
	URL   string `json:"url"`
	Count int    `json:"count"`
}

// DiscoveryDetails is retained on the job for operator diagnostics even
// after processing begins.
type DiscoveryDetails struct {
	DiscoveredFiles int               `json:"discovered_files"`
	UniqueFiles     int               `json:"unique_files"`
	Duplicates      []DuplicateGroup  `json:"duplicates,omitempty"`
	RawEntries      []DiscoveredEntry `json:"raw_entries,omitempty"`
}

// FileDetail is a file plus its nested call record data, as returned by the
// status endpoint when include_files is set.
type FileDetail struct {
	File
	FileSizeHuman      string              `json:"file_size_human,omitempty"`
	CallRecord         *CallRecord         `json:"call_record,omitempty"`
	Objections         []Objection         `json:"objections,omitempty"`
	ObjectionOvercomes []ObjectionOvercome `json:"objection_overcomes,omitempty"`
}

// JobSnapshot is the polling contract: one consistent read of a job and,
// optionally, all of its files with nested analysis data.
type JobSnapshot struct {
	Job
	ProgressPct float64      `json:"progress_percentage"`
	Files       []FileDetail `json:"files,omitempty"`
}
