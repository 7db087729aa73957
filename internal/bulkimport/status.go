// Package bulkimport holds the domain model for bulk call-recording imports:
// job and file state machines, discovery/dedup results, and the store
// contract shared by the web handlers and the importer pipeline.
package bulkimport

// JobStatus is the aggregate state of a bulk-import job. The non-terminal
// stage labels mirror the per-file stages; a job carries the earliest
// unfinished stage among its files so pollers see the "lead" stage.
type JobStatus string

const (
	JobPending      JobStatus = "pending"
	JobDiscovering  JobStatus = "discovering"
	JobDownloading  JobStatus = "downloading"
	JobUploading    JobStatus = "uploading"
	JobTranscribing JobStatus = "transcribing"
	JobAnalyzing    JobStatus = "analyzing"
	JobCategorized  JobStatus = "categorized"
	JobCompleted    JobStatus = "completed"
	JobFailed       JobStatus = "failed"
)

// Terminal reports whether the job can no longer change state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// FileStatus is the per-file stage. Files advance strictly in order except
// for the failed exit, which is reachable from any stage.
type FileStatus string

const (
	FilePending      FileStatus = "pending"
	FileDownloading  FileStatus = "downloading"
	FileConverting   FileStatus = "converting"
	FileUploading    FileStatus = "uploading"
	FileTranscribing FileStatus = "transcribing"
	FileAnalyzing    FileStatus = "analyzing"
	FileCategorized  FileStatus = "categorized"
	FileCompleted    FileStatus = "completed"
	FileFailed       FileStatus = "failed"
)

// Terminal reports whether the file can no longer change state (absent an
// explicit retranscribe).
func (s FileStatus) Terminal() bool {
	return s == FileCompleted || s == FileFailed
}

// fileStageRank orders the per-file stages for lead-stage aggregation.
// Terminal states rank last so any in-flight file dominates.
var fileStageRank = map[FileStatus]int{
	FilePending:      0,
	FileDownloading:  1,
	FileConverting:   2,
	FileUploading:    3,
	FileTranscribing: 4,
	FileAnalyzing:    5,
	FileCategorized:  6,
	FileCompleted:    7,
	FileFailed:       7,
}

// fileStageToJobStatus maps a file stage to the job-level label announced
// while that stage is the earliest unfinished one. Converting has no job
// label of its own; it is reported under downloading.
var fileStageToJobStatus = map[FileStatus]JobStatus{
	FilePending:      JobDownloading,
	FileDownloading:  JobDownloading,
	FileConverting:   JobDownloading,
	FileUploading:    JobUploading,
	FileTranscribing: JobTranscribing,
	FileAnalyzing:    JobAnalyzing,
	FileCategorized:  JobCategorized,
}

// LeadJobStatus derives the job-level stage label from the set of current
// file statuses: the earliest stage any non-terminal file is in. It returns
// ok=false when every file is terminal (the caller then decides completed
// versus failed from the counters).
func LeadJobStatus(statuses []FileStatus) (JobStatus, bool) {
	lead := -1
	var leadStatus FileStatus
	for _, s := range statuses {
		if s.Terminal() {
			continue
		}
		r := fileStageRank[s]
		if lead == -1 || r < lead {
			lead = r
			leadStatus = s
		}
	}
	if lead == -1 {
		return "", false
	}
	return fileStageToJobStatus[leadStatus], true
}
