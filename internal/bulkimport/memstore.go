package bulkimport

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// MemStore is an in-memory Store used by tests and local development. It
// mirrors the Postgres store's counter and completion semantics exactly;
// the pipeline state-machine tests run against it.
type MemStore struct {
	mu         sync.Mutex
	jobs       map[uuid.UUID]*Job
	files      map[uuid.UUID]*File
	records    map[uuid.UUID]*CallRecord
	objections map[uuid.UUID][]Objection // by call record id
	overcomes  map[uuid.UUID][]ObjectionOvercome
	retryQueue []uuid.UUID // call record ids
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		jobs:       map[uuid.UUID]*Job{},
		files:      map[uuid.UUID]*File{},
		records:    map[uuid.UUID]*CallRecord{},
		objections: map[uuid.UUID][]Objection{},
		overcomes:  map[uuid.UUID][]ObjectionOvercome{},
	}
}

func (s *MemStore) CreateJob(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cp := *job
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.Status == "" {
		cp.Status = JobPending
	}
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.jobs[cp.ID] = &cp
	*job = cp
	return nil
}

func (s *MemStore) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobLocked(id)
}

func (s *MemStore) jobLocked(id uuid.UUID) (*Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemStore) ListJobs(ctx context.Context) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

func (s *MemStore) DequeuePendingJob(ctx context.Context) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *Job
	for _, j := range s.jobs {
		if j.Status != JobPending {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, ErrNotFound
	}
	oldest.Status = JobDiscovering
	oldest.UpdatedAt = time.Now()
	cp := *oldest
	return &cp, nil
}

func (s *MemStore) RecoverStuckJobs(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, j := range s.jobs {
		if j.Status.Terminal() || j.Status == JobPending {
			continue
		}
		j.Status = JobPending
		j.UpdatedAt = time.Now()
		n++
		for _, f := range s.files {
			if f.JobID == j.ID && !f.Status.Terminal() {
				f.Status = FilePending
			}
		}
	}
	return n, nil
}

func (s *MemStore) SetJobStage(ctx context.Context, id uuid.UUID, status JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status.Terminal() {
		return nil
	}
	now := time.Now()
	j.Status = status
	if status.Terminal() && j.CompletedAt == nil {
		j.CompletedAt = &now
	}
	j.UpdatedAt = now
	return nil
}

func (s *MemStore) SetJobDiscovery(ctx context.Context, id uuid.UUID, details *DiscoveryDetails, totalFiles int, callLogSkipped bool, advisory string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.DiscoveryDetails = details
	j.TotalFiles = totalFiles
	j.CallLogMappingSkipped = callLogSkipped
	if advisory != "" {
		j.ErrorMessage = advisory
	}
	j.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) FailJob(ctx context.Context, id uuid.UUID, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status.Terminal() {
		return nil
	}
	now := time.Now()
	j.Status = JobFailed
	j.ErrorMessage = msg
	j.UpdatedAt = now
	j.CompletedAt = &now
	return nil
}

func (s *MemStore) CreateFiles(ctx context.Context, files []*File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, f := range files {
		cp := *f
		if cp.ID == uuid.Nil {
			cp.ID = uuid.New()
		}
		if cp.Status == "" {
			cp.Status = FilePending
		}
		cp.CreatedAt = now
		cp.UpdatedAt = now
		s.files[cp.ID] = &cp
		*f = cp
	}
	return nil
}

func (s *MemStore) GetFile(ctx context.Context, id uuid.UUID) (*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *MemStore) ListFiles(ctx context.Context, jobID uuid.UUID) ([]*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listFilesLocked(jobID), nil
}

func (s *MemStore) listFilesLocked(jobID uuid.UUID) []*File {
	var out []*File
	for _, f := range s.files {
		if f.JobID == jobID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Position < out[k].Position })
	return out
}

func (s *MemStore) SetFileStatus(ctx context.Context, id uuid.UUID, status FileStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return ErrNotFound
	}
	f.Status = status
	f.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) SetFileStorage(ctx context.Context, id uuid.UUID, handle string, size int64, format string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return ErrNotFound
	}
	f.StorageHandle = handle
	f.FileSize = size
	f.FileFormat = format
	f.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) FinishFile(ctx context.Context, id uuid.UUID, failed bool, errMsg string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	j, ok := s.jobs[f.JobID]
	if !ok {
		return nil, ErrNotFound
	}

	now := time.Now()
	alreadyTerminal := f.Status.Terminal()
	if failed {
		f.Status = FileFailed
		f.ErrorMessage = errMsg
	} else {
		f.Status = FileCompleted
		f.ErrorMessage = ""
	}
	f.UpdatedAt = now

	// A retried file already counted toward the job totals; only first-time
	// terminal transitions move the counters.
	if !alreadyTerminal {
		if failed {
			j.FailedFiles++
		} else {
			j.ProcessedFiles++
		}
		j.UpdatedAt = now

		if !j.Status.Terminal() {
			allDone := true
			for _, other := range s.files {
				if other.JobID == j.ID && !other.Status.Terminal() {
					allDone = false
					break
				}
			}
			if allDone {
				j.Status = JobCompleted
				j.CompletedAt = &now
			}
		}
	}

	cp := *j
	return &cp, nil
}

func (s *MemStore) EnsureCallRecord(ctx context.Context, fileID uuid.UUID) (*CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[fileID]
	if !ok {
		return nil, ErrNotFound
	}
	if f.CallRecordID != nil {
		if r, ok := s.records[*f.CallRecordID]; ok {
			cp := *r
			return &cp, nil
		}
	}

	now := time.Now()
	r := &CallRecord{
		ID:         uuid.New(),
		FileID:     fileID,
		Transcript: SentinelProcessing,
		RetryState: RetryIdle,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.records[r.ID] = r
	id := r.ID
	f.CallRecordID = &id
	f.UpdatedAt = now

	cp := *r
	return &cp, nil
}

func (s *MemStore) GetCallRecord(ctx context.Context, id uuid.UUID) (*CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemStore) SetTranscript(ctx context.Context, id uuid.UUID, transcript string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	r.Transcript = transcript
	r.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) SetAnalysis(ctx context.Context, id uuid.UUID, a Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	r.CallCategory = a.Category
	r.CallType = a.CallType
	r.CategorizationConfidence = a.Confidence
	r.CategorizationNotes = a.Notes
	r.ConsultScheduled = a.ConsultScheduled
	r.ObjectionDetected = a.ObjectionDetected
	r.UpdatedAt = time.Now()

	s.objections[id] = append([]Objection(nil), a.Objections...)
	s.overcomes[id] = append([]ObjectionOvercome(nil), a.Overcomes...)
	return nil
}

func (s *MemStore) BeginRetranscribe(ctx context.Context, recordID uuid.UUID) (*CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[recordID]
	if !ok {
		return nil, ErrNotFound
	}
	if r.RetryState == RetryInFlight {
		return nil, fmt.Errorf("retranscription already in progress: %w", ErrConflict)
	}

	now := time.Now()
	r.RetryState = RetryInFlight
	r.Transcript = SentinelProcessing
	r.CallCategory = ""
	r.CallType = ""
	r.CategorizationConfidence = 0
	r.CategorizationNotes = ""
	r.ConsultScheduled = false
	r.ObjectionDetected = false
	r.UpdatedAt = now
	delete(s.objections, recordID)
	delete(s.overcomes, recordID)

	if f, ok := s.files[r.FileID]; ok {
		f.Status = FileTranscribing
		f.ErrorMessage = ""
		f.UpdatedAt = now
	}

	s.retryQueue = append(s.retryQueue, recordID)

	cp := *r
	return &cp, nil
}

func (s *MemStore) DequeueRetranscribe(ctx context.Context) (*CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.retryQueue) > 0 {
		id := s.retryQueue[0]
		s.retryQueue = s.retryQueue[1:]
		if r, ok := s.records[id]; ok {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) FinishRetranscribe(ctx context.Context, recordID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[recordID]
	if !ok {
		return ErrNotFound
	}
	r.RetryState = RetryIdle
	r.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) Snapshot(ctx context.Context, jobID uuid.UUID, includeFiles bool) (*JobSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}

	snap := &JobSnapshot{Job: *j}
	snap.ProgressPct = snap.ProgressPercentage()
	if !includeFiles {
		return snap, nil
	}

	for _, f := range s.listFilesLocked(jobID) {
		detail := FileDetail{File: *f}
		if f.FileSize > 0 {
			detail.FileSizeHuman = humanize.Bytes(uint64(f.FileSize))
		}
		if f.CallRecordID != nil {
			if r, ok := s.records[*f.CallRecordID]; ok {
				cp := *r
				detail.CallRecord = &cp
				detail.Objections = append([]Objection(nil), s.objections[r.ID]...)
				detail.ObjectionOvercomes = append([]ObjectionOvercome(nil), s.overcomes[r.ID]...)
			}
		}
		snap.Files = append(snap.Files, detail)
	}
	return snap, nil
}
