package db

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"tidewater.systems/callintake/internal/bulkimport"
)

// Snapshot assembles the polling view of a job. The job row is read first;
// counters and progress therefore never regress between a write and the
// next read of the same store.
func (s *Store) Snapshot(ctx context.Context, jobID uuid.UUID, includeFiles bool) (*bulkimport.JobSnapshot, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	snap := &bulkimport.JobSnapshot{Job: *job}
	snap.ProgressPct = snap.ProgressPercentage()
	if !includeFiles {
		return snap, nil
	}

	files, err := s.ListFiles(ctx, jobID)
	if err != nil {
		return nil, err
	}

	records, objections, overcomes, err := s.recordsForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	for _, f := range files {
		detail := bulkimport.FileDetail{File: *f}
		if f.FileSize > 0 {
			detail.FileSizeHuman = humanize.Bytes(uint64(f.FileSize))
		}
		if f.CallRecordID != nil {
			if rec, ok := records[*f.CallRecordID]; ok {
				detail.CallRecord = rec
				detail.Objections = objections[rec.ID]
				detail.ObjectionOvercomes = overcomes[rec.ID]
			}
		}
		snap.Files = append(snap.Files, detail)
	}
	return snap, nil
}

func (s *Store) recordsForJob(ctx context.Context, jobID uuid.UUID) (map[uuid.UUID]*bulkimport.CallRecord, map[uuid.UUID][]bulkimport.Objection, map[uuid.UUID][]bulkimport.ObjectionOvercome, error) {
	records := map[uuid.UUID]*bulkimport.CallRecord{}

	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.file_id, r.transcript, r.call_category, r.call_type,
		       r.categorization_confidence, r.categorization_notes, r.consult_scheduled,
		       r.objection_detected, r.retry_state, r.created_at, r.updated_at
		FROM call_records r
		JOIN bulk_import_files f ON f.id = r.file_id
		WHERE f.job_id = $1`, pgUUID(jobID))
	if err != nil {
		return nil, nil, nil, mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, nil, nil, err
		}
		records[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, nil, nil, err
	}

	objections := map[uuid.UUID][]bulkimport.Objection{}
	orows, err := s.pool.Query(ctx, `
		SELECT o.id, o.call_record_id, o.objection_type, o.objection_text, o.transcript_segment, o.confidence
		FROM objections o
		JOIN call_records r ON r.id = o.call_record_id
		JOIN bulk_import_files f ON f.id = r.file_id
		WHERE f.job_id = $1`, pgUUID(jobID))
	if err != nil {
		return nil, nil, nil, mapErr(err)
	}
	defer orows.Close()
	for orows.Next() {
		var o bulkimport.Objection
		var id, recID pgtype.UUID
		if err := orows.Scan(&id, &recID, &o.ObjectionType, &o.ObjectionText, &o.TranscriptSegment, &o.Confidence); err != nil {
			return nil, nil, nil, err
		}
		o.ID = asUUID(id)
		o.CallRecordID = asUUID(recID)
		objections[o.CallRecordID] = append(objections[o.CallRecordID], o)
	}
	if err := orows.Err(); err != nil {
		return nil, nil, nil, err
	}

	overcomes := map[uuid.UUID][]bulkimport.ObjectionOvercome{}
	vrows, err := s.pool.Query(ctx, `
		SELECT v.id, v.call_record_id, v.objection_id, v.overcome_method, v.transcript_quote, v.confidence
		FROM objection_overcomes v
		JOIN call_records r ON r.id = v.call_record_id
		JOIN bulk_import_files f ON f.id = r.file_id
		WHERE f.job_id = $1`, pgUUID(jobID))
	if err != nil {
		return nil, nil, nil, mapErr(err)
	}
	defer vrows.Close()
	for vrows.Next() {
		var v bulkimport.ObjectionOvercome
		var id, recID, objID pgtype.UUID
		if err := vrows.Scan(&id, &recID, &objID, &v.OvercomeMethod, &v.TranscriptQuote, &v.Confidence); err != nil {
			return nil, nil, nil, err
		}
		v.ID = asUUID(id)
		v.CallRecordID = asUUID(recID)
		v.ObjectionID = asUUID(objID)
		overcomes[v.CallRecordID] = append(overcomes[v.CallRecordID], v)
	}
	if err := vrows.Err(); err != nil {
		return nil, nil, nil, err
	}

	return records, objections, overcomes, nil
}
