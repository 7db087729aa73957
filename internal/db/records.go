package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"tidewater.systems/callintake/internal/bulkimport"
)

const recordCols = `id, file_id, transcript, call_category, call_type,
	categorization_confidence, categorization_notes, consult_scheduled,
	objection_detected, retry_state, created_at, updated_at`

func scanRecord(row rowScanner) (*bulkimport.CallRecord, error) {
	var (
		r         bulkimport.CallRecord
		id        pgtype.UUID
		fileID    pgtype.UUID
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	err := row.Scan(&id, &fileID, &r.Transcript, &r.CallCategory, &r.CallType,
		&r.CategorizationConfidence, &r.CategorizationNotes, &r.ConsultScheduled,
		&r.ObjectionDetected, &r.RetryState, &createdAt, &updatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	r.ID = asUUID(id)
	r.FileID = asUUID(fileID)
	r.CreatedAt = createdAt.Time
	r.UpdatedAt = updatedAt.Time
	return &r, nil
}

func (s *Store) EnsureCallRecord(ctx context.Context, fileID uuid.UUID) (*bulkimport.CallRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var existing pgtype.UUID
	err = tx.QueryRow(ctx, `
		SELECT call_record_id FROM bulk_import_files WHERE id = $1 FOR UPDATE`,
		pgUUID(fileID)).Scan(&existing)
	if err != nil {
		return nil, mapErr(err)
	}

	if existing.Valid {
		rec, err := scanRecord(tx.QueryRow(ctx,
			`SELECT `+recordCols+` FROM call_records WHERE id = $1`, existing))
		if err != nil {
			return nil, err
		}
		return rec, tx.Commit(ctx)
	}

	recordID := uuid.New()
	rec, err := scanRecord(tx.QueryRow(ctx, `
		INSERT INTO call_records (id, file_id, transcript)
		VALUES ($1, $2, $3)
		RETURNING `+recordCols,
		pgUUID(recordID), pgUUID(fileID), bulkimport.SentinelProcessing))
	if err != nil {
		return nil, mapErr(err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE bulk_import_files SET call_record_id = $2, updated_at = now() WHERE id = $1`,
		pgUUID(fileID), pgUUID(recordID))
	if err != nil {
		return nil, err
	}

	return rec, tx.Commit(ctx)
}

func (s *Store) GetCallRecord(ctx context.Context, id uuid.UUID) (*bulkimport.CallRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordCols+` FROM call_records WHERE id = $1`, pgUUID(id))
	return scanRecord(row)
}

func (s *Store) SetTranscript(ctx context.Context, id uuid.UUID, transcript string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE call_records SET transcript = $2, updated_at = now() WHERE id = $1`,
		pgUUID(id), transcript)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return bulkimport.ErrNotFound
	}
	return nil
}

func (s *Store) SetAnalysis(ctx context.Context, id uuid.UUID, a bulkimport.Analysis) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE call_records
		SET call_category = $2, call_type = $3, categorization_confidence = $4,
		    categorization_notes = $5, consult_scheduled = $6, objection_detected = $7,
		    updated_at = now()
		WHERE id = $1`,
		pgUUID(id), a.Category, a.CallType, a.Confidence, a.Notes,
		a.ConsultScheduled, a.ObjectionDetected)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return bulkimport.ErrNotFound
	}

	// Analysis output replaces the previous collections wholesale.
	if _, err := tx.Exec(ctx, `DELETE FROM objections WHERE call_record_id = $1`, pgUUID(id)); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM objection_overcomes WHERE call_record_id = $1`, pgUUID(id)); err != nil {
		return err
	}

	for _, o := range a.Objections {
		if o.ID == uuid.Nil {
			o.ID = uuid.New()
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO objections (id, call_record_id, objection_type, objection_text, transcript_segment, confidence)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			pgUUID(o.ID), pgUUID(id), o.ObjectionType, o.ObjectionText, o.TranscriptSegment, o.Confidence)
		if err != nil {
			return err
		}
	}
	for _, o := range a.Overcomes {
		if o.ID == uuid.Nil {
			o.ID = uuid.New()
		}
		var objectionID pgtype.UUID
		if o.ObjectionID != uuid.Nil {
			objectionID = pgUUID(o.ObjectionID)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO objection_overcomes (id, call_record_id, objection_id, overcome_method, transcript_quote, confidence)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			pgUUID(o.ID), pgUUID(id), objectionID, o.OvercomeMethod, o.TranscriptQuote, o.Confidence)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) BeginRetranscribe(ctx context.Context, recordID uuid.UUID) (*bulkimport.CallRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var retryState bulkimport.RetryState
	var fileID pgtype.UUID
	err = tx.QueryRow(ctx, `
		SELECT retry_state, file_id FROM call_records WHERE id = $1 FOR UPDATE`,
		pgUUID(recordID)).Scan(&retryState, &fileID)
	if err != nil {
		return nil, mapErr(err)
	}
	if retryState == bulkimport.RetryInFlight {
		return nil, fmt.Errorf("retranscription already in progress: %w", bulkimport.ErrConflict)
	}

	rec, err := scanRecord(tx.QueryRow(ctx, `
		UPDATE call_records
		SET transcript = $2, call_category = '', call_type = '',
		    categorization_confidence = 0, categorization_notes = '',
		    consult_scheduled = false, objection_detected = false,
		    retry_state = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+recordCols,
		pgUUID(recordID), bulkimport.SentinelProcessing, bulkimport.RetryInFlight))
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM objections WHERE call_record_id = $1`, pgUUID(recordID)); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM objection_overcomes WHERE call_record_id = $1`, pgUUID(recordID)); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE bulk_import_files SET status = 'transcribing', error_message = '', updated_at = now()
		WHERE id = $1`, fileID)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO retranscribe_requests (id, call_record_id) VALUES ($1, $2)`,
		pgUUID(uuid.New()), pgUUID(recordID))
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, RetranscribeChannel, recordID.String()); err != nil {
		return nil, err
	}

	return rec, tx.Commit(ctx)
}

func (s *Store) DequeueRetranscribe(ctx context.Context) (*bulkimport.CallRecord, error) {
	var recordID pgtype.UUID
	err := s.pool.QueryRow(ctx, `
		UPDATE retranscribe_requests SET status = 'claimed', claimed_at = now()
		WHERE id = (
			SELECT id FROM retranscribe_requests
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING call_record_id`).Scan(&recordID)
	if err != nil {
		return nil, mapErr(err)
	}
	return s.GetCallRecord(ctx, asUUID(recordID))
}

func (s *Store) FinishRetranscribe(ctx context.Context, recordID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE call_records SET retry_state = $2, updated_at = now() WHERE id = $1`,
		pgUUID(recordID), bulkimport.RetryIdle)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return bulkimport.ErrNotFound
	}

	_, err = tx.Exec(ctx, `
		UPDATE retranscribe_requests SET status = 'done'
		WHERE call_record_id = $1 AND status = 'claimed'`,
		pgUUID(recordID))
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}
