package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"tidewater.systems/callintake/internal/bulkimport"
)

const fileCols = `id, job_id, file_name, status, error_message, file_size,
	file_format, original_url, remote_file_id, storage_handle, call_log_label,
	position, call_record_id, created_at, updated_at`

func scanFile(row rowScanner) (*bulkimport.File, error) {
	var (
		f         bulkimport.File
		id        pgtype.UUID
		jobID     pgtype.UUID
		recordID  pgtype.UUID
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	err := row.Scan(&id, &jobID, &f.FileName, &f.Status, &f.ErrorMessage, &f.FileSize,
		&f.FileFormat, &f.OriginalURL, &f.RemoteFileID, &f.StorageHandle, &f.CallLogLabel,
		&f.Position, &recordID, &createdAt, &updatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	f.ID = asUUID(id)
	f.JobID = asUUID(jobID)
	f.CallRecordID = asUUIDPtr(recordID)
	f.CreatedAt = createdAt.Time
	f.UpdatedAt = updatedAt.Time
	return &f, nil
}

func (s *Store) CreateFiles(ctx context.Context, files []*bulkimport.File) error {
	if len(files) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, f := range files {
		if f.ID == uuid.Nil {
			f.ID = uuid.New()
		}
		if f.Status == "" {
			f.Status = bulkimport.FilePending
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO bulk_import_files
				(id, job_id, file_name, status, original_url, remote_file_id, call_log_label, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			pgUUID(f.ID), pgUUID(f.JobID), f.FileName, f.Status,
			f.OriginalURL, f.RemoteFileID, f.CallLogLabel, f.Position)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) GetFile(ctx context.Context, id uuid.UUID) (*bulkimport.File, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+fileCols+` FROM bulk_import_files WHERE id = $1`, pgUUID(id))
	return scanFile(row)
}

func (s *Store) ListFiles(ctx context.Context, jobID uuid.UUID) ([]*bulkimport.File, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+fileCols+` FROM bulk_import_files
		WHERE job_id = $1 ORDER BY position`, pgUUID(jobID))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var files []*bulkimport.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *Store) SetFileStatus(ctx context.Context, id uuid.UUID, status bulkimport.FileStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bulk_import_files SET status = $2, updated_at = now() WHERE id = $1`,
		pgUUID(id), status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return bulkimport.ErrNotFound
	}
	return nil
}

func (s *Store) SetFileStorage(ctx context.Context, id uuid.UUID, handle string, size int64, format string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bulk_import_files
		SET storage_handle = $2, file_size = $3, file_format = $4, updated_at = now()
		WHERE id = $1`,
		pgUUID(id), handle, size, format)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return bulkimport.ErrNotFound
	}
	return nil
}

// FinishFile moves a file to its terminal state and folds the result into
// the job counters in one transaction. Counter arithmetic happens in SQL so
// concurrent completions never lose an increment; the completion UPDATE is
// guarded by a NOT EXISTS over non-terminal siblings so completed_at is set
// exactly once.
func (s *Store) FinishFile(ctx context.Context, id uuid.UUID, failed bool, errMsg string) (*bulkimport.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	status := bulkimport.FileCompleted
	if failed {
		status = bulkimport.FileFailed
	} else {
		errMsg = ""
	}

	var (
		jobID      pgtype.UUID
		prevStatus bulkimport.FileStatus
	)
	err = tx.QueryRow(ctx, `
		UPDATE bulk_import_files f
		SET status = $2, error_message = $3, updated_at = now()
		FROM (
			SELECT id, job_id, status AS prev_status
			FROM bulk_import_files WHERE id = $1 FOR UPDATE
		) old
		WHERE f.id = old.id
		RETURNING old.job_id, old.prev_status`,
		pgUUID(id), status, errMsg).Scan(&jobID, &prevStatus)
	if err != nil {
		return nil, mapErr(err)
	}

	// A retried file already counted toward the totals; only first-time
	// terminal transitions move the counters.
	if !prevStatus.Terminal() {
		processed, failedInc := 1, 0
		if failed {
			processed, failedInc = 0, 1
		}
		_, err = tx.Exec(ctx, `
			UPDATE bulk_import_jobs
			SET processed_files = processed_files + $2,
			    failed_files = failed_files + $3,
			    updated_at = now()
			WHERE id = $1`,
			jobID, processed, failedInc)
		if err != nil {
			return nil, err
		}

		_, err = tx.Exec(ctx, `
			UPDATE bulk_import_jobs j
			SET status = 'completed', completed_at = now(), updated_at = now()
			WHERE j.id = $1
			  AND j.status NOT IN ('completed', 'failed')
			  AND NOT EXISTS (
				SELECT 1 FROM bulk_import_files
				WHERE job_id = $1 AND status NOT IN ('completed', 'failed')
			  )`,
			jobID)
		if err != nil {
			return nil, err
		}
	}

	job, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobCols+` FROM bulk_import_jobs WHERE id = $1`, jobID))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return job, nil
}
