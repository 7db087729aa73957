package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"tidewater.systems/callintake/internal/bulkimport"
)

// Store is the Postgres-backed status store. All job/file/call-record
// mutations in the system go through it; reads are single-statement
// snapshots so pollers get read-your-writes consistency per job.
type Store struct {
	pool *pgxpool.Pool
}

var _ bulkimport.Store = (*Store)(nil)

const jobCols = `id, customer_name, source_url, provider, status,
	total_files, processed_files, failed_files, error_message,
	call_log_mapping_skipped, discovery_details, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*bulkimport.Job, error) {
	var (
		j           bulkimport.Job
		id          pgtype.UUID
		details     []byte
		createdAt   pgtype.Timestamptz
		updatedAt   pgtype.Timestamptz
		completedAt pgtype.Timestamptz
	)
	err := row.Scan(&id, &j.CustomerName, &j.SourceURL, &j.Provider, &j.Status,
		&j.TotalFiles, &j.ProcessedFiles, &j.FailedFiles, &j.ErrorMessage,
		&j.CallLogMappingSkipped, &details, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	j.ID = asUUID(id)
	j.CreatedAt = createdAt.Time
	j.UpdatedAt = updatedAt.Time
	j.CompletedAt = NilTimePtr(completedAt)
	if len(details) > 0 {
		var d bulkimport.DiscoveryDetails
		if err := json.Unmarshal(details, &d); err != nil {
			return nil, fmt.Errorf("decode discovery details: %w", err)
		}
		j.DiscoveryDetails = &d
	}
	return &j, nil
}

func (s *Store) CreateJob(ctx context.Context, job *bulkimport.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = bulkimport.JobPending
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO bulk_import_jobs (id, customer_name, source_url, provider, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+jobCols,
		pgUUID(job.ID), job.CustomerName, job.SourceURL, job.Provider, job.Status)

	created, err := scanJob(row)
	if err != nil {
		return err
	}
	*job = *created

	// Wake any importer blocked on the LISTEN channel.
	_, err = s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, ImportJobsChannel, job.ID.String())
	return err
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*bulkimport.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobCols+` FROM bulk_import_jobs WHERE id = $1`, pgUUID(id))
	return scanJob(row)
}

func (s *Store) ListJobs(ctx context.Context) ([]*bulkimport.Job, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jobCols+` FROM bulk_import_jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var jobs []*bulkimport.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *Store) DequeuePendingJob(ctx context.Context) (*bulkimport.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE bulk_import_jobs SET status = 'discovering', updated_at = now()
		WHERE id = (
			SELECT id FROM bulk_import_jobs
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobCols)
	return scanJob(row)
}

func (s *Store) RecoverStuckJobs(ctx context.Context) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE bulk_import_files SET status = 'pending', updated_at = now()
		WHERE status NOT IN ('completed', 'failed')
		  AND job_id IN (
			SELECT id FROM bulk_import_jobs
			WHERE status NOT IN ('pending', 'completed', 'failed')
		  )`)
	if err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE bulk_import_jobs SET status = 'pending', updated_at = now()
		WHERE status NOT IN ('pending', 'completed', 'failed')`)
	if err != nil {
		return 0, err
	}

	// Retranscribe requests claimed by a dead importer go back on the queue.
	_, err = tx.Exec(ctx, `
		UPDATE retranscribe_requests SET status = 'pending', claimed_at = NULL
		WHERE status = 'claimed'`)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) SetJobStage(ctx context.Context, id uuid.UUID, status bulkimport.JobStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE bulk_import_jobs
		SET status = $2,
		    completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN now() ELSE completed_at END,
		    updated_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		pgUUID(id), status)
	return err
}

func (s *Store) SetJobDiscovery(ctx context.Context, id uuid.UUID, details *bulkimport.DiscoveryDetails, totalFiles int, callLogSkipped bool, advisory string) error {
	var blob []byte
	if details != nil {
		var err error
		blob, err = json.Marshal(details)
		if err != nil {
			return fmt.Errorf("encode discovery details: %w", err)
		}
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE bulk_import_jobs
		SET discovery_details = $2,
		    total_files = $3,
		    call_log_mapping_skipped = $4,
		    error_message = CASE WHEN $5 <> '' THEN $5 ELSE error_message END,
		    updated_at = now()
		WHERE id = $1`,
		pgUUID(id), blob, totalFiles, callLogSkipped, advisory)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return bulkimport.ErrNotFound
	}
	return nil
}

func (s *Store) FailJob(ctx context.Context, id uuid.UUID, msg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE bulk_import_jobs
		SET status = 'failed', error_message = $2, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		pgUUID(id), msg)
	return err
}

// Listen channel names. The web service NOTIFYs, the importer LISTENs.
const (
	ImportJobsChannel   = "bulk_import_jobs"
	RetranscribeChannel = "retranscribe_requests"
)

// Listen issues LISTEN on the given channel over a dedicated connection.
func Listen(ctx context.Context, conn *pgx.Conn, channel string) error {
	_, err := conn.Exec(ctx, "LISTEN "+channel)
	return err
}
