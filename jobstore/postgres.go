package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"variagen/models"
)

// Schema is applied by OpenPostgres. It keeps the column names of the
// video_jobs table the web front end already reads.
const Schema = `
create table if not exists video_jobs (
  job_id        text primary key,
  status        text not null default 'queued',
  progress      integer not null default 0,
  variations    integer not null default 1,
  settings      jsonb,
  outputs       jsonb,
  zip_path      text,
  input_path    text not null default '',
  original_name text not null default '',
  error         text not null default '',
  callback_url  text not null default '',
  created_at    timestamp with time zone not null default now(),
  updated_at    timestamp with time zone not null default now()
);
create index if not exists video_jobs_status_idx on video_jobs (status, created_at);
`

const selectColumns = `job_id, status, progress, variations, settings, outputs,
  coalesce(zip_path, ''), input_path, original_name, error, callback_url, created_at, updated_at`

// PostgresStore keeps job records in the video_jobs table.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// OpenPostgres connects, pings and makes sure the schema exists.
func OpenPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// CheckHealth pings the pool.
func (s *PostgresStore) CheckHealth() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, job models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	settings, outputs, err := encodeJSONColumns(job)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
insert into video_jobs (job_id, status, progress, variations, settings, outputs, zip_path,
  input_path, original_name, error, callback_url, created_at, updated_at)
values ($1, $2, $3, $4, $5, $6, nullif($7, ''), $8, $9, $10, $11, $12, $13)`,
		job.ID, string(job.Status), job.Progress, job.VariationCount, settings, outputs, job.ArchivePath,
		job.InputPath, job.OriginalName, job.Error, job.CallbackURL, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrExists, job.ID)
		}
		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `select `+selectColumns+` from video_jobs where job_id = $1`, id)
	return scanJob(row, id)
}

// Update locks the row, applies the patch in Go so both backends share the
// same transition rules, and writes the result back.
func (s *PostgresStore) Update(ctx context.Context, id string, patch models.JobPatch) (models.Job, error) {
	var out models.Job
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `select `+selectColumns+` from video_jobs where job_id = $1 for update`, id)
		job, err := scanJob(row, id)
		if err != nil {
			return err
		}
		if err := job.Apply(patch, s.now()); err != nil {
			return err
		}
		settings, outputs, err := encodeJSONColumns(job)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
update video_jobs set status = $2, progress = $3, settings = $4, outputs = $5,
  zip_path = nullif($6, ''), error = $7, updated_at = $8
where job_id = $1`,
			job.ID, string(job.Status), job.Progress, settings, outputs, job.ArchivePath, job.Error, job.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update job %s: %w", id, err)
		}
		out = job
		return nil
	})
	if err != nil {
		return models.Job{}, err
	}
	return out, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status models.Status) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`select `+selectColumns+` from video_jobs where status = $1 order by created_at asc`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %w", status, err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows, "")
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %w", status, err)
	}
	return jobs, nil
}

func encodeJSONColumns(job models.Job) ([]byte, []byte, error) {
	settings, err := json.Marshal(job.EffectConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal settings for job %s: %w", job.ID, err)
	}
	outputs := job.Outputs
	if outputs == nil {
		outputs = []string{}
	}
	encoded, err := json.Marshal(outputs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal outputs for job %s: %w", job.ID, err)
	}
	return settings, encoded, nil
}

func scanJob(row pgx.Row, id string) (models.Job, error) {
	var (
		job      models.Job
		status   string
		settings []byte
		outputs  []byte
	)
	err := row.Scan(&job.ID, &status, &job.Progress, &job.VariationCount, &settings, &outputs,
		&job.ArchivePath, &job.InputPath, &job.OriginalName, &job.Error, &job.CallbackURL,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return models.Job{}, fmt.Errorf("failed to scan job: %w", err)
	}
	job.Status = models.Status(status)
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &job.EffectConfig); err != nil {
			return models.Job{}, fmt.Errorf("failed to decode settings for job %s: %w", job.ID, err)
		}
	}
	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &job.Outputs); err != nil {
			return models.Job{}, fmt.Errorf("failed to decode outputs for job %s: %w", job.ID, err)
		}
	}
	return job, nil
}
