package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/db"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	var opts db.PoolOptions
	if poolCfg != nil {
		opts.MaxConns = poolCfg.MaxConns
		opts.MinConns = poolCfg.MinConns
	}
	pool, err := db.NewPool(ctx, connString, opts)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS deals (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	user_name      TEXT NOT NULL,
	file_name      TEXT NOT NULL,
	archive_key    TEXT,
	s3_url         TEXT,
	status         TEXT NOT NULL DEFAULT 'Pending',
	analysis_data  JSONB,
	failure_reason TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_deals_status ON deals(status);
CREATE INDEX IF NOT EXISTS idx_deals_user_id ON deals(user_id);
CREATE INDEX IF NOT EXISTS idx_deals_created_at ON deals(created_at DESC);
`

const jobColumns = `id, user_id, user_name, file_name, archive_key, s3_url, status, analysis_data, failure_reason, created_at, updated_at`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Reset drops the jobs table and recreates it empty.
func (s *PostgresStore) Reset(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: reset begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DROP TABLE IF EXISTS deals`); err != nil {
		return eris.Wrap(err, "postgres: drop deals")
	}
	if _, err := tx.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: recreate deals")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: reset commit")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job NewJob) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO deals (id, user_id, user_name, file_name, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, job.SubmitterID, job.SubmitterName, job.SourceName, string(model.JobStatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}

	return &model.Job{
		ID:            id,
		SubmitterID:   job.SubmitterID,
		SubmitterName: job.SubmitterName,
		SourceName:    job.SourceName,
		Status:        model.JobStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM deals WHERE id = $1`, id)
	j, err := scanPostgresJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM deals WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.SubmitterID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, argIdx)
		args = append(args, filter.SubmitterID)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter.UTC())
		argIdx++
	}
	if filter.ArchiveKey != "" {
		query += fmt.Sprintf(` AND archive_key = $%d`, argIdx)
		args = append(args, filter.ArchiveKey)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	jobs := []model.Job{}
	for rows.Next() {
		j, err := scanPostgresJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) MarkAnalyzing(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE deals SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(model.JobStatusAnalyzing), time.Now().UTC(), id, string(model.JobStatusPending),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark analyzing %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: mark analyzing %s", id)
	}
	return nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id string, c JobCompletion) error {
	resultJSON, err := resultBytes(c.Result)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE deals SET status = $1, analysis_data = $2, archive_key = $3, s3_url = $4, failure_reason = NULL, updated_at = $5
		 WHERE id = $6 AND status IN ('Pending', 'Analyzing')`,
		string(model.JobStatusComplete), []byte(resultJSON), nullable(c.ArchiveKey), nullable(c.ArchiveLocation), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: complete job %s", id)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, id string, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE deals SET status = $1, failure_reason = $2, updated_at = $3
		 WHERE id = $4 AND status IN ('Pending', 'Analyzing')`,
		string(model.JobStatusFailed), reason, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: fail job %s", id)
	}
	return nil
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM deals WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: delete job %s", id)
	}
	return nil
}

func (s *PostgresStore) CountByStatus(ctx context.Context, since time.Time) (map[model.JobStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM deals WHERE created_at >= $1 GROUP BY status`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by status")
	}
	defer rows.Close()

	counts := make(map[model.JobStatus]int)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan count")
		}
		counts[model.JobStatus(status)] = int(n)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count by status iterate")
}

func scanPostgresJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var status string
	var resultNull *[]byte

	err := row.Scan(&j.ID, &j.SubmitterID, &j.SubmitterName, &j.SourceName,
		&j.ArchiveKey, &j.ArchiveLocation, &status, &resultNull, &j.FailureReason,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)

	if resultNull != nil {
		res, err := model.ParseAnalysisResult(*resultNull)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: decode analysis")
		}
		j.Result = res
	}
	return &j, nil
}
