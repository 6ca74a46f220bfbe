package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection; a single connection keeps them in force
	// and serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS deals (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	user_name      TEXT NOT NULL,
	file_name      TEXT NOT NULL,
	archive_key    TEXT,
	s3_url         TEXT,
	status         TEXT NOT NULL DEFAULT 'Pending',
	analysis_data  TEXT,
	failure_reason TEXT,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_deals_status ON deals(status);
CREATE INDEX IF NOT EXISTS idx_deals_user_id ON deals(user_id);
CREATE INDEX IF NOT EXISTS idx_deals_created_at ON deals(created_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Reset drops the jobs table and recreates it empty.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS deals`); err != nil {
		return eris.Wrap(err, "sqlite: drop deals")
	}
	return s.Migrate(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job NewJob) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deals (id, user_id, user_name, file_name, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, job.SubmitterID, job.SubmitterName, job.SourceName, string(model.JobStatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
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

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM deals WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM deals WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.SubmitterID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.SubmitterID)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	if filter.ArchiveKey != "" {
		query += ` AND archive_key = ?`
		args = append(args, filter.ArchiveKey)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	jobs := []model.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) MarkAnalyzing(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deals SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.JobStatusAnalyzing), time.Now().UTC(), id, string(model.JobStatusPending),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark analyzing %s", id)
	}
	return checkRowsAffected(res, "mark analyzing", id)
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id string, c JobCompletion) error {
	resultJSON, err := resultBytes(c.Result)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE deals SET status = ?, analysis_data = ?, archive_key = ?, s3_url = ?, failure_reason = NULL, updated_at = ?
		 WHERE id = ? AND status IN ('Pending', 'Analyzing')`,
		string(model.JobStatusComplete), string(resultJSON), nullable(c.ArchiveKey), nullable(c.ArchiveLocation), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", id)
	}
	return checkRowsAffected(res, "complete job", id)
}

func (s *SQLiteStore) FailJob(ctx context.Context, id string, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deals SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status IN ('Pending', 'Analyzing')`,
		string(model.JobStatusFailed), reason, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", id)
	}
	return checkRowsAffected(res, "fail job", id)
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM deals WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete job %s", id)
	}
	return checkRowsAffected(res, "delete job", id)
}

func (s *SQLiteStore) CountByStatus(ctx context.Context, since time.Time) (map[model.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM deals WHERE created_at >= ? GROUP BY status`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by status")
	}
	defer rows.Close()

	counts := make(map[model.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan count")
		}
		counts[model.JobStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count by status iterate")
}

// helpers

func checkRowsAffected(res sql.Result, action, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s %s", action, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var status string
	var archiveKey, location, resultJSON, reason sql.NullString

	err := row.Scan(&j.ID, &j.SubmitterID, &j.SubmitterName, &j.SourceName,
		&archiveKey, &location, &status, &resultJSON, &reason,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	if archiveKey.Valid {
		j.ArchiveKey = &archiveKey.String
	}
	if location.Valid {
		j.ArchiveLocation = &location.String
	}
	if reason.Valid {
		j.FailureReason = &reason.String
	}
	if resultJSON.Valid {
		res, err := model.ParseAnalysisResult([]byte(resultJSON.String))
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: decode analysis")
		}
		j.Result = res
	}
	return &j, nil
}
