package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/config"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/model"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/resilience"
)

// ErrNotFound is returned when a job does not exist or a conditional update
// matched no row.
var ErrNotFound = errors.New("store: job not found")

// NewJob carries the fields an intake adapter supplies when creating a job.
type NewJob struct {
	SubmitterID   string
	SubmitterName string
	SourceName    string
}

// JobCompletion is written atomically when a job reaches Complete. Empty
// archive fields are stored as NULL.
type JobCompletion struct {
	ArchiveKey      string
	ArchiveLocation string
	Result          *model.AnalysisResult
}

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status       model.JobStatus `json:"status,omitempty"`
	SubmitterID  string          `json:"user_id,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	ArchiveKey   string          `json:"archive_key,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for jobs.
type Store interface {
	CreateJob(ctx context.Context, job NewJob) (*model.Job, error)
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	// MarkAnalyzing moves a job from Pending to Analyzing.
	MarkAnalyzing(ctx context.Context, id string) error
	// CompleteJob and FailJob only apply to in-flight jobs.
	CompleteJob(ctx context.Context, id string, c JobCompletion) error
	FailJob(ctx context.Context, id string, reason string) error
	DeleteJob(ctx context.Context, id string) error

	// CountByStatus counts jobs created at or after since.
	CountByStatus(ctx context.Context, since time.Time) (map[model.JobStatus]int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Reset(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// Open builds the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	case "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "iip.db"
		}
		return NewSQLite(dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// IsTransient reports whether a store error is worth retrying: connection
// loss, serialization conflicts, resource exhaustion, or a busy SQLite file.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) ||
			pgerrcode.IsTransactionRollback(pgErr.Code) ||
			pgerrcode.IsInsufficientResources(pgErr.Code) ||
			pgErr.Code == pgerrcode.AdminShutdown ||
			pgErr.Code == pgerrcode.CrashShutdown ||
			pgErr.Code == pgerrcode.CannotConnectNow ||
			pgErr.Code == pgerrcode.LockNotAvailable
	}

	if pgconn.SafeToRetry(err) {
		return true
	}

	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return true
	}
	return resilience.IsTransient(err)
}

func resultBytes(r *model.AnalysisResult) ([]byte, error) {
	if r == nil || len(r.Raw) == 0 {
		return nil, eris.New("store: completion requires a result")
	}
	return r.Raw, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
