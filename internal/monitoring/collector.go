package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/config"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/model"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/store"
)

const stuckScanLimit = 1000

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Jobs created within the lookback window.
	JobsTotal     int     `json:"jobs_total"`
	JobsPending   int     `json:"jobs_pending"`
	JobsAnalyzing int     `json:"jobs_analyzing"`
	JobsComplete  int     `json:"jobs_complete"`
	JobsFailed    int     `json:"jobs_failed"`
	FailureRate   float64 `json:"failure_rate"`

	// In-flight jobs not updated for longer than the stuck threshold.
	StuckJobs    int      `json:"stuck_jobs"`
	StuckJobIDs  []string `json:"stuck_job_ids,omitempty"`
	StuckMinutes int      `json:"stuck_after_mins"`

	QueueDepth    int `json:"queue_depth"`
	QueueCapacity int `json:"queue_capacity"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// JobSource is the read side of the record store the collector needs.
type JobSource interface {
	CountByStatus(ctx context.Context, since time.Time) (map[model.JobStatus]int, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error)
}

// QueueDepth reports how many tasks wait for a worker.
type QueueDepth interface {
	Len() int
}

// Collector gathers metrics from the record store and task queue.
type Collector struct {
	jobs       JobSource
	queue      QueueDepth
	capacity   int
	stuckAfter time.Duration
}

// NewCollector creates a new metrics collector. q may be nil.
func NewCollector(jobs JobSource, q QueueDepth, cfg config.MonitoringConfig, queueCapacity int) *Collector {
	stuck := time.Duration(cfg.StuckAfterMins) * time.Minute
	if stuck <= 0 {
		stuck = 30 * time.Minute
	}
	return &Collector{jobs: jobs, queue: q, capacity: queueCapacity, stuckAfter: stuck}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		StuckMinutes:  int(c.stuckAfter / time.Minute),
		QueueCapacity: c.capacity,
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	counts, err := c.jobs.CountByStatus(ctx, now.Add(-time.Duration(lookbackHours)*time.Hour))
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count jobs")
	}
	snap.JobsPending = counts[model.JobStatusPending]
	snap.JobsAnalyzing = counts[model.JobStatusAnalyzing]
	snap.JobsComplete = counts[model.JobStatusComplete]
	snap.JobsFailed = counts[model.JobStatusFailed]
	for _, n := range counts {
		snap.JobsTotal += n
	}
	if finished := snap.JobsComplete + snap.JobsFailed; finished > 0 {
		snap.FailureRate = float64(snap.JobsFailed) / float64(finished)
	}

	cutoff := now.Add(-c.stuckAfter)
	for _, status := range []model.JobStatus{model.JobStatusPending, model.JobStatusAnalyzing} {
		jobs, err := c.jobs.ListJobs(ctx, store.JobFilter{Status: status, Limit: stuckScanLimit})
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: list %s jobs", status)
		}
		for _, j := range jobs {
			if j.UpdatedAt.Before(cutoff) {
				snap.StuckJobs++
				snap.StuckJobIDs = append(snap.StuckJobIDs, j.ID)
			}
		}
	}

	if c.queue != nil {
		snap.QueueDepth = c.queue.Len()
	}
	return snap, nil
}
