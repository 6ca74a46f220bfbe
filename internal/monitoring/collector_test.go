package monitoring

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/config"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/model"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/store"
)

// mockJobs implements JobSource for testing.
type mockJobs struct {
	counts   map[model.JobStatus]int
	jobs     []model.Job
	countErr error
	listErr  error
	since    time.Time
}

func (m *mockJobs) CountByStatus(_ context.Context, since time.Time) (map[model.JobStatus]int, error) {
	m.since = since
	return m.counts, m.countErr
}

func (m *mockJobs) ListJobs(_ context.Context, filter store.JobFilter) ([]model.Job, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.Job
	for _, j := range m.jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

type fixedDepth int

func (d fixedDepth) Len() int { return int(d) }

func TestCollector_Empty(t *testing.T) {
	c := NewCollector(&mockJobs{}, nil, config.MonitoringConfig{}, 0)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.JobsTotal)
	assert.Equal(t, 0.0, snap.FailureRate)
	assert.Equal(t, 0, snap.StuckJobs)
	assert.Equal(t, 0, snap.QueueDepth)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, 30, snap.StuckMinutes)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_Counts(t *testing.T) {
	jobs := &mockJobs{counts: map[model.JobStatus]int{
		model.JobStatusPending:   2,
		model.JobStatusAnalyzing: 1,
		model.JobStatusComplete:  6,
		model.JobStatusFailed:    3,
	}}
	c := NewCollector(jobs, fixedDepth(5), config.MonitoringConfig{}, 64)

	snap, err := c.Collect(context.Background(), 12)
	require.NoError(t, err)

	assert.Equal(t, 12, snap.JobsTotal)
	assert.Equal(t, 2, snap.JobsPending)
	assert.Equal(t, 1, snap.JobsAnalyzing)
	assert.Equal(t, 6, snap.JobsComplete)
	assert.Equal(t, 3, snap.JobsFailed)
	assert.InDelta(t, 3.0/9.0, snap.FailureRate, 0.001)
	assert.Equal(t, 5, snap.QueueDepth)
	assert.Equal(t, 64, snap.QueueCapacity)
	assert.WithinDuration(t, time.Now().Add(-12*time.Hour), jobs.since, time.Minute)
}

func TestCollector_StuckJobs(t *testing.T) {
	now := time.Now().UTC()
	jobs := &mockJobs{
		counts: map[model.JobStatus]int{},
		jobs: []model.Job{
			{ID: "fresh", Status: model.JobStatusAnalyzing, UpdatedAt: now.Add(-time.Minute)},
			{ID: "old-analyzing", Status: model.JobStatusAnalyzing, UpdatedAt: now.Add(-2 * time.Hour)},
			{ID: "old-pending", Status: model.JobStatusPending, UpdatedAt: now.Add(-90 * time.Minute)},
			{ID: "old-complete", Status: model.JobStatusComplete, UpdatedAt: now.Add(-5 * time.Hour)},
		},
	}
	c := NewCollector(jobs, nil, config.MonitoringConfig{StuckAfterMins: 60}, 0)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.StuckJobs)
	assert.ElementsMatch(t, []string{"old-analyzing", "old-pending"}, snap.StuckJobIDs)
	assert.Equal(t, 60, snap.StuckMinutes)
}

func TestCollector_Errors(t *testing.T) {
	c := NewCollector(&mockJobs{countErr: errors.New("db down")}, nil, config.MonitoringConfig{}, 0)
	_, err := c.Collect(context.Background(), 24)
	assert.ErrorContains(t, err, "monitoring: count jobs")

	c = NewCollector(&mockJobs{listErr: errors.New("db down")}, nil, config.MonitoringConfig{}, 0)
	_, err = c.Collect(context.Background(), 24)
	assert.ErrorContains(t, err, "monitoring: list")
}

func TestCollector_SQLiteStore(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := st.CreateJob(ctx, store.NewJob{SubmitterID: "u", SubmitterName: "U", SourceName: "a.pdf"})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	require.NoError(t, st.MarkAnalyzing(ctx, ids[0]))
	require.NoError(t, st.FailJob(ctx, ids[0], "extract: no text"))

	c := NewCollector(st, fixedDepth(2), config.MonitoringConfig{}, 4)
	snap, err := c.Collect(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.JobsTotal)
	assert.Equal(t, 2, snap.JobsPending)
	assert.Equal(t, 1, snap.JobsFailed)
	assert.Equal(t, 1.0, snap.FailureRate)
	assert.Equal(t, 0, snap.StuckJobs)
}
