// Package pipeline coordinates a submitted document from intake to a
// terminal job state.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/analyze"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/archive"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/classify"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/config"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/extract"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/model"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/queue"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/resilience"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/store"
)

// ErrEmptyDocument is returned by Submit for zero-length documents.
var ErrEmptyDocument = errors.New("pipeline: document is empty")

const (
	defaultClassifyPrefix  = 2000
	defaultExtractTimeout  = 60 * time.Second
	defaultClassifyTimeout = 30 * time.Second
	defaultArchiveTimeout  = 60 * time.Second
	defaultAnalyzeTimeout  = 180 * time.Second
)

// Deps are the capabilities the coordinator drives. Archive may be nil when
// archival is skipped.
type Deps struct {
	Store      store.Store
	Archive    archive.Archive
	Extractor  extract.Extractor
	Classifier classify.Classifier
	Analyzer   analyze.Analyzer
	Queue      queue.Queue
}

// Coordinator owns every job mutation after creation.
type Coordinator struct {
	cfg  config.PipelineConfig
	deps Deps

	archiveBreaker *resilience.Breaker
	analyzeBreaker *resilience.Breaker
	writeRetry     resilience.RetryConfig
}

// New validates deps and creates a Coordinator.
func New(cfg config.PipelineConfig, deps Deps) (*Coordinator, error) {
	switch {
	case deps.Store == nil:
		return nil, eris.New("pipeline: store is required")
	case deps.Extractor == nil:
		return nil, eris.New("pipeline: extractor is required")
	case deps.Classifier == nil:
		return nil, eris.New("pipeline: classifier is required")
	case deps.Analyzer == nil:
		return nil, eris.New("pipeline: analyzer is required")
	case deps.Queue == nil:
		return nil, eris.New("pipeline: queue is required")
	case deps.Archive == nil && !cfg.SkipArchive:
		return nil, eris.New("pipeline: archive is required unless pipeline.skip_archive is set")
	}

	archiveBreaker := resilience.BreakerFromPipeline(cfg)
	archiveBreaker.ShouldTrip = archiveFault
	analyzeBreaker := resilience.BreakerFromPipeline(cfg)
	analyzeBreaker.ShouldTrip = analyze.IsProviderFault
	return &Coordinator{
		cfg:            cfg,
		deps:           deps,
		archiveBreaker: resilience.NewBreaker("archive", archiveBreaker),
		analyzeBreaker: resilience.NewBreaker("analyze", analyzeBreaker),
		writeRetry:     resilience.WriteRetryFromPipeline(cfg, store.IsTransient),
	}, nil
}

// archiveFault counts storage errors against the archive breaker. A Put
// that the caller abandoned says nothing about the store.
func archiveFault(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Submission is a document handed over by an intake adapter. SourceName is
// the job's display title; FileName names the archived copy and defaults to
// SourceName.
type Submission struct {
	Data          []byte
	SubmitterID   string
	SubmitterName string
	SourceName    string
	FileName      string
}

// Submit records a pending job and queues it for processing. It returns as
// soon as the task is queued. When queueing fails the job is marked failed
// and the queue error is returned.
func (c *Coordinator) Submit(ctx context.Context, s Submission) (*model.Job, error) {
	if len(s.Data) == 0 {
		return nil, ErrEmptyDocument
	}
	if s.SubmitterID == "" {
		return nil, eris.New("pipeline: submission requires a submitter id")
	}
	name := strings.TrimSpace(s.SourceName)
	if name == "" {
		name = archive.DefaultKey
	}
	fileName := strings.TrimSpace(s.FileName)
	if fileName == "" {
		fileName = name
	}
	submitter := strings.TrimSpace(s.SubmitterName)
	if submitter == "" {
		submitter = model.AnonymousName
	}

	job, err := c.deps.Store.CreateJob(ctx, store.NewJob{
		SubmitterID:   s.SubmitterID,
		SubmitterName: submitter,
		SourceName:    name,
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create job")
	}

	log := zap.L().With(zap.String("job_id", job.ID), zap.String("source", name))
	if err := c.deps.Queue.Enqueue(ctx, queue.Task{JobID: job.ID, SourceName: fileName, Data: s.Data}); err != nil {
		reason := (&StageError{Stage: StageEnqueue, Err: err}).Error()
		if ferr := c.deps.Store.FailJob(context.WithoutCancel(ctx), job.ID, reason); ferr != nil {
			log.Error("pipeline: record enqueue failure", zap.Error(ferr))
		}
		log.Warn("pipeline: enqueue failed", zap.Error(err))
		return nil, eris.Wrap(err, "pipeline: enqueue")
	}

	log.Info("pipeline: job submitted",
		zap.String("submitter_id", s.SubmitterID),
		zap.Int("bytes", len(s.Data)),
	)
	return job, nil
}

// Delete removes a job and its archived document. A missing archived object
// does not block removing the row. Archive keys derive from file names, so
// the object is kept while another job still references the same key.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	job, err := c.deps.Store.GetJob(ctx, id)
	if err != nil {
		return eris.Wrapf(err, "pipeline: delete %s", id)
	}

	if job.Archived() && c.deps.Archive != nil {
		c.deleteArchived(ctx, id, *job.ArchiveKey)
	}

	if err := c.deps.Store.DeleteJob(ctx, id); err != nil {
		return eris.Wrapf(err, "pipeline: delete %s", id)
	}
	return nil
}

func (c *Coordinator) deleteArchived(ctx context.Context, id, key string) {
	log := zap.L().With(zap.String("job_id", id), zap.String("key", key))

	sharing, err := c.deps.Store.ListJobs(ctx, store.JobFilter{ArchiveKey: key, Limit: 2})
	if err != nil {
		log.Warn("pipeline: check archive key references, keeping document", zap.Error(err))
		return
	}
	for _, other := range sharing {
		if other.ID != id {
			log.Info("pipeline: archived document shared with another job, keeping it", zap.String("other_job_id", other.ID))
			return
		}
	}

	if err := c.deps.Archive.Delete(ctx, key); err != nil && !errors.Is(err, archive.ErrNotFound) {
		log.Warn("pipeline: delete archived document", zap.Error(err))
	}
}

// ShutdownReason is recorded on jobs whose tasks were still queued when the
// workers stopped.
const ShutdownReason = "shutdown: workers stopped before processing started"

// Abandon fails the jobs of tasks that will never run, such as tasks still
// buffered in an in-process queue at shutdown. Jobs that are gone or already
// terminal are left alone. It returns the number of jobs failed.
func (c *Coordinator) Abandon(ctx context.Context, tasks []queue.Task, reason string) int {
	failed := 0
	for _, task := range tasks {
		log := zap.L().With(zap.String("job_id", task.JobID), zap.String("source", task.SourceName))
		written, err := c.terminalWrite(ctx, log, task.JobID, "abandon", func(ctx context.Context) error {
			return c.deps.Store.FailJob(ctx, task.JobID, reason)
		})
		if err != nil {
			log.Error("pipeline: abandon job", zap.Error(err))
			continue
		}
		if written {
			failed++
			log.Warn("pipeline: job abandoned", zap.String("reason", reason))
		}
	}
	return failed
}

// Wait polls until the job reaches a terminal state. It returns
// store.ErrNotFound when the job was removed, which is how documents judged
// not relevant end.
func (c *Coordinator) Wait(ctx context.Context, id string, every time.Duration) (*model.Job, error) {
	if every <= 0 {
		every = 500 * time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		job, err := c.deps.Store.GetJob(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: wait %s", id)
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, eris.Wrapf(ctx.Err(), "pipeline: wait %s", id)
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) classifyPrefix() int {
	if c.cfg.ClassifyPrefixChars <= 0 {
		return defaultClassifyPrefix
	}
	return c.cfg.ClassifyPrefixChars
}
