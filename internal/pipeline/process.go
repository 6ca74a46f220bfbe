package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/archive"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/classify"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/config"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/extract"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/model"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/queue"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/resilience"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/store"
)

// Process runs one job through extraction, relevance gating, archival and
// analysis. It is the queue handler. Stage failures are recorded on the job
// and are not returned; an error means the outcome could not be recorded.
func (c *Coordinator) Process(ctx context.Context, task queue.Task) error {
	log := zap.L().With(zap.String("job_id", task.JobID), zap.String("source", task.SourceName))
	start := time.Now()

	if err := c.deps.Store.MarkAnalyzing(ctx, task.JobID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Info("pipeline: job no longer pending, skipping")
			return nil
		}
		return eris.Wrapf(err, "pipeline: mark analyzing %s", task.JobID)
	}
	log.Info("pipeline: processing started")

	text, err := runStage(ctx, StageExtract, config.StageTimeout(c.cfg.ExtractTimeoutSecs, defaultExtractTimeout),
		func(ctx context.Context) (string, error) {
			return c.deps.Extractor.ExtractText(ctx, task.Data)
		})
	if err != nil {
		return c.fail(ctx, log, task.JobID, err)
	}
	log.Debug("pipeline: text extracted", zap.Int("chars", len(text)))

	relevance, err := runStage(ctx, StageClassify, config.StageTimeout(c.cfg.ClassifyTimeoutSecs, defaultClassifyTimeout),
		func(ctx context.Context) (classify.Relevance, error) {
			return c.deps.Classifier.Classify(ctx, extract.Prefix(text, c.classifyPrefix()))
		})
	if err != nil {
		log.Warn("pipeline: classification failed, treating as not relevant", zap.Error(err))
		relevance = classify.NotRelevant
	}
	if relevance != classify.Relevant {
		return c.discard(ctx, log, task.JobID, relevance)
	}

	var completion store.JobCompletion
	if !c.cfg.SkipArchive {
		key := archive.KeyFor(task.SourceName)
		location, err := runStage(ctx, StageArchive, config.StageTimeout(c.cfg.ArchiveTimeoutSecs, defaultArchiveTimeout),
			func(ctx context.Context) (string, error) {
				return resilience.ExecuteVal(ctx, c.archiveBreaker, func(ctx context.Context) (string, error) {
					return c.deps.Archive.Put(ctx, key, task.Data)
				})
			})
		if err != nil {
			return c.fail(ctx, log, task.JobID, err)
		}
		completion.ArchiveKey = key
		completion.ArchiveLocation = location
		log.Debug("pipeline: document archived", zap.String("location", location))
	}

	result, err := runStage(ctx, StageAnalyze, config.StageTimeout(c.cfg.AnalyzeTimeoutSecs, defaultAnalyzeTimeout),
		func(ctx context.Context) (*model.AnalysisResult, error) {
			res, err := resilience.ExecuteVal(ctx, c.analyzeBreaker, func(ctx context.Context) (*model.AnalysisResult, error) {
				return c.deps.Analyzer.Analyze(ctx, text)
			})
			if err != nil {
				return nil, err
			}
			if res == nil {
				return nil, eris.New("analyzer returned no result")
			}
			if res.Failed() {
				return nil, eris.Errorf("analysis reported error: %s", res.Error)
			}
			return res, nil
		})
	if err != nil {
		return c.fail(ctx, log, task.JobID, err)
	}
	completion.Result = result

	return c.complete(ctx, log, task.JobID, completion, start)
}

// discard removes a job whose document did not pass the relevance gate.
func (c *Coordinator) discard(ctx context.Context, log *zap.Logger, id string, relevance classify.Relevance) error {
	err := resilience.Do(ctx, c.retryFor("discard", id), func(ctx context.Context) error {
		return c.deps.Store.DeleteJob(ctx, id)
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return eris.Wrapf(err, "pipeline: discard %s", id)
	}
	log.Info("pipeline: document not relevant, job removed", zap.Stringer("relevance", relevance))
	return nil
}

// complete re-reads the job and records the result only if the job still
// exists and is in flight.
func (c *Coordinator) complete(ctx context.Context, log *zap.Logger, id string, completion store.JobCompletion, start time.Time) error {
	written, err := c.terminalWrite(ctx, log, id, "complete", func(ctx context.Context) error {
		return c.deps.Store.CompleteJob(ctx, id, completion)
	})
	if err != nil {
		return err
	}
	if written {
		log.Info("pipeline: job complete",
			zap.Bool("archived", completion.ArchiveKey != ""),
			zap.String("company", completion.Result.CompanyName()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
	return nil
}

// fail records a stage failure. The job's result and archive fields are
// never touched on this path.
func (c *Coordinator) fail(ctx context.Context, log *zap.Logger, id string, cause error) error {
	reason := cause.Error()
	var se *StageError
	stage := ""
	if errors.As(cause, &se) {
		stage = string(se.Stage)
	}

	written, err := c.terminalWrite(ctx, log, id, "fail", func(ctx context.Context) error {
		return c.deps.Store.FailJob(ctx, id, reason)
	})
	if err != nil {
		return err
	}
	if written {
		log.Warn("pipeline: job failed", zap.String("stage", stage), zap.String("reason", reason))
	}
	return nil
}

// terminalWrite re-reads the job before writing. A job that was deleted or
// already reached a terminal state is left alone. Only transient store
// errors are retried.
func (c *Coordinator) terminalWrite(ctx context.Context, log *zap.Logger, id, op string, write func(ctx context.Context) error) (bool, error) {
	written := false
	err := resilience.Do(ctx, c.retryFor(op, id), func(ctx context.Context) error {
		job, err := c.deps.Store.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if !job.Status.InFlight() {
			log.Warn("pipeline: job already terminal, not overwriting", zap.String("status", string(job.Status)))
			return nil
		}
		if err := write(ctx); err != nil {
			return err
		}
		written = true
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		log.Info("pipeline: job deleted during processing, dropping outcome", zap.String("op", op))
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "pipeline: %s %s", op, id)
	}
	return written, nil
}

func (c *Coordinator) retryFor(op, id string) resilience.RetryConfig {
	rc := c.writeRetry
	rc.OnRetry = resilience.RetryLogger("pipeline: "+op, id)
	return rc
}
