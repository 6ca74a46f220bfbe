package main

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/analyze"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/archive"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/classify"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/config"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/extract"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/pipeline"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/queue"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/store"
	anthropicpkg "github.com/nooglenTech/Investment-Intelligence-Platform/pkg/anthropic"
)

// appEnv holds the stores, queue and coordinator shared by serve and
// analyze.
type appEnv struct {
	Store       store.Store
	Archive     archive.Archive // nil when archival is skipped
	Queue       queue.Queue
	Coordinator *pipeline.Coordinator
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Queue != nil {
		if err := e.Queue.Close(); err != nil {
			zap.L().Warn("close queue", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// abandonBuffered fails the jobs of tasks still buffered in an in-process
// queue once its workers have stopped. Queues that persist tasks are left
// alone.
func (e *appEnv) abandonBuffered(ctx context.Context) int {
	d, ok := e.Queue.(queue.Drainer)
	if !ok || e.Coordinator == nil {
		return 0
	}
	if err := e.Queue.Close(); err != nil {
		zap.L().Warn("close queue", zap.Error(err))
	}
	tasks := d.Drain()
	if len(tasks) == 0 {
		return 0
	}
	n := e.Coordinator.Abandon(ctx, tasks, pipeline.ShutdownReason)
	zap.L().Warn("failed jobs still queued at shutdown", zap.Int("buffered", len(tasks)), zap.Int("failed", n))
	return n
}

// initEnv validates config for mode, opens and migrates the record store,
// and builds every pipeline capability. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string, qcfg config.QueueConfig) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	env := &appEnv{Store: st}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	if !cfg.Pipeline.SkipArchive {
		env.Archive, err = archive.New(ctx, cfg.Archive)
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "init archive")
		}
	} else {
		zap.L().Warn("archival disabled, completed jobs will have no archive location")
	}

	extractor, err := extract.NewExtractor(cfg.Extract)
	if err != nil {
		env.Close()
		return nil, err
	}

	client := anthropicpkg.NewClient(cfg.Anthropic.Key)
	limiter := newLimiter(cfg.Anthropic.RequestsPerSecond)
	analyzer, err := analyze.NewLLM(client, cfg.Anthropic, cfg.Pipeline.AnalyzePrefixChars, limiter)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init analyzer")
	}

	env.Queue, err = queue.New(qcfg)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init queue")
	}

	env.Coordinator, err = pipeline.New(cfg.Pipeline, pipeline.Deps{
		Store:      st,
		Archive:    env.Archive,
		Extractor:  extractor,
		Classifier: classify.NewLLM(client, cfg.Anthropic, limiter),
		Analyzer:   analyzer,
		Queue:      env.Queue,
	})
	if err != nil {
		env.Close()
		return nil, err
	}

	zap.L().Info("pipeline ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("archive", cfg.Archive.Provider),
		zap.Bool("skip_archive", cfg.Pipeline.SkipArchive),
		zap.String("extractor", cfg.Extract.Provider),
		zap.String("queue", qcfg.Backend),
	)
	return env, nil
}

// newLimiter shares one provider rate limit between the classifier and the
// analyzer. rps <= 0 disables limiting.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), int(math.Max(1, math.Ceil(rps))))
}
