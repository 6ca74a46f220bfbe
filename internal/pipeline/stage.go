package pipeline

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Stage names a step of the processing state machine.
type Stage string

const (
	StageEnqueue  Stage = "enqueue"
	StageExtract  Stage = "extract"
	StageClassify Stage = "classify"
	StageArchive  Stage = "archive"
	StageAnalyze  Stage = "analyze"
)

// StageError records which stage failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	msg := e.Err.Error()
	prefix := string(e.Stage) + ": "
	if strings.HasPrefix(msg, prefix) {
		return msg
	}
	return prefix + msg
}

func (e *StageError) Unwrap() error { return e.Err }

// runStage runs fn under a timeout and converts panics into stage errors.
// fn runs on its own goroutine so a stage that ignores ctx still cannot
// hold the job past its deadline.
func runStage[T any](ctx context.Context, stage Stage, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				zap.L().Error("pipeline: stage panic",
					zap.String("stage", string(stage)),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				ch <- result{err: eris.Errorf("panic: %v", r)}
			}
		}()
		val, err := fn(ctx)
		ch <- result{val: val, err: err}
	}()

	var zero T
	select {
	case res := <-ch:
		if res.err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				res.err = eris.Wrapf(res.err, "timed out after %s", timeout)
			}
			return zero, &StageError{Stage: stage, Err: res.err}
		}
		return res.val, nil
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = eris.Wrapf(err, "timed out after %s", timeout)
		}
		return zero, &StageError{Stage: stage, Err: err}
	}
}
