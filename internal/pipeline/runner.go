package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"

	perrors "github.com/kohki-shikata/psbg-boilerplate/internal/errors"
	"github.com/kohki-shikata/psbg-boilerplate/internal/logging"
	"github.com/kohki-shikata/psbg-boilerplate/internal/metrics"
)

// Runner executes task graphs.
type Runner struct {
	logger      logging.Logger
	recorder    metrics.Recorder
	maxParallel int
}

// Option configures a Runner.
type Option func(*Runner)

// WithRecorder sets the metrics recorder. The default records nothing.
func WithRecorder(rec metrics.Recorder) Option {
	return func(r *Runner) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithMaxParallel caps the goroutines used by each Parallel node.
// Zero or less means one goroutine per child.
func WithMaxParallel(n int) Option {
	return func(r *Runner) { r.maxParallel = n }
}

// NewRunner creates a Runner logging through logger.
func NewRunner(logger logging.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = logging.Nop()
	}
	r := &Runner{
		logger:   logger.WithComponent("pipeline"),
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes t and records the outcome of the whole run.
func (r *Runner) Run(ctx context.Context, t Task) error {
	start := time.Now()
	err := r.run(ctx, t)
	duration := time.Since(start)

	r.recorder.ObserveBuildDuration(duration)
	r.recorder.IncBuildOutcome(resultOf(err))

	if err != nil {
		r.logger.Error(ctx, err, "Pipeline failed", "task", t.Name, "duration", duration.String())
		return err
	}
	r.logger.Info(ctx, "Pipeline finished", "task", t.Name, "duration", duration.String())
	return nil
}

func (r *Runner) run(ctx context.Context, t Task) error {
	switch t.Kind {
	case KindSeries:
		return r.runSeries(ctx, t)
	case KindParallel:
		return r.runParallel(ctx, t)
	default:
		return r.runLeaf(ctx, t)
	}
}

func (r *Runner) runSeries(ctx context.Context, t Task) error {
	for _, child := range t.Children {
		if err := r.run(ctx, child); err != nil {
			return err
		}
	}
	return nil
}

// runParallel runs every child to completion. A failing branch does not
// cancel its siblings.
func (r *Runner) runParallel(ctx context.Context, t Task) error {
	collector := perrors.NewStageCollector(t.Name)

	p := pool.New()
	if r.maxParallel > 0 {
		p = p.WithMaxGoroutines(r.maxParallel)
	}
	for _, child := range t.Children {
		p.Go(func() {
			if err := r.run(ctx, child); err != nil {
				r.logger.Error(ctx, err, "Parallel branch failed", "parallel", t.Name, "branch", child.Name)
				collector.Add(child.Name, err)
			}
		})
	}
	p.Wait()

	return collector.Err()
}

func (r *Runner) runLeaf(ctx context.Context, t Task) (err error) {
	logger := r.logger.With("stage", t.Name)

	if ctxErr := ctx.Err(); ctxErr != nil {
		r.recorder.IncStageResult(t.Name, metrics.ResultCanceled)
		return ctxErr
	}
	if t.Fn == nil {
		return perrors.NewInternalError(perrors.ErrCodeInternalError, "task has no function", nil).WithStage(t.Name)
	}

	op := logging.StartOperation(logger, "stage")
	logger.Debug(ctx, "Stage started")

	defer func() {
		if rec := recover(); rec != nil {
			err = perrors.NewInternalError(perrors.ErrCodeInternalError, fmt.Sprintf("stage panicked: %v", rec), nil)
		}
		err = annotate(t.Name, err)

		r.recorder.ObserveStageDuration(t.Name, op.Elapsed())
		r.recorder.IncStageResult(t.Name, resultOf(err))

		if err != nil {
			op.EndWithError(ctx, err)
			return
		}
		op.End(ctx)
	}()

	return t.Fn(ctx)
}

// annotate tags err with the stage it came from.
func annotate(stage string, err error) error {
	if err == nil {
		return nil
	}
	var e *perrors.Error
	if errors.As(err, &e) && e.Stage == "" {
		e.WithStage(stage)
		return err
	}
	if e != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return perrors.NewBuildError(perrors.ErrCodeStageFailed, "stage failed", err).WithStage(stage)
}

func resultOf(err error) metrics.ResultLabel {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.ResultCanceled
	default:
		return metrics.ResultFailed
	}
}
