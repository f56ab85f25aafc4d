package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"go.opentelemetry.io/otel/trace"

	"github.com/ksachdeva/probability/pkg/logging"
	"github.com/ksachdeva/probability/pkg/mcmc"
	"github.com/ksachdeva/probability/pkg/models"
	"github.com/ksachdeva/probability/pkg/store"
	"github.com/ksachdeva/probability/pkg/tracing"
)

var (
	runsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "probability_runs_started_total",
		Help: "Total number of runs claimed by workers",
	})
	runsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "probability_runs_finished_total",
		Help: "Total number of runs finished, by final status",
	}, []string{"status"})
	drawsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "probability_draws_persisted_total",
		Help: "Total number of surfaced draws written to the store",
	})
)

// errRunCanceled aborts a chain when its run was canceled in the store.
var errRunCanceled = errors.New("run canceled")

// Config holds runner configuration
type Config struct {
	Workers      int           // 0 means one worker per logical CPU
	PollInterval time.Duration // queue polling interval when idle
	BatchSize    int           // draws per store write
}

// DefaultConfig returns sensible defaults for the runner
func DefaultConfig() Config {
	return Config{
		PollInterval: 2 * time.Second,
		BatchSize:    100,
	}
}

// Runner executes queued sampling runs against the store. Each worker
// claims one run at a time, advances its chain, and persists surfaced
// draws in batches.
type Runner struct {
	store   store.Store
	logger  *logging.Logger
	tracer  *tracing.Provider
	config  Config
	wg      sync.WaitGroup
	stopped chan struct{}
}

// New creates a runner. When cfg.Workers is zero the worker count
// defaults to the number of logical CPUs.
func New(st store.Store, logger *logging.Logger, tracer *tracing.Provider, cfg Config) *Runner {
	if cfg.Workers <= 0 {
		count, err := cpu.Counts(true)
		if err != nil || count < 1 {
			count = 1
		}
		cfg.Workers = count
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Runner{
		store:   st,
		logger:  logger,
		tracer:  tracer,
		config:  cfg,
		stopped: make(chan struct{}),
	}
}

// Start launches the worker goroutines. It returns immediately; use
// Stop to drain the workers.
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("Starting run workers", map[string]interface{}{
		"workers":       r.config.Workers,
		"poll_interval": r.config.PollInterval.String(),
		"batch_size":    r.config.BatchSize,
	})

	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.workerLoop(ctx, i)
	}
}

// Stop waits for all workers to finish their current run and exit.
// The context passed to Start must be canceled first.
func (r *Runner) Stop() {
	r.wg.Wait()
	close(r.stopped)
	r.logger.Info("All run workers stopped")
}

// Done returns a channel closed once all workers have exited.
func (r *Runner) Done() <-chan struct{} {
	return r.stopped
}

func (r *Runner) workerLoop(ctx context.Context, id int) {
	defer r.wg.Done()

	log := r.logger.WithField("worker", id)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		run, err := r.store.ClaimNextRun()
		if err != nil {
			log.Error("Failed to claim run", map[string]interface{}{"error": err.Error()})
			r.sleep(ctx, r.config.PollInterval)
			continue
		}
		if run == nil {
			r.sleep(ctx, r.config.PollInterval)
			continue
		}

		runsStarted.Inc()
		log.Info("Claimed run", map[string]interface{}{
			"run_id": run.ID,
			"target": run.Spec.Target,
			"draws":  run.Spec.NumResults,
		})

		if err := r.executeRun(ctx, run); err != nil {
			r.finishRun(log, run.ID, err)
		} else {
			r.finishRun(log, run.ID, nil)
		}
	}
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// executeRun builds the kernel stack described by the run's spec and
// drives the chain, persisting surfaced draws as it goes.
func (r *Runner) executeRun(ctx context.Context, run *models.Run) error {
	runCtx := ctx
	if r.tracer != nil {
		var span trace.Span
		runCtx, span = r.tracer.StartRunSpan(ctx, run.ID, run.Spec.Target)
		defer span.End()
	}

	kernel, initial, err := buildKernel(run.Spec)
	if err != nil {
		return fmt.Errorf("invalid kernel spec: %w", err)
	}

	var (
		batch    []*models.Sample
		surfaced int
		accepted int
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.store.AppendSamples(run.ID, batch); err != nil {
			return fmt.Errorf("failed to persist draws: %w", err)
		}
		drawsPersisted.Add(float64(len(batch)))
		batch = batch[:0]

		rate := 0.0
		if surfaced > 0 {
			rate = float64(accepted) / float64(surfaced)
		}
		if err := r.store.SetRunProgress(run.ID, surfaced, rate); err != nil {
			return fmt.Errorf("failed to update progress: %w", err)
		}

		current, err := r.store.GetRun(run.ID)
		if err != nil {
			return fmt.Errorf("failed to check run status: %w", err)
		}
		if current.Status == models.RunStatusCanceled {
			return errRunCanceled
		}
		return nil
	}

	_, _, err = mcmc.RunChainFunc(runCtx, kernel, initial, run.Spec.NumResults, func(i int, state mcmc.State, results mcmc.KernelResults) error {
		leaf, ok := mcmc.LeafResults(results).(mcmc.RandomWalkResults)
		if !ok {
			return fmt.Errorf("unexpected leaf results type %T", mcmc.LeafResults(results))
		}

		surfaced++
		if leaf.Accepted {
			accepted++
		}
		batch = append(batch, &models.Sample{
			RunID:         run.ID,
			Index:         i,
			State:         state.Clone(),
			TargetLogProb: leaf.TargetLogProb,
			Accepted:      leaf.Accepted,
		})

		if len(batch) >= r.config.BatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		tracing.SetError(runCtx, err)
		return err
	}

	if err := flush(); err != nil {
		tracing.SetError(runCtx, err)
		return err
	}
	return nil
}

// finishRun records the run's terminal state in the store.
func (r *Runner) finishRun(log *logging.Logger, runID string, runErr error) {
	switch {
	case runErr == nil:
		if err := r.store.UpdateRunStatus(runID, models.RunStatusCompleted, ""); err != nil {
			log.Error("Failed to mark run completed", map[string]interface{}{
				"run_id": runID, "error": err.Error(),
			})
			return
		}
		runsFinished.WithLabelValues(string(models.RunStatusCompleted)).Inc()
		log.Info("Run completed", map[string]interface{}{"run_id": runID})

	case errors.Is(runErr, errRunCanceled):
		// Cancellation was recorded by whoever requested it.
		runsFinished.WithLabelValues(string(models.RunStatusCanceled)).Inc()
		log.Info("Run canceled", map[string]interface{}{"run_id": runID})

	case errors.Is(runErr, context.Canceled):
		if err := r.store.UpdateRunStatus(runID, models.RunStatusCanceled, "worker shutdown"); err != nil {
			log.Error("Failed to mark run canceled", map[string]interface{}{
				"run_id": runID, "error": err.Error(),
			})
			return
		}
		runsFinished.WithLabelValues(string(models.RunStatusCanceled)).Inc()
		log.Warn("Run interrupted by shutdown", map[string]interface{}{"run_id": runID})

	default:
		if err := r.store.UpdateRunStatus(runID, models.RunStatusFailed, runErr.Error()); err != nil {
			log.Error("Failed to mark run failed", map[string]interface{}{
				"run_id": runID, "error": err.Error(),
			})
			return
		}
		runsFinished.WithLabelValues(string(models.RunStatusFailed)).Inc()
		log.Error("Run failed", map[string]interface{}{
			"run_id": runID, "error": runErr.Error(),
		})
	}
}

// buildKernel assembles the discarding kernel stack from a run spec.
func buildKernel(spec models.KernelSpec) (mcmc.TransitionKernel, mcmc.State, error) {
	target, err := mcmc.TargetByName(spec.Target)
	if err != nil {
		return nil, nil, err
	}

	inner, err := mcmc.NewRandomWalkMetropolis(target, spec.StepSize, spec.Seed)
	if err != nil {
		return nil, nil, err
	}

	kernel, err := mcmc.NewSampleDiscardingKernel(inner, spec.BurninSteps, spec.StepsBetweenResults)
	if err != nil {
		return nil, nil, err
	}

	return kernel, make(mcmc.State, spec.Dims), nil
}
