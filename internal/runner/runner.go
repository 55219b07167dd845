package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/GoSim-25-26J-441/loopback-harness/pkg/config"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/logger"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/models"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/utils"
)

// Mode names the fixture operation a run dispatched to
type Mode string

const (
	ModeAnalyzed    Mode = "analyzed"
	ModeInteractive Mode = "interactive"
)

// RunResult is the outcome of one Run call
type RunResult struct {
	RunID  string
	Mode   Mode
	Report *models.QualityReport // nil for interactive runs
}

// Observer is called after every RunForever iteration
type Observer func(iteration int, result RunResult)

// Runner drives a fixture through single runs or an endless loop of runs.
type Runner struct {
	factory  FixtureFactory
	log      *slog.Logger
	observer Observer
	runID    string
}

// Option configures a Runner
type Option func(*Runner)

// WithLogger sets the base logger; run attributes are added to it
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithObserver sets the per-iteration observer of RunForever
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// WithRunID fixes the run id instead of generating one
func WithRunID(id string) Option {
	return func(r *Runner) { r.runID = id }
}

// New creates a Runner for the given factory
func New(factory FixtureFactory, opts ...Option) *Runner {
	r := &Runner{factory: factory}
	for _, opt := range opts {
		opt(r)
	}
	if r.runID == "" {
		r.runID = utils.GenerateRunID()
	}
	return r
}

// Run executes one test: RunAnalyzed when the scenario has a duration,
// RunInteractive otherwise. Exactly one of the two is called.
func (r *Runner) Run(ctx context.Context, s config.TestScenario) (RunResult, error) {
	return r.run(ctx, s, 1)
}

func (r *Runner) run(ctx context.Context, s config.TestScenario, iteration int) (RunResult, error) {
	result := RunResult{RunID: r.runID, Mode: ModeInteractive}
	if s.AnalyzedRun() {
		result.Mode = ModeAnalyzed
	}
	log := r.runLogger(result.Mode, iteration)

	fixture, err := r.factory.NewFixture(s.Clone())
	if err == nil && fixture == nil {
		err = ErrNoFixture
	}
	if err != nil {
		log.Error("fixture unavailable", "error", err)
		return result, &FixtureUnavailableError{Err: err}
	}
	if c, ok := fixture.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				log.Warn("failed to close fixture", "error", err)
			}
		}()
	}

	log.Info("starting run", "scenario", s.String())
	switch result.Mode {
	case ModeAnalyzed:
		report, err := fixture.RunAnalyzed(ctx, s.Clone())
		if err != nil {
			log.Error("analyzed run failed", "error", err)
			return result, fmt.Errorf("analyzed run: %w", err)
		}
		result.Report = report
		if report != nil {
			log.Info("analyzed run completed",
				"packets_sent", report.PacketsSent,
				"loss_ratio", report.LossRatio,
				"frames_rendered", report.FramesRendered,
				"delay_p95_ms", report.DelayP95Ms)
		}
	default:
		if err := fixture.RunInteractive(ctx, s.Clone()); err != nil {
			log.Error("interactive run failed", "error", err)
			return result, fmt.Errorf("interactive run: %w", err)
		}
		log.Info("interactive run ended")
	}
	return result, nil
}

func (r *Runner) runLogger(mode Mode, iteration int) *slog.Logger {
	if r.log == nil {
		return logger.ForRun(r.runID, string(mode), iteration)
	}
	return r.log.With("run_id", r.runID, "mode", string(mode), "iteration", iteration)
}

// RunForever repeats Run with the same scenario, without pause, until ctx is
// done or an iteration fails. It returns ctx.Err() or the failing iteration's error.
func (r *Runner) RunForever(ctx context.Context, s config.TestScenario) error {
	for iteration := 1; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := r.run(ctx, s, iteration)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("iteration %d: %w", iteration, err)
		}
		if r.observer != nil {
			r.observer(iteration, result)
		}
	}
}

// Run is a convenience wrapper around New(factory).Run.
func Run(ctx context.Context, s config.TestScenario, factory FixtureFactory) (RunResult, error) {
	return New(factory).Run(ctx, s)
}

// RunForever is a convenience wrapper around New(factory, opts...).RunForever.
func RunForever(ctx context.Context, s config.TestScenario, factory FixtureFactory, opts ...Option) error {
	return New(factory, opts...).RunForever(ctx, s)
}
