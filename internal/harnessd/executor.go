// Package harnessd serves loopback runs over HTTP and gRPC.
package harnessd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/GoSim-25-26J-441/loopback-harness/internal/runner"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/config"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/logger"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/models"
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrRunExists    = errors.New("run already exists")
	ErrRunTerminal  = errors.New("run is terminal")
	ErrRunIDMissing = errors.New("run_id is required")
	ErrTooManyRuns  = errors.New("too many active runs")
)

// CreateRequest describes a run to start. Scenario options come either as a
// map or as YAML text; the map wins when both are set.
type CreateRequest struct {
	RunID        string         `json:"run_id,omitempty"`
	Overrides    map[string]any `json:"scenario,omitempty"`
	ScenarioYAML string         `json:"scenario_yaml,omitempty"`
	Forever      bool           `json:"forever,omitempty"`
	CallbackURL  string         `json:"callback_url,omitempty"`
}

// BuildScenario resolves the request's options into a validated scenario
func (r *CreateRequest) BuildScenario() (config.TestScenario, error) {
	if r.Overrides == nil && r.ScenarioYAML != "" {
		overrides, err := config.ParseOverridesYAML([]byte(r.ScenarioYAML))
		if err != nil {
			return config.TestScenario{}, fmt.Errorf("%w: %v", config.ErrInvalidScenario, err)
		}
		r.Overrides = overrides
	}
	return config.BuildScenario(r.Overrides)
}

// RunExecutor manages asynchronous run execution and per-run cancellation.
type RunExecutor struct {
	store    *RunStore
	factory  runner.FixtureFactory
	notifier *Notifier
	maxRuns  int

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunExecutor creates an executor. maxRuns bounds concurrently running
// runs, 0 means unlimited. notifier may be nil.
func NewRunExecutor(store *RunStore, factory runner.FixtureFactory, notifier *Notifier, maxRuns int) *RunExecutor {
	return &RunExecutor{
		store:    store,
		factory:  factory,
		notifier: notifier,
		maxRuns:  maxRuns,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Submit builds the scenario, records the run and starts it.
func (e *RunExecutor) Submit(req CreateRequest) (RunRecord, error) {
	scenario, err := req.BuildScenario()
	if err != nil {
		return RunRecord{}, err
	}
	if req.CallbackURL != "" {
		if err := validateCallbackURL(req.CallbackURL); err != nil {
			return RunRecord{}, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.maxRuns > 0 && len(e.cancels) >= e.maxRuns {
		return RunRecord{}, fmt.Errorf("%w: limit is %d", ErrTooManyRuns, e.maxRuns)
	}

	rec, err := e.store.Create(req.RunID, req, scenario)
	if err != nil {
		return RunRecord{}, err
	}
	updated, err := e.store.SetStatus(rec.Run.ID, models.RunStatusRunning, "")
	if err != nil {
		return RunRecord{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancels[rec.Run.ID] = cancel
	e.wg.Add(1)
	go e.execute(ctx, updated)
	return updated, nil
}

// Stop requests cancellation for a running run and marks it cancelled.
func (e *RunExecutor) Stop(runID string) (RunRecord, error) {
	if runID == "" {
		return RunRecord{}, ErrRunIDMissing
	}

	updated, err := e.store.SetStatus(runID, models.RunStatusCancelled, "")
	if err != nil {
		return updated, err
	}

	e.mu.Lock()
	cancel, ok := e.cancels[runID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return updated, nil
}

// Shutdown cancels every active run and waits for them to finish or for ctx.
func (e *RunExecutor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	ids := make([]string, 0, len(e.cancels))
	for id := range e.cancels {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	for _, id := range ids {
		if _, err := e.Stop(id); err != nil && !errors.Is(err, ErrRunTerminal) {
			logger.Warn("failed to stop run", "run_id", id, "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the number of running runs
func (e *RunExecutor) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cancels)
}

func (e *RunExecutor) cleanup(runID string) {
	e.mu.Lock()
	if cancel, ok := e.cancels[runID]; ok {
		cancel()
		delete(e.cancels, runID)
	}
	e.mu.Unlock()
}

func (e *RunExecutor) execute(ctx context.Context, rec RunRecord) {
	defer e.wg.Done()
	defer e.cleanup(rec.Run.ID)

	runID := rec.Run.ID
	r := runner.New(e.factory,
		runner.WithRunID(runID),
		runner.WithObserver(func(iteration int, result runner.RunResult) {
			if err := e.store.SetReport(runID, iteration, result.Report); err != nil {
				logger.Error("failed to store report", "run_id", runID, "error", err)
			}
		}))

	var err error
	if rec.Run.Forever {
		err = r.RunForever(ctx, rec.Scenario)
	} else {
		var result runner.RunResult
		result, err = r.Run(ctx, rec.Scenario)
		if err == nil {
			if setErr := e.store.SetReport(runID, 1, result.Report); setErr != nil {
				logger.Error("failed to store report", "run_id", runID, "error", setErr)
			}
		}
	}

	switch {
	case ctx.Err() != nil:
		logger.Info("run cancelled", "run_id", runID)
	case err != nil:
		logger.Error("run failed", "run_id", runID, "error", err)
		if _, setErr := e.store.SetStatus(runID, models.RunStatusFailed, err.Error()); setErr != nil {
			logger.Error("failed to set failed status", "run_id", runID, "error", setErr)
		}
	default:
		if _, setErr := e.store.SetStatus(runID, models.RunStatusCompleted, ""); setErr != nil {
			logger.Error("failed to set completed status", "run_id", runID, "error", setErr)
		} else {
			logger.Info("run completed", "run_id", runID)
		}
	}

	if final, ok := e.store.Get(runID); ok && e.notifier != nil {
		e.notifier.Notify(final)
	}
}
