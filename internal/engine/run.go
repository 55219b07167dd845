package engine

import (
	"context"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/loopback-harness/pkg/models"
)

// RunManager manages the lifecycle of a simulation run
type RunManager struct {
	runID     string
	status    models.RunStatus
	startTime time.Time
	endTime   time.Time
	err       error
	processed map[EventType]int64
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewRunManager creates a new run manager
func NewRunManager(runID string) *RunManager {
	ctx, cancel := context.WithCancel(context.Background())

	return &RunManager{
		runID:     runID,
		status:    models.RunStatusPending,
		processed: make(map[EventType]int64),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// RunID returns the id of the managed run
func (rm *RunManager) RunID() string {
	return rm.runID
}

// Start marks the run as started
func (rm *RunManager) Start() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.status = models.RunStatusRunning
	rm.startTime = time.Now()
}

// Complete marks the run as completed
func (rm *RunManager) Complete() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.status = models.RunStatusCompleted
	rm.endTime = time.Now()
}

// Fail marks the run as failed
func (rm *RunManager) Fail(err error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.status = models.RunStatusFailed
	rm.endTime = time.Now()
	rm.err = err
}

// Cancel cancels the run
func (rm *RunManager) Cancel() {
	rm.mu.Lock()
	if !rm.status.Terminal() {
		rm.status = models.RunStatusCancelled
		rm.endTime = time.Now()
	}
	rm.mu.Unlock()
	rm.cancel()
}

// Context returns the run's context
func (rm *RunManager) Context() context.Context {
	return rm.ctx
}

// Status returns the current status (thread-safe)
func (rm *RunManager) Status() models.RunStatus {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.status
}

// Err returns the failure recorded by Fail
func (rm *RunManager) Err() error {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.err
}

// RecordEvent counts one processed event of the given type
func (rm *RunManager) RecordEvent(t EventType) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.processed[t]++
}

// Processed returns how many events of the given type were handled
func (rm *RunManager) Processed(t EventType) int64 {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.processed[t]
}

// GetStats returns current run statistics
func (rm *RunManager) GetStats() map[string]any {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var total int64
	byType := make(map[string]int64, len(rm.processed))
	for t, n := range rm.processed {
		byType[string(t)] = n
		total += n
	}

	elapsed := time.Duration(0)
	switch {
	case !rm.endTime.IsZero():
		elapsed = rm.endTime.Sub(rm.startTime)
	case !rm.startTime.IsZero():
		elapsed = time.Since(rm.startTime)
	}

	return map[string]any{
		"status":         rm.status,
		"elapsed":        elapsed.String(),
		"events_handled": total,
		"events_by_type": byType,
	}
}
