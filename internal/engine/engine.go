package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/GoSim-25-26J-441/loopback-harness/pkg/logger"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/utils"
)

// ErrCancelled is returned by Run when the simulation was stopped early
var ErrCancelled = errors.New("simulation cancelled")

// Engine is the discrete-event simulation engine
type Engine struct {
	eventQueue    *EventQueue
	runManager    *RunManager
	simTime       *utils.SimTime
	handlers      map[EventType]EventHandler
	logger        *slog.Logger
	eventCounter  int64
	realTimeStart time.Time // Real-time start for throttling
	realTimeMode  bool      // If true, throttle simulation to run in real-time
}

// EventHandler is a function that handles a specific event type
type EventHandler func(*Engine, *Event) error

// NewEngine creates a new simulation engine. Simulation time starts at start.
func NewEngine(runID string, start time.Time) *Engine {
	return &Engine{
		eventQueue: NewEventQueue(),
		runManager: NewRunManager(runID),
		simTime:    utils.NewSimTime(start),
		handlers:   make(map[EventType]EventHandler),
		logger:     logger.Default,
	}
}

// SetLogger sets the engine's logger
func (e *Engine) SetLogger(l *slog.Logger) {
	e.logger = l
}

// SetRealTimeMode enables or disables real-time throttling
func (e *Engine) SetRealTimeMode(enabled bool) {
	e.realTimeMode = enabled
}

// RegisterHandler registers an event handler
func (e *Engine) RegisterHandler(eventType EventType, handler EventHandler) {
	e.handlers[eventType] = handler
}

// ScheduleEvent schedules an event
func (e *Engine) ScheduleEvent(event *Event) {
	counter := atomic.AddInt64(&e.eventCounter, 1)
	if event.ID == "" {
		event.ID = fmt.Sprintf("evt-%d", counter)
	}
	e.eventQueue.Schedule(event)
}

// ScheduleAt schedules an event at a specific simulation time
func (e *Engine) ScheduleAt(eventType EventType, simTime time.Time, stream int, payload any) {
	e.ScheduleEvent(&Event{
		Type:    eventType,
		Time:    simTime,
		Stream:  stream,
		Payload: payload,
	})
}

// ScheduleAfter schedules an event after a duration from current simulation time
func (e *Engine) ScheduleAfter(eventType EventType, delay time.Duration, stream int, payload any) {
	e.ScheduleAt(eventType, e.simTime.Now().Add(delay), stream, payload)
}

// Run executes the simulation for duration of simulated time. It returns
// ErrCancelled when ctx is done or Stop is called first.
func (e *Engine) Run(ctx context.Context, duration time.Duration) error {
	e.logger.Debug("Starting simulation",
		"run_id", e.runManager.RunID(),
		"duration", duration,
		"real_time_mode", e.realTimeMode)

	e.runManager.Start()

	startTime := e.simTime.Now()
	endTime := startTime.Add(duration)
	e.realTimeStart = time.Now()

	// The end event sorts after everything else scheduled at endTime.
	e.ScheduleEvent(&Event{Type: EventTypeSimulationEnd, Time: endTime, Priority: 1 << 30})

	for {
		select {
		case <-ctx.Done():
			e.runManager.Cancel()
			return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		case <-e.runManager.Context().Done():
			return ErrCancelled
		default:
		}

		event := e.eventQueue.Next()
		if event == nil {
			// Nothing left to happen before the end.
			e.simTime.Set(endTime)
			break
		}

		previousSimTime := e.simTime.Now()
		if event.Time.Before(previousSimTime) {
			// Late events run at the current time; the clock never goes back.
			event.Time = previousSimTime
		}
		e.simTime.Set(event.Time)

		if e.realTimeMode && event.Time.After(previousSimTime) {
			e.throttle(startTime)
		}

		if event.Type == EventTypeSimulationEnd {
			break
		}

		handler, ok := e.handlers[event.Type]
		if !ok {
			e.logger.Warn("No handler for event type",
				"event_type", event.Type,
				"event_id", event.ID)
			continue
		}
		e.runManager.RecordEvent(event.Type)
		if err := handler(e, event); err != nil {
			e.logger.Error("Event handler error",
				"event_id", event.ID,
				"type", event.Type,
				"error", err)
		}
	}

	e.runManager.Complete()
	e.logger.Debug("Simulation completed",
		"run_id", e.runManager.RunID(),
		"sim_duration", e.simTime.Since(startTime),
		"events_scheduled", atomic.LoadInt64(&e.eventCounter))
	return nil
}

// throttle sleeps until wall-clock time catches up with simulation time.
func (e *Engine) throttle(startTime time.Time) {
	elapsedRealTime := time.Since(e.realTimeStart)
	elapsedSimTime := e.simTime.Since(startTime)
	if elapsedRealTime >= elapsedSimTime {
		return
	}
	wait := elapsedSimTime - elapsedRealTime
	// Cap wait time to avoid excessive delays (max 1 second per event)
	if wait > time.Second {
		wait = time.Second
	}
	time.Sleep(wait)
}

// GetSimTime returns the current simulation time
func (e *Engine) GetSimTime() time.Time {
	return e.simTime.Now()
}

// GetRunManager returns the run manager
func (e *Engine) GetRunManager() *RunManager {
	return e.runManager
}

// Stop stops the simulation
func (e *Engine) Stop() {
	e.runManager.Cancel()
	e.eventQueue.Clear()
}

// GetStats returns current simulation statistics
func (e *Engine) GetStats() map[string]any {
	stats := e.runManager.GetStats()
	stats["sim_time"] = e.simTime.Now().Format(time.RFC3339Nano)
	stats["events_in_queue"] = e.eventQueue.Size()
	stats["events_scheduled"] = atomic.LoadInt64(&e.eventCounter)
	return stats
}
