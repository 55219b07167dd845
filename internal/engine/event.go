package engine

import (
	"container/heap"
	"sync"
	"time"
)

// EventType represents the type of simulation event
type EventType string

const (
	// EventTypeFrameCapture represents the capturer delivering a raw frame
	EventTypeFrameCapture EventType = "frame_capture"

	// EventTypePacketSend represents a packet leaving the sender's pacer
	EventTypePacketSend EventType = "packet_send"

	// EventTypePacketDeliver represents a packet arriving at the receiver
	EventTypePacketDeliver EventType = "packet_deliver"

	// EventTypeStatsSample represents a periodic statistics sample
	EventTypeStatsSample EventType = "stats_sample"

	// EventTypeSimulationEnd represents the end of the simulation
	EventTypeSimulationEnd EventType = "simulation_end"
)

// Event represents a discrete event in the simulation
type Event struct {
	ID       string    `json:"id"`
	Type     EventType `json:"type"`
	Time     time.Time `json:"time"`
	Priority int       `json:"priority"` // Lower values = higher priority
	Stream   int       `json:"stream"`
	Payload  any       `json:"-"`

	seq uint64
}

// EventQueue is a priority queue of events ordered by time, priority and
// insertion order
type EventQueue struct {
	events []*Event
	seq    uint64
	mu     sync.RWMutex
}

// NewEventQueue creates a new event queue
func NewEventQueue() *EventQueue {
	eq := &EventQueue{
		events: make([]*Event, 0),
	}
	heap.Init(eq)
	return eq
}

// Len returns the number of events in the queue
func (eq *EventQueue) Len() int {
	return len(eq.events)
}

// Less compares two events by time, priority and insertion order
func (eq *EventQueue) Less(i, j int) bool {
	a, b := eq.events[i], eq.events[j]
	if !a.Time.Equal(b.Time) {
		return a.Time.Before(b.Time)
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.seq < b.seq
}

// Swap swaps two events in the queue
func (eq *EventQueue) Swap(i, j int) {
	eq.events[i], eq.events[j] = eq.events[j], eq.events[i]
}

// Push adds an event to the queue
func (eq *EventQueue) Push(x any) {
	eq.events = append(eq.events, x.(*Event))
}

// Pop removes and returns the next event from the queue
func (eq *EventQueue) Pop() any {
	old := eq.events
	n := len(old)
	event := old[n-1]
	old[n-1] = nil // avoid memory leak
	eq.events = old[0 : n-1]
	return event
}

// Schedule adds an event to the queue (thread-safe)
func (eq *EventQueue) Schedule(event *Event) {
	eq.mu.Lock()
	defer eq.mu.Unlock()
	eq.seq++
	event.seq = eq.seq
	heap.Push(eq, event)
}

// Next removes and returns the next event (thread-safe)
func (eq *EventQueue) Next() *Event {
	eq.mu.Lock()
	defer eq.mu.Unlock()
	if eq.Len() == 0 {
		return nil
	}
	return heap.Pop(eq).(*Event)
}

// Clear removes all events from the queue (thread-safe)
func (eq *EventQueue) Clear() {
	eq.mu.Lock()
	defer eq.mu.Unlock()
	eq.events = make([]*Event, 0)
	heap.Init(eq)
}

// Size returns the current queue size (thread-safe)
func (eq *EventQueue) Size() int {
	eq.mu.RLock()
	defer eq.mu.RUnlock()
	return eq.Len()
}
