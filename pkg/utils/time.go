package utils

import (
	"sync"
	"time"
)

// SimTime represents simulation time
type SimTime struct {
	mu      sync.RWMutex
	current time.Time
}

// NewSimTime creates a new simulation time starting at the given time
func NewSimTime(start time.Time) *SimTime {
	return &SimTime{current: start}
}

// Now returns the current simulation time
func (st *SimTime) Now() time.Time {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current
}

// Set sets the simulation time to the given time
func (st *SimTime) Set(t time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.current = t
}

// Since returns the duration since the given time
func (st *SimTime) Since(t time.Time) time.Duration {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current.Sub(t)
}

// TimeToMs converts time.Duration to milliseconds
func TimeToMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
