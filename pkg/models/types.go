package models

import (
	"sync"
	"time"
)

// RunStatus represents the status of a loopback run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether no further transitions can happen
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// QualityReport is the outcome of an analyzed loopback run
type QualityReport struct {
	TestLabel  string        `json:"test_label"`
	GraphTitle string        `json:"graph_title,omitempty"`
	Codec      string        `json:"codec"`
	Duration   time.Duration `json:"duration"`

	PacketsSent     int64   `json:"packets_sent"`
	PacketsReceived int64   `json:"packets_received"`
	PacketsLost     int64   `json:"packets_lost"`
	PacketsDropped  int64   `json:"packets_dropped"` // queue overflow, counted in PacketsLost
	LossRatio       float64 `json:"loss_ratio"`
	FECPackets      int64   `json:"fec_packets"`
	FECOverhead     float64 `json:"fec_overhead"`

	FramesSent     int64 `json:"frames_sent"`
	FramesRendered int64 `json:"frames_rendered"`
	FramesDropped  int64 `json:"frames_dropped"`
	Freezes        int64 `json:"freezes"`

	DelayMeanMs float64 `json:"delay_mean_ms"`
	DelayP50Ms  float64 `json:"delay_p50_ms"`
	DelayP95Ms  float64 `json:"delay_p95_ms"`
	DelayP99Ms  float64 `json:"delay_p99_ms"`

	SentBitrateKbps     float64 `json:"sent_bitrate_kbps"`
	ReceivedBitrateKbps float64 `json:"received_bitrate_kbps"`

	Streams []*StreamReport `json:"streams,omitempty"`

	// Metrics summarises the sampled time series behind the graph output
	Metrics *MetricsSummary `json:"metrics,omitempty"`
}

// StreamReport is the per-stream share of a QualityReport
type StreamReport struct {
	Index               int     `json:"index"`
	SSRC                uint32  `json:"ssrc"`
	Width               int     `json:"width"`
	Height              int     `json:"height"`
	PacketsSent         int64   `json:"packets_sent"`
	PacketsReceived     int64   `json:"packets_received"`
	FramesSent          int64   `json:"frames_sent"`
	FramesRendered      int64   `json:"frames_rendered"`
	Freezes             int64   `json:"freezes"`
	DelayMeanMs         float64 `json:"delay_mean_ms"`
	ReceivedBitrateKbps float64 `json:"received_bitrate_kbps"`
}

// RendererStats counts frames shown by an interactive renderer (thread-safe)
type RendererStats struct {
	Name      string
	frames    int64
	bytes     int64
	lastFrame time.Time
	mu        sync.RWMutex
}

// RecordFrame adds one rendered frame of the given size
func (r *RendererStats) RecordFrame(size int, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames++
	r.bytes += int64(size)
	r.lastFrame = at
}

// Snapshot returns the counters and resets them
func (r *RendererStats) Snapshot() (frames, bytes int64, lastFrame time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	frames, bytes, lastFrame = r.frames, r.bytes, r.lastFrame
	r.frames, r.bytes = 0, 0
	return frames, bytes, lastFrame
}

// MetricPoint represents a single metric data point
type MetricPoint struct {
	Timestamp time.Time         `json:"timestamp"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// MetricsSummary aggregates every sampled series of a run, across labels
type MetricsSummary struct {
	StartTime    time.Time               `json:"start_time"`
	EndTime      time.Time               `json:"end_time"`
	Duration     time.Duration           `json:"duration"`
	Aggregations map[string]*Aggregation `json:"aggregations,omitempty"`
}

// Aggregation represents aggregated statistics for a metric
type Aggregation struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}
