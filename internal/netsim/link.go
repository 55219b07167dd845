package netsim

import (
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/loopback-harness/pkg/config"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/utils"
)

// Config describes the impairments of a one-way link
type Config struct {
	LossPercent        int
	AvgBurstLossLength int
	CapacityKbps       int // 0 = unlimited
	QueueLengthPackets int // 0 = unlimited
	AvgDelay           time.Duration
	StdDelay           time.Duration
	AllowReordering    bool
}

// ConfigFromScenario extracts the link impairments of a scenario
func ConfigFromScenario(s config.TestScenario) Config {
	return Config{
		LossPercent:        s.LossPercent,
		AvgBurstLossLength: s.AvgBurstLossLength,
		CapacityKbps:       s.LinkCapacityKbps,
		QueueLengthPackets: s.QueueLengthPackets,
		AvgDelay:           time.Duration(s.AvgPropagationDelayMs) * time.Millisecond,
		StdDelay:           time.Duration(s.StdPropagationDelayMs) * time.Millisecond,
		AllowReordering:    s.AllowReordering,
	}
}

// DropReason says why a packet did not arrive
type DropReason string

const (
	DropNone      DropReason = ""
	DropQueueFull DropReason = "queue_full"
	DropLoss      DropReason = "loss"
)

// Delivery is the fate of one packet handed to the link
type Delivery struct {
	Dropped bool
	Reason  DropReason
	Arrival time.Time
}

// LinkStats counts what went through a link
type LinkStats struct {
	PacketsSent      int64
	PacketsDelivered int64
	PacketsLost      int64
	PacketsDropped   int64 // tail drops, not included in PacketsLost
	BytesSent        int64
	BytesDelivered   int64
	MaxQueueLength   int
}

// Link simulates a capacity-limited link with a finite FIFO queue, random
// loss and gaussian propagation delay. It runs on caller-provided time so it
// can be driven by a discrete-event engine.
type Link struct {
	mu sync.Mutex

	cfg  Config
	loss LossModel
	rng  *utils.RandSource

	busyUntil   time.Time
	departures  []time.Time // serialisation end of queued packets
	lastArrival time.Time
	stats       LinkStats
}

// NewLink creates a link from cfg. A nil rng is seeded from the clock.
func NewLink(cfg Config, rng *utils.RandSource) *Link {
	if rng == nil {
		rng = utils.NewRandSource(0)
	}
	return &Link{
		cfg:  cfg,
		loss: NewLossModel(cfg.LossPercent, cfg.AvgBurstLossLength, rng),
		rng:  rng,
	}
}

// Config returns the link configuration
func (l *Link) Config() Config {
	return l.cfg
}

// Send hands a packet of size bytes to the link at now and returns when, if
// ever, it arrives at the far end
func (l *Link) Send(now time.Time, size int) Delivery {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats.PacketsSent++
	l.stats.BytesSent += int64(size)

	l.pruneLocked(now)
	if l.cfg.QueueLengthPackets > 0 && len(l.departures) >= l.cfg.QueueLengthPackets {
		l.stats.PacketsDropped++
		return Delivery{Dropped: true, Reason: DropQueueFull}
	}

	start := now
	if l.busyUntil.After(start) {
		start = l.busyUntil
	}
	departure := start.Add(l.serialisation(size))
	l.busyUntil = departure
	l.departures = append(l.departures, departure)
	if len(l.departures) > l.stats.MaxQueueLength {
		l.stats.MaxQueueLength = len(l.departures)
	}

	if l.loss.Drop() {
		l.stats.PacketsLost++
		return Delivery{Dropped: true, Reason: DropLoss}
	}

	arrival := departure.Add(l.propagationDelay())
	if !l.cfg.AllowReordering && arrival.Before(l.lastArrival) {
		arrival = l.lastArrival
	}
	if arrival.After(l.lastArrival) {
		l.lastArrival = arrival
	}

	l.stats.PacketsDelivered++
	l.stats.BytesDelivered += int64(size)
	return Delivery{Arrival: arrival}
}

// QueueLength returns the number of packets waiting for or in serialisation
// at now
func (l *Link) QueueLength(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(now)
	return len(l.departures)
}

// Stats returns a snapshot of the link counters
func (l *Link) Stats() LinkStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Link) pruneLocked(now time.Time) {
	i := 0
	for i < len(l.departures) && !l.departures[i].After(now) {
		i++
	}
	l.departures = l.departures[i:]
}

func (l *Link) serialisation(size int) time.Duration {
	if l.cfg.CapacityKbps <= 0 {
		return 0
	}
	// bits / (kbit/s) = ms
	return time.Duration(float64(size*8) / float64(l.cfg.CapacityKbps) * float64(time.Millisecond))
}

func (l *Link) propagationDelay() time.Duration {
	if l.cfg.StdDelay <= 0 {
		return l.cfg.AvgDelay
	}
	d := l.rng.NormFloat64(float64(l.cfg.AvgDelay), float64(l.cfg.StdDelay))
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
