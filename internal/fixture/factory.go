// Package fixture provides a simulated loopback call: a synthetic capturer,
// real RTP packetisation and a simulated network between sender and
// receiver.
package fixture

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/GoSim-25-26J-441/loopback-harness/internal/runner"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/config"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/logger"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/utils"
)

var (
	// ErrNoCaptureDevice is returned when the scenario asks for a capture
	// device that does not exist
	ErrNoCaptureDevice = errors.New("capture device not found")

	// ErrCaptureDeviceBusy is returned when another fixture holds the device
	ErrCaptureDeviceBusy = errors.New("capture device busy")

	// ErrClipUnreadable is returned when clip_path cannot be read
	ErrClipUnreadable = errors.New("clip unreadable")
)

// Options configures the fixtures a Factory creates
type Options struct {
	CaptureDevices int
	Seed           int64 // 0 seeds from the clock
	MTU            int
	StatsInterval  time.Duration
	RealTime       bool
	Logger         *slog.Logger
	LoggerFactory  logging.LoggerFactory
}

// OptionsFromConfig maps the harness fixture section to Options
func OptionsFromConfig(cfg config.FixtureConfig) Options {
	return Options{
		CaptureDevices: cfg.CaptureDevices,
		Seed:           cfg.Seed,
		MTU:            cfg.MTU,
		StatsInterval:  time.Duration(cfg.StatsIntervalMs) * time.Millisecond,
		RealTime:       cfg.RealTime,
	}
}

func (o Options) withDefaults() Options {
	if o.CaptureDevices <= 0 {
		o.CaptureDevices = 1
	}
	if o.MTU <= 0 {
		o.MTU = 1200
	}
	if o.StatsInterval <= 0 {
		o.StatsInterval = time.Second
	}
	if o.Logger == nil {
		o.Logger = logger.Default
	}
	if o.LoggerFactory == nil {
		o.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return o
}

// Factory creates simulated loopback fixtures. Each fixture holds its
// capture device until it is closed.
type Factory struct {
	opts Options

	mu    sync.Mutex
	busy  map[int]bool
	seeds int64
}

// NewFactory creates a fixture factory
func NewFactory(opts Options) *Factory {
	return &Factory{
		opts: opts.withDefaults(),
		busy: make(map[int]bool),
	}
}

var _ runner.FixtureFactory = (*Factory)(nil)

// NewFixture opens the capture device and the clip of s
func (f *Factory) NewFixture(s config.TestScenario) (runner.Fixture, error) {
	if s.CaptureDeviceIndex < 0 || s.CaptureDeviceIndex >= f.opts.CaptureDevices {
		return nil, fmt.Errorf("%w: index %d of %d", ErrNoCaptureDevice, s.CaptureDeviceIndex, f.opts.CaptureDevices)
	}

	var clip []byte
	if s.ClipPath != "" {
		data, err := os.ReadFile(s.ClipPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrClipUnreadable, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: %s is empty", ErrClipUnreadable, s.ClipPath)
		}
		clip = data
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy[s.CaptureDeviceIndex] {
		return nil, fmt.Errorf("%w: index %d", ErrCaptureDeviceBusy, s.CaptureDeviceIndex)
	}
	f.busy[s.CaptureDeviceIndex] = true

	// Every fixture of a seeded factory gets its own reproducible stream.
	seed := f.opts.Seed
	if seed != 0 {
		f.seeds++
		seed += f.seeds - 1
	}

	return &LoopbackFixture{
		opts:    f.opts,
		clip:    clip,
		rng:     utils.NewRandSource(seed),
		release: func() { f.releaseDevice(s.CaptureDeviceIndex) },
	}, nil
}

func (f *Factory) releaseDevice(index int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.busy, index)
}
