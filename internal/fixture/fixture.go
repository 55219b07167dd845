package fixture

import (
	"sync"
	"sync/atomic"

	"github.com/GoSim-25-26J-441/loopback-harness/internal/runner"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/utils"
)

// LoopbackFixture runs one loopback call at a time on its capture device
type LoopbackFixture struct {
	opts Options
	clip []byte
	rng  *utils.RandSource

	release   func()
	closeOnce sync.Once

	rendered atomic.Int64
}

var _ runner.Fixture = (*LoopbackFixture)(nil)

// RenderedFrames returns how many frames the receiver has rendered over the
// fixture's lifetime
func (f *LoopbackFixture) RenderedFrames() int64 {
	return f.rendered.Load()
}

// Close releases the capture device
func (f *LoopbackFixture) Close() error {
	f.closeOnce.Do(func() {
		if f.release != nil {
			f.release()
		}
	})
	return nil
}
