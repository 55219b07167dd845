package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/GoSim-25-26J-441/loopback-harness/pkg/config"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/models"
)

// Fixture performs the measurement or playback of one loopback call.
// Both operations block until the call ends.
type Fixture interface {
	// RunAnalyzed runs for the scenario duration and reports call quality.
	RunAnalyzed(ctx context.Context, s config.TestScenario) (*models.QualityReport, error)
	// RunInteractive renders the call until ctx is cancelled.
	RunInteractive(ctx context.Context, s config.TestScenario) error
}

// FixtureFactory acquires the resources a fixture needs for a scenario.
type FixtureFactory interface {
	NewFixture(s config.TestScenario) (Fixture, error)
}

// FixtureFactoryFunc adapts a function to FixtureFactory.
type FixtureFactoryFunc func(s config.TestScenario) (Fixture, error)

// NewFixture calls f(s).
func (f FixtureFactoryFunc) NewFixture(s config.TestScenario) (Fixture, error) {
	return f(s)
}

// ErrFixtureUnavailable matches every *FixtureUnavailableError via errors.Is.
var ErrFixtureUnavailable = errors.New("fixture unavailable")

// ErrNoFixture is the cause reported when a factory returns neither a fixture nor an error.
var ErrNoFixture = errors.New("factory returned no fixture")

// FixtureUnavailableError reports that the factory could not produce a fixture,
// for example because the capture device could not be opened.
type FixtureUnavailableError struct {
	Err error
}

func (e *FixtureUnavailableError) Error() string {
	return fmt.Sprintf("fixture unavailable: %v", e.Err)
}

func (e *FixtureUnavailableError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrFixtureUnavailable.
func (e *FixtureUnavailableError) Is(target error) bool {
	return target == ErrFixtureUnavailable
}
