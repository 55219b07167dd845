package netsim

import (
	"sync"

	"github.com/GoSim-25-26J-441/loopback-harness/pkg/utils"
)

// LossModel decides, packet by packet, whether the network drops a packet
type LossModel interface {
	Drop() bool
}

// NoLoss never drops
type NoLoss struct{}

// Drop implements LossModel
func (NoLoss) Drop() bool { return false }

// UniformLoss drops every packet independently with probability P
type UniformLoss struct {
	P   float64
	rng *utils.RandSource
}

// NewUniformLoss creates a uniform loss model
func NewUniformLoss(p float64, rng *utils.RandSource) *UniformLoss {
	return &UniformLoss{P: p, rng: rng}
}

// Drop implements LossModel
func (u *UniformLoss) Drop() bool {
	return u.rng.BernoulliBool(u.P)
}

// GilbertElliott is a two-state burst loss model. Every packet sent in the
// bad state is lost.
type GilbertElliott struct {
	mu sync.Mutex

	// Per-packet transition probabilities
	GoodToBad float64
	BadToGood float64

	bad bool
	rng *utils.RandSource
}

// NewGilbertElliott derives the transition probabilities so that the
// stationary loss rate is p and bursts last avgBurst packets on average.
// avgBurst must exceed p/(1-p).
func NewGilbertElliott(p float64, avgBurst int, rng *utils.RandSource) *GilbertElliott {
	badToGood := 1 / float64(avgBurst)
	goodToBad := 0.0
	if p >= 1 {
		goodToBad = 1
	} else if p > 0 {
		goodToBad = utils.ClampFloat64(p/(1-p)*badToGood, 0, 1)
	}
	return &GilbertElliott{
		GoodToBad: goodToBad,
		BadToGood: badToGood,
		rng:       rng,
	}
}

// Drop implements LossModel
func (g *GilbertElliott) Drop() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.bad {
		if g.rng.BernoulliBool(g.BadToGood) {
			g.bad = false
		}
	} else if g.rng.BernoulliBool(g.GoodToBad) {
		g.bad = true
	}
	return g.bad
}

// NewLossModel picks the loss model for a loss percentage and an average
// burst length (-1 for independent losses)
func NewLossModel(lossPercent, avgBurst int, rng *utils.RandSource) LossModel {
	p := float64(lossPercent) / 100
	switch {
	case p <= 0:
		return NoLoss{}
	case avgBurst < 1:
		return NewUniformLoss(p, rng)
	default:
		return NewGilbertElliott(p, avgBurst, rng)
	}
}
