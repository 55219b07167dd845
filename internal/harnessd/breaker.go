package harnessd

import (
	"sync"
	"time"
)

// circuitState is the state of a callback host circuit
type circuitState string

const (
	circuitClosed   circuitState = "closed"   // deliveries allowed
	circuitOpen     circuitState = "open"     // deliveries skipped
	circuitHalfOpen circuitState = "halfopen" // one probe allowed
)

type hostCircuit struct {
	state           circuitState
	failureCount    int
	lastStateChange time.Time
}

// hostBreaker tracks callback delivery failures per host. Once a host has
// failed failureThreshold deliveries in a row it is skipped until timeout.
type hostBreaker struct {
	failureThreshold int
	timeout          time.Duration
	now              func() time.Time

	mu       sync.Mutex
	circuits map[string]*hostCircuit
}

func newHostBreaker(failureThreshold int, timeout time.Duration) *hostBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	return &hostBreaker{
		failureThreshold: failureThreshold,
		timeout:          timeout,
		now:              time.Now,
		circuits:         make(map[string]*hostCircuit),
	}
}

// Allow reports whether a delivery to host may be attempted. An open circuit
// moves to half-open once the timeout has passed.
func (b *hostBreaker) Allow(host string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[host]
	if !ok {
		return true
	}
	if c.state == circuitOpen {
		if b.now().Sub(c.lastStateChange) < b.timeout {
			return false
		}
		c.state = circuitHalfOpen
		c.lastStateChange = b.now()
	}
	return true
}

func (b *hostBreaker) RecordSuccess(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[host]
	if !ok {
		return
	}
	if c.state != circuitClosed {
		c.state = circuitClosed
		c.lastStateChange = b.now()
	}
	c.failureCount = 0
}

// RecordFailure counts one failed delivery, after retries, against host
func (b *hostBreaker) RecordFailure(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[host]
	if !ok {
		c = &hostCircuit{state: circuitClosed, lastStateChange: b.now()}
		b.circuits[host] = c
	}
	c.failureCount++

	switch c.state {
	case circuitHalfOpen:
		c.state = circuitOpen
		c.lastStateChange = b.now()
	case circuitClosed:
		if c.failureCount >= b.failureThreshold {
			c.state = circuitOpen
			c.lastStateChange = b.now()
		}
	}
}

func (b *hostBreaker) State(host string) circuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[host]; ok {
		return c.state
	}
	return circuitClosed
}
