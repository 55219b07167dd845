package utils

import (
	"math"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestGenerateRunID(t *testing.T) {
	id := GenerateRunID()
	if !strings.HasPrefix(id, "run-") {
		t.Errorf("expected run- prefix, got %s", id)
	}
	if id == GenerateRunID() {
		t.Errorf("expected unique run ids")
	}
}

func TestIDConcurrency(t *testing.T) {
	const n = 200
	var mu sync.Mutex
	seen := make(map[string]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := GenerateRunID()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != n {
		t.Errorf("expected %d unique ids, got %d", n, len(seen))
	}
}

func TestPercentile(t *testing.T) {
	values := []float64{5, 1, 4, 2, 3}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{50, 3},
		{100, 5},
		{25, 2},
		{90, 4.6},
	}
	for _, tt := range tests {
		if got := Percentile(values, tt.p); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if Percentile(nil, 50) != 0 {
		t.Errorf("expected 0 for empty input")
	}
	if values[0] != 5 {
		t.Errorf("input must not be reordered")
	}
}

func TestMean(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	if got := Mean(values); got != 5 {
		t.Errorf("Mean = %v, want 5", got)
	}
	if Mean(nil) != 0 {
		t.Errorf("expected zero for empty input")
	}
}

func TestClampFloat64(t *testing.T) {
	if ClampFloat64(-1, 0, 1) != 0 || ClampFloat64(2, 0, 1) != 1 || ClampFloat64(0.5, 0, 1) != 0.5 {
		t.Errorf("ClampFloat64 out of range")
	}
}

func TestRandSourceDeterministic(t *testing.T) {
	a := NewRandSource(42)
	b := NewRandSource(42)
	for i := 0; i < 10; i++ {
		if a.Float64() != b.Float64() {
			t.Fatal("same seed must yield the same sequence")
		}
	}
	if a.BernoulliBool(0) || !a.BernoulliBool(1) {
		t.Errorf("BernoulliBool edge probabilities are wrong")
	}
}

func TestRandSourceNormFloat64(t *testing.T) {
	r := NewRandSource(7)
	const n = 20000
	values := make([]float64, n)
	for i := range values {
		values[i] = r.NormFloat64(10, 2)
	}
	if m := Mean(values); math.Abs(m-10) > 0.1 {
		t.Errorf("mean %v too far from 10", m)
	}
	m := Mean(values)
	sq := make([]float64, n)
	for i, v := range values {
		sq[i] = (v - m) * (v - m)
	}
	if s := math.Sqrt(Mean(sq)); math.Abs(s-2) > 0.1 {
		t.Errorf("stddev %v too far from 2", s)
	}
}

func TestExponentialBackoff(t *testing.T) {
	b := NewExponentialBackoff(100*time.Millisecond, time.Second, 2)
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second}
	for i, w := range want {
		if got := b.NextDelay(i); got != w {
			t.Errorf("attempt %d: got %v, want %v", i, got, w)
		}
	}

	b.Jitter = NewRandSource(1)
	for i := 0; i < 20; i++ {
		d := b.NextDelay(0)
		if d < 50*time.Millisecond || d >= 150*time.Millisecond {
			t.Fatalf("jittered delay %v outside [50ms,150ms)", d)
		}
	}
}

func TestExponentialBackoffDefaults(t *testing.T) {
	b := NewExponentialBackoff(time.Second, 0, 0)
	if b.Multiplier != 2 || b.MaxDelay != 30*time.Second {
		t.Errorf("unexpected defaults: %+v", b)
	}
}

func TestSimTime(t *testing.T) {
	start := time.Unix(0, 0)
	st := NewSimTime(start)
	st.Set(start.Add(3 * time.Second))
	if st.Since(start) != 3*time.Second {
		t.Errorf("Since = %v", st.Since(start))
	}
	if TimeToMs(2*time.Millisecond) != 2 {
		t.Errorf("ms conversion mismatch")
	}
}
