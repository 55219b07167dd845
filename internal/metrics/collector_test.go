package metrics

import (
	"testing"
	"time"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNewCollector(t *testing.T) {
	c := NewCollector()
	if c == nil {
		t.Fatalf("expected non-nil collector")
	}
	if len(c.GetSummary().Aggregations) != 0 {
		t.Fatalf("expected empty collector")
	}
}

func TestCollectorRecordAndGetTimeSeries(t *testing.T) {
	c := NewCollector()
	c.Start(epoch)

	c.Record("test_metric", 10.0, epoch, nil)
	c.Record("test_metric", 20.0, epoch.Add(time.Second), nil)
	c.Record("test_metric", 30.0, epoch.Add(2*time.Second), nil)

	points := c.GetTimeSeries("test_metric", nil)
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	for i, want := range []float64{10, 20, 30} {
		if points[i].Value != want {
			t.Fatalf("expected point %d value %f, got %f", i, want, points[i].Value)
		}
	}

	// Returned points are copies.
	points[0].Value = 99
	if c.GetTimeSeries("test_metric", nil)[0].Value != 10 {
		t.Fatalf("GetTimeSeries should return copies")
	}
}

func TestCollectorRecordWithLabels(t *testing.T) {
	c := NewCollector()

	labels := StreamLabels(1)
	c.Record(MetricFrameDelay, 10.0, epoch, labels)

	points := c.GetTimeSeries(MetricFrameDelay, map[string]string{"stream": "1"})
	if len(points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(points))
	}
	if points[0].Labels["stream"] != "1" {
		t.Fatalf("expected stream label 1, got %s", points[0].Labels["stream"])
	}
	if c.GetTimeSeries(MetricFrameDelay, nil) != nil {
		t.Fatalf("unlabelled series should be empty")
	}
}

func TestCollectorAggregation(t *testing.T) {
	c := NewCollector()

	for i, v := range []float64{10.0, 20.0, 30.0, 40.0, 50.0} {
		c.Record("test_metric", v, epoch.Add(time.Duration(i)*time.Second), nil)
	}

	agg := c.GetOrComputeAggregation("test_metric", nil)
	if agg == nil {
		t.Fatalf("expected non-nil aggregation")
	}
	if agg.Count != 5 || agg.Min != 10.0 || agg.Max != 50.0 || agg.Mean != 30.0 || agg.Sum != 150 {
		t.Fatalf("unexpected aggregation %+v", agg)
	}
}

func TestCollectorPercentiles(t *testing.T) {
	c := NewCollector()
	for i := 0; i < 100; i++ {
		c.Record("test_metric", float64(i+1), epoch.Add(time.Duration(i)*time.Millisecond), nil)
	}

	agg := c.GetOrComputeAggregation("test_metric", nil)
	if agg.P50 < 50.0 || agg.P50 > 51.0 {
		t.Fatalf("expected P50 around 50.5, got %f", agg.P50)
	}
	if agg.P95 < 95.0 || agg.P95 > 96.0 {
		t.Fatalf("expected P95 around 95.5, got %f", agg.P95)
	}
	if agg.P99 < 99.0 || agg.P99 > 100.0 {
		t.Fatalf("expected P99 around 99.5, got %f", agg.P99)
	}
}

func TestCollectorGetOrComputeAggregationInvalidatedByRecord(t *testing.T) {
	c := NewCollector()
	c.Record("test_metric", 10.0, epoch, nil)
	c.Record("test_metric", 20.0, epoch, nil)

	agg1 := c.GetOrComputeAggregation("test_metric", nil)
	agg2 := c.GetOrComputeAggregation("test_metric", nil)
	if agg1 == nil || agg1 != agg2 {
		t.Fatalf("expected cached aggregation")
	}

	c.Record("test_metric", 30.0, epoch, nil)
	agg3 := c.GetOrComputeAggregation("test_metric", nil)
	if agg3.Count != 3 {
		t.Fatalf("expected recomputed aggregation with 3 points, got %d", agg3.Count)
	}
}

func TestCollectorGetSummary(t *testing.T) {
	c := NewCollector()
	c.Start(epoch)

	c.Record("metric1", 10.0, epoch, nil)
	c.Record("metric1", 20.0, epoch, StreamLabels(1))
	c.Record("metric2", 30.0, epoch, nil)
	c.Stop(epoch.Add(5 * time.Second))

	summary := c.GetSummary()
	if len(summary.Aggregations) != 2 {
		t.Fatalf("expected 2 aggregated metrics, got %d", len(summary.Aggregations))
	}
	if agg := summary.Aggregations["metric1"]; agg == nil || agg.Count != 2 || agg.Mean != 15 {
		t.Fatalf("expected aggregation across labels, got %+v", agg)
	}
	if summary.Duration != 5*time.Second {
		t.Fatalf("expected 5s duration, got %v", summary.Duration)
	}
}

func TestCollectorAllPointsOrdered(t *testing.T) {
	c := NewCollector()
	c.Record("m", 3, epoch.Add(3*time.Second), StreamLabels(1))
	c.Record("m", 1, epoch.Add(time.Second), StreamLabels(0))
	c.Record("m", 2, epoch.Add(2*time.Second), nil)

	points := c.AllPoints("m")
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	for i, p := range points {
		if p.Value != float64(i+1) {
			t.Fatalf("points out of order: %v", p)
		}
	}
}

func TestCollectorEmptyAggregation(t *testing.T) {
	c := NewCollector()
	if agg := c.GetOrComputeAggregation("nonexistent", nil); agg != nil {
		t.Fatalf("expected nil cached aggregation for non-existent metric")
	}
}

func TestLabelKeyIsOrderIndependent(t *testing.T) {
	a := labelKey(map[string]string{"stream": "0", "layer": "1"})
	b := labelKey(map[string]string{"layer": "1", "stream": "0"})
	if a != b || a != "layer=1,stream=0," {
		t.Fatalf("unexpected label keys %q %q", a, b)
	}
	if labelKey(nil) != "" {
		t.Fatalf("expected empty key for nil labels")
	}
}
