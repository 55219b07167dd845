package harnessd

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/loopback-harness/pkg/config"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/models"
)

func TestHostBreakerTransitions(t *testing.T) {
	clock := time.Unix(1000, 0)
	b := newHostBreaker(2, time.Minute)
	b.now = func() time.Time { return clock }

	if !b.Allow("a:80") {
		t.Fatal("unknown host should be allowed")
	}
	b.RecordFailure("a:80")
	if b.State("a:80") != circuitClosed {
		t.Fatalf("expected closed after one failure, got %s", b.State("a:80"))
	}
	b.RecordFailure("a:80")
	if b.State("a:80") != circuitOpen || b.Allow("a:80") {
		t.Fatalf("expected open circuit to reject, got %s", b.State("a:80"))
	}
	if !b.Allow("b:80") {
		t.Error("other hosts should not be affected")
	}

	clock = clock.Add(time.Minute)
	if !b.Allow("a:80") || b.State("a:80") != circuitHalfOpen {
		t.Fatalf("expected half-open probe after timeout, got %s", b.State("a:80"))
	}
	b.RecordFailure("a:80")
	if b.State("a:80") != circuitOpen {
		t.Fatalf("failed probe should reopen, got %s", b.State("a:80"))
	}

	clock = clock.Add(time.Minute)
	b.Allow("a:80")
	b.RecordSuccess("a:80")
	if b.State("a:80") != circuitClosed {
		t.Errorf("successful probe should close, got %s", b.State("a:80"))
	}
}

func TestNotifierSkipsOpenHost(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewNotifier(config.NotifyConfig{MaxRetries: 0, BaseDelayMs: 1})
	n.breaker = newHostBreaker(1, time.Hour)

	rec := RunRecord{Run: Run{ID: "r", Status: models.RunStatusFailed, CallbackURL: srv.URL}}
	n.Notify(rec)
	n.Wait()
	n.Notify(rec)
	n.Wait()

	if calls.Load() != 1 {
		t.Errorf("expected the second delivery to be skipped, got %d calls", calls.Load())
	}
}
