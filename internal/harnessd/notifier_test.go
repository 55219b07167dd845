package harnessd

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/loopback-harness/pkg/config"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/models"
)

func TestValidateCallbackURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https", "https://example.com/callback", false},
		{"localhost", "http://localhost:8000/callback", false},
		{"run id template", "http://localhost:8000/callback/{run_id}", false},
		{"ftp scheme", "ftp://example.com/callback", true},
		{"missing host", "http:///callback", true},
		{"relative", "/callback", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCallbackURL(tt.url)
			if tt.wantErr != (err != nil) {
				t.Fatalf("validateCallbackURL(%q) = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidCallback) {
				t.Errorf("expected ErrInvalidCallback, got %v", err)
			}
		})
	}
}

func TestNotifierPostsPayload(t *testing.T) {
	var (
		mu   sync.Mutex
		got  NotificationPayload
		path string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("invalid payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewNotifier(config.NotifyConfig{MaxRetries: 1, BaseDelayMs: 1})
	n.Notify(RunRecord{
		Run: Run{
			ID:          "run-7",
			Status:      models.RunStatusCompleted,
			Mode:        "analyzed",
			Iterations:  1,
			CallbackURL: srv.URL + "/done/{run_id}",
		},
		Report: &models.QualityReport{FramesRendered: 12},
	})
	n.Wait()

	mu.Lock()
	defer mu.Unlock()
	if path != "/done/run-7" {
		t.Errorf("run id template not expanded: %s", path)
	}
	if got.RunID != "run-7" || got.Status != models.RunStatusCompleted || got.Report == nil || got.Report.FramesRendered != 12 {
		t.Errorf("unexpected payload %+v", got)
	}
	if got.Timestamp == 0 {
		t.Errorf("expected a send timestamp")
	}
}

func TestNotifierRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(config.NotifyConfig{MaxRetries: 3, BaseDelayMs: 1})
	n.Notify(RunRecord{Run: Run{ID: "r", Status: models.RunStatusFailed, CallbackURL: srv.URL}})
	n.Wait()

	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestNotifierGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewNotifier(config.NotifyConfig{MaxRetries: 2, BaseDelayMs: 1})
	n.Notify(RunRecord{Run: Run{ID: "r", Status: models.RunStatusFailed, CallbackURL: srv.URL}})
	n.Wait()

	if calls.Load() != 3 {
		t.Errorf("expected 1 attempt and 2 retries, got %d", calls.Load())
	}
}

func TestNotifierSkipsRunsWithoutCallback(t *testing.T) {
	n := NewNotifier(config.NotifyConfig{})
	n.Notify(RunRecord{Run: Run{ID: "r"}})
	n.Wait()
}

func TestExecutorNotifiesOnCompletion(t *testing.T) {
	done := make(chan NotificationPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p NotificationPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		done <- p
	}))
	defer srv.Close()

	store := NewRunStore()
	e := NewRunExecutor(store, stubFactory(stubFixture{}), NewNotifier(config.NotifyConfig{BaseDelayMs: 1}), 0)
	rec, err := e.Submit(CreateRequest{
		Overrides:   map[string]any{"duration_secs": 1},
		CallbackURL: srv.URL,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case p := <-done:
		if p.RunID != rec.Run.ID || p.Status != models.RunStatusCompleted || p.Report == nil {
			t.Errorf("unexpected notification %+v", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no notification received")
	}
}
