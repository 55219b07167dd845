package harnessd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/GoSim-25-26J-441/loopback-harness/pkg/config"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/models"
)

func TestRunStoreCreateAndGet(t *testing.T) {
	store := NewRunStore()
	s := config.Defaults()
	s.DurationSecs = 3

	rec, err := store.Create("", CreateRequest{Forever: true, CallbackURL: "http://cb"}, s)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if rec.Run.ID == "" {
		t.Fatalf("expected a generated run id")
	}
	if rec.Run.Status != models.RunStatusPending || rec.Run.Mode != "analyzed" || !rec.Run.Forever {
		t.Errorf("unexpected run %+v", rec.Run)
	}

	got, ok := store.Get(rec.Run.ID)
	if !ok || got.Run.CallbackURL != "http://cb" || got.Scenario.DurationSecs != 3 {
		t.Errorf("unexpected stored run %+v", got.Run)
	}
	if _, ok := store.Get("missing"); ok {
		t.Errorf("expected missing run not to be found")
	}

	if _, err := store.Create(rec.Run.ID, CreateRequest{}, s); !errors.Is(err, ErrRunExists) {
		t.Errorf("expected ErrRunExists, got %v", err)
	}
}

func TestRunStoreReturnsCopies(t *testing.T) {
	store := NewRunStore()
	rec, _ := store.Create("r1", CreateRequest{}, config.Defaults())
	rec.Run.Status = models.RunStatusFailed

	got, _ := store.Get("r1")
	if got.Run.Status != models.RunStatusPending {
		t.Errorf("mutating a returned record changed the store")
	}
}

func TestRunStoreStatusTransitions(t *testing.T) {
	store := NewRunStore()
	_, _ = store.Create("r1", CreateRequest{}, config.Defaults())

	running, err := store.SetStatus("r1", models.RunStatusRunning, "")
	if err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if running.Run.StartedAt.IsZero() || !running.Run.EndedAt.IsZero() {
		t.Errorf("unexpected timestamps %+v", running.Run)
	}

	failed, err := store.SetStatus("r1", models.RunStatusFailed, "boom")
	if err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if failed.Run.Error != "boom" || failed.Run.EndedAt.IsZero() {
		t.Errorf("unexpected failed run %+v", failed.Run)
	}

	if _, err := store.SetStatus("r1", models.RunStatusCompleted, ""); !errors.Is(err, ErrRunTerminal) {
		t.Errorf("expected ErrRunTerminal, got %v", err)
	}
	if _, err := store.SetStatus("missing", models.RunStatusRunning, ""); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRunStoreSetReport(t *testing.T) {
	store := NewRunStore()
	_, _ = store.Create("r1", CreateRequest{}, config.Defaults())

	report := &models.QualityReport{FramesRendered: 10}
	if err := store.SetReport("r1", 1, report); err != nil {
		t.Fatalf("SetReport failed: %v", err)
	}
	// A later iteration without a report keeps the last one.
	if err := store.SetReport("r1", 2, nil); err != nil {
		t.Fatalf("SetReport failed: %v", err)
	}
	got, _ := store.Get("r1")
	if got.Run.Iterations != 2 || got.Report != report {
		t.Errorf("unexpected record %+v", got)
	}
	if err := store.SetReport("missing", 1, nil); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRunStoreList(t *testing.T) {
	store := NewRunStore()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("r%d", i)
		_, _ = store.Create(id, CreateRequest{}, config.Defaults())
		if i%2 == 0 {
			_, _ = store.SetStatus(id, models.RunStatusRunning, "")
		}
	}

	tests := []struct {
		name   string
		limit  int
		offset int
		status models.RunStatus
		want   int
	}{
		{"all", 0, 0, "", 5},
		{"limited", 2, 0, "", 2},
		{"offset", 10, 3, "", 2},
		{"offset past end", 10, 9, "", 0},
		{"running", 0, 0, models.RunStatusRunning, 3},
		{"pending", 0, 0, models.RunStatusPending, 2},
		{"completed", 0, 0, models.RunStatusCompleted, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := store.List(tt.limit, tt.offset, tt.status)
			if len(got) != tt.want {
				t.Errorf("expected %d runs, got %d", tt.want, len(got))
			}
			for _, rec := range got {
				if tt.status != "" && rec.Run.Status != tt.status {
					t.Errorf("run %s has status %s", rec.Run.ID, rec.Run.Status)
				}
			}
		})
	}
}
