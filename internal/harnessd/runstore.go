package harnessd

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/loopback-harness/pkg/config"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/models"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/utils"
)

// Run is the externally visible state of one loopback run
type Run struct {
	ID          string           `json:"id"`
	Status      models.RunStatus `json:"status"`
	Mode        string           `json:"mode"`
	Forever     bool             `json:"forever"`
	Iterations  int              `json:"iterations"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   time.Time        `json:"started_at,omitzero"`
	EndedAt     time.Time        `json:"ended_at,omitzero"`
	Error       string           `json:"error,omitempty"`
	CallbackURL string           `json:"callback_url,omitempty"`
}

// RunRecord is a run together with its input and latest report
type RunRecord struct {
	Run       Run
	Overrides map[string]any
	Scenario  config.TestScenario
	Report    *models.QualityReport
}

// RunStore keeps run records in memory. Accessors return copies.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*RunRecord
}

func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]*RunRecord),
	}
}

// Create registers a pending run for an already built scenario
func (s *RunStore) Create(runID string, req CreateRequest, scenario config.TestScenario) (RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if runID == "" {
		runID = utils.GenerateRunID()
	}
	if _, exists := s.runs[runID]; exists {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunExists, runID)
	}

	rec := &RunRecord{
		Run: Run{
			ID:          runID,
			Status:      models.RunStatusPending,
			Mode:        scenario.Mode(),
			Forever:     req.Forever,
			CreatedAt:   time.Now().UTC(),
			CallbackURL: req.CallbackURL,
		},
		Overrides: req.Overrides,
		Scenario:  scenario,
	}
	s.runs[runID] = rec
	return *rec, nil
}

func (s *RunStore) Get(runID string) (RunRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[runID]
	if !ok {
		return RunRecord{}, false
	}
	return *rec, true
}

// List returns runs newest first. An empty status matches every run.
func (s *RunStore) List(limit, offset int, status models.RunStatus) []RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	all := make([]RunRecord, 0, len(s.runs))
	for _, rec := range s.runs {
		if status != "" && rec.Run.Status != status {
			continue
		}
		all = append(all, *rec)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Run.CreatedAt.Equal(all[j].Run.CreatedAt) {
			return all[i].Run.ID < all[j].Run.ID
		}
		return all[i].Run.CreatedAt.After(all[j].Run.CreatedAt)
	})

	if offset >= len(all) {
		return []RunRecord{}
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

// SetStatus moves a run to status. Terminal runs do not change again.
func (s *RunStore) SetStatus(runID string, status models.RunStatus, errMsg string) (RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[runID]
	if !ok {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if rec.Run.Status.Terminal() {
		return *rec, fmt.Errorf("%w: %s is %s", ErrRunTerminal, runID, rec.Run.Status)
	}

	rec.Run.Status = status
	if errMsg != "" {
		rec.Run.Error = errMsg
	}

	now := time.Now().UTC()
	switch {
	case status == models.RunStatusRunning:
		if rec.Run.StartedAt.IsZero() {
			rec.Run.StartedAt = now
		}
	case status.Terminal():
		rec.Run.EndedAt = now
	}
	return *rec, nil
}

// SetReport stores the latest report and iteration count of a run
func (s *RunStore) SetReport(runID string, iteration int, report *models.QualityReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	rec.Run.Iterations = iteration
	if report != nil {
		rec.Report = report
	}
	return nil
}
