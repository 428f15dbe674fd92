// Package progress tracks live run state for the status API.
package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Snapshot is a point-in-time copy of the run state.
type Snapshot struct {
	RunID           string    `json:"run_id"`
	Stage           string    `json:"stage"`
	StartedAt       time.Time `json:"started_at,omitempty"`
	WeeksCrawled    int       `json:"weeks_crawled"`
	WeeksSkipped    int       `json:"weeks_skipped"`
	EntriesSaved    int       `json:"entries_saved"`
	TracksMatched   int       `json:"tracks_matched"`
	TracksUnmatched int       `json:"tracks_unmatched"`
	BatchesMerged   int       `json:"batches_merged"`
	LastChartDate   string    `json:"last_chart_date,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
}

// Tracker accumulates run counters. Safe for concurrent use.
type Tracker struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewTracker returns an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{snap: Snapshot{Stage: "idle"}}
}

// StartStage resets counters and marks the beginning of a stage.
func (t *Tracker) StartStage(stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap = Snapshot{
		RunID:     uuid.NewString(),
		Stage:     stage,
		StartedAt: time.Now().UTC(),
	}
}

// Finish marks the run idle again, keeping the accumulated counters visible.
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Stage = "idle"
}

// WeekDone records a persisted chart week.
func (t *Tracker) WeekDone(date string, entries int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.WeeksCrawled++
	t.snap.EntriesSaved += entries
	t.snap.LastChartDate = date
}

// WeekSkipped records a week with no published chart.
func (t *Tracker) WeekSkipped(date string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.WeeksSkipped++
	t.snap.LastChartDate = date
}

// TrackMatched records a match verdict.
func (t *Tracker) TrackMatched(matched bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if matched {
		t.snap.TracksMatched++
	} else {
		t.snap.TracksUnmatched++
	}
}

// BatchMerged records one merged metadata batch.
func (t *Tracker) BatchMerged() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.BatchesMerged++
}

// Error records the most recent failure.
func (t *Tracker) Error(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.LastError = err.Error()
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}
