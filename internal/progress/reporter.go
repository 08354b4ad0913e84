// Package progress implements ProgressReporter (H, §4.9): aggregating
// per-slice state changes into an overall progress record, publishing to
// an in-memory registry and a durable on-disk snapshot written atomically
// (write-temp-then-rename). The atomic-write pattern generalizes the
// teacher's writeConfigFile (config.go) from a plain overwrite to a
// temp-then-rename so a reader never observes a half-written snapshot.
package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Stage is one of §3's ProgressRecord stages.
type Stage string

const (
	StageAnalyzing    Stage = "analyzing"
	StageSlicing      Stage = "slicing"
	StageTranscribing Stage = "transcribing"
	StageMerging      Stage = "merging"
	StageCleanup      Stage = "cleanup"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// SliceState is one of §3's per-slice states.
type SliceState string

const (
	SlicePending    SliceState = "pending"
	SliceExtracting SliceState = "extracting"
	SliceQueued     SliceState = "queued"
	SliceInFlight   SliceState = "in_flight"
	SliceRetrying   SliceState = "retrying"
	SliceSucceeded  SliceState = "succeeded"
	SliceFailed     SliceState = "failed"
)

// stageWeights are the §4.9 weights driving overall_percent.
var stageWeights = map[Stage]float64{
	StageAnalyzing:    10,
	StageSlicing:      15,
	StageTranscribing: 70,
	StageMerging:      5,
}

// Record is a snapshot of a job's progress (§3, ProgressRecord).
type Record struct {
	HearingID     string                `json:"hearing_id"`
	Stage         Stage                 `json:"stage"`
	OverallPercent float64              `json:"overall_percent"`
	Message       string                `json:"message,omitempty"`
	PerSlice      map[int]SliceState    `json:"per_slice,omitempty"`
	ETASeconds    *float64              `json:"eta_seconds,omitempty"`
	Error         string                `json:"error,omitempty"`
}

// jobState tracks the mutable bookkeeping behind one job's published Record.
type jobState struct {
	record          Record
	totalSlices     int
	completedSlices int
	sliceDurations  []float64 // observed completed-slice wall durations, for ETA
	startedAt       map[int]time.Time
}

const etaWindow = 5

// Reporter is the thread-safe aggregator behind ProgressReporter (§4.9).
// The zero value is not usable; construct with New.
type Reporter struct {
	snapshotDir string

	mu   sync.Mutex
	jobs map[string]*jobState
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithSnapshotDir sets the directory snapshot files are written under
// (§6: `{progress_dir}/{job_id}.json`).
func WithSnapshotDir(dir string) Option {
	return func(r *Reporter) { r.snapshotDir = dir }
}

// New constructs a Reporter.
func New(opts ...Option) *Reporter {
	r := &Reporter{jobs: make(map[string]*jobState)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins tracking jobID at stage analyzing, 0% (§4.9: `start(job_id)`).
func (r *Reporter) Start(jobID string, totalSlices int) error {
	r.mu.Lock()
	r.jobs[jobID] = &jobState{
		record: Record{
			HearingID: jobID,
			Stage:     StageAnalyzing,
			PerSlice:  make(map[int]SliceState, totalSlices),
		},
		totalSlices: totalSlices,
		startedAt:   make(map[int]time.Time),
	}
	r.mu.Unlock()
	return r.publish(jobID)
}

// SetTotal records jobID's slice count once Planning has determined it, so
// the transcribing-share formula in overallPercentLocked has a denominator
// to divide by (§4.9).
func (r *Reporter) SetTotal(jobID string, totalSlices int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	js, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("progress: unknown job %s", jobID)
	}
	js.totalSlices = totalSlices
	return nil
}

// UpdateStage transitions jobID to a new non-transcribing stage and
// recomputes overall_percent (§4.9: `update(job_id, Δ)`).
func (r *Reporter) UpdateStage(jobID string, stage Stage, message string) error {
	r.mu.Lock()
	js, ok := r.jobs[jobID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("progress: unknown job %s", jobID)
	}
	js.record.Stage = stage
	js.record.Message = message
	js.record.OverallPercent = r.overallPercentLocked(js)
	r.mu.Unlock()
	return r.publish(jobID)
}

// UpdateSlice records a slice's state transition and recomputes
// overall_percent from the transcribing share (§4.9).
func (r *Reporter) UpdateSlice(jobID string, index int, state SliceState) error {
	r.mu.Lock()
	js, ok := r.jobs[jobID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("progress: unknown job %s", jobID)
	}

	prev := js.record.PerSlice[index]
	js.record.PerSlice[index] = state

	now := time.Now()
	if state == SliceInFlight && prev != SliceInFlight {
		js.startedAt[index] = now
	}
	if state == SliceSucceeded && prev != SliceSucceeded {
		js.completedSlices++
		if start, ok := js.startedAt[index]; ok {
			js.sliceDurations = append(js.sliceDurations, now.Sub(start).Seconds())
			if len(js.sliceDurations) > etaWindow {
				js.sliceDurations = js.sliceDurations[len(js.sliceDurations)-etaWindow:]
			}
		}
	}

	js.record.Stage = StageTranscribing
	js.record.OverallPercent = r.overallPercentLocked(js)
	js.record.ETASeconds = r.etaLocked(js)
	r.mu.Unlock()
	return r.publish(jobID)
}

// overallPercentLocked implements §4.9's weighted formula. Caller must
// hold r.mu.
func (r *Reporter) overallPercentLocked(js *jobState) float64 {
	switch js.record.Stage {
	case StageAnalyzing:
		return 0
	case StageSlicing:
		return stageWeights[StageAnalyzing]
	case StageMerging:
		return stageWeights[StageAnalyzing] + stageWeights[StageSlicing] + stageWeights[StageTranscribing]
	case StageCleanup, StageDone:
		return 100
	case StageFailed:
		return js.record.OverallPercent
	}

	base := stageWeights[StageAnalyzing] + stageWeights[StageSlicing]
	if js.totalSlices == 0 {
		return base
	}

	inFlight := 0
	for _, s := range js.record.PerSlice {
		if s == SliceInFlight || s == SliceRetrying {
			inFlight++
		}
	}
	progressFraction := (float64(js.completedSlices) + 0.5*float64(inFlight)) / float64(js.totalSlices)
	transcribing := stageWeights[StageTranscribing] * progressFraction

	pct := base + transcribing
	if pct < js.record.OverallPercent {
		pct = js.record.OverallPercent // never regress (§8.2)
	}
	return pct
}

// etaLocked computes ETA from the average of the last etaWindow completed
// slice durations, emitted only once at least two slices have completed
// (§4.9).
func (r *Reporter) etaLocked(js *jobState) *float64 {
	if js.completedSlices < 2 || len(js.sliceDurations) == 0 {
		return nil
	}
	sum := 0.0
	for _, d := range js.sliceDurations {
		sum += d
	}
	avg := sum / float64(len(js.sliceDurations))
	remaining := js.totalSlices - js.completedSlices
	if remaining <= 0 {
		return nil
	}
	eta := avg * float64(remaining)
	return &eta
}

// Complete marks jobID terminal (§4.9: `complete(job_id, ok, error?)`).
func (r *Reporter) Complete(jobID string, ok bool, errMsg string) error {
	r.mu.Lock()
	js, exists := r.jobs[jobID]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("progress: unknown job %s", jobID)
	}
	if ok {
		js.record.Stage = StageDone
		js.record.OverallPercent = 100
	} else {
		js.record.Stage = StageFailed
		js.record.Error = errMsg
	}
	r.mu.Unlock()
	return r.publish(jobID)
}

// Snapshot returns a copy of jobID's current Record, read under lock
// (§5: "readers take a snapshot under the lock and return copies").
func (r *Reporter) Snapshot(jobID string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	js, ok := r.jobs[jobID]
	if !ok {
		return Record{}, false
	}
	return copyRecord(js.record), true
}

func copyRecord(rec Record) Record {
	out := rec
	out.PerSlice = make(map[int]SliceState, len(rec.PerSlice))
	for k, v := range rec.PerSlice {
		out.PerSlice[k] = v
	}
	return out
}

// publish writes jobID's current record to its on-disk snapshot file,
// atomically (§4.9: "write-temp-then-rename").
func (r *Reporter) publish(jobID string) error {
	if r.snapshotDir == "" {
		return nil
	}

	r.mu.Lock()
	js, ok := r.jobs[jobID]
	var rec Record
	if ok {
		rec = copyRecord(js.record)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("progress: unknown job %s", jobID)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("progress: marshal snapshot for %s: %w", jobID, err)
	}

	if err := os.MkdirAll(r.snapshotDir, 0o755); err != nil {
		return fmt.Errorf("progress: snapshot dir: %w", err)
	}

	dest := filepath.Join(r.snapshotDir, jobID+".json")
	tmp, err := os.CreateTemp(r.snapshotDir, jobID+".tmp-*")
	if err != nil {
		return fmt.Errorf("progress: create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("progress: write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("progress: close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("progress: rename snapshot: %w", err)
	}
	return nil
}
