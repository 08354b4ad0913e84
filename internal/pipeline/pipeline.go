// Package pipeline implements Pipeline (K, §4): the orchestrator driving
// one hearing recording from validation through a persisted transcript.
// Its per-slice bounded-fan-out loop is grounded on alnah-go-transcript's
// TranscribeAll (internal/transcribe/transcriber.go) — a semaphore-gated
// errgroup over ordered chunks — generalized with a per-slice retry loop,
// rate limiting, scratch-directory leasing, and progress reporting that
// TranscribeAll's single-shot transcription never needed.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openlegis/hearing-transcribe/internal/apierr"
	"github.com/openlegis/hearing-transcribe/internal/audioprobe"
	"github.com/openlegis/hearing-transcribe/internal/cleanup"
	"github.com/openlegis/hearing-transcribe/internal/merger"
	"github.com/openlegis/hearing-transcribe/internal/metadatastore"
	"github.com/openlegis/hearing-transcribe/internal/metrics"
	"github.com/openlegis/hearing-transcribe/internal/pipelineerr"
	"github.com/openlegis/hearing-transcribe/internal/planner"
	"github.com/openlegis/hearing-transcribe/internal/preflight"
	"github.com/openlegis/hearing-transcribe/internal/progress"
	"github.com/openlegis/hearing-transcribe/internal/ratelimit"
	"github.com/openlegis/hearing-transcribe/internal/resourcepool"
	"github.com/openlegis/hearing-transcribe/internal/retry"
	"github.com/openlegis/hearing-transcribe/internal/speechapi"
)

// State names the job's position in the §4 state machine:
// Created -> Validating -> Planning -> (Direct|Slicing) -> Submitting ->
// Merging -> Persisting -> Done, with Failed/Cancelled reachable from any
// state.
type State string

const (
	StateCreated     State = "created"
	StateValidating  State = "validating"
	StatePlanning    State = "planning"
	StateSlicing     State = "slicing"
	StateSubmitting  State = "submitting"
	StateMerging     State = "merging"
	StatePersisting  State = "persisting"
	StateDone        State = "done"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
)

const defaultMaxConcurrentSlices = 3

// transcriber is satisfied by *speechapi.Client; kept as an interface so
// the pipeline's own tests never hit a real transcription SDK.
type transcriber interface {
	Transcribe(ctx context.Context, filePath string) (speechapi.Result, error)
}

// Pipeline wires every core component into the job state machine (§4, §6).
// The zero value is not usable; construct with New.
type Pipeline struct {
	preflight   *preflight.Checker
	plannerCfg  planner.Config
	prober      *audioprobe.Prober
	slicer      slicerDeps
	pool        *resourcepool.Pool
	speech      transcriber
	limiter     *ratelimit.Limiter
	retryPolicy *retry.Policy
	reporter    *progress.Reporter
	cleanupSched *cleanup.Scheduler
	store       *metadatastore.Store
	metrics     *metrics.Registry

	maxConcurrentSlices int
	outputDir           string
}

// slicerDeps is satisfied by *slicer.Slicer.
type slicerDeps interface {
	Extract(ctx context.Context, sourcePath string, startS, durationS float64, destPath string) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithPreflight(c *preflight.Checker) Option   { return func(p *Pipeline) { p.preflight = c } }
func WithPlannerConfig(cfg planner.Config) Option { return func(p *Pipeline) { p.plannerCfg = cfg } }
func WithProber(pr *audioprobe.Prober) Option      { return func(p *Pipeline) { p.prober = pr } }
func WithSlicer(s slicerDeps) Option               { return func(p *Pipeline) { p.slicer = s } }
func WithResourcePool(pool *resourcepool.Pool) Option {
	return func(p *Pipeline) { p.pool = pool }
}
func WithSpeechClient(c transcriber) Option { return func(p *Pipeline) { p.speech = c } }
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(p *Pipeline) { p.limiter = l }
}
func WithRetryPolicy(r *retry.Policy) Option { return func(p *Pipeline) { p.retryPolicy = r } }
func WithReporter(r *progress.Reporter) Option { return func(p *Pipeline) { p.reporter = r } }
func WithCleanupScheduler(s *cleanup.Scheduler) Option {
	return func(p *Pipeline) { p.cleanupSched = s }
}
func WithMetadataStore(s *metadatastore.Store) Option {
	return func(p *Pipeline) { p.store = s }
}
func WithMetrics(m *metrics.Registry) Option { return func(p *Pipeline) { p.metrics = m } }
func WithMaxConcurrentSlices(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxConcurrentSlices = n
		}
	}
}
func WithOutputDir(dir string) Option { return func(p *Pipeline) { p.outputDir = dir } }

// New constructs a Pipeline from its dependencies.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		plannerCfg:          planner.DefaultConfig(),
		maxConcurrentSlices: defaultMaxConcurrentSlices,
		outputDir:           ".",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// JobHandle is the §6 external interface returned by Submit: AwaitResult,
// Cancel, Progress.
type JobHandle struct {
	jobID    string
	reporter *progress.Reporter
	cancel   context.CancelFunc
	done     chan struct{}

	mu     sync.Mutex
	result merger.Transcript
	err    error
}

// Cancel requests cooperative cancellation of the job (§4: Cancelled is
// reachable from any state).
func (h *JobHandle) Cancel() { h.cancel() }

// Progress returns the job's latest published ProgressRecord.
func (h *JobHandle) Progress() (progress.Record, bool) {
	return h.reporter.Snapshot(h.jobID)
}

// AwaitResult blocks until the job reaches a terminal state or ctx is
// cancelled.
func (h *JobHandle) AwaitResult(ctx context.Context) (merger.Transcript, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, h.err
	case <-ctx.Done():
		return merger.Transcript{}, ctx.Err()
	}
}

func (h *JobHandle) finish(result merger.Transcript, err error) {
	h.mu.Lock()
	h.result = result
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// Submit starts a job for audioPath under jobID and returns immediately
// with a JobHandle (§6: `submit(job_id, audio_path, options) -> JobHandle`).
func (p *Pipeline) Submit(ctx context.Context, jobID, audioPath string) *JobHandle {
	runCtx, cancel := context.WithCancel(ctx)
	h := &JobHandle{
		jobID:    jobID,
		reporter: p.reporter,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go p.run(runCtx, jobID, audioPath, h)
	return h
}

func (p *Pipeline) run(ctx context.Context, jobID, audioPath string, h *JobHandle) {
	if err := p.reporter.Start(jobID, 0); err != nil {
		h.finish(merger.Transcript{}, fmt.Errorf("start progress tracking: %w", err))
		return
	}

	if err := p.runValidating(ctx, jobID, audioPath); err != nil {
		p.fail(jobID, h, err)
		return
	}

	meta, plan, err := p.runPlanning(ctx, audioPath)
	if err != nil {
		p.fail(jobID, h, err)
		return
	}

	sliceCount := len(plan.Slices)
	if plan.Direct {
		sliceCount = 1
	}
	_ = p.reporter.SetTotal(jobID, sliceCount)

	// Exactly one scratch directory is leased per job, not per slice
	// (§4.8); it holds every slice's extracted file and is released when
	// the job reaches a terminal state, whatever that state is.
	var scratchDir string
	if !plan.Direct {
		dir, err := p.pool.Lease()
		if err != nil {
			p.fail(jobID, h, fmt.Errorf("lease scratch dir: %w", err))
			return
		}
		scratchDir = dir
		defer func() { _ = p.pool.Return(scratchDir) }()
	}

	results, err := p.runSubmission(ctx, jobID, audioPath, scratchDir, meta, plan)
	if err != nil {
		p.fail(jobID, h, err)
		return
	}

	transcript, err := p.runMerging(jobID, results, plan, audioPath)
	if err != nil {
		p.fail(jobID, h, err)
		return
	}

	if err := p.runPersisting(ctx, jobID, transcript); err != nil {
		p.fail(jobID, h, err)
		return
	}

	_ = p.reporter.Complete(jobID, true, "")
	p.metrics.SetJobOverallPercent(jobID, 100)
	p.metrics.IncJobCompleted("success")
	h.finish(transcript, nil)
}

func (p *Pipeline) fail(jobID string, h *JobHandle, err error) {
	if errIsContextCancelled(err) {
		err = fmt.Errorf("%w: %v", pipelineerr.ErrCancelled, err)
	}
	_ = p.reporter.Complete(jobID, false, err.Error())
	p.metrics.IncJobCompleted("failure")
	h.finish(merger.Transcript{}, err)
}

func errIsContextCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// runValidating runs Preflight (§4.7). Validating has no dedicated
// progress stage: it precedes the analyzing work the weighted percent
// tracks.
func (p *Pipeline) runValidating(ctx context.Context, jobID, audioPath string) error {
	if p.preflight == nil {
		return nil
	}
	if err := p.preflight.Run(ctx, jobID, audioPath); err != nil {
		return err
	}
	return nil
}

// runPlanning probes the file and computes a Plan (§4.1, §4.3).
func (p *Pipeline) runPlanning(ctx context.Context, audioPath string) (audioprobe.AudioMetadata, planner.Plan, error) {
	if p.prober == nil {
		return audioprobe.AudioMetadata{}, planner.Plan{}, fmt.Errorf("planning: %w", audioprobe.ErrProbeUnavailable)
	}
	meta, err := p.prober.Probe(ctx, audioPath)
	if err != nil {
		return audioprobe.AudioMetadata{}, planner.Plan{}, fmt.Errorf("probe: %w", err)
	}
	plan, err := planner.Plan(meta, p.plannerCfg)
	if err != nil {
		return audioprobe.AudioMetadata{}, planner.Plan{}, fmt.Errorf("plan: %w", err)
	}
	return meta, plan, nil
}

// runSubmission extracts (when chunked) and transcribes every slice with
// bounded parallelism (§4.4), following TranscribeAll's semaphore-gated
// errgroup shape.
func (p *Pipeline) runSubmission(ctx context.Context, jobID, audioPath, scratchDir string, meta audioprobe.AudioMetadata, plan planner.Plan) ([]merger.SliceResult, error) {
	specs := plan.Slices
	if plan.Direct {
		specs = []planner.SliceSpec{{Index: 0, StartS: 0, DurationS: meta.DurationSeconds}}
	}

	_ = p.reporter.UpdateStage(jobID, progress.StageSlicing, "")
	for _, spec := range specs {
		_ = p.reporter.UpdateSlice(jobID, spec.Index, progress.SlicePending)
	}

	results := make([]merger.SliceResult, len(specs))
	sem := make(chan struct{}, p.maxConcurrentSlices)
	g, gctx := errgroup.WithContext(ctx)

	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			res, err := p.submitOne(gctx, jobID, audioPath, scratchDir, plan.Direct, spec)
			if err != nil {
				return fmt.Errorf("slice %d: %w", spec.Index, err)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// submitOne extracts (if needed) into the job's shared scratch directory
// and transcribes a single slice, retrying per the configured RetryPolicy
// (§4.4, §4.5). After the slice's final outcome (success or exhausted
// retries), its extracted file is released to the CleanupScheduler with
// policy immediate (§4.4 step 6) — the scratch directory itself is leased
// and released once per job by the caller, not here.
func (p *Pipeline) submitOne(ctx context.Context, jobID, audioPath, scratchDir string, direct bool, spec planner.SliceSpec) (merger.SliceResult, error) {
	slicePath := audioPath

	if !direct {
		_ = p.reporter.UpdateSlice(jobID, spec.Index, progress.SliceExtracting)
		slicePath = filepath.Join(scratchDir, fmt.Sprintf("slice-%04d.audio", spec.Index))
		if err := p.slicer.Extract(ctx, audioPath, spec.StartS, spec.DurationS, slicePath); err != nil {
			return merger.SliceResult{}, &pipelineerr.SliceExtractionFailed{Index: spec.Index, Cause: err}
		}
		defer func() {
			if p.cleanupSched != nil {
				p.cleanupSched.Schedule(slicePath, cleanup.Immediate)
			} else {
				_ = os.Remove(slicePath)
			}
		}()
	}

	_ = p.reporter.UpdateSlice(jobID, spec.Index, progress.SliceQueued)

	if err := p.acquireLimiter(ctx); err != nil {
		return merger.SliceResult{}, fmt.Errorf("rate limit acquire: %w", err)
	}

	_ = p.reporter.UpdateSlice(jobID, spec.Index, progress.SliceInFlight)

	result, err := p.speech.Transcribe(ctx, slicePath)
	if err == nil {
		_ = p.reporter.UpdateSlice(jobID, spec.Index, progress.SliceSucceeded)
		p.metrics.IncSliceOutcome("succeeded")
		return toSliceResult(spec, result), nil
	}

	kind := apierr.Classify(err)
	attempt, decision := p.retryPolicy.Begin(kind)
	attempts := 1
	for {
		if !decision.Retry {
			_ = p.reporter.UpdateSlice(jobID, spec.Index, progress.SliceFailed)
			p.metrics.IncSliceOutcome("rejected")
			return merger.SliceResult{}, &pipelineerr.TranscriptionRejected{Index: spec.Index, Cause: err}
		}

		p.metrics.IncSliceRetry(kind.String())
		_ = p.reporter.UpdateSlice(jobID, spec.Index, progress.SliceRetrying)
		select {
		case <-time.After(decision.Delay):
		case <-ctx.Done():
			return merger.SliceResult{}, ctx.Err()
		}

		if decision.Reextract && !direct {
			if rerr := p.slicer.Extract(ctx, audioPath, spec.StartS, spec.DurationS, slicePath); rerr != nil {
				return merger.SliceResult{}, &pipelineerr.SliceExtractionFailed{Index: spec.Index, Cause: rerr}
			}
		}

		if err := p.acquireLimiter(ctx); err != nil {
			return merger.SliceResult{}, fmt.Errorf("rate limit acquire: %w", err)
		}

		result, err = p.speech.Transcribe(ctx, slicePath)
		attempts++
		if err == nil {
			_ = p.reporter.UpdateSlice(jobID, spec.Index, progress.SliceSucceeded)
			p.metrics.IncSliceOutcome("succeeded")
			return toSliceResult(spec, result), nil
		}

		kind = apierr.Classify(err)
		decision = p.retryPolicy.Next(attempt)
		if decision.Exhausted {
			_ = p.reporter.UpdateSlice(jobID, spec.Index, progress.SliceFailed)
			p.metrics.IncSliceOutcome("failed")
			return merger.SliceResult{}, &pipelineerr.TranscriptionFailed{Index: spec.Index, Cause: err, Attempts: attempts}
		}
	}
}

// acquireLimiter acquires one rate-limiter token, timing the wait for the
// rate_limiter_wait_seconds histogram.
func (p *Pipeline) acquireLimiter(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	start := time.Now()
	err := p.limiter.Acquire(ctx, 1)
	p.metrics.ObserveRateLimiterWait(time.Since(start).Seconds())
	return err
}

func toSliceResult(spec planner.SliceSpec, result speechapi.Result) merger.SliceResult {
	segments := make([]merger.SliceSegment, 0, len(result.Segments))
	for _, s := range result.Segments {
		segments = append(segments, merger.SliceSegment{StartS: s.StartS, EndS: s.EndS, Text: s.Text})
	}
	return merger.SliceResult{
		Index:         spec.Index,
		Segments:      segments,
		Language:      result.Language,
		SliceDuration: result.Duration,
	}
}

// runMerging combines every slice's result into one Transcript, stamping
// §3's metadata (method, chunks, produced_at, source_path) (§4.6).
func (p *Pipeline) runMerging(jobID string, results []merger.SliceResult, plan planner.Plan, audioPath string) (merger.Transcript, error) {
	_ = p.reporter.UpdateStage(jobID, progress.StageMerging, "")

	specs := plan.Slices
	method := "chunked"
	if plan.Direct {
		specs = []planner.SliceSpec{{Index: 0, StartS: 0}}
		method = "direct"
	}
	meta := merger.Metadata{
		Method:     method,
		ProducedAt: time.Now(),
		SourcePath: audioPath,
	}
	transcript, err := merger.Merge(results, specs, meta)
	if err != nil {
		return merger.Transcript{}, fmt.Errorf("merge: %w", err)
	}
	return transcript, nil
}

// runPersisting writes the transcript atomically (temp-then-rename,
// following progress.Reporter.publish) as a JSON file per §6
// (`{job_id}_transcript.json`) and records completion in the metadata
// store (§4.8).
func (p *Pipeline) runPersisting(ctx context.Context, jobID string, transcript merger.Transcript) error {
	_ = p.reporter.UpdateStage(jobID, progress.StageCleanup, "")

	if p.outputDir != "" {
		if err := writeTranscriptAtomic(p.outputDir, jobID, transcript); err != nil {
			return &pipelineerr.PersistenceFailed{Target: jobID, Cause: err}
		}
	}

	if p.store != nil {
		if err := p.store.MarkTranscribed(ctx, jobID, transcript.Text); err != nil {
			return &pipelineerr.PersistenceFailed{Target: jobID, Cause: err}
		}
	}
	return nil
}

// writeTranscriptAtomic serializes transcript as UTF-8 JSON and writes it
// to dir/{jobID}_transcript.json via write-temp-then-rename, the same
// atomic-publish pattern progress.Reporter.publish uses for its snapshot
// files (§6).
func writeTranscriptAtomic(dir, jobID string, transcript merger.Transcript) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(transcript, "", "  ")
	if err != nil {
		return err
	}
	target := filepath.Join(dir, jobID+"_transcript.json")
	tmp, err := os.CreateTemp(dir, jobID+"_transcript.json.tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, target)
}
