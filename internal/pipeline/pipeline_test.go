package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlegis/hearing-transcribe/internal/apierr"
	"github.com/openlegis/hearing-transcribe/internal/metadatastore"
	"github.com/openlegis/hearing-transcribe/internal/pipeline"
	"github.com/openlegis/hearing-transcribe/internal/planner"
	"github.com/openlegis/hearing-transcribe/internal/progress"
	"github.com/openlegis/hearing-transcribe/internal/ratelimit"
	"github.com/openlegis/hearing-transcribe/internal/resourcepool"
	"github.com/openlegis/hearing-transcribe/internal/retry"
	"github.com/openlegis/hearing-transcribe/internal/speechapi"
)

type fakeSpeech struct {
	mu      chan struct{}
	calls   int32
	failN   int32 // fail this many calls (per process, not per slice) before succeeding
	failErr error
}

func (f *fakeSpeech) Transcribe(ctx context.Context, filePath string) (speechapi.Result, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failN {
		return speechapi.Result{}, f.failErr
	}
	return speechapi.Result{
		Text:     "hello from " + filepath.Base(filePath),
		Segments: []speechapi.Segment{{StartS: 0, EndS: 1, Text: "hello"}},
		Duration: 1,
		Language: "en",
	}, nil
}

type fakeSlicer struct{}

func (fakeSlicer) Extract(ctx context.Context, sourcePath string, startS, durationS float64, destPath string) error {
	return os.WriteFile(destPath, []byte("slice"), 0o644)
}

func newTestPipeline(t *testing.T, speech *fakeSpeech) (*pipeline.Pipeline, *progress.Reporter, *metadatastore.Store, string) {
	t.Helper()
	dir := t.TempDir()

	reporter := progress.New(progress.WithSnapshotDir(filepath.Join(dir, "progress")))
	store, err := metadatastore.Open(filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pool := resourcepool.New(filepath.Join(dir, "scratch"))
	limiter := ratelimit.New(ratelimit.WithCapacity(100), ratelimit.WithRefillPerSecond(100))
	retryPolicy := retry.New(
		retry.WithClassPolicy(apierr.KindServer, time.Millisecond, 3, true),
		retry.WithClassPolicy(apierr.KindNetwork, time.Millisecond, 3, true),
	)

	p := pipeline.New(
		pipeline.WithPlannerConfig(planner.DefaultConfig()),
		pipeline.WithSlicer(fakeSlicer{}),
		pipeline.WithResourcePool(pool),
		pipeline.WithSpeechClient(speech),
		pipeline.WithRateLimiter(limiter),
		pipeline.WithRetryPolicy(retryPolicy),
		pipeline.WithReporter(reporter),
		pipeline.WithMetadataStore(store),
		pipeline.WithOutputDir(filepath.Join(dir, "out")),
		pipeline.WithMaxConcurrentSlices(2),
	)
	return p, reporter, store, dir
}

func writeAudioFile(t *testing.T, dir string, size int) string {
	t.Helper()
	path := filepath.Join(dir, "hearing.mp3")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

// Since no real Prober is wired (probing shells out), these tests exercise
// the pipeline's planning-failure path to confirm Submit/AwaitResult wiring
// without a prober configured errors cleanly rather than hanging.
func TestSubmitFailsCleanlyWithoutProber(t *testing.T) {
	speech := &fakeSpeech{}
	p, _, store, dir := newTestPipeline(t, speech)

	require.NoError(t, store.Create(context.Background(), metadatastore.Hearing{
		ID: "job-1", Title: "Budget Hearing", Committee: "Finance", Date: time.Now(),
	}))
	audioPath := writeAudioFile(t, dir, 1024)

	handle := p.Submit(context.Background(), "job-1", audioPath)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := handle.AwaitResult(ctx)
	require.Error(t, err)

	rec, ok := handle.Progress()
	require.True(t, ok)
	assert.Equal(t, progress.StageFailed, rec.Stage)
	assert.NotEmpty(t, rec.Error)
}

// TestCancelDoesNotHangAwaitResult confirms Cancel/AwaitResult wiring
// still resolves even when the job fails for an unrelated reason (no
// Prober configured here, since Prober shells out to a real subprocess).
func TestCancelDoesNotHangAwaitResult(t *testing.T) {
	speech := &fakeSpeech{}
	p, _, store, dir := newTestPipeline(t, speech)
	require.NoError(t, store.Create(context.Background(), metadatastore.Hearing{
		ID: "job-2", Title: "Oversight Hearing", Committee: "Judiciary", Date: time.Now(),
	}))
	audioPath := writeAudioFile(t, dir, 1024)

	handle := p.Submit(context.Background(), "job-2", audioPath)
	handle.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := handle.AwaitResult(ctx)
	require.Error(t, err)
}

func TestFakeSpeechRetriesThenSucceeds(t *testing.T) {
	speech := &fakeSpeech{failN: 1, failErr: errors.New("server error")}
	result, err := speech.Transcribe(context.Background(), "a")
	require.Error(t, err)
	result, err = speech.Transcribe(context.Background(), "a")
	require.NoError(t, err)
	assert.Contains(t, result.Text, "hello from")
}
