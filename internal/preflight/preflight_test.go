package preflight_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlegis/hearing-transcribe/internal/credential"
	"github.com/openlegis/hearing-transcribe/internal/metadatastore"
	"github.com/openlegis/hearing-transcribe/internal/pipelineerr"
	"github.com/openlegis/hearing-transcribe/internal/preflight"
)

type fakeStats struct {
	freeMemMiB uint64
	freeDiskGB float64
	cpuPct     float64
	err        error
}

func (f fakeStats) FreeMemoryMiB(ctx context.Context) (uint64, error)          { return f.freeMemMiB, f.err }
func (f fakeStats) FreeDiskGiB(ctx context.Context, path string) (float64, error) { return f.freeDiskGB, f.err }
func (f fakeStats) CPUPercent(ctx context.Context) (float64, error)           { return f.cpuPct, f.err }

func healthyStats() fakeStats {
	return fakeStats{freeMemMiB: 1024, freeDiskGB: 10, cpuPct: 10}
}

func writeTempAudio(t *testing.T, ext string, size int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hearing"+ext)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func openStoreWithHearing(t *testing.T, jobID string) *metadatastore.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := metadatastore.Open(filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Create(context.Background(), metadatastore.Hearing{
		ID: jobID, Title: "Budget Hearing", Committee: "Finance", Date: time.Now(),
	}))
	return store
}

func TestRunPassesWhenAllChecksHealthy(t *testing.T) {
	audioPath := writeTempAudio(t, ".mp3", 1024)
	store := openStoreWithHearing(t, "job-1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	t.Setenv("OPENAI_API_KEY", "sk-test")

	checker := preflight.New(
		preflight.WithSystemStats(healthyStats()),
		preflight.WithHearingStore(store),
		preflight.WithCredentialProvider(credential.EnvProvider{}),
		preflight.WithLivenessURL(srv.URL),
		preflight.WithHTTPClient(srv.Client()),
	)

	err := checker.Run(context.Background(), "job-1", audioPath)
	assert.NoError(t, err)
}

func TestRunFailsAudioCheckOnDisallowedExtension(t *testing.T) {
	audioPath := writeTempAudio(t, ".mov", 1024)
	store := openStoreWithHearing(t, "job-1")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	checker := preflight.New(
		preflight.WithSystemStats(healthyStats()),
		preflight.WithHearingStore(store),
		preflight.WithCredentialProvider(credential.EnvProvider{}),
	)

	err := checker.Run(context.Background(), "job-1", audioPath)
	require.Error(t, err)

	var pf *pipelineerr.PreflightFailed
	require.ErrorAs(t, err, &pf)
	assert.Less(t, pf.ReadinessScore(), 1.0)

	foundAudioFailure := false
	for _, item := range pf.Items {
		if item.Check == "audio" {
			assert.False(t, item.Passed)
			foundAudioFailure = true
		}
	}
	assert.True(t, foundAudioFailure)
}

func TestRunFailsAPICheckOnMissingCredential(t *testing.T) {
	audioPath := writeTempAudio(t, ".mp3", 1024)
	store := openStoreWithHearing(t, "job-1")

	checker := preflight.New(
		preflight.WithSystemStats(healthyStats()),
		preflight.WithHearingStore(store),
		preflight.WithCredentialProvider(credential.EnvProvider{}),
	)

	err := checker.Run(context.Background(), "job-1", audioPath)
	require.Error(t, err)

	var pf *pipelineerr.PreflightFailed
	require.ErrorAs(t, err, &pf)
	for _, item := range pf.Items {
		if item.Check == "api" {
			assert.False(t, item.Passed)
		}
	}
}

func TestRunFailsHearingCheckOnUnknownJob(t *testing.T) {
	audioPath := writeTempAudio(t, ".mp3", 1024)
	store := openStoreWithHearing(t, "job-1")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	checker := preflight.New(
		preflight.WithSystemStats(healthyStats()),
		preflight.WithHearingStore(store),
		preflight.WithCredentialProvider(credential.EnvProvider{}),
	)

	err := checker.Run(context.Background(), "job-does-not-exist", audioPath)
	require.Error(t, err)

	var pf *pipelineerr.PreflightFailed
	require.ErrorAs(t, err, &pf)
	for _, item := range pf.Items {
		if item.Check == "hearing" {
			assert.False(t, item.Passed)
		}
	}
}

func TestRunFailsSystemCheckOnLowMemory(t *testing.T) {
	audioPath := writeTempAudio(t, ".mp3", 1024)
	store := openStoreWithHearing(t, "job-1")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	checker := preflight.New(
		preflight.WithSystemStats(fakeStats{freeMemMiB: 10, freeDiskGB: 10, cpuPct: 5}),
		preflight.WithHearingStore(store),
		preflight.WithCredentialProvider(credential.EnvProvider{}),
	)

	err := checker.Run(context.Background(), "job-1", audioPath)
	require.Error(t, err)

	var pf *pipelineerr.PreflightFailed
	require.ErrorAs(t, err, &pf)
	for _, item := range pf.Items {
		if item.Check == "system" {
			assert.False(t, item.Passed)
		}
	}
}

func TestRunReportsAllFailuresNotJustFirst(t *testing.T) {
	audioPath := writeTempAudio(t, ".mov", 0)
	store := openStoreWithHearing(t, "job-1")

	checker := preflight.New(
		preflight.WithSystemStats(fakeStats{freeMemMiB: 1, freeDiskGB: 0.1, cpuPct: 99}),
		preflight.WithHearingStore(store),
		preflight.WithCredentialProvider(credential.EnvProvider{}),
	)

	err := checker.Run(context.Background(), "job-missing", audioPath)
	require.Error(t, err)

	var pf *pipelineerr.PreflightFailed
	require.ErrorAs(t, err, &pf)

	failed := 0
	for _, item := range pf.Items {
		if !item.Passed {
			failed++
		}
	}
	assert.GreaterOrEqual(t, failed, 3)
}
