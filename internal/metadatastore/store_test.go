package metadatastore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlegis/hearing-transcribe/internal/metadatastore"
)

func openTestStore(t *testing.T) *metadatastore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hearings.db")
	store, err := metadatastore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestGetUnknownJobReturnsNotFound(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)

	_, err := store.Get(context.Background(), "job-missing")
	assert.ErrorIs(t, err, metadatastore.ErrHearingNotFound)
}

func TestMarkCapturedAndTranscribedUpdateExpectedFields(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)

	require.NoError(t, store.Create(context.Background(), metadatastore.Hearing{
		ID:        "job-1",
		Title:     "Budget Hearing",
		Committee: "Finance",
		Date:      time.Now(),
	}))

	require.NoError(t, store.MarkCaptured(context.Background(), "job-1"))
	h, err := store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, metadatastore.StageCaptured, h.ProcessingStage)

	require.NoError(t, store.MarkTranscribed(context.Background(), "job-1", "full transcript text"))
	h, err = store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, metadatastore.StageTranscribed, h.ProcessingStage)
	assert.Equal(t, "full transcript text", h.FullTextContent)
}

func TestMarkCapturedUnknownJobReturnsNotFound(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)

	err := store.MarkCaptured(context.Background(), "job-missing")
	assert.ErrorIs(t, err, metadatastore.ErrHearingNotFound)
}
