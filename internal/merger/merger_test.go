package merger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlegis/hearing-transcribe/internal/planner"
)

func TestMergeOffsetsBySliceStart(t *testing.T) {
	t.Parallel()
	plan := []planner.SliceSpec{
		{Index: 0, StartS: 0, DurationS: 300},
		{Index: 1, StartS: 270, DurationS: 300},
	}
	results := []SliceResult{
		{Index: 0, Language: "en", Segments: []SliceSegment{{StartS: 0, EndS: 5, Text: "hello"}}},
		{Index: 1, Language: "en", Segments: []SliceSegment{{StartS: 0, EndS: 5, Text: "world"}}},
	}

	tr, err := Merge(results, plan, Metadata{})
	require.NoError(t, err)
	require.Len(t, tr.Segments, 2)
	assert.Equal(t, 0.0, tr.Segments[0].StartS)
	assert.Equal(t, 270.0, tr.Segments[1].StartS)
}

func TestMergeDropsOverlapDuplicate(t *testing.T) {
	t.Parallel()
	plan := []planner.SliceSpec{
		{Index: 0, StartS: 0, DurationS: 300},
		{Index: 1, StartS: 270, DurationS: 300},
	}
	results := []SliceResult{
		{Index: 0, Language: "en", Segments: []SliceSegment{
			{StartS: 280, EndS: 295, Text: "kept early copy"},
		}},
		{Index: 1, Language: "en", Segments: []SliceSegment{
			// absolute start = 270 + 12 = 282, after the earlier segment's
			// start and inside (295-25, 295) of its tail -> dropped.
			{StartS: 12, EndS: 27, Text: "duplicate late copy"},
		}},
	}

	tr, err := Merge(results, plan, Metadata{})
	require.NoError(t, err)
	require.Len(t, tr.Segments, 1)
	assert.Equal(t, "kept early copy", tr.Segments[0].Text)
}

func TestMergeKeepsAdjacentNonOverlapping(t *testing.T) {
	t.Parallel()
	plan := []planner.SliceSpec{
		{Index: 0, StartS: 0, DurationS: 300},
		{Index: 1, StartS: 300, DurationS: 300},
	}
	results := []SliceResult{
		{Index: 0, Language: "en", Segments: []SliceSegment{{StartS: 290, EndS: 300, Text: "first"}}},
		{Index: 1, Language: "en", Segments: []SliceSegment{{StartS: 0, EndS: 10, Text: "second"}}},
	}

	tr, err := Merge(results, plan, Metadata{})
	require.NoError(t, err)
	assert.Len(t, tr.Segments, 2)
}

func TestMergeComputesDurationAndLanguage(t *testing.T) {
	t.Parallel()
	results := []SliceResult{
		{Index: 0, Language: "fr", Segments: []SliceSegment{{StartS: 0, EndS: 12.5, Text: "bonjour"}}},
	}

	tr, err := Merge(results, nil, Metadata{Method: "direct", SourcePath: "hearing.mp3"})
	require.NoError(t, err)
	assert.Equal(t, 12.5, tr.DurationS)
	assert.Equal(t, "fr", tr.Language)
	assert.Equal(t, "bonjour", tr.Text)
}

func TestMergeSetsMetadata(t *testing.T) {
	t.Parallel()
	plan := []planner.SliceSpec{
		{Index: 0, StartS: 0, DurationS: 300},
		{Index: 1, StartS: 270, DurationS: 300},
	}
	results := []SliceResult{
		{Index: 0, Language: "en", Segments: []SliceSegment{{StartS: 0, EndS: 5, Text: "a"}}},
		{Index: 1, Language: "en", Segments: []SliceSegment{{StartS: 0, EndS: 5, Text: "b"}}},
	}
	produced := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tr, err := Merge(results, plan, Metadata{Method: "chunked", ProducedAt: produced, SourcePath: "hearing.mp3"})
	require.NoError(t, err)
	assert.Equal(t, "chunked", tr.Metadata.Method)
	assert.Equal(t, 2, tr.Metadata.Chunks)
	assert.Equal(t, produced, tr.Metadata.ProducedAt)
	assert.Equal(t, "hearing.mp3", tr.Metadata.SourcePath)
}

func TestMergeEmptyResultsIsInvariantViolation(t *testing.T) {
	t.Parallel()
	_, err := Merge(nil, nil, Metadata{})
	assert.ErrorIs(t, err, ErrMergeInvariantViolated)
}

func TestMergeMismatchedPlanLengthIsInvariantViolation(t *testing.T) {
	t.Parallel()
	plan := []planner.SliceSpec{{Index: 0, StartS: 0, DurationS: 10}}
	results := []SliceResult{
		{Index: 0, Segments: nil},
		{Index: 1, Segments: nil},
	}

	_, err := Merge(results, plan, Metadata{})
	assert.ErrorIs(t, err, ErrMergeInvariantViolated)
}
