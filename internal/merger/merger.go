// Package merger implements Merger (L, §4.6): combining per-slice
// transcripts into one Transcript, shifting timestamps by each slice's
// start offset, sorting, and dropping segments that duplicate the tail of
// an earlier one. The offset-and-concatenate shape is grounded on how
// alnah-go-transcript's TranscribeAll preserves slice order by index
// (internal/transcribe/transcriber.go) before handing results to a single
// combining pass.
package merger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/openlegis/hearing-transcribe/internal/pipelineerr"
	"github.com/openlegis/hearing-transcribe/internal/planner"
)

// ErrMergeInvariantViolated indicates an internal Merger invariant failed —
// always a bug, never a caller-correctable condition (§7). It is the same
// sentinel as pipelineerr.ErrMergeInvariantViolated.
var ErrMergeInvariantViolated = pipelineerr.ErrMergeInvariantViolated

// mergeOverlapTolerance is fixed independent of the configured planner
// overlap (default 30s), per SPEC_FULL.md's resolution of the source's
// order-dependent merge behavior (§4.6, §9).
const mergeOverlapTolerance = 25.0

// SliceSegment is one timed span within a slice's transcript, in
// slice-local time (§3, SliceResult).
type SliceSegment struct {
	StartS float64
	EndS   float64
	Text   string
}

// SliceResult is one slice's transcription output (§3).
type SliceResult struct {
	Index         int
	Segments      []SliceSegment
	Language      string
	SliceDuration float64
}

// Segment is a final, globally-timed transcript segment (§3, Transcript).
type Segment struct {
	StartS float64 `json:"start_s"`
	EndS   float64 `json:"end_s"`
	Text   string  `json:"text"`
}

// Metadata describes how a Transcript was produced (§3).
type Metadata struct {
	Method     string    `json:"method"` // "direct" or "chunked"
	Chunks     int       `json:"chunks"`
	ProducedAt time.Time `json:"produced_at"`
	SourcePath string    `json:"source_path"`
}

// Transcript is the Merger's output, persisted verbatim as §6's
// `{job_id}_transcript.json` (§3).
type Transcript struct {
	Text      string    `json:"text"`
	Segments  []Segment `json:"segments"`
	DurationS float64   `json:"duration_s"`
	Language  string    `json:"language"`
	Metadata  Metadata  `json:"metadata"`
}

// Merge combines results (one per slice, ordered by index) with plan into
// a single Transcript (§4.6). meta.Chunks is overwritten with len(results);
// Method, ProducedAt and SourcePath are copied from meta as given.
func Merge(results []SliceResult, plan []planner.SliceSpec, meta Metadata) (Transcript, error) {
	if len(results) == 0 {
		return Transcript{}, fmt.Errorf("%w: no slice results to merge", ErrMergeInvariantViolated)
	}
	if len(plan) != 0 && len(plan) != len(results) {
		return Transcript{}, fmt.Errorf("%w: plan has %d slices, got %d results", ErrMergeInvariantViolated, len(plan), len(results))
	}

	var offset []Segment
	for i, r := range results {
		start := 0.0
		if len(plan) > 0 {
			start = plan[i].StartS
		}
		for _, s := range r.Segments {
			offset = append(offset, Segment{
				StartS: s.StartS + start,
				EndS:   s.EndS + start,
				Text:   s.Text,
			})
		}
	}

	sort.SliceStable(offset, func(i, j int) bool { return offset[i].StartS < offset[j].StartS })

	kept := dedupeOverlap(offset)

	if err := validateOrder(kept); err != nil {
		return Transcript{}, err
	}

	maxEnd := 0.0
	texts := make([]string, 0, len(kept))
	for _, s := range kept {
		if s.EndS > maxEnd {
			maxEnd = s.EndS
		}
		trimmed := strings.TrimSpace(s.Text)
		if trimmed != "" {
			texts = append(texts, trimmed)
		}
	}

	meta.Chunks = len(results)

	return Transcript{
		Text:      strings.Join(texts, " "),
		Segments:  kept,
		DurationS: maxEnd,
		Language:  results[0].Language,
		Metadata:  meta,
	}, nil
}

// dedupeOverlap drops a segment iff it begins inside the tail of an
// already-kept segment, within mergeOverlapTolerance (§4.6 step 3). The
// earlier segment is always preferred over its later duplicate.
func dedupeOverlap(sorted []Segment) []Segment {
	kept := make([]Segment, 0, len(sorted))
	for _, s := range sorted {
		duplicate := false
		for _, p := range kept {
			if p.EndS-mergeOverlapTolerance < s.StartS && s.StartS < p.EndS {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, s)
		}
	}
	return kept
}

// validateOrder checks §3's post-merge invariant: segments sorted by
// start_s, and no two consecutive segments satisfy the overlap-duplicate
// predicate that dedupeOverlap removes.
func validateOrder(segs []Segment) error {
	for i := 1; i < len(segs); i++ {
		if segs[i].StartS < segs[i-1].StartS {
			return fmt.Errorf("%w: segment %d starts before segment %d", ErrMergeInvariantViolated, i, i-1)
		}
		prev := segs[i-1]
		if prev.EndS-mergeOverlapTolerance < segs[i].StartS && segs[i].StartS < prev.EndS {
			return fmt.Errorf("%w: segment %d begins inside the tail of segment %d", ErrMergeInvariantViolated, i, i-1)
		}
	}
	return nil
}
