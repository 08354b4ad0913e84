// Package planner implements Planner (I, §4.3): given AudioMetadata, it
// decides direct-vs-chunked submission and, when chunked, computes a
// SlicePlan satisfying §3's SliceSpec invariants. The overlapping-window
// arithmetic is grounded on alnah-go-transcript's TimeChunker
// (internal/audio/chunker.go), generalized from a fixed target duration to
// the spec's byte-budget-driven slice count.
package planner

import (
	"fmt"
	"math"

	"github.com/openlegis/hearing-transcribe/internal/audioprobe"
	"github.com/openlegis/hearing-transcribe/internal/pipelineerr"
)

// ErrPlanInfeasible indicates no feasible plan was found within the
// re-plan bound (§4.3, §7). It is the same sentinel as
// pipelineerr.ErrPlanInfeasible.
var ErrPlanInfeasible = pipelineerr.ErrPlanInfeasible

const maxReplans = 3
const replanShrinkFactor = 0.8

// SliceSpec is one planned slice (§3).
type SliceSpec struct {
	Index        int
	StartS       float64
	DurationS    float64
	OverlapHeadS float64
	OverlapTailS float64
}

// Plan is the Planner's output: either a direct whole-file submission or a
// chunked SlicePlan (§4.3).
type Plan struct {
	Direct bool
	Slices []SliceSpec
}

// Config holds the byte/overlap budgets the Planner decides against (§4.3, §6).
type Config struct {
	MaxUploadBytes   int64
	OverlapSeconds   float64
	TargetSliceBytes int64
}

const (
	DefaultMaxUploadBytes   = 20 * 1024 * 1024
	DefaultOverlapSeconds   = 30
	DefaultTargetSliceBytes = 20 * 1024 * 1024
)

// DefaultConfig returns the §6 configuration defaults.
func DefaultConfig() Config {
	return Config{
		MaxUploadBytes:   DefaultMaxUploadBytes,
		OverlapSeconds:   DefaultOverlapSeconds,
		TargetSliceBytes: DefaultTargetSliceBytes,
	}
}

// Plan decides DirectPlan vs ChunkedPlan for meta under cfg (§4.3).
func Plan(meta audioprobe.AudioMetadata, cfg Config) (Plan, error) {
	if meta.SizeBytes <= cfg.MaxUploadBytes {
		return Plan{Direct: true}, nil
	}

	target := cfg.TargetSliceBytes
	for attempt := 0; attempt < maxReplans; attempt++ {
		slices, err := buildSlicePlan(meta, cfg.OverlapSeconds, target)
		if err != nil {
			return Plan{}, err
		}
		if slicesWithinBudget(meta, slices, cfg.MaxUploadBytes) {
			return Plan{Direct: false, Slices: slices}, nil
		}
		target = int64(float64(target) * replanShrinkFactor)
	}

	return Plan{}, fmt.Errorf("%w: size=%d duration=%.2f", ErrPlanInfeasible, meta.SizeBytes, meta.DurationSeconds)
}

// buildSlicePlan computes N = ceil(size/target) + 1 slices covering
// [0, duration]: every slice lasts baseStep = (duration + (N-1)*O) / N
// seconds, and each slice after the first starts O seconds before the
// previous one ends (§4.3).
func buildSlicePlan(meta audioprobe.AudioMetadata, overlapS float64, targetSliceBytes int64) ([]SliceSpec, error) {
	if targetSliceBytes <= 0 {
		return nil, fmt.Errorf("%w: non-positive target slice bytes", ErrPlanInfeasible)
	}

	n := int(math.Ceil(float64(meta.SizeBytes)/float64(targetSliceBytes))) + 1
	if n < 1 {
		n = 1
	}

	duration := meta.DurationSeconds
	baseStep := (duration + float64(n-1)*overlapS) / float64(n)
	if baseStep <= overlapS {
		return nil, fmt.Errorf("%w: overlap too large for duration", ErrPlanInfeasible)
	}

	slices := make([]SliceSpec, 0, n)
	start := 0.0
	for i := 0; i < n; i++ {
		head := overlapS
		if i == 0 {
			head = 0
		}
		tail := overlapS
		last := i == n-1

		sliceStart := start
		if i > 0 {
			sliceStart = slices[i-1].StartS + baseStep - head
		}

		var dur float64
		if last {
			tail = 0
			dur = duration - sliceStart
		} else {
			dur = baseStep
		}

		slices = append(slices, SliceSpec{
			Index:        i,
			StartS:       sliceStart,
			DurationS:    dur,
			OverlapHeadS: head,
			OverlapTailS: tail,
		})
	}

	return slices, nil
}

// slicesWithinBudget estimates each slice's extracted size from its share
// of total duration and the source's average bitrate, checking against
// max_upload_bytes (§4.3: "verified by the pipeline against
// max_upload_bytes"; estimated here so re-planning can happen before any
// extraction work).
func slicesWithinBudget(meta audioprobe.AudioMetadata, slices []SliceSpec, maxUploadBytes int64) bool {
	if meta.DurationSeconds <= 0 {
		return true
	}
	bytesPerSecond := float64(meta.SizeBytes) / meta.DurationSeconds
	for _, s := range slices {
		estimated := int64(s.DurationS * bytesPerSecond)
		if estimated > maxUploadBytes {
			return false
		}
	}
	return true
}
