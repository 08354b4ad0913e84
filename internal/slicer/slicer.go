// Package slicer implements Slicer (B, §4.2): extracting a time range from
// an audio file into a new file by copying codec bytes, never re-encoding.
// Unlike the teacher's chunker (which re-encodes to OGG Vorbis), this
// wraps a subprocess that streams with `-c copy`, matching §6's slice
// subprocess contract exactly. The injectable commandRunner/fileRemover
// seam follows the teacher's internal/audio/deps.go pattern.
package slicer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/openlegis/hearing-transcribe/internal/apierr"
)

// Sentinel errors for Slicer failures (§4.2, §7). ErrSliceFailed wraps
// apierr.ErrChunkCorruption, so apierr.Classify reports a failed
// extraction as chunk_corruption.
var (
	ErrSliceToolMissing = errors.New("slice tool missing")
	ErrSliceFailed      = fmt.Errorf("slice extraction failed: %w", apierr.ErrChunkCorruption)
	ErrTimeRangeInvalid = errors.New("invalid time range")
)

type commandRunner interface {
	CombinedOutput(ctx context.Context, name string, args []string) ([]byte, error)
}

type osCommandRunner struct{}

func (osCommandRunner) CombinedOutput(ctx context.Context, name string, args []string) ([]byte, error) {
	// #nosec G204 -- name/args are fixed by the slice binary path and planner-derived offsets, not untrusted shell text
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

type fileRemover interface {
	Remove(name string) error
}

type osFileRemover struct{}

func (osFileRemover) Remove(name string) error { return os.Remove(name) }

// Slicer extracts `[start, start+duration]` from an audio file into a
// self-contained destination file (§4.2). Safe to invoke concurrently
// against the same source path (read-only).
type Slicer struct {
	toolPath string
	cmd      commandRunner
	remove   fileRemover
}

// Option configures a Slicer.
type Option func(*Slicer)

func withCommandRunner(c commandRunner) Option { return func(s *Slicer) { s.cmd = c } }
func withFileRemover(r fileRemover) Option     { return func(s *Slicer) { s.remove = r } }

// New constructs a Slicer invoking toolPath (e.g. "ffmpeg").
func New(toolPath string, opts ...Option) *Slicer {
	s := &Slicer{toolPath: toolPath, cmd: osCommandRunner{}, remove: osFileRemover{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Extract writes sourcePath's [startS, startS+durationS] range to destPath
// without re-encoding (§4.2, §6: `slice_tool -i <src> -ss <start> -t
// <duration> -c copy -avoid_negative_ts make_zero -y <dst>`). On failure
// destPath is left absent, never partial.
func (s *Slicer) Extract(ctx context.Context, sourcePath string, startS, durationS float64, destPath string) error {
	if startS < 0 || durationS <= 0 {
		return fmt.Errorf("%w: start=%.3f duration=%.3f", ErrTimeRangeInvalid, startS, durationS)
	}

	args := []string{
		"-i", sourcePath,
		"-ss", strconv.FormatFloat(startS, 'f', 3, 64),
		"-t", strconv.FormatFloat(durationS, 'f', 3, 64),
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		"-y", destPath,
	}

	out, err := s.cmd.CombinedOutput(ctx, s.toolPath, args)
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return fmt.Errorf("%w: %v", ErrSliceToolMissing, err)
		}
		_ = s.remove.Remove(destPath)
		return fmt.Errorf("%w: %s", ErrSliceFailed, string(out))
	}

	return nil
}
