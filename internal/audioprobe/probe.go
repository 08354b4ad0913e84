// Package audioprobe implements Probe (A, §4.1): a pure function of a
// file's contents that extracts duration, codec, sample rate, and channel
// count by shelling out to an external probe subprocess and parsing its
// structured JSON output. The injectable commandRunner/fileStatter seam is
// the same pattern alnah-go-transcript's internal/audio/deps.go uses to
// keep subprocess boundaries out of unit tests.
package audioprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Sentinel errors for Probe failures (§4.1, §7).
var (
	// ErrProbeUnavailable indicates the probe subprocess could not be run.
	ErrProbeUnavailable = errors.New("probe tool unavailable")
	// ErrUnreadableAudio indicates the probe ran but its output could not
	// be parsed, or reported zero duration.
	ErrUnreadableAudio = errors.New("unreadable audio")
	// ErrNotFound indicates the input file does not exist.
	ErrNotFound = errors.New("audio file not found")
)

// AudioMetadata is the immutable result of a successful probe (§3).
type AudioMetadata struct {
	Path            string
	SizeBytes       int64
	DurationSeconds float64
	Codec           string
	SampleRateHz    int
	Channels        int
	BitrateBps      int64
}

// commandRunner executes the probe subprocess. Mirrors the teacher's
// audio.commandRunner.
type commandRunner interface {
	CombinedOutput(ctx context.Context, name string, args []string) ([]byte, error)
}

type osCommandRunner struct{}

func (osCommandRunner) CombinedOutput(ctx context.Context, name string, args []string) ([]byte, error) {
	// #nosec G204 -- name/args are fixed by the probe binary path and caller input, not untrusted shell text
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// fileStatter checks file existence. Mirrors the teacher's audio.fileStatter.
type fileStatter interface {
	Stat(name string) (os.FileInfo, error)
}

type osFileStatter struct{}

func (osFileStatter) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }

// Prober invokes an external probe tool (§6: `probe_tool -v quiet
// -print_format json -show_format -show_streams <path>`) and parses its
// JSON output into AudioMetadata.
type Prober struct {
	toolPath string
	cmd      commandRunner
	stat     fileStatter
}

// Option configures a Prober.
type Option func(*Prober)

func withCommandRunner(c commandRunner) Option { return func(p *Prober) { p.cmd = c } }
func withFileStatter(s fileStatter) Option      { return func(p *Prober) { p.stat = s } }

// New constructs a Prober invoking toolPath (e.g. "ffprobe").
func New(toolPath string, opts ...Option) *Prober {
	p := &Prober{toolPath: toolPath, cmd: osCommandRunner{}, stat: osFileStatter{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type probeFormat struct {
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

// Probe extracts AudioMetadata from path (§4.1). It is a pure function of
// the file's contents: no retries, no caller-visible side effects.
func (p *Prober) Probe(ctx context.Context, path string) (AudioMetadata, error) {
	info, err := p.stat.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return AudioMetadata{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return AudioMetadata{}, fmt.Errorf("stat %s: %w", path, err)
	}

	args := []string{"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", path}
	out, err := p.cmd.CombinedOutput(ctx, p.toolPath, args)
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return AudioMetadata{}, fmt.Errorf("%w: %v", ErrProbeUnavailable, err)
		}
		if len(out) == 0 {
			return AudioMetadata{}, fmt.Errorf("%w: %v", ErrProbeUnavailable, err)
		}
	}

	var parsed probeFormat
	if err := json.Unmarshal(out, &parsed); err != nil {
		return AudioMetadata{}, fmt.Errorf("%w: parse probe output: %v", ErrUnreadableAudio, err)
	}

	meta := AudioMetadata{Path: path, SizeBytes: info.Size()}
	if d, err := parseFloat(parsed.Format.Duration); err == nil {
		meta.DurationSeconds = d
	}
	if meta.DurationSeconds <= 0 {
		return AudioMetadata{}, fmt.Errorf("%w: zero or missing duration", ErrUnreadableAudio)
	}
	if br, err := parseInt(parsed.Format.BitRate); err == nil {
		meta.BitrateBps = br
	}

	for _, s := range parsed.Streams {
		if s.CodecType != "audio" {
			continue
		}
		meta.Codec = s.CodecName
		meta.Channels = s.Channels
		if sr, err := parseIntField(s.SampleRate); err == nil {
			meta.SampleRateHz = sr
		}
		break
	}

	return meta, nil
}

func parseFloat(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%f", &f)
	return f, err
}

func parseInt(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

func parseIntField(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
