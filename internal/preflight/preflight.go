// Package preflight implements Preflight (J, §4.7): the synchronous gate
// run before the Pipeline starts, running four independent checks
// concurrently and surfacing every failure rather than the first (§7).
// The concurrent-fan-out-then-collect shape is grounded on
// alnah-go-transcript's internal/transcribe.TranscribeAll, narrowed from
// N homogeneous workers to four distinct named checks.
package preflight

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/openlegis/hearing-transcribe/internal/audioprobe"
	"github.com/openlegis/hearing-transcribe/internal/credential"
	"github.com/openlegis/hearing-transcribe/internal/metadatastore"
	"github.com/openlegis/hearing-transcribe/internal/pipelineerr"
)

// Per-check timeouts (SPEC_FULL.md supplement to §4.7): system checks are
// cheap local syscalls, audio needs a subprocess round trip, api waits on
// a real network round trip, hearing is a local store read.
const (
	systemCheckTimeout  = 2 * time.Second
	audioCheckTimeout   = 10 * time.Second
	apiCheckTimeout     = 30 * time.Second
	hearingCheckTimeout = 5 * time.Second
)

const (
	minFreeMemoryMiB = 500
	minFreeDiskGiB   = 2
	maxCPUPercent    = 90.0

	minAudioSizeBytes = 1
	maxAudioSizeBytes = 5 * 1024 * 1024 * 1024
	minDurationS      = 5
	maxDurationS      = 10 * 3600
)

var allowedExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".flac": true, ".m4a": true, ".aac": true,
}

// SystemStats reports the local resource figures the "system" check
// evaluates. Satisfied by a thin adapter over *memmon.Monitor and a disk
// free-space reader; kept as an interface so tests never touch the host.
type SystemStats interface {
	FreeMemoryMiB(ctx context.Context) (uint64, error)
	FreeDiskGiB(ctx context.Context, path string) (float64, error)
	CPUPercent(ctx context.Context) (float64, error)
}

// Checker runs the four §4.7 checks and produces a composite result.
type Checker struct {
	system    SystemStats
	prober    *audioprobe.Prober
	hearing   *metadatastore.Store
	creds     credential.Provider
	apiClient *http.Client
	livenessURL string
	scratchRoot string
}

// Option configures a Checker.
type Option func(*Checker)

func WithSystemStats(s SystemStats) Option   { return func(c *Checker) { c.system = s } }
func WithProber(p *audioprobe.Prober) Option  { return func(c *Checker) { c.prober = p } }
func WithHearingStore(s *metadatastore.Store) Option {
	return func(c *Checker) { c.hearing = s }
}
func WithCredentialProvider(p credential.Provider) Option {
	return func(c *Checker) { c.creds = p }
}
func WithHTTPClient(h *http.Client) Option    { return func(c *Checker) { c.apiClient = h } }
func WithLivenessURL(url string) Option       { return func(c *Checker) { c.livenessURL = url } }
func WithScratchRoot(root string) Option      { return func(c *Checker) { c.scratchRoot = root } }

// New constructs a Checker.
func New(opts ...Option) *Checker {
	c := &Checker{apiClient: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes all four checks concurrently (§5: "Preflight's four checks
// run concurrently") and returns a composite error if any failed.
func (c *Checker) Run(ctx context.Context, jobID, audioPath string) error {
	checks := []func(context.Context) pipelineerr.CheckResult{
		c.checkSystem,
		func(ctx context.Context) pipelineerr.CheckResult { return c.checkAudio(ctx, audioPath) },
		c.checkAPI,
		func(ctx context.Context) pipelineerr.CheckResult { return c.checkHearing(ctx, jobID) },
	}

	results := make([]pipelineerr.CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check func(context.Context) pipelineerr.CheckResult) {
			defer wg.Done()
			results[i] = check(ctx)
		}(i, check)
	}
	wg.Wait()

	allPassed := true
	for _, r := range results {
		if !r.Passed {
			allPassed = false
			break
		}
	}
	if allPassed {
		return nil
	}
	return &pipelineerr.PreflightFailed{Items: results}
}

func (c *Checker) checkSystem(ctx context.Context) pipelineerr.CheckResult {
	ctx, cancel := context.WithTimeout(ctx, systemCheckTimeout)
	defer cancel()

	if c.system == nil {
		return pipelineerr.CheckResult{Check: "system", Passed: true, Detail: "no system stats source configured"}
	}

	freeMem, err := c.system.FreeMemoryMiB(ctx)
	if err != nil {
		return pipelineerr.CheckResult{Check: "system", Passed: false, Detail: fmt.Sprintf("memory check failed: %v", err)}
	}
	freeDisk, err := c.system.FreeDiskGiB(ctx, c.scratchRoot)
	if err != nil {
		return pipelineerr.CheckResult{Check: "system", Passed: false, Detail: fmt.Sprintf("disk check failed: %v", err)}
	}
	cpu, err := c.system.CPUPercent(ctx)
	if err != nil {
		return pipelineerr.CheckResult{Check: "system", Passed: false, Detail: fmt.Sprintf("cpu check failed: %v", err)}
	}

	if freeMem < minFreeMemoryMiB {
		return pipelineerr.CheckResult{Check: "system", Passed: false, Detail: fmt.Sprintf("free memory %dMiB below %dMiB floor", freeMem, minFreeMemoryMiB)}
	}
	if freeDisk < minFreeDiskGiB {
		return pipelineerr.CheckResult{Check: "system", Passed: false, Detail: fmt.Sprintf("free disk %.1fGiB below %dGiB floor", freeDisk, minFreeDiskGiB)}
	}
	if cpu >= maxCPUPercent {
		return pipelineerr.CheckResult{Check: "system", Passed: false, Detail: fmt.Sprintf("cpu %.1f%% at or above %.0f%% ceiling", cpu, maxCPUPercent)}
	}
	return pipelineerr.CheckResult{Check: "system", Passed: true}
}

func (c *Checker) checkAudio(ctx context.Context, path string) pipelineerr.CheckResult {
	ctx, cancel := context.WithTimeout(ctx, audioCheckTimeout)
	defer cancel()

	info, err := os.Stat(path)
	if err != nil {
		return pipelineerr.CheckResult{Check: "audio", Passed: false, Detail: fmt.Sprintf("file not found: %v", err)}
	}
	ext := filepath.Ext(path)
	if !allowedExtensions[ext] {
		return pipelineerr.CheckResult{Check: "audio", Passed: false, Detail: fmt.Sprintf("unsupported extension %q", ext)}
	}
	if info.Size() < minAudioSizeBytes || info.Size() > maxAudioSizeBytes {
		return pipelineerr.CheckResult{Check: "audio", Passed: false, Detail: fmt.Sprintf("size %d bytes out of bounds", info.Size())}
	}

	if c.prober == nil {
		return pipelineerr.CheckResult{Check: "audio", Passed: true, Detail: "no prober configured, skipping duration check"}
	}
	meta, err := c.prober.Probe(ctx, path)
	if err != nil {
		return pipelineerr.CheckResult{Check: "audio", Passed: false, Detail: fmt.Sprintf("probe failed: %v", err)}
	}
	if meta.DurationSeconds < minDurationS || meta.DurationSeconds > maxDurationS {
		return pipelineerr.CheckResult{Check: "audio", Passed: false, Detail: fmt.Sprintf("duration %.1fs out of [%d,%d] bounds", meta.DurationSeconds, minDurationS, maxDurationS)}
	}
	return pipelineerr.CheckResult{Check: "audio", Passed: true}
}

func (c *Checker) checkAPI(ctx context.Context) pipelineerr.CheckResult {
	ctx, cancel := context.WithTimeout(ctx, apiCheckTimeout)
	defer cancel()

	if c.creds == nil {
		return pipelineerr.CheckResult{Check: "api", Passed: false, Detail: "no credential provider configured"}
	}
	if _, err := c.creds.Get("OPENAI_API_KEY"); err != nil {
		return pipelineerr.CheckResult{Check: "api", Passed: false, Detail: fmt.Sprintf("credential missing: %v", err)}
	}
	if c.livenessURL == "" {
		return pipelineerr.CheckResult{Check: "api", Passed: true, Detail: "no liveness URL configured, skipping network check"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.livenessURL, nil)
	if err != nil {
		return pipelineerr.CheckResult{Check: "api", Passed: false, Detail: fmt.Sprintf("build liveness request: %v", err)}
	}
	resp, err := c.apiClient.Do(req)
	if err != nil {
		return pipelineerr.CheckResult{Check: "api", Passed: false, Detail: fmt.Sprintf("liveness request failed: %v", err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return pipelineerr.CheckResult{Check: "api", Passed: false, Detail: fmt.Sprintf("liveness status %d", resp.StatusCode)}
	}
	return pipelineerr.CheckResult{Check: "api", Passed: true}
}

func (c *Checker) checkHearing(ctx context.Context, jobID string) pipelineerr.CheckResult {
	ctx, cancel := context.WithTimeout(ctx, hearingCheckTimeout)
	defer cancel()

	if c.hearing == nil {
		return pipelineerr.CheckResult{Check: "hearing", Passed: true, Detail: "no hearing store configured"}
	}
	h, err := c.hearing.Get(ctx, jobID)
	if err != nil {
		return pipelineerr.CheckResult{Check: "hearing", Passed: false, Detail: fmt.Sprintf("record lookup failed: %v", err)}
	}
	if h.Title == "" || h.Committee == "" || h.Date.IsZero() {
		return pipelineerr.CheckResult{Check: "hearing", Passed: false, Detail: "record missing title/committee/date"}
	}
	return pipelineerr.CheckResult{Check: "hearing", Passed: true}
}
