// Package memmon implements MemoryMonitor (C, §4.10): it samples process
// RSS and system memory on an interval, classifies the result as healthy,
// pressure, or critical, and tracks a short trend window so callers can
// defer non-urgent cleanup while the trend is stable. Sampling is grounded
// on tphakala-birdnet-go's internal/monitor.SystemMonitor ticker loop;
// classification fields mirror internal/datastore/resource_monitor.go's
// ResourceSnapshot, narrowed to what the pool and scheduler consume.
package memmon

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// State is the classified memory condition (§4.10, §9 "Memory pressure").
type State int

const (
	Healthy State = iota
	Pressure
	Critical
)

func (s State) String() string {
	switch s {
	case Pressure:
		return "pressure"
	case Critical:
		return "critical"
	default:
		return "healthy"
	}
}

// Trend describes the direction of recent memory usage over the sample window.
type Trend int

const (
	TrendStable Trend = iota
	TrendRising
	TrendFalling
)

func (t Trend) String() string {
	switch t {
	case TrendRising:
		return "rising"
	case TrendFalling:
		return "falling"
	default:
		return "stable"
	}
}

// Sample is one point-in-time reading.
type Sample struct {
	Timestamp       time.Time
	ProcessRSSBytes uint64
	SystemUsedPct   float64
	SystemAvailMiB  uint64
	State           State
}

const (
	trendWindow          = 10
	defaultSampleInterval = time.Second
	systemUsedPctCritical = 85.0
	systemAvailFloorMiB   = 100
)

// Monitor samples memory on an interval and classifies pressure (§4.10).
// The zero value is not usable; construct with New.
type Monitor struct {
	capBytes uint64
	interval time.Duration
	pid      int32

	mu      sync.Mutex
	samples []Sample

	readSystem  func() (*mem.VirtualMemoryStat, error)
	readProcess func(pid int32) (uint64, error)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithCapBytes sets the process RSS cap (memory_cap_mb, §6, default 200MiB).
func WithCapBytes(capBytes uint64) Option {
	return func(m *Monitor) { m.capBytes = capBytes }
}

// WithInterval overrides the sampling interval (default 1s, §4.10).
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithPID overrides the monitored process (default: the running process).
func WithPID(pid int32) Option {
	return func(m *Monitor) { m.pid = pid }
}

const defaultCapBytes = 200 * 1024 * 1024

// New constructs a Monitor with the §4.10/§6 defaults.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		capBytes: defaultCapBytes,
		interval: defaultSampleInterval,
		readSystem: func() (*mem.VirtualMemoryStat, error) {
			return mem.VirtualMemory()
		},
	}
	m.readProcess = func(pid int32) (uint64, error) {
		p, err := process.NewProcess(pid)
		if err != nil {
			return 0, err
		}
		info, err := p.MemoryInfo()
		if err != nil {
			return 0, err
		}
		return info.RSS, nil
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run samples on the configured interval until ctx is done. It is meant to
// run as a long-lived background worker owned by the process-scoped
// ServiceSet, one per job's lifetime or shared across jobs.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleOnce()
		}
	}
}

func (m *Monitor) sampleOnce() Sample {
	s := Sample{Timestamp: time.Now()}

	if vm, err := m.readSystem(); err == nil {
		s.SystemUsedPct = vm.UsedPercent
		s.SystemAvailMiB = vm.Available / (1024 * 1024)
	}
	if rss, err := m.readProcess(m.pid); err == nil {
		s.ProcessRSSBytes = rss
	}
	s.State = classify(s, m.capBytes)

	m.mu.Lock()
	m.samples = append(m.samples, s)
	if len(m.samples) > trendWindow {
		m.samples = m.samples[len(m.samples)-trendWindow:]
	}
	m.mu.Unlock()

	return s
}

// Sample forces an immediate reading outside the Run loop (used by tests
// and by callers that need a synchronous pressure check).
func (m *Monitor) Sample() Sample {
	return m.sampleOnce()
}

func classify(s Sample, capBytes uint64) State {
	critical := s.SystemAvailMiB > 0 && s.SystemAvailMiB < systemAvailFloorMiB/2
	if critical {
		return Critical
	}
	pressure := (capBytes > 0 && s.ProcessRSSBytes > capBytes) ||
		s.SystemUsedPct > systemUsedPctCritical ||
		(s.SystemAvailMiB > 0 && s.SystemAvailMiB < systemAvailFloorMiB)
	if pressure {
		return Pressure
	}
	return Healthy
}

// Pressure reports whether the most recent sample indicates pressure or
// critical state (§4.10's pressure() predicate).
func (m *Monitor) Pressure() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.samples) == 0 {
		return false
	}
	return m.samples[len(m.samples)-1].State != Healthy
}

// Trend classifies the direction of RSS usage over the last window of
// samples. With fewer than two samples it reports stable.
func (m *Monitor) Trend() Trend {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trendLocked()
}

// ShouldDeferCleanup reports whether non-urgent cleanup work can wait: the
// trend is stable and no sample in the window crossed a threshold (§4.10,
// "cleanup work is deferred if trend is stable and no threshold crossed").
func (m *Monitor) ShouldDeferCleanup() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.samples {
		if s.State != Healthy {
			return false
		}
	}
	return m.trendLocked() == TrendStable
}

func (m *Monitor) trendLocked() Trend {
	if len(m.samples) < 2 {
		return TrendStable
	}
	first := m.samples[0].ProcessRSSBytes
	last := m.samples[len(m.samples)-1].ProcessRSSBytes
	if first == 0 {
		return TrendStable
	}
	delta := float64(last) - float64(first)
	ratio := delta / float64(first)
	switch {
	case ratio > 0.05:
		return TrendRising
	case ratio < -0.05:
		return TrendFalling
	default:
		return TrendStable
	}
}
