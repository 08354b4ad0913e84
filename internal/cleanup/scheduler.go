// Package cleanup implements CleanupScheduler (E, §4.10): a single
// background worker draining a priority queue of (path, due_time, policy)
// entries, deleting each path when its due time arrives. Memory pressure
// short-circuits due times, promoting on_pressure entries to immediate and
// draining already-due entries first (§4.10, §9 "Memory discipline").
package cleanup

import (
	"container/heap"
	"context"
	"os"
	"sync"
	"time"
)

// Policy names a due-time rule for a scheduled path (§4.10).
type Policy int

const (
	// Immediate deletes as soon as the scheduler next wakes.
	Immediate Policy = iota
	// AfterUse delays deletion by 30s past scheduling.
	AfterUse
	// OnPressure delays deletion by 5m, bumped to 0 under memory pressure.
	OnPressure
	// OnCompletion delays deletion by 10m.
	OnCompletion
)

const (
	afterUseDelay    = 30 * time.Second
	onPressureDelay  = 5 * time.Minute
	onCompletionDelay = 10 * time.Minute
)

func (p Policy) delay() time.Duration {
	switch p {
	case AfterUse:
		return afterUseDelay
	case OnPressure:
		return onPressureDelay
	case OnCompletion:
		return onCompletionDelay
	default:
		return 0
	}
}

// remover deletes a scheduled path. Mirrors audio.fileRemover's RemoveAll.
type remover interface {
	RemoveAll(path string) error
}

type osRemover struct{}

func (osRemover) RemoveAll(path string) error { return os.RemoveAll(path) }

// PressureSource reports whether the process is currently under memory
// pressure; satisfied by *memmon.Monitor.
type PressureSource interface {
	Pressure() bool
}

type noPressure struct{}

func (noPressure) Pressure() bool { return false }

type item struct {
	path   string
	due    time.Time
	policy Policy
	index  int
}

type itemHeap []*item

func (h itemHeap) Len() int            { return len(h) }
func (h itemHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *itemHeap) Push(x interface{}) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Scheduler runs a single background worker that deletes scheduled paths
// when they come due (§4.10). The zero value is not usable; construct with
// New.
type Scheduler struct {
	remover  remover
	pressure PressureSource
	now      func() time.Time

	mu     sync.Mutex
	queue  itemHeap
	wakeCh chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func withRemover(r remover) Option {
	return func(s *Scheduler) { s.remover = r }
}

// WithPressureSource wires a memory monitor whose Pressure() promotes
// on_pressure entries to immediate due time.
func WithPressureSource(p PressureSource) Option {
	return func(s *Scheduler) { s.pressure = p }
}

func withNow(f func() time.Time) Option {
	return func(s *Scheduler) { s.now = f }
}

// New constructs a Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		remover:  osRemover{},
		pressure: noPressure{},
		now:      time.Now,
		wakeCh:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	heap.Init(&s.queue)
	return s
}

// Schedule enqueues path for deletion per policy's due-time rule.
func (s *Scheduler) Schedule(path string, policy Policy) {
	s.mu.Lock()
	heap.Push(&s.queue, &item{path: path, due: s.now().Add(policy.delay()), policy: policy})
	s.mu.Unlock()
	s.wake()
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is done. Meant to run as the single
// long-lived background worker owned by the process-scoped ServiceSet.
func (s *Scheduler) Run(ctx context.Context) {
	const pollInterval = 250 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wakeCh:
			s.drainDue()
		case <-ticker.C:
			s.drainDue()
		}
	}
}

// drainDue short-circuits on_pressure due-times to now, then removes every
// entry whose due time has arrived, earliest first (§4.10: "Memory pressure
// short-circuits due-times... drains due items first, then promotes
// on_pressure items to immediate").
func (s *Scheduler) drainDue() {
	underPressure := s.pressure.Pressure()

	s.mu.Lock()
	if underPressure {
		for _, it := range s.queue {
			if it.policy == OnPressure {
				it.due = s.now()
			}
		}
		heap.Init(&s.queue)
	}

	var due []*item
	now := s.now()
	for len(s.queue) > 0 {
		next := s.queue[0]
		if next.due.After(now) {
			break
		}
		due = append(due, heap.Pop(&s.queue).(*item))
	}
	s.mu.Unlock()

	for _, it := range due {
		_ = s.remover.RemoveAll(it.path)
	}
}

// Pending reports the number of entries still waiting for their due time.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
