// Package resourcepool implements ResourcePool (D, §4.10): a bounded pool
// of scratch directories; the pipeline leases one per job for its slice
// files and returns it (wiped, or deleted outright under pressure) when the
// job reaches a terminal state. The
// injectable directory-creation/removal seam mirrors the teacher's
// internal/audio.tempDirCreator / fileRemover pattern so tests never touch
// the real filesystem.
package resourcepool

import (
	"fmt"
	"os"
	"sync"
)

// dirCreator creates scratch directories. Mirrors audio.tempDirCreator.
type dirCreator interface {
	MkdirTemp(dir, pattern string) (string, error)
}

// dirRemover removes scratch directories and their contents. Mirrors
// audio.fileRemover.
type dirRemover interface {
	RemoveAll(path string) error
}

// dirLister lists a directory's immediate children, used to wipe a kept
// scratch directory's contents without removing the directory itself.
type dirLister interface {
	ReadDir(path string) ([]os.DirEntry, error)
}

type osDirCreator struct{}

func (osDirCreator) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

type osDirLister struct{}

func (osDirLister) ReadDir(path string) ([]os.DirEntry, error) {
	return os.ReadDir(path)
}

type osDirRemover struct{}

func (osDirRemover) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// PressureSource reports whether the process is currently under memory
// pressure; satisfied by *memmon.Monitor.
type PressureSource interface {
	Pressure() bool
}

type noPressure struct{}

func (noPressure) Pressure() bool { return false }

const defaultCapacity = 3

// Pool holds up to Capacity scratch directories for reuse (§4.10, "Pool
// holds up to K scratch directories"). The zero value is not usable;
// construct with New.
type Pool struct {
	root     string
	capacity int

	creator  dirCreator
	remover  dirRemover
	lister   dirLister
	pressure PressureSource

	mu   sync.Mutex
	free []string
	live int
}

// Option configures a Pool.
type Option func(*Pool)

// WithCapacity overrides the pool size (default 3).
func WithCapacity(k int) Option {
	return func(p *Pool) { p.capacity = k }
}

// WithPressureSource wires a memory monitor whose Pressure() gates whether
// returned directories are wiped-and-kept or deleted outright.
func WithPressureSource(s PressureSource) Option {
	return func(p *Pool) { p.pressure = s }
}

func withDirCreator(c dirCreator) Option {
	return func(p *Pool) { p.creator = c }
}

func withDirRemover(r dirRemover) Option {
	return func(p *Pool) { p.remover = r }
}

func withDirLister(l dirLister) Option {
	return func(p *Pool) { p.lister = l }
}

// New constructs a Pool rooted under root (the OS temp dir if empty).
func New(root string, opts ...Option) *Pool {
	p := &Pool{
		root:     root,
		capacity: defaultCapacity,
		creator:  osDirCreator{},
		remover:  osDirRemover{},
		lister:   osDirLister{},
		pressure: noPressure{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Lease returns a scratch directory, reusing one from the free list if
// available, otherwise creating a new one (§4.10, "lease() returns one,
// creating if empty").
func (p *Pool) Lease() (string, error) {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		dir := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return dir, nil
	}
	p.live++
	p.mu.Unlock()

	dir, err := p.creator.MkdirTemp(p.root, "hearing-transcribe-*")
	if err != nil {
		p.mu.Lock()
		p.live--
		p.mu.Unlock()
		return "", fmt.Errorf("lease scratch directory: %w", err)
	}
	return dir, nil
}

// Return gives a leased directory back to the pool. Under memory pressure,
// or when the free list is already at capacity, the directory is deleted
// outright instead of being wiped and kept (§4.10).
func (p *Pool) Return(dir string) error {
	underPressure := p.pressure.Pressure()

	p.mu.Lock()
	keep := !underPressure && len(p.free) < p.capacity
	if keep {
		p.free = append(p.free, dir)
	} else {
		p.live--
	}
	p.mu.Unlock()

	if keep {
		return wipeContents(dir, p.lister, p.remover)
	}
	return p.remover.RemoveAll(dir)
}

// wipeContents removes dir's children without removing dir itself, so a
// kept pool slot starts the next lease empty.
func wipeContents(dir string, lister dirLister, remover dirRemover) error {
	entries, err := lister.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("wipe scratch directory %s: %w", dir, err)
	}
	for _, e := range entries {
		if err := remover.RemoveAll(dir + string(os.PathSeparator) + e.Name()); err != nil {
			return fmt.Errorf("wipe scratch directory %s: %w", dir, err)
		}
	}
	return nil
}

// Close deletes every directory currently held free in the pool. Leased
// directories not yet returned are the caller's responsibility.
func (p *Pool) Close() error {
	p.mu.Lock()
	dirs := p.free
	p.free = nil
	p.mu.Unlock()

	var firstErr error
	for _, d := range dirs {
		if err := p.remover.RemoveAll(d); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
