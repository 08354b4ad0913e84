// Package retry implements RetryPolicy (§4.4, §4.5 note, §7): given a
// classified error from a slice submission attempt, it decides whether to
// retry, how long to wait, and when the class's attempt budget is
// exhausted. The backoff clock itself is delegated to
// github.com/cenkalti/backoff/v5, the way lookatitude-beluga-ai wires that
// library in; the per-class attempt caps and base delays are the teacher's
// own RetryWithBackoff control flow (internal/apierr in the teacher repo),
// generalized from a single uniform policy to the per-kind table in §4.4.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/openlegis/hearing-transcribe/internal/apierr"
	"github.com/openlegis/hearing-transcribe/internal/pipelineerr"
)

// classPolicy holds the base delay and attempt cap for one error Kind.
type classPolicy struct {
	base       time.Duration
	maxAttempts int
	retryable  bool
	reextract  bool
}

// Defaults per §4.4 step 5.
var defaultTable = map[apierr.Kind]classPolicy{
	apierr.KindRateLimit:        {base: 60 * time.Second, maxAttempts: 5, retryable: true},
	apierr.KindNetwork:          {base: 5 * time.Second, maxAttempts: 3, retryable: true},
	apierr.KindTimeout:          {base: 5 * time.Second, maxAttempts: 3, retryable: true},
	apierr.KindServer:           {base: 10 * time.Second, maxAttempts: 2, retryable: true},
	apierr.KindAuth:             {maxAttempts: 1, retryable: false},
	apierr.KindBadRequest:       {maxAttempts: 1, retryable: false},
	apierr.KindUnsupportedMedia: {maxAttempts: 1, retryable: false},
	apierr.KindChunkCorruption:  {maxAttempts: 1, retryable: true, reextract: true},
	apierr.KindUnknown:          {maxAttempts: 1, retryable: false},
}

// Policy classifies slice-submission errors and decides retry behavior.
// The zero value is not usable; construct with New.
type Policy struct {
	table map[apierr.Kind]classPolicy
	// newBackOff constructs a fresh exponential backoff clock for one
	// class; injectable for deterministic tests.
	newBackOff func(base time.Duration) backoff.BackOff
}

// Option configures a Policy.
type Option func(*Policy)

// WithClassPolicy overrides the base delay / attempt cap for one Kind.
// Used by tests that need faster clocks.
func WithClassPolicy(k apierr.Kind, base time.Duration, maxAttempts int, retryable bool) Option {
	return func(p *Policy) {
		existing := p.table[k]
		existing.base = base
		existing.maxAttempts = maxAttempts
		existing.retryable = retryable
		p.table[k] = existing
	}
}

// New constructs a Policy with the §4.4 defaults.
func New(opts ...Option) *Policy {
	table := make(map[apierr.Kind]classPolicy, len(defaultTable))
	for k, v := range defaultTable {
		table[k] = v
	}
	p := &Policy{
		table: table,
		newBackOff: func(base time.Duration) backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = base
			b.Multiplier = 2
			b.MaxInterval = base * 32
			b.RandomizationFactor = 0.1
			return b
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Attempt tracks in-progress retry state for a single slice's submission,
// owned for the lifetime of that submission only (§3, "Retry-attempt
// history").
type Attempt struct {
	kind    apierr.Kind
	backoff backoff.BackOff
	count   int
}

// Begin starts tracking attempts for a newly classified error, returning
// the decision for this (the first) failure.
func (p *Policy) Begin(kind apierr.Kind) (*Attempt, pipelineerr.RetryDecision) {
	a := &Attempt{kind: kind}
	cp := p.table[kind]
	if cp.maxAttempts <= 0 {
		cp.maxAttempts = 1
	}
	a.backoff = p.newBackOff(cp.base)
	return a, p.decide(a, cp)
}

// Next records another failure of the same kind and returns the next
// decision.
func (p *Policy) Next(a *Attempt) pipelineerr.RetryDecision {
	cp := p.table[a.kind]
	return p.decide(a, cp)
}

func (p *Policy) decide(a *Attempt, cp classPolicy) pipelineerr.RetryDecision {
	a.count++
	if !cp.retryable {
		return pipelineerr.RetryDecision{Retry: false, Exhausted: true}
	}
	if a.count > cp.maxAttempts {
		return pipelineerr.RetryDecision{Retry: false, Exhausted: true}
	}
	delay, ok := a.backoff.NextBackOff(), true
	if delay == backoff.Stop {
		ok = false
	}
	if !ok {
		return pipelineerr.RetryDecision{Retry: false, Exhausted: true}
	}
	return pipelineerr.RetryDecision{
		Retry:     true,
		Delay:     delay,
		Exhausted: false,
		Reextract: cp.reextract,
	}
}

// MaxAttempts reports the attempt cap configured for a Kind (used by
// callers that want to pre-size retry-history slices or report
// "attempt N of M" progress).
func (p *Policy) MaxAttempts(k apierr.Kind) int {
	cp := p.table[k]
	if cp.maxAttempts <= 0 {
		return 1
	}
	return cp.maxAttempts
}
