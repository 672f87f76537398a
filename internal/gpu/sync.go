// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Semaphore gates one submission on the completion of another without
// host involvement. It is binary: exactly one submission signals it and
// exactly one submission consumes the signal by waiting on it.
//
// A semaphore records the queue and submission index of its signaler.
// Submissions on the same queue are executed in order, so a wait on a
// same-queue semaphore only needs the signal to have been submitted first.
type Semaphore struct {
	mu sync.Mutex

	id    uint64
	name  string
	pool  *SemaphorePool
	queue *Queue
	index uint64

	signaled bool
}

// Name returns the debug name, normally the signaling stage.
func (s *Semaphore) Name() string { return s.name }

// Signaled reports whether a signal is pending consumption.
func (s *Semaphore) Signaled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signaled
}

// SignalFromHost marks the semaphore signaled by work the host has already
// observed complete on q, such as a synchronous image acquire.
func (s *Semaphore) SignalFromHost(q *Queue) error {
	return s.signal(q, q.Completed())
}

func (s *Semaphore) signal(q *Queue, index uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signaled {
		return fmt.Errorf("%w: %s", ErrSemaphoreSignaled, s.name)
	}
	s.signaled = true
	s.queue = q
	s.index = index
	return nil
}

// source returns the signaler; ok is false when nothing signaled.
func (s *Semaphore) source() (q *Queue, index uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue, s.index, s.signaled
}

// consume clears the signal after a wait was submitted and returns the
// semaphore to its pool.
func (s *Semaphore) consume() {
	s.mu.Lock()
	s.signaled = false
	s.queue = nil
	s.index = 0
	s.mu.Unlock()
	if s.pool != nil {
		s.pool.Put(s)
	}
}

// Release returns an unconsumed semaphore to its pool, dropping any signal.
func (s *Semaphore) Release() {
	s.consume()
}

// SemaphorePool recycles semaphores between ticks.
type SemaphorePool struct {
	mu     sync.Mutex
	free   []*Semaphore
	nextID uint64
	live   int
}

// NewSemaphorePool creates an empty pool.
func NewSemaphorePool() *SemaphorePool {
	return &SemaphorePool{}
}

// Get returns an unsignaled semaphore named name.
func (p *SemaphorePool) Get(name string) *Semaphore {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live++
	if n := len(p.free); n > 0 {
		s := p.free[n-1]
		p.free = p.free[:n-1]
		s.name = name
		return s
	}
	p.nextID++
	return &Semaphore{id: p.nextID, name: name, pool: p}
}

// Put returns s to the pool. Putting a semaphore twice is a no-op.
func (p *SemaphorePool) Put(s *Semaphore) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.free {
		if f == s {
			return
		}
	}
	p.live--
	p.free = append(p.free, s)
}

// Live returns the number of semaphores handed out and not yet returned.
func (p *SemaphorePool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Fence reports completion of a submission to the host. A fence is reused
// across invocations and must be Reset before it is submitted again.
type Fence struct {
	mu sync.Mutex

	label   string
	timeout time.Duration

	queue     *Queue
	index     uint64
	submitted bool
}

// NewFence creates an unsubmitted fence using the device timeout.
func (d *Device) NewFence(label string) *Fence {
	return &Fence{label: label, timeout: d.fenceTimeout}
}

// Label returns the debug label.
func (f *Fence) Label() string { return f.label }

func (f *Fence) arm(q *Queue, index uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitted {
		return fmt.Errorf("%w: %s", ErrFenceNotReset, f.label)
	}
	f.queue = q
	f.index = index
	f.submitted = true
	return nil
}

// Pending reports whether the fence carries a submission.
func (f *Fence) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitted
}

// Signaled reports whether the carried submission has completed.
func (f *Fence) Signaled() bool {
	f.mu.Lock()
	q, idx, ok := f.queue, f.index, f.submitted
	f.mu.Unlock()
	return ok && q.Completed() >= idx
}

// Wait blocks until the carried submission completes. Exceeding the fence
// timeout returns a *TimeoutError.
func (f *Fence) Wait(ctx context.Context) error {
	f.mu.Lock()
	q, idx, ok := f.queue, f.index, f.submitted
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrFenceNotSubmitted, f.label)
	}
	return q.waitIndex(ctx, idx, f.timeout, f.label)
}

// Reset clears the fence so it can be submitted again.
func (f *Fence) Reset() {
	f.mu.Lock()
	f.queue = nil
	f.index = 0
	f.submitted = false
	f.mu.Unlock()
}

// errNotCompleted drives the backoff loop in waitIndex.
var errNotCompleted = errors.New("submission not completed")

// waitIndex polls the queue until index completes, backing off
// exponentially up to timeout.
func (q *Queue) waitIndex(ctx context.Context, index uint64, timeout time.Duration, label string) error {
	if q.Completed() >= index {
		q.dev.collect(q.Completed())
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Microsecond
	policy.MaxInterval = 2 * time.Millisecond
	policy.MaxElapsedTime = timeout

	start := time.Now()
	err := backoff.Retry(func() error {
		if q.Completed() >= index {
			return nil
		}
		return errNotCompleted
	}, backoff.WithContext(policy, ctx))

	switch {
	case err == nil:
		q.dev.collect(q.Completed())
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("gpu: %s: %w", label, ctx.Err())
	default:
		Logger().Error("gpu: fence wait timed out",
			"label", label,
			"index", index,
			"completed", q.Completed(),
			"elapsed", time.Since(start))
		return &TimeoutError{Label: label, Index: index, Timeout: timeout}
	}
}

// SubmitEvent describes one queue submission for tracing.
type SubmitEvent struct {
	Queue   string
	Label   string
	Index   uint64
	Waits   []string
	Signals []string
	Fence   string
}

// Tracer observes queue submissions. Implementations must be safe for
// concurrent use.
type Tracer interface {
	Submitted(ev SubmitEvent)
}

// TracerFunc adapts a function to Tracer.
type TracerFunc func(ev SubmitEvent)

// Submitted calls f(ev).
func (f TracerFunc) Submitted(ev SubmitEvent) { f(ev) }
