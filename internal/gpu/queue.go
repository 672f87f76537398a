// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/wgpu/hal"
)

// Queue submits command buffers to the device in order.
type Queue struct {
	mu sync.Mutex

	dev  *Device
	raw  hal.Queue
	name string

	// last is the index of the most recent submission.
	last uint64
}

// Submission is one unit of queue work.
type Submission struct {
	// Label names the submission in traces and errors.
	Label string

	// Commands are executed in order. May be empty for a submission that
	// only forwards semaphores or arms a fence.
	Commands []hal.CommandBuffer

	// Wait semaphores must all be signaled. Each is consumed.
	Wait []*Semaphore

	// Signal semaphores must all be unsignaled. Each is signaled by this
	// submission.
	Signal []*Semaphore

	// Fence, when non-nil, must have been Reset. It is armed with this
	// submission's index.
	Fence *Fence
}

// Name returns the queue debug name.
func (q *Queue) Name() string { return q.name }

// HAL returns the underlying HAL queue.
func (q *Queue) HAL() hal.Queue { return q.raw }

// Completed returns the index of the last completed submission.
func (q *Queue) Completed() uint64 { return q.raw.PollCompleted() }

// Submit validates the synchronization contract and submits s. The command
// buffers are freed once the queue reports the submission complete.
func (q *Queue) Submit(ctx context.Context, s Submission) (uint64, error) {
	if q.dev.isClosed() {
		return 0, ErrDeviceClosed
	}

	for _, w := range s.Wait {
		src, idx, ok := w.source()
		if !ok {
			return 0, fmt.Errorf("gpu: submit %s: %w: %s", s.Label, ErrSemaphoreNotSignaled, w.name)
		}
		// Work on another queue is not ordered with ours; block until the
		// signaler completes.
		if src != nil && src != q {
			if err := src.waitIndex(ctx, idx, q.dev.fenceTimeout, s.Label); err != nil {
				return 0, err
			}
		}
	}
	for _, sig := range s.Signal {
		if sig.Signaled() {
			return 0, fmt.Errorf("gpu: submit %s: %w: %s", s.Label, ErrSemaphoreSignaled, sig.name)
		}
	}
	if s.Fence != nil && s.Fence.Pending() {
		return 0, fmt.Errorf("gpu: submit %s: %w: %s", s.Label, ErrFenceNotReset, s.Fence.label)
	}

	waitNames := semaphoreNames(s.Wait)

	q.mu.Lock()
	index := q.last
	if len(s.Commands) > 0 {
		var err error
		index, err = q.raw.Submit(s.Commands)
		if err != nil {
			q.mu.Unlock()
			return 0, fmt.Errorf("gpu: submit %s: %w", s.Label, err)
		}
		q.last = index
	}
	q.mu.Unlock()

	for _, w := range s.Wait {
		w.consume()
	}
	for _, sig := range s.Signal {
		if err := sig.signal(q, index); err != nil {
			return index, err
		}
	}
	if s.Fence != nil {
		if err := s.Fence.arm(q, index); err != nil {
			return index, err
		}
	}

	raw := q.dev.raw
	for _, cb := range s.Commands {
		q.dev.retire(index, func() { raw.FreeCommandBuffer(cb) })
	}

	if q.dev.tracer != nil {
		q.dev.tracer.Submitted(SubmitEvent{
			Queue:   q.name,
			Label:   s.Label,
			Index:   index,
			Waits:   waitNames,
			Signals: semaphoreNames(s.Signal),
			Fence:   fenceLabel(s.Fence),
		})
	}

	Logger().Debug("gpu: submitted",
		"label", s.Label,
		"index", index,
		"commands", len(s.Commands),
		"waits", len(s.Wait),
		"signals", len(s.Signal))

	q.dev.collect(q.raw.PollCompleted())
	return index, nil
}

// SubmitAndWait submits s with a device-owned fence and blocks until it
// completes. s.Fence must be nil.
func (q *Queue) SubmitAndWait(ctx context.Context, s Submission) error {
	if s.Fence != nil {
		return fmt.Errorf("gpu: submit %s: fence already set", s.Label)
	}
	s.Fence = q.dev.NewFence(s.Label)
	if _, err := q.Submit(ctx, s); err != nil {
		return err
	}
	return s.Fence.Wait(ctx)
}

// WriteBuffer copies data into b at offset through the queue's write path.
func (q *Queue) WriteBuffer(b *Buffer, offset uint64, data []byte) error {
	if err := b.checkPhysical(offset, uint64(len(data))); err != nil {
		return err
	}
	if err := q.raw.WriteBuffer(b.raw, offset, data); err != nil {
		return fmt.Errorf("gpu: write %s: %w", b.label, err)
	}
	return nil
}

// Present shows tex on surface. An outdated surface maps to ErrOutOfDate.
func (q *Queue) Present(surface hal.Surface, tex hal.SurfaceTexture) error {
	err := q.raw.Present(surface, tex, nil)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, hal.ErrSurfaceOutdated):
		return fmt.Errorf("gpu: present: %w: %w", ErrOutOfDate, err)
	default:
		return fmt.Errorf("gpu: present: %w", err)
	}
}

func semaphoreNames(ss []*Semaphore) []string {
	if len(ss) == 0 {
		return nil
	}
	names := make([]string, len(ss))
	for i, s := range ss {
		names[i] = s.name
	}
	return names
}

func fenceLabel(f *Fence) string {
	if f == nil {
		return ""
	}
	return f.label
}
