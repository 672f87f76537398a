// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gputest

import (
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// Queue executes recorded commands synchronously on Submit.
type Queue struct {
	noop.Queue

	dev *Device

	mu        sync.Mutex
	submitted uint64
	completed uint64
	stalled   bool
	log       []Submitted
	presents  int
}

// Submitted describes one executed submission.
type Submitted struct {
	Index uint64
	Ops   []string
}

// Submit runs every command of every buffer in order. A stalled queue
// still runs the commands but does not report them complete.
func (q *Queue) Submit(cmds []hal.CommandBuffer) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.submitted++
	rec := Submitted{Index: q.submitted}
	for _, c := range cmds {
		cb, ok := c.(*CommandBuffer)
		if !ok {
			return 0, fmt.Errorf("gputest: foreign command buffer %T", c)
		}
		for _, o := range cb.ops {
			rec.Ops = append(rec.Ops, o.name)
			if err := o.run(); err != nil {
				return 0, fmt.Errorf("gputest: %s: %w", cb.label, err)
			}
		}
	}
	q.log = append(q.log, rec)
	if !q.stalled {
		q.completed = q.submitted
	}
	return q.submitted, nil
}

// PollCompleted returns the last completed index.
func (q *Queue) PollCompleted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completed
}

// SetStalled stops (true) or resumes (false) completion reporting. Resuming
// completes everything submitted so far.
func (q *Queue) SetStalled(stalled bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stalled = stalled
	if !stalled {
		q.completed = q.submitted
	}
}

// WriteBuffer copies data immediately.
func (q *Queue) WriteBuffer(buf hal.Buffer, offset uint64, data []byte) error {
	b, ok := buf.(*Buffer)
	if !ok {
		return fmt.Errorf("gputest: write to foreign buffer %T", buf)
	}
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("gputest: write %s out of range", b.label)
	}
	copy(b.data[offset:], data)
	return nil
}

// Present fails with hal.ErrSurfaceOutdated on an outdated surface.
func (q *Queue) Present(surface hal.Surface, _ hal.SurfaceTexture, _ []image.Rectangle) error {
	if s, ok := surface.(*Surface); ok && s.Outdated() {
		return hal.ErrSurfaceOutdated
	}
	q.mu.Lock()
	q.presents++
	q.mu.Unlock()
	return nil
}

// Presents returns the number of successful presents.
func (q *Queue) Presents() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.presents
}

// Log returns every submission executed so far.
func (q *Queue) Log() []Submitted {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Submitted(nil), q.log...)
}

// ResetLog clears the submission log.
func (q *Queue) ResetLog() {
	q.mu.Lock()
	q.log = nil
	q.mu.Unlock()
}

// Ops returns the names of all executed ops with the given prefix, such
// as "dispatch:" or "draw:".
func (q *Queue) Ops(prefix string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for _, s := range q.log {
		for _, o := range s.Ops {
			if strings.HasPrefix(o, prefix) {
				out = append(out, o)
			}
		}
	}
	return out
}

// Count returns how many executed ops are named exactly name.
func (q *Queue) Count(name string) int {
	n := 0
	for _, o := range q.Ops(name) {
		if o == name {
			n++
		}
	}
	return n
}

var _ hal.Queue = (*Queue)(nil)
