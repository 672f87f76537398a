// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"errors"
	"fmt"
	"time"
)

// Device errors.
var (
	// ErrBackendUnavailable is returned when the requested HAL backend is not registered.
	ErrBackendUnavailable = errors.New("gpu: backend not available")

	// ErrNoAdapter is returned when the backend exposes no usable adapter.
	ErrNoAdapter = errors.New("gpu: no suitable adapter found")

	// ErrDeviceClosed is returned when operating on a closed device.
	ErrDeviceClosed = errors.New("gpu: device closed")
)

// Buffer errors.
var (
	// ErrZeroSize is returned when a buffer of zero bytes is requested.
	ErrZeroSize = errors.New("gpu: buffer size must be non-zero")

	// ErrUnsupportedMemoryType is returned when the requested memory flags
	// cannot back a buffer with the requested usage.
	ErrUnsupportedMemoryType = errors.New("gpu: unsupported memory type")

	// ErrCapacityExceeded is returned when a fill or copy would overrun a buffer.
	ErrCapacityExceeded = errors.New("gpu: data exceeds buffer capacity")

	// ErrUnalignedFill is returned when a fill of a length that is not a
	// multiple of 4 would end before the end of the buffer.
	ErrUnalignedFill = errors.New("gpu: unaligned fill length")

	// ErrBufferDestroyed is returned when operating on a destroyed buffer.
	ErrBufferDestroyed = errors.New("gpu: buffer has been destroyed")

	// ErrUnsizedElement is returned by Read and Write for element types
	// without a fixed binary size.
	ErrUnsizedElement = errors.New("gpu: element type has no fixed size")
)

// Synchronization errors.
var (
	// ErrSemaphoreNotSignaled is returned when a submission waits on a
	// semaphore that no prior submission signals.
	ErrSemaphoreNotSignaled = errors.New("gpu: wait on unsignaled semaphore")

	// ErrSemaphoreSignaled is returned when a submission signals a semaphore
	// whose previous signal has not been consumed.
	ErrSemaphoreSignaled = errors.New("gpu: semaphore already signaled")

	// ErrFenceNotReset is returned when a fence is submitted again without Reset.
	ErrFenceNotReset = errors.New("gpu: fence must be reset before re-submission")

	// ErrFenceNotSubmitted is returned when waiting on a fence no submission carries.
	ErrFenceNotSubmitted = errors.New("gpu: fence has not been submitted")

	// ErrGPUTimeout is the sentinel behind every TimeoutError. A timeout is
	// unrecoverable: the work in flight cannot be resumed.
	ErrGPUTimeout = errors.New("gpu: timeout waiting for GPU")

	// ErrOutOfDate is returned by presentation targets when the image chain
	// must be reconfigured before rendering can continue.
	ErrOutOfDate = errors.New("gpu: presentation target out of date")
)

// Scheduling errors.
var (
	// ErrDuplicateStage is returned when two graph stages share a name.
	ErrDuplicateStage = errors.New("gpu: duplicate stage name")

	// ErrGraphCycle is returned when stage dependencies form a cycle.
	ErrGraphCycle = errors.New("gpu: stage graph has a cycle")

	// ErrUnknownStage is returned when a dependency names no stage.
	ErrUnknownStage = errors.New("gpu: unknown stage")

	// ErrStageNotSignaled is returned when a stage finishes without
	// signaling the semaphores its consumers wait on.
	ErrStageNotSignaled = errors.New("gpu: stage did not signal its outputs")
)

// TimeoutError reports a fence wait that exceeded its timeout.
type TimeoutError struct {
	Label   string
	Index   uint64
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("gpu: %s: GPU timeout after %v (submission %d)", e.Label, e.Timeout, e.Index)
}

func (e *TimeoutError) Unwrap() error { return ErrGPUTimeout }
