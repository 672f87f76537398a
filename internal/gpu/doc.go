// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpu wraps the gogpu HAL with the pieces the simulation needs:
// a device with queue roles, fixed-size buffers with staged transfers,
// compute and render pipelines built from WGSL, binary semaphores and
// resettable fences, and a stage graph that orders submissions.
//
// # Synchronization
//
// The HAL exposes one in-order queue per device. A Semaphore is therefore
// a token carrying the submission index of its signaler: a wait on a
// semaphore signaled on the same queue is satisfied by submission order,
// and a wait on one that was never signaled is rejected with
// ErrSemaphoreNotSignaled instead of hanging.
//
// A Fence makes completion of a submission observable on the host. Waits
// poll the queue with exponential backoff and give up after the device's
// fence timeout with a *TimeoutError. A timeout is not recoverable.
//
//	f := dev.NewFence("readback")
//	if _, err := enc.Submit(ctx, dev.Queue(gpu.RoleCompute), gpu.Submission{Fence: f}); err != nil {
//		return err
//	}
//	if err := f.Wait(ctx); err != nil {
//		return err
//	}
//
// # Stage graph
//
// Graph takes named stages that declare the buffers they read and write,
// derives a submission order from the hazards between them and hands each
// stage the semaphores it must wait on and signal.
//
// # Testing
//
// Subpackage gputest provides an emulated HAL device whose dispatches run
// registered CPU kernels, so everything above can be tested without a GPU.
package gpu
