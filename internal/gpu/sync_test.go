// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/fluidsim/internal/gpu"
	"github.com/gogpu/fluidsim/internal/gpu/gputest"
)

func TestSubmitWaitOnUnsignaledSemaphore(t *testing.T) {
	d, _ := newDevice(t)
	q := d.Queue(gpu.RoleCompute)
	s := d.Semaphores().Get("orphan")
	defer s.Release()

	_, err := q.Submit(context.Background(), gpu.Submission{Label: "consumer", Wait: []*gpu.Semaphore{s}})
	if !errors.Is(err, gpu.ErrSemaphoreNotSignaled) {
		t.Fatalf("Submit error = %v, want ErrSemaphoreNotSignaled", err)
	}
}

func TestSubmitSignalTwice(t *testing.T) {
	ctx := context.Background()
	d, _ := newDevice(t)
	q := d.Queue(gpu.RoleCompute)
	s := d.Semaphores().Get("producer")

	if _, err := q.Submit(ctx, gpu.Submission{Label: "first", Signal: []*gpu.Semaphore{s}}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	_, err := q.Submit(ctx, gpu.Submission{Label: "second", Signal: []*gpu.Semaphore{s}})
	if !errors.Is(err, gpu.ErrSemaphoreSignaled) {
		t.Fatalf("second Submit error = %v, want ErrSemaphoreSignaled", err)
	}

	// Consuming the signal makes the semaphore reusable.
	if _, err := q.Submit(ctx, gpu.Submission{Label: "consumer", Wait: []*gpu.Semaphore{s}}); err != nil {
		t.Fatalf("consumer Submit: %v", err)
	}
	if s.Signaled() {
		t.Error("semaphore still signaled after being waited on")
	}
}

func TestSemaphorePoolRecycles(t *testing.T) {
	p := gpu.NewSemaphorePool()
	a := p.Get("a")
	b := p.Get("b")
	if p.Live() != 2 {
		t.Fatalf("Live() = %d, want 2", p.Live())
	}
	a.Release()
	a.Release()
	if p.Live() != 1 {
		t.Fatalf("Live() after double release = %d, want 1", p.Live())
	}
	c := p.Get("c")
	if c != a {
		t.Error("Get did not reuse the released semaphore")
	}
	if c.Name() != "c" {
		t.Errorf("Name() = %q, want %q", c.Name(), "c")
	}
	b.Release()
	c.Release()
	if p.Live() != 0 {
		t.Errorf("Live() = %d, want 0", p.Live())
	}
}

func TestFenceLifecycle(t *testing.T) {
	ctx := context.Background()
	d, _ := newDevice(t)
	q := d.Queue(gpu.RoleCompute)
	f := d.NewFence("tick")

	if err := f.Wait(ctx); !errors.Is(err, gpu.ErrFenceNotSubmitted) {
		t.Fatalf("Wait before submit error = %v, want ErrFenceNotSubmitted", err)
	}
	if _, err := q.Submit(ctx, gpu.Submission{Label: "tick", Fence: f}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := f.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !f.Signaled() {
		t.Error("fence not signaled after Wait")
	}

	_, err := q.Submit(ctx, gpu.Submission{Label: "tick", Fence: f})
	if !errors.Is(err, gpu.ErrFenceNotReset) {
		t.Fatalf("resubmit error = %v, want ErrFenceNotReset", err)
	}

	f.Reset()
	if f.Pending() {
		t.Error("fence pending after Reset")
	}
	if _, err := q.Submit(ctx, gpu.Submission{Label: "tick", Fence: f}); err != nil {
		t.Fatalf("Submit after Reset: %v", err)
	}
}

func TestFenceTimeout(t *testing.T) {
	ctx := context.Background()
	emu := gputest.New()
	d := emu.Open(gpu.Options{FenceTimeout: 20 * time.Millisecond})
	defer d.Close()

	b, err := d.Allocate("stalled", 16, storageUsage, gpu.MemoryDeviceLocal)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer b.Destroy()

	emu.Queue().SetStalled(true)
	defer emu.Queue().SetStalled(false)

	_, err = b.ReadBytes(ctx, 0, 16)
	if !errors.Is(err, gpu.ErrGPUTimeout) {
		t.Fatalf("ReadBytes error = %v, want ErrGPUTimeout", err)
	}
	var te *gpu.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("error %T is not a *TimeoutError", err)
	}
	if te.Timeout != 20*time.Millisecond {
		t.Errorf("Timeout = %v, want 20ms", te.Timeout)
	}
}

func TestFenceWaitCanceled(t *testing.T) {
	emu := gputest.New()
	d := emu.Open(gpu.Options{FenceTimeout: time.Minute})
	defer d.Close()

	emu.Queue().SetStalled(true)
	defer emu.Queue().SetStalled(false)

	enc, err := d.BeginCommands("work")
	if err != nil {
		t.Fatalf("BeginCommands: %v", err)
	}
	f := d.NewFence("work")
	if _, err := enc.Submit(context.Background(), d.Queue(gpu.RoleCompute), gpu.Submission{Fence: f}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = f.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait error = %v, want context.DeadlineExceeded", err)
	}
	if errors.Is(err, gpu.ErrGPUTimeout) {
		t.Error("canceled wait reported as GPU timeout")
	}
}

func TestTracerSeesSynchronization(t *testing.T) {
	ctx := context.Background()
	rec := &gputest.Recorder{}
	emu := gputest.New()
	d := emu.Open(gpu.Options{Tracer: rec})
	defer d.Close()
	q := d.Queue(gpu.RoleGraphics)

	s := d.Semaphores().Get("a.done")
	if _, err := q.Submit(ctx, gpu.Submission{Label: "a", Signal: []*gpu.Semaphore{s}}); err != nil {
		t.Fatalf("Submit a: %v", err)
	}
	if _, err := q.Submit(ctx, gpu.Submission{Label: "b", Wait: []*gpu.Semaphore{s}}); err != nil {
		t.Fatalf("Submit b: %v", err)
	}

	ev := rec.Events()
	if len(ev) != 2 {
		t.Fatalf("recorded %d events, want 2", len(ev))
	}
	if len(ev[0].Signals) != 1 || ev[0].Signals[0] != "a.done" {
		t.Errorf("a signals = %v, want [a.done]", ev[0].Signals)
	}
	if len(ev[1].Waits) != 1 || ev[1].Waits[0] != "a.done" {
		t.Errorf("b waits = %v, want [a.done]", ev[1].Waits)
	}
}

func TestClosedDeviceRejectsWork(t *testing.T) {
	emu := gputest.New()
	d := emu.Open(gpu.Options{})
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := d.Allocate("late", 4, storageUsage, 0); !errors.Is(err, gpu.ErrDeviceClosed) {
		t.Errorf("Allocate error = %v, want ErrDeviceClosed", err)
	}
	if _, err := d.Queue(gpu.RoleCompute).Submit(context.Background(), gpu.Submission{}); !errors.Is(err, gpu.ErrDeviceClosed) {
		t.Errorf("Submit error = %v, want ErrDeviceClosed", err)
	}
}
