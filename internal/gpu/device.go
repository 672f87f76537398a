// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// DefaultFenceTimeout bounds every host wait on GPU work. It is large
// because exceeding it is treated as a device failure, not a slow frame.
const DefaultFenceTimeout = 5 * time.Second

// QueueRole names the purpose a queue is used for.
type QueueRole int

const (
	// RoleGraphics records render passes.
	RoleGraphics QueueRole = iota
	// RoleCompute records simulation dispatches.
	RoleCompute
	// RolePresent presents images to a surface.
	RolePresent

	roleCount
)

// String returns the role name.
func (r QueueRole) String() string {
	switch r {
	case RoleGraphics:
		return "graphics"
	case RoleCompute:
		return "compute"
	case RolePresent:
		return "present"
	default:
		return fmt.Sprintf("QueueRole(%d)", int(r))
	}
}

// Options configures a Device.
type Options struct {
	// Backend selects the HAL backend. Zero value means Vulkan.
	Backend gputypes.Backend

	// FenceTimeout bounds host waits. Zero means DefaultFenceTimeout.
	FenceTimeout time.Duration

	// Compiler turns WGSL into SPIR-V. Nil means a NagaCompiler behind
	// a CachingCompiler.
	Compiler ShaderCompiler

	// Tracer observes every queue submission. May be nil.
	Tracer Tracer

	// Limits requested when opening the adapter. Zero value means
	// gputypes.DefaultLimits().
	Limits gputypes.Limits
}

// Device owns a HAL logical device and the queues derived from it.
//
// The HAL exposes a single in-order queue per device. Graphics, compute and
// present roles share it, so semaphore waits between roles are satisfied by
// submission order; see Queue.Submit.
type Device struct {
	mu sync.Mutex

	raw      hal.Device
	instance hal.Instance
	adapter  hal.Adapter
	info     gputypes.AdapterInfo

	queues [roleCount]*Queue

	compiler     ShaderCompiler
	fenceTimeout time.Duration
	tracer       Tracer
	semaphores   *SemaphorePool

	// retired holds resources released once the queue completes the
	// submission that last used them.
	retired []retirement

	closed bool
}

type retirement struct {
	index   uint64
	release func()
}

// Open creates a device on the first suitable adapter of the requested
// backend, preferring discrete GPUs.
func Open(opts Options) (*Device, error) {
	variant := opts.Backend
	if variant == gputypes.BackendEmpty {
		variant = gputypes.BackendVulkan
	}

	backend, ok := hal.GetBackend(variant)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, variant)
	}

	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{})
	if err != nil {
		return nil, fmt.Errorf("gpu: create instance: %w", err)
	}

	exposed, ok := pickAdapter(instance.EnumerateAdapters(nil))
	if !ok {
		instance.Destroy()
		return nil, ErrNoAdapter
	}

	limits := opts.Limits
	if limits == (gputypes.Limits{}) {
		limits = gputypes.DefaultLimits()
	}

	opened, err := exposed.Adapter.Open(0, limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("gpu: open adapter %q: %w", exposed.Info.Name, err)
	}

	d := NewDevice(opened.Device, opened.Queue, opts)
	d.instance = instance
	d.adapter = exposed.Adapter
	d.info = exposed.Info

	Logger().Info("gpu: device opened",
		"adapter", exposed.Info.Name,
		"backend", exposed.Info.Backend.String(),
		"type", exposed.Info.DeviceType.String())

	return d, nil
}

// pickAdapter prefers a discrete GPU, then an integrated one, then anything.
func pickAdapter(adapters []hal.ExposedAdapter) (hal.ExposedAdapter, bool) {
	if len(adapters) == 0 {
		return hal.ExposedAdapter{}, false
	}
	rank := func(t gputypes.DeviceType) int {
		switch t {
		case gputypes.DeviceTypeDiscreteGPU:
			return 3
		case gputypes.DeviceTypeIntegratedGPU:
			return 2
		case gputypes.DeviceTypeVirtualGPU:
			return 1
		default:
			return 0
		}
	}
	best := 0
	for i := 1; i < len(adapters); i++ {
		if rank(adapters[i].Info.DeviceType) > rank(adapters[best].Info.DeviceType) {
			best = i
		}
	}
	return adapters[best], true
}

// NewDevice wraps an already opened HAL device and queue. The caller keeps
// ownership of the HAL objects; Close releases only what Device created.
func NewDevice(raw hal.Device, queue hal.Queue, opts Options) *Device {
	d := &Device{
		raw:          raw,
		compiler:     opts.Compiler,
		fenceTimeout: opts.FenceTimeout,
		tracer:       opts.Tracer,
		semaphores:   NewSemaphorePool(),
	}
	if d.compiler == nil {
		d.compiler = NewCachingCompiler(NagaCompiler{}, DefaultShaderCacheSize)
	}
	if d.fenceTimeout <= 0 {
		d.fenceTimeout = DefaultFenceTimeout
	}

	q := &Queue{dev: d, raw: queue, name: "universal"}
	for r := QueueRole(0); r < roleCount; r++ {
		d.queues[r] = q
	}
	return d
}

// HAL returns the underlying HAL device.
func (d *Device) HAL() hal.Device { return d.raw }

// Queue returns the queue serving the given role.
func (d *Device) Queue(role QueueRole) *Queue { return d.queues[role] }

// Info returns adapter metadata. Empty for wrapped devices.
func (d *Device) Info() gputypes.AdapterInfo { return d.info }

// FenceTimeout returns the host wait bound used by fences of this device.
func (d *Device) FenceTimeout() time.Duration { return d.fenceTimeout }

// Semaphores returns the device semaphore pool.
func (d *Device) Semaphores() *SemaphorePool { return d.semaphores }

// Compiler returns the shader compiler used by pipeline construction.
func (d *Device) Compiler() ShaderCompiler { return d.compiler }

// retire schedules release to run once the queue has completed index.
func (d *Device) retire(index uint64, release func()) {
	d.mu.Lock()
	d.retired = append(d.retired, retirement{index: index, release: release})
	d.mu.Unlock()
}

// collect runs the releases whose submissions have completed.
func (d *Device) collect(completed uint64) {
	d.mu.Lock()
	var due []func()
	kept := d.retired[:0]
	for _, r := range d.retired {
		if r.index <= completed {
			due = append(due, r.release)
			continue
		}
		kept = append(kept, r)
	}
	d.retired = kept
	d.mu.Unlock()

	for _, release := range due {
		release()
	}
}

// WaitIdle blocks until all submitted work has completed and releases
// every retired resource.
func (d *Device) WaitIdle() error {
	if err := d.raw.WaitIdle(); err != nil {
		return fmt.Errorf("gpu: wait idle: %w", err)
	}
	d.collect(^uint64(0))
	return nil
}

// Close waits for the device to go idle and destroys it if Device opened it.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	err := d.WaitIdle()
	if d.instance != nil {
		d.raw.Destroy()
		d.instance.Destroy()
	}
	Logger().Debug("gpu: device closed")
	return err
}

func (d *Device) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
