// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gputest provides an emulated HAL device for tests.
//
// The emulator embeds the hal/noop backend and adds what noop leaves out:
// buffers with real storage and unique handles, bind groups that resolve
// those handles, and a queue that executes recorded commands on Submit.
// Compute dispatches run registered CPU kernels keyed by entry point.
package gputest

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/fluidsim/internal/gpu"
)

// Kernel emulates one compute entry point.
type Kernel func(d *Dispatch) error

// Device is an emulated hal.Device.
type Device struct {
	noop.Device

	mu      sync.Mutex
	next    uintptr
	buffers map[uintptr]*Buffer
	kernels map[string]Kernel
	modules []string
	live    int

	queue *Queue
}

// New creates an emulated device with its queue.
func New() *Device {
	d := &Device{
		buffers: make(map[uintptr]*Buffer),
		kernels: make(map[string]Kernel),
	}
	d.queue = &Queue{dev: d}
	return d
}

// Queue returns the device queue.
func (d *Device) Queue() *Queue { return d.queue }

// Open wraps the emulator in a gpu.Device. A nil opts.Compiler installs
// the stub Compiler.
func (d *Device) Open(opts gpu.Options) *gpu.Device {
	if opts.Compiler == nil {
		opts.Compiler = &Compiler{}
	}
	return gpu.NewDevice(d, d.queue, opts)
}

// Register installs k for entry point name, replacing any previous kernel.
func (d *Device) Register(name string, k Kernel) {
	d.mu.Lock()
	d.kernels[name] = k
	d.mu.Unlock()
}

func (d *Device) kernel(name string) (Kernel, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k, ok := d.kernels[name]
	return k, ok
}

// LiveBuffers returns the number of buffers created and not destroyed.
func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

// Modules returns the labels of every shader module created.
func (d *Device) Modules() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.modules...)
}

// Buffer is an emulated buffer with host storage.
type Buffer struct {
	noop.Resource

	handle uintptr
	label  string
	usage  gputypes.BufferUsage
	data   []byte
}

// NativeHandle returns the unique emulator handle.
func (b *Buffer) NativeHandle() uintptr { return b.handle }

// Label returns the creation label.
func (b *Buffer) Label() string { return b.label }

// Bytes exposes the backing storage.
func (b *Buffer) Bytes() []byte { return b.data }

// CreateBuffer allocates zeroed storage.
func (d *Device) CreateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error) {
	if desc == nil || desc.Size == 0 {
		return nil, fmt.Errorf("gputest: invalid buffer descriptor")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	b := &Buffer{handle: d.next, label: desc.Label, usage: desc.Usage, data: make([]byte, desc.Size)}
	d.buffers[b.handle] = b
	d.live++
	return b, nil
}

// DestroyBuffer forgets the buffer.
func (d *Device) DestroyBuffer(buf hal.Buffer) {
	b, ok := buf.(*Buffer)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.buffers[b.handle]; ok {
		delete(d.buffers, b.handle)
		d.live--
	}
}

// MapBuffer returns a pointer into the buffer storage.
func (d *Device) MapBuffer(buf hal.Buffer, offset, size uint64) (hal.BufferMapping, error) {
	b, ok := buf.(*Buffer)
	if !ok || offset+size > uint64(len(b.data)) || size == 0 {
		return hal.BufferMapping{}, hal.ErrInvalidMapRange
	}
	if b.usage&(gputypes.BufferUsageMapRead|gputypes.BufferUsageMapWrite) == 0 {
		return hal.BufferMapping{}, hal.ErrInvalidMapRange
	}
	return hal.BufferMapping{Ptr: unsafe.Pointer(&b.data[offset]), IsCoherent: true}, nil
}

// UnmapBuffer is a no-op.
func (d *Device) UnmapBuffer(hal.Buffer) error { return nil }

func (d *Device) lookup(handle uintptr) (*Buffer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[handle]
	return b, ok
}

// CreateShaderModule records the module label.
func (d *Device) CreateShaderModule(desc *hal.ShaderModuleDescriptor) (hal.ShaderModule, error) {
	d.mu.Lock()
	d.modules = append(d.modules, desc.Label)
	d.mu.Unlock()
	return &noop.Resource{}, nil
}

// BindGroup resolves buffer handles at creation.
type BindGroup struct {
	noop.Resource

	label   string
	buffers map[uint32]*Buffer
}

// CreateBindGroup resolves every buffer binding to an emulated buffer.
func (d *Device) CreateBindGroup(desc *hal.BindGroupDescriptor) (hal.BindGroup, error) {
	bg := &BindGroup{label: desc.Label, buffers: make(map[uint32]*Buffer, len(desc.Entries))}
	for _, e := range desc.Entries {
		bb, ok := e.Resource.(gputypes.BufferBinding)
		if !ok {
			continue
		}
		b, ok := d.lookup(bb.Buffer)
		if !ok {
			return nil, fmt.Errorf("gputest: bind group %s: unknown buffer handle %d at binding %d",
				desc.Label, bb.Buffer, e.Binding)
		}
		bg.buffers[e.Binding] = b
	}
	return bg, nil
}

// Pipeline remembers its entry points.
type Pipeline struct {
	noop.Resource

	Label    string
	Entry    string
	Fragment string
}

// CreateComputePipeline returns a pipeline keyed by entry point.
func (d *Device) CreateComputePipeline(desc *hal.ComputePipelineDescriptor) (hal.ComputePipeline, error) {
	return &Pipeline{Label: desc.Label, Entry: desc.Compute.EntryPoint}, nil
}

// CreateRenderPipeline returns a pipeline that records its entry points.
func (d *Device) CreateRenderPipeline(desc *hal.RenderPipelineDescriptor) (hal.RenderPipeline, error) {
	p := &Pipeline{Label: desc.Label, Entry: desc.Vertex.EntryPoint}
	if desc.Fragment != nil {
		p.Fragment = desc.Fragment.EntryPoint
	}
	return p, nil
}

// CreateCommandEncoder returns a recording encoder.
func (d *Device) CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	return &Encoder{dev: d, label: desc.Label}, nil
}

// Texture is an emulated 2D texture with host storage.
type Texture struct {
	noop.Texture

	Width, Height uint32
	Format        gputypes.TextureFormat
	data          []byte
}

// Bytes exposes the backing storage, 4 bytes per texel.
func (t *Texture) Bytes() []byte { return t.data }

// CreateTexture allocates 4 bytes per texel.
func (d *Device) CreateTexture(desc *hal.TextureDescriptor) (hal.Texture, error) {
	return newTexture(desc.Size.Width, desc.Size.Height, desc.Format), nil
}

func newTexture(w, h uint32, format gputypes.TextureFormat) *Texture {
	return &Texture{Width: w, Height: h, Format: format, data: make([]byte, int(w)*int(h)*4)}
}

// TextureView points back at its texture.
type TextureView struct {
	noop.Resource

	tex *Texture
}

// CreateTextureView wraps tex.
func (d *Device) CreateTextureView(tex hal.Texture, _ *hal.TextureViewDescriptor) (hal.TextureView, error) {
	t, _ := tex.(*Texture)
	return &TextureView{tex: t}, nil
}

var (
	_ hal.Device  = (*Device)(nil)
	_ hal.Buffer  = (*Buffer)(nil)
	_ hal.Texture = (*Texture)(nil)
)
