// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// DefaultWorkgroupSize is the local size of every compute entry point in
// the embedded shaders.
const DefaultWorkgroupSize = 256

// BindingType is the kind of buffer bound at a slot.
type BindingType int

const (
	// BindingUniform is a read-only uniform block.
	BindingUniform BindingType = iota
	// BindingStorage is a read-write storage buffer.
	BindingStorage
	// BindingReadOnly is a read-only storage buffer.
	BindingReadOnly
)

func (t BindingType) halType() gputypes.BufferBindingType {
	switch t {
	case BindingUniform:
		return gputypes.BufferBindingTypeUniform
	case BindingReadOnly:
		return gputypes.BufferBindingTypeReadOnlyStorage
	default:
		return gputypes.BufferBindingTypeStorage
	}
}

// Binding describes one buffer slot of group 0.
type Binding struct {
	Index uint32
	Type  BindingType
	// Stage defaults to compute for compute pipelines and vertex|fragment
	// for render pipelines.
	Stage gputypes.ShaderStages
}

// Uniform returns a uniform binding at index.
func Uniform(index uint32) Binding { return Binding{Index: index, Type: BindingUniform} }

// Storage returns a read-write storage binding at index.
func Storage(index uint32) Binding { return Binding{Index: index, Type: BindingStorage} }

// ReadOnly returns a read-only storage binding at index.
func ReadOnly(index uint32) Binding { return Binding{Index: index, Type: BindingReadOnly} }

func layoutEntries(bindings []Binding, stage gputypes.ShaderStages, paramSize uint64) []gputypes.BindGroupLayoutEntry {
	entries := make([]gputypes.BindGroupLayoutEntry, len(bindings))
	for i, b := range bindings {
		vis := b.Stage
		if vis == 0 {
			vis = stage
		}
		var minSize uint64
		if b.Type == BindingUniform && b.Index == 0 {
			minSize = paramSize
		}
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    b.Index,
			Visibility: vis,
			Buffer: &gputypes.BufferBindingLayout{
				Type:           b.Type.halType(),
				MinBindingSize: minSize,
			},
		}
	}
	return entries
}

// layoutSet is the shader module and layouts shared by compute and render
// pipelines.
type layoutSet struct {
	dev      *Device
	label    string
	bindings []Binding

	module hal.ShaderModule
	bgl    hal.BindGroupLayout
	layout hal.PipelineLayout

	groups []hal.BindGroup
}

func (d *Device) buildLayoutSet(label string, src ShaderSource, bindings []Binding, paramSize uint64) (*layoutSet, error) {
	spirv, err := d.compiler.Compile(src)
	if err != nil {
		return nil, err
	}

	ls := &layoutSet{dev: d, label: label, bindings: bindings}
	ls.module, err = d.raw.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: %s: create shader module: %w", label, err)
	}

	ls.bgl, err = d.raw.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   label + "_bgl",
		Entries: layoutEntries(bindings, src.Stage, paramSize),
	})
	if err != nil {
		ls.destroy()
		return nil, fmt.Errorf("gpu: %s: create bind group layout: %w", label, err)
	}

	ls.layout, err = d.raw.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label + "_layout",
		BindGroupLayouts: []hal.BindGroupLayout{ls.bgl},
	})
	if err != nil {
		ls.destroy()
		return nil, fmt.Errorf("gpu: %s: create pipeline layout: %w", label, err)
	}
	return ls, nil
}

// NewBindGroup binds bufs to the pipeline's slots in declaration order. The
// group is destroyed with the pipeline.
func (ls *layoutSet) NewBindGroup(label string, bufs ...*Buffer) (hal.BindGroup, error) {
	if len(bufs) != len(ls.bindings) {
		return nil, fmt.Errorf("gpu: %s: bind group %s: %d buffers for %d bindings",
			ls.label, label, len(bufs), len(ls.bindings))
	}
	entries := make([]gputypes.BindGroupEntry, len(bufs))
	for i, b := range bufs {
		if b == nil {
			return nil, fmt.Errorf("gpu: %s: bind group %s: nil buffer at binding %d",
				ls.label, label, ls.bindings[i].Index)
		}
		entries[i] = gputypes.BindGroupEntry{
			Binding:  ls.bindings[i].Index,
			Resource: b.Binding(),
		}
	}
	bg, err := ls.dev.raw.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   label,
		Layout:  ls.bgl,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: %s: create bind group %s: %w", ls.label, label, err)
	}
	ls.groups = append(ls.groups, bg)
	return bg, nil
}

// destroy releases whatever was created, in reverse order.
func (ls *layoutSet) destroy() {
	d := ls.dev.raw
	for _, bg := range ls.groups {
		d.DestroyBindGroup(bg)
	}
	ls.groups = nil
	if ls.layout != nil {
		d.DestroyPipelineLayout(ls.layout)
		ls.layout = nil
	}
	if ls.bgl != nil {
		d.DestroyBindGroupLayout(ls.bgl)
		ls.bgl = nil
	}
	if ls.module != nil {
		d.DestroyShaderModule(ls.module)
		ls.module = nil
	}
}

// ComputePipelineDesc describes a compute pipeline over bind group 0.
type ComputePipelineDesc struct {
	Label      string
	Source     string
	EntryPoint string
	Defines    map[string]string
	Bindings   []Binding

	// ParamSize is the size of the uniform parameter block at binding 0.
	ParamSize uint64

	// WorkgroupSize is the entry point's local size. Zero means
	// DefaultWorkgroupSize.
	WorkgroupSize uint32
}

// ComputePipeline is an immutable compute pipeline with its layouts.
// Rebuilding means constructing a new one.
type ComputePipeline struct {
	*layoutSet

	pipeline      hal.ComputePipeline
	entryPoint    string
	workgroupSize uint32
	paramSize     uint64
}

// NewComputePipeline compiles desc.Source and builds the pipeline.
func (d *Device) NewComputePipeline(desc ComputePipelineDesc) (*ComputePipeline, error) {
	if d.isClosed() {
		return nil, ErrDeviceClosed
	}
	ls, err := d.buildLayoutSet(desc.Label, ShaderSource{
		Label:   desc.Label,
		Code:    desc.Source,
		Stage:   gputypes.ShaderStageCompute,
		Defines: desc.Defines,
	}, desc.Bindings, desc.ParamSize)
	if err != nil {
		return nil, err
	}

	pipeline, err := d.raw.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: ls.layout,
		Compute: hal.ComputeState{
			Module:     ls.module,
			EntryPoint: desc.EntryPoint,
		},
	})
	if err != nil {
		ls.destroy()
		return nil, fmt.Errorf("gpu: %s: create compute pipeline: %w", desc.Label, err)
	}

	wg := desc.WorkgroupSize
	if wg == 0 {
		wg = DefaultWorkgroupSize
	}
	Logger().Debug("gpu: compute pipeline created",
		"label", desc.Label,
		"entry", desc.EntryPoint,
		"bindings", len(desc.Bindings))

	return &ComputePipeline{
		layoutSet:     ls,
		pipeline:      pipeline,
		entryPoint:    desc.EntryPoint,
		workgroupSize: wg,
		paramSize:     desc.ParamSize,
	}, nil
}

// Pipeline returns the HAL pipeline.
func (p *ComputePipeline) Pipeline() hal.ComputePipeline { return p.pipeline }

// Layout returns the pipeline layout.
func (p *ComputePipeline) Layout() hal.PipelineLayout { return p.layout }

// BindGroupLayout returns the layout of bind group 0.
func (p *ComputePipeline) BindGroupLayout() hal.BindGroupLayout { return p.bgl }

// Label returns the debug label.
func (p *ComputePipeline) Label() string { return p.label }

// EntryPoint returns the shader entry point.
func (p *ComputePipeline) EntryPoint() string { return p.entryPoint }

// WorkgroupSize returns the local size used for element dispatches.
func (p *ComputePipeline) WorkgroupSize() uint32 { return p.workgroupSize }

// Destroy releases the pipeline, its layouts and every bind group made
// from it.
func (p *ComputePipeline) Destroy() {
	if p == nil || p.layoutSet == nil {
		return
	}
	if p.pipeline != nil {
		p.dev.raw.DestroyComputePipeline(p.pipeline)
		p.pipeline = nil
	}
	p.destroy()
}

// RenderPipelineDesc describes a graphics pipeline over bind group 0.
type RenderPipelineDesc struct {
	Label          string
	Source         string
	VertexEntry    string
	FragmentEntry  string
	Defines        map[string]string
	Bindings       []Binding
	ParamSize      uint64
	TargetFormat   gputypes.TextureFormat
	DepthFormat    gputypes.TextureFormat
	VertexBuffers  []gputypes.VertexBufferLayout
	Topology       gputypes.PrimitiveTopology
	CullMode       gputypes.CullMode
	Blend          *gputypes.BlendState
	DepthTest      bool
	DepthWriteable bool
}

// RenderPipeline is an immutable graphics pipeline with its layouts.
type RenderPipeline struct {
	*layoutSet

	pipeline hal.RenderPipeline
}

// NewRenderPipeline compiles desc.Source and builds the pipeline.
func (d *Device) NewRenderPipeline(desc RenderPipelineDesc) (*RenderPipeline, error) {
	if d.isClosed() {
		return nil, ErrDeviceClosed
	}
	ls, err := d.buildLayoutSet(desc.Label, ShaderSource{
		Label:   desc.Label,
		Code:    desc.Source,
		Stage:   gputypes.ShaderStagesVertexFragment,
		Defines: desc.Defines,
	}, desc.Bindings, desc.ParamSize)
	if err != nil {
		return nil, err
	}

	var depth *hal.DepthStencilState
	if desc.DepthTest {
		depth = &hal.DepthStencilState{
			Format:            desc.DepthFormat,
			DepthWriteEnabled: desc.DepthWriteable,
			DepthCompare:      gputypes.CompareFunctionLess,
		}
	}

	pipeline, err := d.raw.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: ls.layout,
		Vertex: hal.VertexState{
			Module:     ls.module,
			EntryPoint: desc.VertexEntry,
			Buffers:    desc.VertexBuffers,
		},
		Primitive: gputypes.PrimitiveState{
			Topology:  desc.Topology,
			FrontFace: gputypes.FrontFaceCCW,
			CullMode:  desc.CullMode,
		},
		DepthStencil: depth,
		Multisample:  gputypes.DefaultMultisampleState(),
		Fragment: &hal.FragmentState{
			Module:     ls.module,
			EntryPoint: desc.FragmentEntry,
			Targets: []gputypes.ColorTargetState{{
				Format:    desc.TargetFormat,
				Blend:     desc.Blend,
				WriteMask: gputypes.ColorWriteMaskAll,
			}},
		},
	})
	if err != nil {
		ls.destroy()
		return nil, fmt.Errorf("gpu: %s: create render pipeline: %w", desc.Label, err)
	}
	return &RenderPipeline{layoutSet: ls, pipeline: pipeline}, nil
}

// Pipeline returns the HAL pipeline.
func (p *RenderPipeline) Pipeline() hal.RenderPipeline { return p.pipeline }

// Layout returns the pipeline layout.
func (p *RenderPipeline) Layout() hal.PipelineLayout { return p.layout }

// BindGroupLayout returns the layout of bind group 0.
func (p *RenderPipeline) BindGroupLayout() hal.BindGroupLayout { return p.bgl }

// Destroy releases the pipeline, its layouts and its bind groups.
func (p *RenderPipeline) Destroy() {
	if p == nil || p.layoutSet == nil {
		return
	}
	if p.pipeline != nil {
		p.dev.raw.DestroyRenderPipeline(p.pipeline)
		p.pipeline = nil
	}
	p.destroy()
}
