// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/fluidsim/internal/gpu"
	"github.com/gogpu/fluidsim/internal/shaders"
)

// Slots is the number of frames in flight. Each slot owns its camera
// uniform so a frame never rewrites one the GPU may still be reading.
const Slots = 2

const depthFormat = gputypes.TextureFormatDepth32Float

type pipeKind int

const (
	pipeParticles pipeKind = iota
	pipeCells
	pipeBox
	numPipes
)

var pipeSpecs = [numPipes]struct {
	label    string
	vertex   string
	topology gputypes.PrimitiveTopology
	cull     gputypes.CullMode
	buffers  []gputypes.VertexBufferLayout
}{
	pipeParticles: {"render.particles", "vs_particle", gputypes.PrimitiveTopologyTriangleList, gputypes.CullModeBack, positionLayout},
	pipeCells:     {"render.cells", "vs_cell", gputypes.PrimitiveTopologyPointList, gputypes.CullModeNone, nil},
	pipeBox:       {"render.box", "vs_box", gputypes.PrimitiveTopologyLineList, gputypes.CullModeNone, positionLayout},
}

var positionLayout = []gputypes.VertexBufferLayout{{
	ArrayStride: 12,
	StepMode:    gputypes.VertexStepModeVertex,
	Attributes:  []gputypes.VertexAttribute{{Format: gputypes.VertexFormatFloat32x3, ShaderLocation: 0}},
}}

var renderBindings = []gpu.Binding{
	gpu.Uniform(0), gpu.Uniform(1), gpu.ReadOnly(2), gpu.ReadOnly(3), gpu.ReadOnly(4),
}

// Config describes what a ResourceGroup draws.
type Config struct {
	Target Target

	Params       *gpu.Buffer
	Particles    *gpu.Buffer
	Scalar       *gpu.Buffer
	GridVelocity *gpu.Buffer

	Count uint32 // particles
	Cells uint32

	Source string

	// Meshes resolves ParticleMesh and BoxMesh. Nil means
	// ProceduralLoader with two subdivisions.
	Meshes       MeshLoader
	ParticleMesh string
	BoxMesh      string

	Camera         Camera
	ParticleRadius float32
	ValueScale     float32
	Background     gputypes.Color
}

// DrawOptions selects what one frame shows.
type DrawOptions struct {
	Type          RenderType
	Visualization Visualization
}

type mesh struct {
	vertices, indices *gpu.Buffer
	count             uint32
}

func (m *mesh) destroy() {
	m.vertices.Destroy()
	m.indices.Destroy()
}

// ResourceGroup owns every size-dependent render object: the target
// configuration, the depth buffer, the pipelines and their bind groups.
// Rebuild tears all of them down and recreates them. Meshes and the
// simulation buffers outlive rebuilds.
type ResourceGroup struct {
	dev *gpu.Device
	cfg Config

	particle, box mesh
	view          ViewMatrixGetter

	width, height uint32
	depthTex      hal.Texture
	depthView     hal.TextureView
	pipes         [numPipes]*gpu.RenderPipeline
	cameras       [Slots]*gpu.Buffer
	groups        [numPipes][Slots]hal.BindGroup
	rebuilds      int
}

// NewResourceGroup uploads the meshes and builds everything else at the
// given size.
func NewResourceGroup(ctx context.Context, d *gpu.Device, cfg Config, width, height uint32) (*ResourceGroup, error) {
	if cfg.Target == nil {
		return nil, errors.New("render: no target")
	}
	if cfg.Params == nil || cfg.Particles == nil || cfg.Scalar == nil || cfg.GridVelocity == nil {
		return nil, errors.New("render: missing simulation buffers")
	}
	if cfg.Meshes == nil {
		cfg.Meshes = ProceduralLoader{Subdivisions: 2}
	}
	if cfg.ParticleMesh == "" {
		cfg.ParticleMesh = MeshIcosphere
	}
	if cfg.BoxMesh == "" {
		cfg.BoxMesh = MeshBox
	}
	if cfg.Source == "" {
		src, err := shaders.Source(shaders.Render)
		if err != nil {
			return nil, err
		}
		cfg.Source = src
	}
	if cfg.Camera.FovY == 0 {
		cfg.Camera = DefaultCamera([3]float32{0, 0, 0}, [3]float32{1, 1, 1})
	}

	r := &ResourceGroup{dev: d, cfg: cfg}
	var err error
	if r.particle, err = r.upload(ctx, "render.particle_mesh", cfg.ParticleMesh); err != nil {
		return nil, err
	}
	if r.box, err = r.upload(ctx, "render.box_mesh", cfg.BoxMesh); err != nil {
		r.particle.destroy()
		return nil, err
	}
	if err := r.Rebuild(width, height); err != nil {
		r.Destroy()
		return nil, err
	}
	return r, nil
}

func (r *ResourceGroup) upload(ctx context.Context, label, path string) (mesh, error) {
	m, err := r.cfg.Meshes.Load(path)
	if err != nil {
		return mesh{}, err
	}
	if len(m.Vertices) == 0 || len(m.Indices) == 0 {
		return mesh{}, fmt.Errorf("render: mesh %q is empty", path)
	}
	vb, ib := m.VertexBytes(), m.IndexBytes()
	out := mesh{count: uint32(len(m.Indices))}
	out.vertices, err = r.dev.Allocate(label+".vertices", uint64(len(vb)),
		gputypes.BufferUsageVertex|gputypes.BufferUsageCopyDst, gpu.MemoryDeviceLocal)
	if err != nil {
		return mesh{}, err
	}
	out.indices, err = r.dev.Allocate(label+".indices", uint64(len(ib)),
		gputypes.BufferUsageIndex|gputypes.BufferUsageCopyDst, gpu.MemoryDeviceLocal)
	if err != nil {
		out.destroy()
		return mesh{}, err
	}
	if err := out.vertices.Fill(ctx, vb, gpu.FillOptions{Staging: true}); err != nil {
		out.destroy()
		return mesh{}, err
	}
	if err := out.indices.Fill(ctx, ib, gpu.FillOptions{Staging: true}); err != nil {
		out.destroy()
		return mesh{}, err
	}
	return out, nil
}

// SetViewMatrixGetter replaces the configured camera's view matrix. Nil
// restores it.
func (r *ResourceGroup) SetViewMatrixGetter(g ViewMatrixGetter) { r.view = g }

// Target returns the render target.
func (r *ResourceGroup) Target() Target { return r.cfg.Target }

// Size returns the size of the last rebuild.
func (r *ResourceGroup) Size() (uint32, uint32) { return r.width, r.height }

// Rebuilds returns how many times Rebuild ran, including construction.
func (r *ResourceGroup) Rebuilds() int { return r.rebuilds }

// Rebuild tears down the size-dependent objects and recreates them at
// width x height. A zero size keeps the target's current size.
func (r *ResourceGroup) Rebuild(width, height uint32) error {
	if width == 0 || height == 0 {
		width, height = r.cfg.Target.Size()
	}
	r.teardown()
	if err := r.build(width, height); err != nil {
		r.teardown()
		return err
	}
	r.rebuilds++
	gpu.Logger().Debug("render: rebuilt", "width", width, "height", height, "rebuilds", r.rebuilds)
	return nil
}

func (r *ResourceGroup) build(width, height uint32) error {
	t := r.cfg.Target
	if err := t.Configure(width, height); err != nil {
		return err
	}
	r.width, r.height = width, height

	raw := r.dev.HAL()
	tex, err := raw.CreateTexture(&hal.TextureDescriptor{
		Label:         "render.depth",
		Size:          hal.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        depthFormat,
		Usage:         gputypes.TextureUsageRenderAttachment,
	})
	if err != nil {
		return fmt.Errorf("render: depth texture: %w", err)
	}
	r.depthTex = tex
	r.depthView, err = raw.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:  "render.depth",
		Format: depthFormat,
		Aspect: gputypes.TextureAspectDepthOnly,
	})
	if err != nil {
		return fmt.Errorf("render: depth view: %w", err)
	}

	for s := range Slots {
		r.cameras[s], err = r.dev.Allocate(fmt.Sprintf("render.camera.%d", s), CameraUniformSize,
			gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst, gpu.MemoryDeviceLocal)
		if err != nil {
			return err
		}
	}

	for k, spec := range pipeSpecs {
		p, err := r.dev.NewRenderPipeline(gpu.RenderPipelineDesc{
			Label:          spec.label,
			Source:         r.cfg.Source,
			VertexEntry:    spec.vertex,
			FragmentEntry:  "fs_main",
			Bindings:       renderBindings,
			ParamSize:      CameraUniformSize,
			TargetFormat:   t.Format(),
			DepthFormat:    depthFormat,
			VertexBuffers:  spec.buffers,
			Topology:       spec.topology,
			CullMode:       spec.cull,
			DepthTest:      true,
			DepthWriteable: true,
		})
		if err != nil {
			return err
		}
		r.pipes[k] = p
		for s := range Slots {
			g, err := p.NewBindGroup(fmt.Sprintf("%s.%d", spec.label, s),
				r.cameras[s], r.cfg.Params, r.cfg.Particles, r.cfg.Scalar, r.cfg.GridVelocity)
			if err != nil {
				return err
			}
			r.groups[k][s] = g
		}
	}
	return nil
}

// teardown releases everything Rebuild creates. Bind groups go with their
// pipelines.
func (r *ResourceGroup) teardown() {
	for k := range r.pipes {
		r.pipes[k].Destroy()
		r.pipes[k] = nil
		r.groups[k] = [Slots]hal.BindGroup{}
	}
	for s := range r.cameras {
		r.cameras[s].Destroy()
		r.cameras[s] = nil
	}
	raw := r.dev.HAL()
	if r.depthView != nil {
		raw.DestroyTextureView(r.depthView)
		r.depthView = nil
	}
	if r.depthTex != nil {
		raw.DestroyTexture(r.depthTex)
		r.depthTex = nil
	}
}

// CameraUniform returns the uniform a frame drawn with opts uses.
func (r *ResourceGroup) CameraUniform(opts DrawOptions) CameraUniform {
	c := r.cfg.Camera
	view := c.View()
	if r.view != nil {
		view = r.view()
	}
	aspect := float32(1)
	if r.height > 0 {
		aspect = float32(r.width) / float32(r.height)
	}
	return CameraUniform{
		ViewProj:       c.Projection(aspect).Mul4(view),
		Mode:           uint32(opts.Visualization),
		ParticleRadius: r.cfg.ParticleRadius,
		ValueScale:     r.cfg.ValueScale,
	}
}

// Record writes the slot's camera uniform and records one render pass
// drawing into img.
func (r *ResourceGroup) Record(enc *gpu.Encoder, img *Image, slot int, opts DrawOptions) error {
	if slot < 0 || slot >= Slots {
		return fmt.Errorf("render: slot %d out of range", slot)
	}
	if r.pipes[pipeBox] == nil {
		return fmt.Errorf("render: record: %w", gpu.ErrOutOfDate)
	}
	if img.Width != r.width || img.Height != r.height {
		return fmt.Errorf("render: image %dx%d, resources %dx%d: %w",
			img.Width, img.Height, r.width, r.height, gpu.ErrOutOfDate)
	}
	data, err := gpu.Encode([]CameraUniform{r.CameraUniform(opts)})
	if err != nil {
		return err
	}
	if err := r.dev.Queue(gpu.RoleGraphics).WriteBuffer(r.cameras[slot], 0, data); err != nil {
		return err
	}

	pass := enc.HAL().BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "render.frame",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       img.View,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: r.cfg.Background,
		}},
		DepthStencilAttachment: &hal.RenderPassDepthStencilAttachment{
			View:            r.depthView,
			DepthLoadOp:     gputypes.LoadOpClear,
			DepthStoreOp:    gputypes.StoreOpStore,
			DepthClearValue: 1,
		},
	})
	if opts.Type == Particles || opts.Type == Both {
		r.bind(pass, pipeParticles, slot)
		pass.SetVertexBuffer(0, r.particle.vertices.HAL(), 0)
		pass.SetIndexBuffer(r.particle.indices.HAL(), gputypes.IndexFormatUint16, 0)
		pass.DrawIndexed(r.particle.count, r.cfg.Count, 0, 0, 0)
	}
	if (opts.Type == Grid || opts.Type == Both) && r.cfg.Cells > 0 {
		r.bind(pass, pipeCells, slot)
		pass.Draw(r.cfg.Cells, 1, 0, 0)
	}
	r.bind(pass, pipeBox, slot)
	pass.SetVertexBuffer(0, r.box.vertices.HAL(), 0)
	pass.SetIndexBuffer(r.box.indices.HAL(), gputypes.IndexFormatUint16, 0)
	pass.DrawIndexed(r.box.count, 1, 0, 0, 0)
	pass.End()
	return nil
}

func (r *ResourceGroup) bind(pass hal.RenderPassEncoder, k pipeKind, slot int) {
	pass.SetPipeline(r.pipes[k].Pipeline())
	pass.SetBindGroup(0, r.groups[k][slot], nil)
}

// Destroy releases every render resource. The target is left to its owner.
func (r *ResourceGroup) Destroy() {
	if r == nil {
		return
	}
	r.teardown()
	r.particle.destroy()
	r.box.destroy()
}
