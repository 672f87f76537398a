// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package refkernel is the CPU reference for every compute entry point in
// internal/shaders. Each kernel reads and writes the emulator's buffers
// exactly as the WGSL does, one invocation at a time, so that solver
// packages can be tested end to end on a gputest device.
//
// Kernels run invocations sequentially. Where the WGSL relies on
// workgroup barriers the kernel runs the phases of a workgroup in order.
package refkernel

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/fluidsim/internal/gpu"
	"github.com/gogpu/fluidsim/internal/gpu/gputest"
	"github.com/gogpu/fluidsim/internal/sim"
)

// kernels maps entry point names to their CPU implementation.
var kernels = map[string]gputest.Kernel{
	// sort.wgsl
	"count":      sortCount,
	"upsweep":    sortUpsweep,
	"downsweep":  sortDownsweep,
	"scatter":    sortScatter,
	"cell_table": sortCellTable,

	// grid.wgsl
	"cell_ids": cellIDs,

	// sph.wgsl
	"mass_density":        massDensity,
	"mass_density_center": massDensityCenter,
	"force":               force,
	"advect":              advect,

	// gridfluid.wgsl
	"add_source_vec":       addSourceVec,
	"add_source_scalar":    addSourceScalar,
	"diffuse_vec_red":      diffuseVec(0),
	"diffuse_vec_black":    diffuseVec(1),
	"diffuse_scalar_red":   diffuseScalar(0),
	"diffuse_scalar_black": diffuseScalar(1),
	"advect_vec":           advectVec,
	"advect_scalar":        advectScalar,
	"divergence_step":      divergenceStep,
	"pressure_red":         pressureSweep(0),
	"pressure_black":       pressureSweep(1),
	"subtract_gradient":    subtractGradient,

	// coupling.wgsl
	"tag":      tag,
	"exchange": exchange,
	"drag":     drag,
}

// Register installs every kernel on dev.
func Register(dev *gputest.Device) {
	for name, k := range kernels {
		dev.Register(name, k)
	}
}

// Entries returns the names of all registered entry points.
func Entries() []string {
	out := make([]string, 0, len(kernels))
	for name := range kernels {
		out = append(out, name)
	}
	return out
}

// NewEmulator returns a gputest device with every kernel registered.
func NewEmulator() *gputest.Device {
	dev := gputest.New()
	Register(dev)
	return dev
}

// Open returns an emulator and a gpu.Device over it.
func Open(opts gpu.Options) (*gputest.Device, *gpu.Device) {
	emu := NewEmulator()
	return emu, emu.Open(opts)
}

const local = gpu.DefaultWorkgroupSize

func params(k *gputest.Dispatch) (sim.Params, error) {
	var p sim.Params
	if err := k.Uniform(0, &p); err != nil {
		return p, err
	}
	return p, nil
}

// record is a view over a storage buffer of fixed-size structs.
type record[T any] struct {
	buf  []byte
	size int
}

func view[T any](k *gputest.Dispatch, binding uint32) record[T] {
	var zero T
	return record[T]{buf: k.Buffer(binding), size: binary.Size(zero)}
}

func (r record[T]) len() int { return len(r.buf) / r.size }

func (r record[T]) get(i int) T {
	var v T
	if _, err := binary.Decode(r.buf[i*r.size:(i+1)*r.size], binary.LittleEndian, &v); err != nil {
		panic(fmt.Sprintf("refkernel: decode %T at %d: %v", v, i, err))
	}
	return v
}

func (r record[T]) set(i int, v T) {
	if _, err := binary.Encode(r.buf[i*r.size:(i+1)*r.size], binary.LittleEndian, &v); err != nil {
		panic(fmt.Sprintf("refkernel: encode %T at %d: %v", v, i, err))
	}
}

// vec4 helpers.

type vec3 [3]float32

func (a vec3) add(b vec3) vec3      { return vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func (a vec3) sub(b vec3) vec3      { return vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }
func (a vec3) scale(s float32) vec3 { return vec3{a[0] * s, a[1] * s, a[2] * s} }
func (a vec3) dot(b vec3) float32   { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }
func (a vec3) length() float32      { return float32(math.Sqrt(float64(a.dot(a)))) }

func xyz(v [4]float32) vec3 { return vec3{v[0], v[1], v[2]} }

func vec4(v vec3, w float32) [4]float32 { return [4]float32{v[0], v[1], v[2], w} }

func pow(x float32, n float64) float32 { return float32(math.Pow(float64(x), n)) }
