// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
)

// ShaderSource is the input to a ShaderCompiler.
type ShaderSource struct {
	Label string
	Code  string
	Stage gputypes.ShaderStages

	// Defines are injected ahead of Code as WGSL const declarations.
	// Values are WGSL expressions, e.g. "256u" or "0.5".
	Defines map[string]string
}

// ShaderCompiler turns shader source into SPIR-V words.
type ShaderCompiler interface {
	Compile(src ShaderSource) ([]uint32, error)
}

// ShaderCompileError reports a shader that failed to compile. It is never
// retried.
type ShaderCompileError struct {
	Label   string
	Stage   string
	Message string
	Err     error
}

func (e *ShaderCompileError) Error() string {
	return fmt.Sprintf("gpu: compile %s shader %q: %s", e.Stage, e.Label, e.Message)
}

func (e *ShaderCompileError) Unwrap() error { return e.Err }

// NagaCompiler compiles WGSL with gogpu/naga.
type NagaCompiler struct {
	// Debug emits OpName/OpLine debug info.
	Debug bool
}

// Compile implements ShaderCompiler.
func (c NagaCompiler) Compile(src ShaderSource) ([]uint32, error) {
	opts := naga.DefaultOptions()
	opts.Debug = c.Debug

	spirv, err := naga.CompileWithOptions(ApplyDefines(src.Code, src.Defines), opts)
	if err != nil {
		return nil, &ShaderCompileError{
			Label:   src.Label,
			Stage:   StageName(src.Stage),
			Message: err.Error(),
			Err:     err,
		}
	}
	if len(spirv)%4 != 0 {
		return nil, &ShaderCompileError{
			Label:   src.Label,
			Stage:   StageName(src.Stage),
			Message: fmt.Sprintf("SPIR-V length %d is not word aligned", len(spirv)),
		}
	}
	return bytesToWords(spirv), nil
}

// ApplyDefines prefixes code with one const declaration per define, in
// sorted key order so that output is deterministic.
func ApplyDefines(code string, defines map[string]string) string {
	if len(defines) == 0 {
		return code
	}
	keys := make([]string, 0, len(defines))
	for k := range defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "const %s = %s;\n", k, defines[k])
	}
	b.WriteString(code)
	return b.String()
}

// StageName returns a short name for a shader stage set.
func StageName(s gputypes.ShaderStages) string {
	switch s {
	case gputypes.ShaderStageCompute:
		return "compute"
	case gputypes.ShaderStageVertex:
		return "vertex"
	case gputypes.ShaderStageFragment:
		return "fragment"
	case gputypes.ShaderStageVertex | gputypes.ShaderStageFragment:
		return "render"
	default:
		return fmt.Sprintf("stages(%d)", uint32(s))
	}
}

// SPIR-V is little-endian 32-bit words.
func bytesToWords(b []byte) []uint32 {
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words
}
