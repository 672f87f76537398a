// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"crypto/sha256"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/fluidsim/internal/cache"
)

// DefaultShaderCacheSize bounds the compiled modules kept by a device
// that was opened without its own compiler.
const DefaultShaderCacheSize = 64

type shaderKey struct {
	stage gputypes.ShaderStages
	sum   [sha256.Size]byte
}

// CachingCompiler remembers the SPIR-V of every module it compiled,
// keyed by stage and the source after define injection. Labels are not
// part of the key. Failed compilations are not cached.
type CachingCompiler struct {
	next    ShaderCompiler
	modules *cache.Cache[shaderKey, []uint32]
}

// NewCachingCompiler wraps next with a cache of at most size modules.
func NewCachingCompiler(next ShaderCompiler, size int) *CachingCompiler {
	return &CachingCompiler{next: next, modules: cache.New[shaderKey, []uint32](size)}
}

// Compile implements ShaderCompiler. The returned words are shared and
// must not be modified.
func (c *CachingCompiler) Compile(src ShaderSource) ([]uint32, error) {
	key := shaderKey{
		stage: src.Stage,
		sum:   sha256.Sum256([]byte(ApplyDefines(src.Code, src.Defines))),
	}
	return c.modules.GetOrCreate(key, func() ([]uint32, error) {
		Logger().Debug("gpu: compiling shader", "label", src.Label, "stage", StageName(src.Stage))
		return c.next.Compile(src)
	})
}

// Stats reports cache hits and misses.
func (c *CachingCompiler) Stats() cache.Stats { return c.modules.Stats() }
