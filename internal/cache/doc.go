// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package cache provides a small generic cache with a soft size limit.
//
// It backs the compiled shader cache, so rebuilding a simulation after a
// config reload does not recompile unchanged WGSL modules:
//
//	c := cache.New[key, []uint32](64)
//	words, err := c.GetOrCreate(k, compile)
//
// # Eviction
//
// Every access advances a monotonic tick. When an insertion takes the
// cache over its limit, the least recently used quarter is evicted.
//
// # Thread Safety
//
// Cache is safe for concurrent use and must not be copied after creation.
package cache
