// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sim

import "errors"

var (
	// ErrNoParticles is returned when a particle source yields nothing.
	ErrNoParticles = errors.New("sim: particle source is empty")

	// ErrCountChanged is returned by Refill for a snapshot of another size.
	ErrCountChanged = errors.New("sim: particle count changed")

	// ErrDatasetSyntax is the sentinel behind every ParseError.
	ErrDatasetSyntax = errors.New("sim: malformed dataset")
)
