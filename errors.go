// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package fluidsim

import "errors"

var (
	// ErrClosed is returned by Run after Close.
	ErrClosed = errors.New("fluidsim: viewer closed")

	// ErrRunning is returned by Run while another Run is active.
	ErrRunning = errors.New("fluidsim: viewer already running")
)
