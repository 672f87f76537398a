// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package fluidsim

import (
	"log/slog"

	"github.com/gogpu/fluidsim/internal/gpu"
)

// SetLogger configures the logger for fluidsim and all its internal
// packages. By default nothing is logged. Pass nil to restore silence.
//
// Log levels used:
//   - [slog.LevelDebug]: per-submission and per-stage diagnostics
//   - [slog.LevelInfo]: lifecycle events (device opened, simulation
//     ready, config applied)
//   - [slog.LevelWarn]: recoverable failures (bad config reload, capture
//     errors)
//
// Example:
//
//	fluidsim.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	gpu.SetLogger(l)
}

// Logger returns the current logger.
func Logger() *slog.Logger {
	return gpu.Logger()
}
