// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Command fluidsim runs the coupled SPH and grid fluid simulation
// described by a YAML config file.
//
// Without a native window it renders offscreen; set output.to_file in the
// config to write every frame as an image. The config file is watched and
// valid edits are applied between frames.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/fluidsim"
	"github.com/gogpu/fluidsim/internal/metrics"
	"github.com/gogpu/fluidsim/internal/telemetry"
)

func main() {
	var (
		path   = flag.String("config", "fluidsim.yaml", "settings file")
		frames = flag.Uint64("frames", 0, "stop after this many frames (0 runs until interrupted)")
		paused = flag.Bool("paused", false, "start with the simulation paused")
	)
	flag.Parse()

	if err := run(*path, *frames, !*paused); err != nil {
		fmt.Fprintln(os.Stderr, "fluidsim:", err)
		os.Exit(1)
	}
}

func run(path string, maxFrames uint64, start bool) error {
	settings, err := fluidsim.LoadSettings(path)
	if err != nil {
		return err
	}
	level, err := settings.LogLevel()
	if err != nil {
		return err
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	fluidsim.SetLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dev, err := fluidsim.OpenDevice(fluidsim.DeviceOptions{FenceTimeout: settings.GPU.FenceTimeout})
	if err != nil {
		return err
	}
	defer dev.Close()

	watcher, err := fluidsim.WatchSettings(path, 0)
	if err != nil {
		return err
	}
	defer watcher.Close()

	collector := metrics.New()
	hub := telemetry.NewHub()
	defer hub.Close()

	viewer, err := fluidsim.NewViewer(ctx, dev, settings,
		fluidsim.WithUpdates(watcher.Updates()),
		fluidsim.WithObserver(collector),
		fluidsim.WithObserver(hub),
		fluidsim.WithStageObserver(collector),
		fluidsim.WithSortObserver(collector),
		fluidsim.WithMaxFrames(maxFrames),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := viewer.Close(); err != nil {
			log.Warn("fluidsim: close", "err", err)
		}
	}()
	if start {
		viewer.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stop()
		return viewer.Run(gctx)
	})
	g.Go(func() error { return watcher.Run(gctx) })
	serve(gctx, g, log, "metrics", settings.Metrics.Addr, collector.Handler())
	serve(gctx, g, log, "telemetry", settings.Telemetry.Addr, hub)

	err = g.Wait()
	log.Info(viewer.Stats().Format(language.English))
	return err
}

// serve runs h on addr until ctx is done. An empty addr disables it.
func serve(ctx context.Context, g *errgroup.Group, log *slog.Logger, name, addr string, h http.Handler) {
	if addr == "" {
		return
	}
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		log.Info("fluidsim: serving "+name, "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	})
}
