// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package capture

import (
	"bufio"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// Image sequence formats.
const (
	FormatBMP  = "bmp"
	FormatTIFF = "tiff"
)

type encodeFunc func(w io.Writer, img image.Image) error

func encoderFor(format string) (encodeFunc, error) {
	switch format {
	case FormatBMP, "":
		return bmp.Encode, nil
	case FormatTIFF:
		return func(w io.Writer, img image.Image) error {
			return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
		}, nil
	}
	return nil, fmt.Errorf("capture: unknown image format %q", format)
}

// ImageSequence writes every frame to its own numbered file,
// <dir>/frame_000000.<format>.
type ImageSequence struct {
	dir    string
	ext    string
	encode encodeFunc

	mu      sync.Mutex
	written int
	closed  bool
}

// NewImageSequence creates dir if needed. An empty format means BMP.
func NewImageSequence(dir, format string) (*ImageSequence, error) {
	enc, err := encoderFor(format)
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = FormatBMP
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	return &ImageSequence{dir: dir, ext: format, encode: enc}, nil
}

// Path returns the file frame index is written to.
func (s *ImageSequence) Path(index int) string {
	return filepath.Join(s.dir, fmt.Sprintf("frame_%06d.%s", index, s.ext))
}

// WriteFrame implements Encoder.
func (s *ImageSequence) WriteFrame(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	img, err := f.Image()
	if err != nil {
		return err
	}
	path := s.Path(f.Index)
	file, err := os.Create(path) //nolint:gosec // output directory comes from the config
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	w := bufio.NewWriter(file)
	if err := s.encode(w, img); err != nil {
		_ = file.Close()
		return fmt.Errorf("capture: encode %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		_ = file.Close()
		return fmt.Errorf("capture: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	s.written++
	return nil
}

// Written returns the number of frames written.
func (s *ImageSequence) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Close implements Encoder.
func (s *ImageSequence) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

var _ Encoder = (*ImageSequence)(nil)
