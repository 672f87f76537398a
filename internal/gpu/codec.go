// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
)

// ElementSize returns the encoded size of one T, or an error when T has no
// fixed size.
func ElementSize[T any]() (int, error) {
	var zero T
	n := binary.Size(zero)
	if n <= 0 {
		return 0, fmt.Errorf("%w: %T", ErrUnsizedElement, zero)
	}
	return n, nil
}

// Encode serializes values as tightly packed little-endian records. T must
// be a fixed-size type whose layout already matches the shader's std430
// layout; padding is expressed with blank fields.
func Encode[T any](values []T) ([]byte, error) {
	n, err := ElementSize[T]()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, n*len(values))
	buf, err = binary.Append(buf, binary.LittleEndian, values)
	if err != nil {
		return nil, fmt.Errorf("gpu: encode: %w", err)
	}
	return buf, nil
}

// Decode is the inverse of Encode. Trailing bytes that do not form a whole
// record are ignored.
func Decode[T any](data []byte) ([]T, error) {
	n, err := ElementSize[T]()
	if err != nil {
		return nil, err
	}
	out := make([]T, len(data)/n)
	if len(out) == 0 {
		return out, nil
	}
	if err := binary.Read(bytes.NewReader(data[:len(out)*n]), binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("gpu: decode: %w", err)
	}
	return out, nil
}

// Read copies the whole buffer back to the host and decodes it as []T. It
// always blocks on a fence.
func Read[T any](ctx context.Context, b *Buffer) ([]T, error) {
	if _, err := ElementSize[T](); err != nil {
		return nil, err
	}
	data, err := b.ReadBytes(ctx, 0, b.Size())
	if err != nil {
		return nil, err
	}
	return Decode[T](data)
}

// Write encodes values and fills b with them.
func Write[T any](ctx context.Context, b *Buffer, values []T, opts FillOptions) error {
	data, err := Encode(values)
	if err != nil {
		return err
	}
	return b.Fill(ctx, data, opts)
}
