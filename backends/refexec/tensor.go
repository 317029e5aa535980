// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package refexec

import (
	"fmt"
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Tensor is a concrete value: a shape and its elements in row-major order.
//
// Elements are always held as float64, rounded to the precision of the shape's dtype.
type Tensor struct {
	Shape shapes.Shape
	Flat  []float64
}

// NewTensor creates a Tensor with the given shape and elements. The elements are rounded to the dtype.
func NewTensor(shape shapes.Shape, flat ...float64) (*Tensor, error) {
	if !shape.Ok() {
		return nil, errors.Errorf("refexec.NewTensor: invalid shape %s", shape)
	}
	if len(flat) != shape.Size() {
		return nil, errors.Errorf("refexec.NewTensor: shape %s has %d elements, %d values given",
			shape, shape.Size(), len(flat))
	}
	t := &Tensor{Shape: shape.Clone(), Flat: make([]float64, len(flat))}
	copy(t.Flat, flat)
	roundTo(shape.DType, t.Flat)
	return t, nil
}

// FromValues creates a Tensor of the given dtype and dimensions. It panics on error.
func FromValues(dtype dtypes.DType, dimensions []int, flat ...float64) *Tensor {
	t, err := NewTensor(shapes.Make(dtype, dimensions...), flat...)
	if err != nil {
		panic(err)
	}
	return t
}

// FromScalar creates a scalar Tensor.
func FromScalar(dtype dtypes.DType, value float64) *Tensor {
	return FromValues(dtype, nil, value)
}

// Value returns the value of a scalar tensor. It panics if the tensor is not a scalar.
func (t *Tensor) Value() float64 {
	if !t.Shape.IsScalar() {
		panic(errors.Errorf("Tensor.Value() called on non-scalar tensor of shape %s", t.Shape))
	}
	return t.Flat[0]
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	if t.Shape.IsScalar() {
		return fmt.Sprintf("%s: %g", t.Shape, t.Flat[0])
	}
	return fmt.Sprintf("%s: %v", t.Shape, t.Flat)
}

// roundTo rounds the values in place to the precision of dtype.
// Integers are truncated towards zero, and booleans become 0 or 1.
func roundTo(dtype dtypes.DType, values []float64) {
	switch dtype {
	case dtypes.Float64:
		return
	case dtypes.Float32:
		for ii, v := range values {
			values[ii] = float64(float32(v))
		}
	case dtypes.Float16:
		for ii, v := range values {
			values[ii] = float64(float16.Fromfloat32(float32(v)).Float32())
		}
	case dtypes.BFloat16:
		for ii, v := range values {
			values[ii] = float64(bfloat16.FromFloat32(float32(v)).Float32())
		}
	case dtypes.Bool:
		for ii, v := range values {
			if v != 0 {
				values[ii] = 1
			} else {
				values[ii] = 0
			}
		}
	default:
		if dtype.IsInt() || dtype.IsUnsigned() {
			for ii, v := range values {
				values[ii] = math.Trunc(v)
			}
		}
	}
}
