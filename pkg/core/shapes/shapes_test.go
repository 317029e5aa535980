// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMake(t *testing.T) {
	s := Make(dtypes.Float32, 2, 3)
	assert.Equal(t, 2, s.Rank())
	assert.Equal(t, 6, s.Size())
	assert.Equal(t, 3, s.Dim(-1))
	assert.Equal(t, uintptr(24), s.Memory())
	assert.False(t, s.IsScalar())
	assert.Equal(t, "(Float32)[2 3]", s.String())

	scalar := Scalar(dtypes.Float64)
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, 1, scalar.Size())

	require.Panics(t, func() { Make(dtypes.Float32, 2, 0) })
	_, err := MakeChecked(dtypes.InvalidDType, 3)
	require.Error(t, err)
	require.Panics(t, func() { s.Dim(2) })
}

func TestEqual(t *testing.T) {
	dims := []int{4, 5}
	s := Make(dtypes.Float32, dims...)
	dims[0] = 7 // Make must have copied the dimensions.
	assert.True(t, s.Equal(Make(dtypes.Float32, 4, 5)))
	assert.False(t, s.Equal(Make(dtypes.Float64, 4, 5)))
	assert.True(t, s.EqualDimensions(Make(dtypes.Float64, 4, 5)))
	assert.False(t, s.EqualDimensions(Make(dtypes.Float32, 5, 4)))
	assert.True(t, s.WithDType(dtypes.Float16).Equal(Make(dtypes.Float16, 4, 5)))
	require.NoError(t, s.CheckDims(4, 5))
	require.Error(t, s.CheckDims(4))
}
