// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGraph(t *testing.T) {
	g0 := NewGraph("")
	g1 := NewGraph("my_graph")
	assert.NotEqual(t, g0.GraphId(), g1.GraphId())
	assert.NotEqual(t, g0.UUID(), g1.UUID())
	assert.Equal(t, "my_graph", g1.Name())
	assert.NotEmpty(t, g0.Name())
	assert.Equal(t, 0, g1.NumVariables())
	assert.Equal(t, 0, g1.NumOps())
}

func TestParameters(t *testing.T) {
	g := NewGraph("params")
	x := Parameter(g, "x", shapes.Make(dtypes.Float32, 2, 3))
	assert.True(t, x.IsGraphInput())
	assert.Nil(t, x.Producer())
	assert.Equal(t, InvalidOpId, x.ProducerId())
	assert.Equal(t, VariableId(0), x.Id())
	assert.Same(t, x, g.ParameterByName("x"))
	assert.Nil(t, g.ParameterByName("y"))

	_, err := g.NewParameter("x", shapes.Scalar(dtypes.Float32))
	require.Error(t, err)
	_, err = g.NewParameter("", shapes.Scalar(dtypes.Float32))
	require.Error(t, err)
	_, err = g.NewParameter("bad", shapes.Invalid())
	require.Error(t, err)
	assert.Len(t, g.Parameters(), 1)
}

func TestAddOp(t *testing.T) {
	g := NewGraph("add_op")
	x := Parameter(g, "x", shapes.Make(dtypes.Float64, 3))
	y := Cube(x)
	require.False(t, y.IsGraphInput())
	producer := y.Producer()
	require.NotNil(t, producer)
	assert.Equal(t, OpNameCube, producer.Name())
	assert.Equal(t, OpId(0), producer.Id())
	assert.Equal(t, 0, y.OutputIndex())
	assert.True(t, y.Shape().Equal(x.Shape()))
	assert.Greater(t, y.Id(), x.Id())
	assert.Same(t, producer, g.OpById(0))
	assert.Same(t, y, g.VariableById(y.Id()))

	// An operator can only be added once.
	_, err := g.AddOp(producer)
	require.Error(t, err)

	// Operators from other graphs are rejected.
	other := NewGraph("other")
	z := Parameter(other, "z", shapes.Make(dtypes.Float64, 3))
	op, err := NewCube(z)
	require.NoError(t, err)
	_, err = g.AddOp(op)
	require.ErrorIs(t, err, ErrInvalidConfiguration)

	// Mixing graphs in the inputs.
	_, err = NewMul(x, z)
	require.ErrorIs(t, err, ErrInvalidConfiguration)

	// Incompatible shapes are reported when adding.
	w := Parameter(g, "w", shapes.Make(dtypes.Float64, 4))
	mul, err := NewMul(x, w)
	require.NoError(t, err)
	_, err = g.AddOp(mul)
	require.Error(t, err)
	assert.Panics(t, func() { _ = Add(x, w) })
}

func TestTraced(t *testing.T) {
	g := NewGraph("traced")
	x := Parameter(g, "x", shapes.Scalar(dtypes.Float32))
	y := Neg(x)
	assert.Nil(t, y.Producer().base().Trace())
	g.SetTraced(true)
	y = Neg(y)
	assert.Error(t, y.Producer().base().Trace())

	t.Setenv(TraceEnvVar, "true")
	g2 := NewGraph("traced_by_env")
	x2 := Parameter(g2, "x", shapes.Scalar(dtypes.Float32))
	assert.Error(t, Neg(x2).Producer().base().Trace())
}

func TestFinalize(t *testing.T) {
	g := NewGraph("finalize")
	x := Parameter(g, "x", shapes.Scalar(dtypes.Float32))
	_ = Exp(x)
	assert.Contains(t, g.String(), "exp(#0)")
	g.Finalize()
	g.Finalize()
	require.Error(t, g.CheckValid())
	_, err := g.NewParameter("y", shapes.Scalar(dtypes.Float32))
	require.Error(t, err)
	assert.Equal(t, "Invalid Graph (already finalized)", g.String())

	var nilGraph *Graph
	require.Error(t, nilGraph.CheckValid())
	nilGraph.Finalize()
}

func TestVariableString(t *testing.T) {
	g := NewGraph("strings")
	x := Parameter(g, "x", shapes.Make(dtypes.Float32, 2, 2))
	assert.Equal(t, `#0 input "x" (Float32)[2 2] (16 B)`, x.String())
	y := Cube(x)
	assert.Equal(t, "#1 cube[0] (Float32)[2 2] (16 B)", y.String())
	assert.Equal(t, "#0 cube(#0) -> #1(Float32)[2 2]", y.Producer().String())

	var nilVar *Variable
	assert.Equal(t, "Variable(nil)", nilVar.String())
}

func TestErrorsWrapSentinels(t *testing.T) {
	g := NewGraph("errors")
	x := Parameter(g, "x", shapes.Scalar(dtypes.Float32))
	_, err := NewAddN(x)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArity))
	assert.False(t, errors.Is(err, ErrArityMismatch))
}
