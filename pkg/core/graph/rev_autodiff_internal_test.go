// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withVisitHook records the operators visited by the differentiation engine while fn runs.
func withVisitHook(t *testing.T, fn func()) (visited []Operator) {
	t.Helper()
	gradientVisitHook = func(op Operator, upstream []*Variable) {
		require.Len(t, upstream, len(op.Outputs()))
		visited = append(visited, op)
	}
	defer func() { gradientVisitHook = nil }()
	fn()
	return
}

func TestVisitOrder(t *testing.T) {
	g := NewGraph(t.Name())
	x := Parameter(g, "x", shapes.Make(dtypes.Float64, 3))
	w := Parameter(g, "w", shapes.Make(dtypes.Float64, 3))
	y := Parameter(g, "y", shapes.Make(dtypes.Float64, 3))

	// A diamond: x feeds both branches that are joined later.
	a := Cube(x)
	b := Tanh(x)
	c := Mul(a, b)
	d := Add(c, Square(a))
	loss := MeanSquaredErrorLoss(d, w, y, ReductionWeightedMean)
	numOriginalOps := g.NumOps()

	var results []*InputGradient
	visited := withVisitHook(t, func() {
		var err error
		results, err = Gradients(loss, x)
		require.NoError(t, err)
	})
	require.NoError(t, results[0].Err)

	// Every original operator depends on x, so all of them are visited, each exactly once.
	require.Len(t, visited, numOriginalOps)
	position := make(map[OpId]int, len(visited))
	for ii, op := range visited {
		_, duplicate := position[op.Id()]
		require.False(t, duplicate, "operator %s visited twice", op)
		position[op.Id()] = ii
	}

	// An operator is only visited after all consumers of its outputs.
	for _, consumer := range g.Ops()[:numOriginalOps] {
		for _, input := range consumer.Inputs() {
			if input.IsGraphInput() {
				continue
			}
			assert.Less(t, position[consumer.Id()], position[input.ProducerId()],
				"%s consumes an output of %s, but was visited after it", consumer, input.Producer())
		}
	}
}

func TestVisitSkipsUselessOps(t *testing.T) {
	g := NewGraph(t.Name())
	x := Parameter(g, "x", shapes.Scalar(dtypes.Float32))
	z := Parameter(g, "z", shapes.Scalar(dtypes.Float32))
	output := Add(Cube(x), Exp(z))

	visited := withVisitHook(t, func() {
		_ = Gradient(output, x)
	})
	names := make([]string, len(visited))
	for ii, op := range visited {
		names[ii] = op.Name()
	}
	assert.Equal(t, []string{OpNameAdd, OpNameCube}, names)
}

func TestVisitStopsAtNoGradient(t *testing.T) {
	g := NewGraph(t.Name())
	x := Parameter(g, "x", shapes.Make(dtypes.Float32, 2))
	output := ReduceSum(Mul(Sign(Cube(x)), Cube(x)))

	visited := withVisitHook(t, func() {
		_ = Gradient(output, x)
	})
	for _, op := range visited {
		// The Cube feeding Sign receives no gradient, so its local gradient is never built.
		if op.Name() == OpNameCube {
			assert.NotEqual(t, OpNameSign, consumerName(g, op.Outputs()[0]))
		}
	}
}

func consumerName(g *Graph, v *Variable) string {
	for _, op := range g.Ops() {
		for _, input := range op.Inputs() {
			if input == v {
				return op.Name()
			}
		}
	}
	return ""
}
