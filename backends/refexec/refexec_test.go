// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package refexec

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllOperatorsHaveKernels(t *testing.T) {
	for _, desc := range graph.DefaultRegistry.Descriptors() {
		assert.True(t, HasKernel(desc.Name), "operator %q has no kernel", desc.Name)
	}
}

func TestLossReductions(t *testing.T) {
	testCases := []struct {
		mode    graph.ReductionMode
		weights []float64
		want    []float64
	}{
		{graph.ReductionNone, []float64{0.5, 0, 2}, []float64{0.5, 0, 18}},
		{graph.ReductionWeightedSum, []float64{0.5, 0, 2}, []float64{18.5}},
		{graph.ReductionWeightedMean, []float64{0.5, 0, 2}, []float64{7.4}},
		{graph.ReductionWeightedSumByNonZeroWeights, []float64{0.5, 0, 2}, []float64{9.25}},
		{graph.ReductionWeightedMean, []float64{0, 0, 0}, []float64{0}},
		{graph.ReductionWeightedSumByNonZeroWeights, []float64{0, 0, 0}, []float64{0}},
	}
	for _, tc := range testCases {
		t.Run(tc.mode.String(), func(t *testing.T) {
			g := graph.NewGraph(t.Name())
			p := graph.Parameter(g, "p", shapes.Make(dtypes.Float64, 3))
			w := graph.Parameter(g, "w", shapes.Make(dtypes.Float64, 3))
			y := graph.Parameter(g, "y", shapes.Make(dtypes.Float64, 3))
			loss := graph.MeanSquaredErrorLoss(p, w, y, tc.mode)
			results, err := Run(g, map[*graph.Variable]*Tensor{
				p: FromValues(dtypes.Float64, []int{3}, 1, 2, 3),
				w: FromValues(dtypes.Float64, []int{3}, tc.weights...),
				y: FromValues(dtypes.Float64, []int{3}, 0, 0, 0),
			}, loss)
			require.NoError(t, err)
			assert.InDeltaSlice(t, tc.want, results[0].Flat, 1e-12)
		})
	}
}

func TestScalarWeightsAndLogLoss(t *testing.T) {
	g := graph.NewGraph(t.Name())
	p := graph.Parameter(g, "p", shapes.Make(dtypes.Float64, 2))
	w := graph.Parameter(g, "w", shapes.Scalar(dtypes.Float64))
	y := graph.Parameter(g, "y", shapes.Make(dtypes.Float64, 2))
	absDiff := graph.AbsoluteDifferenceLoss(p, w, y, graph.ReductionWeightedSum)
	logLoss := graph.LogLoss(p, w, y, graph.ReductionNone)
	results, err := Run(g, map[*graph.Variable]*Tensor{
		p: FromValues(dtypes.Float64, []int{2}, 0.25, 0.5),
		w: FromScalar(dtypes.Float64, 2),
		y: FromValues(dtypes.Float64, []int{2}, 1, 0),
	}, absDiff, logLoss)
	require.NoError(t, err)
	assert.InDelta(t, 2*(0.75+0.5), results[0].Value(), 1e-12)
	assert.InDelta(t, 2*1.3862939, results[1].Flat[0], 1e-5) // -2·log(0.25)
	assert.InDelta(t, 2*0.6931470, results[1].Flat[1], 1e-5) // -2·log(0.5)
}

func TestRunErrors(t *testing.T) {
	g := graph.NewGraph(t.Name())
	x := graph.Parameter(g, "x", shapes.Make(dtypes.Float32, 2))
	unused := graph.Parameter(g, "unused", shapes.Make(dtypes.Float32, 2))
	y := graph.Neg(x)

	_, err := Run(g, nil, y)
	require.Error(t, err, "missing feed for x")
	_, err = Run(g, map[*graph.Variable]*Tensor{x: FromValues(dtypes.Float32, []int{3}, 1, 2, 3)}, y)
	require.Error(t, err, "wrong shape")
	_, err = Run(g, map[*graph.Variable]*Tensor{x: FromValues(dtypes.Float32, []int{2}, 1, 2)})
	require.Error(t, err, "no outputs")

	// Unused parameters don't need to be fed.
	results, err := Run(g, map[*graph.Variable]*Tensor{x: FromValues(dtypes.Float32, []int{2}, 1, 2)}, y)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, -2}, results[0].Flat)
	_ = unused

	_, err = NewTensor(shapes.Make(dtypes.Float32, 2), 1)
	require.Error(t, err)
}

func TestRounding(t *testing.T) {
	g := graph.NewGraph(t.Name())
	h := graph.Parameter(g, "h", shapes.Scalar(dtypes.Float16))
	i := graph.Parameter(g, "i", shapes.Make(dtypes.Int32, 2))
	b := graph.Parameter(g, "b", shapes.Scalar(dtypes.Bool))
	results, err := Run(g, map[*graph.Variable]*Tensor{
		h: FromScalar(dtypes.Float16, 1.0/3.0),
		i: FromValues(dtypes.Int32, []int{2}, 2.7, -2.7),
		b: FromScalar(dtypes.Bool, 5),
	}, graph.MulScalar(h, 3), graph.MulScalar(i, 0.5), graph.Identity(b))
	require.NoError(t, err)
	assert.NotEqual(t, 1.0/3.0, FromScalar(dtypes.Float16, 1.0/3.0).Value(), "float16 loses precision")
	assert.InDelta(t, 1.0, results[0].Value(), 1e-3)
	assert.Equal(t, []float64{1, -1}, results[1].Flat)
	assert.Equal(t, 1.0, results[2].Value())
}

func TestShapeOps(t *testing.T) {
	g := graph.NewGraph(t.Name())
	x := graph.Parameter(g, "x", shapes.Make(dtypes.Float64, 3))
	y := graph.CountNonZero(x)
	s := graph.ReduceSum(graph.BroadcastTo(graph.Scalar(g, dtypes.Float64, 2), 3, 2))
	results, err := Run(g, map[*graph.Variable]*Tensor{x: FromValues(dtypes.Float64, []int{3}, 0, 4, -1)}, y, s)
	require.NoError(t, err)
	assert.Equal(t, 2.0, results[0].Value())
	assert.Equal(t, 12.0, results[1].Value())
	assert.Contains(t, results[1].String(), "12")
}
