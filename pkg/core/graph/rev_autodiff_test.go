// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph_test

import (
	"fmt"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/backends/refexec"
	. "github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

type feeds = map[*Variable]*refexec.Tensor

func run(t *testing.T, g *Graph, inputs feeds, outputs ...*Variable) []*refexec.Tensor {
	t.Helper()
	results, err := refexec.Run(g, inputs, outputs...)
	require.NoError(t, err)
	return results
}

func countOps(g *Graph, name string) (count int) {
	for _, op := range g.Ops() {
		if op.Name() == name {
			count++
		}
	}
	return
}

func TestCubeGradient(t *testing.T) {
	g := NewGraph(t.Name())
	x := Parameter(g, "x", shapes.Scalar(dtypes.Float64))
	y := Cube(x)
	grad := Gradient(y, x)[0]
	assert.True(t, grad.Shape().Equal(x.Shape()))

	for _, value := range []float64{2, -1, 0, 0.5} {
		results := run(t, g, feeds{x: refexec.FromScalar(dtypes.Float64, value)}, y, grad)
		assert.InDelta(t, value*value*value, results[0].Value(), 1e-12)
		assert.InDelta(t, 3*value*value, results[1].Value(), 1e-12, "d(x³)/dx at x=%g", value)
	}
}

func TestCubeGradientRoundsToDType(t *testing.T) {
	g := NewGraph(t.Name())
	x := Parameter(g, "x", shapes.Make(dtypes.Float32, 3))
	grad := Gradient(ReduceSum(Cube(x)), x)[0]
	assert.Equal(t, dtypes.Float32, grad.DType())
	results := run(t, g, feeds{x: refexec.FromValues(dtypes.Float32, []int{3}, 1, 2, 0.1)}, grad)
	assert.Equal(t, []float64{3, 12}, results[0].Flat[:2])
	last := results[0].Flat[2]
	assert.InDelta(t, 0.03, last, 1e-6)
	assert.Equal(t, float64(float32(last)), last, "values are rounded to float32")
}

func TestCubeThenMeanSquaredError(t *testing.T) {
	g := NewGraph(t.Name())
	x := Parameter(g, "x", shapes.Make(dtypes.Float64, 2))
	weights := Parameter(g, "weights", shapes.Make(dtypes.Float64, 2))
	labels := Parameter(g, "labels", shapes.Make(dtypes.Float64, 2))
	loss := MeanSquaredErrorLoss(Cube(x), weights, labels, ReductionWeightedMean)
	results, err := Gradients(loss, x, weights, labels)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, ErrNotDifferentiable)
	assert.ErrorIs(t, results[2].Err, ErrNotDifferentiable)

	values := run(t, g, feeds{
		x:       refexec.FromValues(dtypes.Float64, []int{2}, 1, 2),
		weights: refexec.FromValues(dtypes.Float64, []int{2}, 1, 1),
		labels:  refexec.FromValues(dtypes.Float64, []int{2}, 0, 0),
	}, loss, results[0].Gradient)
	// loss = (1² + 8²)/2
	assert.InDelta(t, 32.5, values[0].Value(), 1e-12)
	assert.InDeltaSlice(t, []float64{3, 96}, values[1].Flat, 1e-12)
}

func TestSecondDerivative(t *testing.T) {
	g := NewGraph(t.Name())
	x := Parameter(g, "x", shapes.Scalar(dtypes.Float64))
	first := Gradient(Cube(x), x)[0]
	second := Gradient(first, x)[0]
	results := run(t, g, feeds{x: refexec.FromScalar(dtypes.Float64, 2)}, first, second)
	assert.InDelta(t, 12.0, results[0].Value(), 1e-12)
	assert.InDelta(t, 12.0, results[1].Value(), 1e-12, "d²(x³)/dx² = 6x at x=2")
}

func TestGradientAccumulation(t *testing.T) {
	g := NewGraph(t.Name())
	x := Parameter(g, "x", shapes.Scalar(dtypes.Float64))
	output := Add(Mul(x, x), Cube(x))
	addNBefore := countOps(g, OpNameAddN)
	grad := Gradient(output, x)[0]
	assert.Equal(t, OpNameAddN, grad.Producer().Name())
	assert.Equal(t, addNBefore+1, countOps(g, OpNameAddN))
	assert.Len(t, grad.Producer().Inputs(), 3)

	results := run(t, g, feeds{x: refexec.FromScalar(dtypes.Float64, 3)}, grad)
	assert.InDelta(t, 2*3+3*9, results[0].Value(), 1e-12)
}

func TestGradientDisconnected(t *testing.T) {
	g := NewGraph(t.Name())
	x := Parameter(g, "x", shapes.Scalar(dtypes.Float32))
	isolated := Parameter(g, "isolated", shapes.Scalar(dtypes.Float32))
	unrelated := Exp(isolated)
	output := Cube(x)

	results, err := Gradients(output, x, isolated, unrelated)
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	assert.NotNil(t, results[0].Gradient)
	for _, result := range results[1:] {
		assert.ErrorIs(t, result.Err, ErrDisconnectedGraph)
		assert.NotErrorIs(t, result.Err, ErrNotDifferentiable)
		assert.Nil(t, result.Gradient)
	}
	assert.Panics(t, func() { _ = Gradient(output, isolated) })
}

func TestGradientNotDifferentiable(t *testing.T) {
	g := NewGraph(t.Name())
	x := Parameter(g, "x", shapes.Make(dtypes.Float64, 2))
	z := Parameter(g, "z", shapes.Make(dtypes.Float64, 2))
	output := ReduceSum(Add(Sign(z), Mul(Sign(x), Cube(x))))

	results, err := Gradients(output, x, z)
	require.NoError(t, err)
	require.NoError(t, results[0].Err, "x gets a gradient through Cube")
	assert.ErrorIs(t, results[1].Err, ErrNotDifferentiable)
	assert.NotErrorIs(t, results[1].Err, ErrDisconnectedGraph)

	// d(sign(x)·x³)/dx = sign(x)·3x², since Sign has no gradient.
	values := run(t, g, feeds{
		x: refexec.FromValues(dtypes.Float64, []int{2}, -2, 1),
		z: refexec.FromValues(dtypes.Float64, []int{2}, 0, 0),
	}, results[0].Gradient)
	assert.InDeltaSlice(t, []float64{-12, 3}, values[0].Flat, 1e-12)
}

func TestGradientWithRespectToOutput(t *testing.T) {
	g := NewGraph(t.Name())
	x := Parameter(g, "x", shapes.Make(dtypes.Float32, 2, 2))
	grad := Gradient(x, x)[0]
	results := run(t, g, nil, grad)
	assert.Equal(t, []float64{1, 1, 1, 1}, results[0].Flat)
}

func TestGradientSkipsUselessBranches(t *testing.T) {
	g := NewGraph(t.Name())
	x := Parameter(g, "x", shapes.Scalar(dtypes.Float32))
	z := Parameter(g, "z", shapes.Scalar(dtypes.Float32))
	output := Add(Cube(x), Cube(z))
	_ = Gradient(output, x)
	assert.Equal(t, 1, countOps(g, OpNameCubeDerivative))
}

func TestGradientsInvalidRequest(t *testing.T) {
	g := NewGraph(t.Name())
	x := Parameter(g, "x", shapes.Scalar(dtypes.Float32))
	other := Parameter(NewGraph("other"), "x", shapes.Scalar(dtypes.Float32))
	_, err := Gradients(Cube(x), other)
	require.Error(t, err)
	_, err = Gradients(nil, x)
	require.Error(t, err)
	_, err = Gradients(Cube(x), nil)
	require.Error(t, err)
}

// numericGradient estimates the gradient of the scalar output with respect to param with central differences.
func numericGradient(t *testing.T, g *Graph, inputs feeds, output, param *Variable) []float64 {
	t.Helper()
	const h = 1e-6
	base := inputs[param]
	grad := make([]float64, len(base.Flat))
	for ii := range base.Flat {
		shifted := make(feeds, len(inputs))
		for k, v := range inputs {
			shifted[k] = v
		}
		evalAt := func(delta float64) float64 {
			flat := append([]float64(nil), base.Flat...)
			flat[ii] += delta
			shifted[param] = refexec.FromValues(base.Shape.DType, base.Shape.Dimensions, flat...)
			return run(t, g, shifted, output)[0].Value()
		}
		grad[ii] = (evalAt(h) - evalAt(-h)) / (2 * h)
	}
	return grad
}

func TestLossGradientsNumerically(t *testing.T) {
	type lossFn func(predictions, weights, labels *Variable, mode ReductionMode) *Variable
	losses := map[string]lossFn{
		OpNameMeanSquaredErrorLoss:   MeanSquaredErrorLoss,
		OpNameAbsoluteDifferenceLoss: AbsoluteDifferenceLoss,
		OpNameLogLoss:                LogLoss,
	}
	for name, fn := range losses {
		for _, mode := range ReductionModeValues() {
			for _, scalarWeights := range []bool{false, true} {
				t.Run(fmt.Sprintf("%s/%s/scalar_weights=%v", name, mode, scalarWeights), func(t *testing.T) {
					g := NewGraph(t.Name())
					x := Parameter(g, "x", shapes.Make(dtypes.Float64, 3))
					weightsShape := shapes.Make(dtypes.Float64, 3)
					weightsValue := refexec.FromValues(dtypes.Float64, []int{3}, 0.5, 0, 2)
					if scalarWeights {
						weightsShape = shapes.Scalar(dtypes.Float64)
						weightsValue = refexec.FromScalar(dtypes.Float64, 1.5)
					}
					weights := Parameter(g, "weights", weightsShape)
					labels := Parameter(g, "labels", shapes.Make(dtypes.Float64, 3))

					// Predictions in (0, 1), away from the labels, so all losses are smooth around them.
					predictions := Tanh(Square(x))
					loss := fn(predictions, weights, labels, mode)
					objective := loss
					if mode == ReductionNone {
						objective = ReduceSum(loss)
					}
					grad := Gradient(objective, x)[0]

					inputs := feeds{
						x:       refexec.FromValues(dtypes.Float64, []int{3}, 0.3, -0.8, 1.1),
						weights: weightsValue,
						labels:  refexec.FromValues(dtypes.Float64, []int{3}, 1, 0, 0),
					}
					want := numericGradient(t, g, inputs, objective, x)
					got := run(t, g, inputs, grad)[0].Flat
					assert.InDeltaSlice(t, want, got, 1e-5)
				})
			}
		}
	}
}

func TestElementwiseGradientsNumerically(t *testing.T) {
	fns := map[string]func(x *Variable) *Variable{
		OpNameCube:           Cube,
		OpNameCubeDerivative: CubeDerivative,
		OpNameSquare:         Square,
		OpNameNeg:            Neg,
		OpNameExp:            Exp,
		OpNameLog:            Log,
		OpNameTanh:           Tanh,
		OpNameAbs:            Abs,
		OpNameIdentity:       Identity,
		OpNameMulScalar:      func(x *Variable) *Variable { return MulScalar(x, -1.5) },
		OpNameAddScalar:      func(x *Variable) *Variable { return AddScalar(x, 3) },
		OpNameDiv:            func(x *Variable) *Variable { return Div(Exp(x), x) },
		OpNameDivNoNan:       func(x *Variable) *Variable { return DivNoNan(x, Square(x)) },
		OpNameSub:            func(x *Variable) *Variable { return Sub(Square(x), x) },
		OpNameBroadcastTo: func(x *Variable) *Variable {
			return Mul(x, BroadcastTo(ReduceSum(x), x.Shape().Dimensions...))
		},
	}
	for name, fn := range fns {
		t.Run(name, func(t *testing.T) {
			g := NewGraph(t.Name())
			x := Parameter(g, "x", shapes.Make(dtypes.Float64, 3))
			output := ReduceSum(fn(x))
			grad := Gradient(output, x)[0]
			inputs := feeds{x: refexec.FromValues(dtypes.Float64, []int{3}, 0.7, 1.3, 2.1)}
			want := numericGradient(t, g, inputs, output, x)
			got := run(t, g, inputs, grad)[0].Flat
			assert.InDeltaSlice(t, want, got, 1e-5)
		})
	}
}
