// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package refexec

import (
	"math"

	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

func init() {
	RegisterKernel(graph.OpNameCube, unaryKernel(func(x float64) float64 { return x * x * x }))
	RegisterKernel(graph.OpNameCubeDerivative, unaryKernel(func(x float64) float64 { return 3 * x * x }))
	RegisterKernel(graph.OpNameSquare, unaryKernel(func(x float64) float64 { return x * x }))
	RegisterKernel(graph.OpNameNeg, unaryKernel(func(x float64) float64 { return -x }))
	RegisterKernel(graph.OpNameExp, unaryKernel(math.Exp))
	RegisterKernel(graph.OpNameLog, unaryKernel(math.Log))
	RegisterKernel(graph.OpNameTanh, unaryKernel(math.Tanh))
	RegisterKernel(graph.OpNameAbs, unaryKernel(math.Abs))
	RegisterKernel(graph.OpNameSign, unaryKernel(sign))
	RegisterKernel(graph.OpNameIdentity, unaryKernel(func(x float64) float64 { return x }))
	RegisterKernel(graph.OpNameMulScalar, execMulScalar)
	RegisterKernel(graph.OpNameAddScalar, execAddScalar)

	RegisterKernel(graph.OpNameAdd, binaryKernel(floats.AddTo))
	RegisterKernel(graph.OpNameSub, binaryKernel(floats.SubTo))
	RegisterKernel(graph.OpNameMul, binaryKernel(floats.MulTo))
	RegisterKernel(graph.OpNameDiv, binaryKernel(floats.DivTo))
	RegisterKernel(graph.OpNameDivNoNan, binaryKernel(divNoNanTo))
	RegisterKernel(graph.OpNameAddN, execAddN)

	RegisterKernel(graph.OpNameFill, execFill)
	RegisterKernel(graph.OpNameReduceSum, execReduceSum)
	RegisterKernel(graph.OpNameBroadcastTo, execBroadcastTo)
	RegisterKernel(graph.OpNameCountNonZero, execCountNonZero)

	RegisterKernel(graph.OpNameMeanSquaredErrorLoss, lossKernel(func(p, y float64, _ []float64) float64 {
		diff := p - y
		return diff * diff
	}))
	RegisterKernel(graph.OpNameAbsoluteDifferenceLoss, lossKernel(func(p, y float64, _ []float64) float64 {
		return math.Abs(p - y)
	}))
	RegisterKernel(graph.OpNameLogLoss, lossKernel(func(p, y float64, tArgs []float64) float64 {
		epsilon := tArgs[0]
		return -(y*math.Log(p+epsilon) + (1-y)*math.Log(1-p+epsilon))
	}))
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

func newOutput(shape shapes.Shape) *Tensor {
	return &Tensor{Shape: shape, Flat: make([]float64, shape.Size())}
}

func unaryKernel(fn func(float64) float64) Kernel {
	return func(_ graph.Operator, inputs []*Tensor, outputShapes []shapes.Shape) ([]*Tensor, error) {
		output := newOutput(outputShapes[0])
		for ii, x := range inputs[0].Flat {
			output.Flat[ii] = fn(x)
		}
		return []*Tensor{output}, nil
	}
}

func binaryKernel(fn func(dst, s, t []float64) []float64) Kernel {
	return func(_ graph.Operator, inputs []*Tensor, outputShapes []shapes.Shape) ([]*Tensor, error) {
		output := newOutput(outputShapes[0])
		if len(inputs[0].Flat) != len(output.Flat) || len(inputs[1].Flat) != len(output.Flat) {
			return nil, errors.Errorf("operands with %d and %d elements for output shape %s",
				len(inputs[0].Flat), len(inputs[1].Flat), output.Shape)
		}
		fn(output.Flat, inputs[0].Flat, inputs[1].Flat)
		return []*Tensor{output}, nil
	}
}

func divNoNanTo(dst, s, t []float64) []float64 {
	for ii := range dst {
		if t[ii] == 0 {
			dst[ii] = 0
		} else {
			dst[ii] = s[ii] / t[ii]
		}
	}
	return dst
}

func execMulScalar(op graph.Operator, inputs []*Tensor, outputShapes []shapes.Shape) ([]*Tensor, error) {
	output := newOutput(outputShapes[0])
	floats.ScaleTo(output.Flat, op.TArgs()[0], inputs[0].Flat)
	return []*Tensor{output}, nil
}

func execAddScalar(op graph.Operator, inputs []*Tensor, outputShapes []shapes.Shape) ([]*Tensor, error) {
	output := newOutput(outputShapes[0])
	copy(output.Flat, inputs[0].Flat)
	floats.AddConst(op.TArgs()[0], output.Flat)
	return []*Tensor{output}, nil
}

func execAddN(_ graph.Operator, inputs []*Tensor, outputShapes []shapes.Shape) ([]*Tensor, error) {
	output := newOutput(outputShapes[0])
	for _, input := range inputs {
		floats.Add(output.Flat, input.Flat)
	}
	return []*Tensor{output}, nil
}

func execFill(op graph.Operator, _ []*Tensor, outputShapes []shapes.Shape) ([]*Tensor, error) {
	output := newOutput(outputShapes[0])
	value := op.TArgs()[0]
	for ii := range output.Flat {
		output.Flat[ii] = value
	}
	return []*Tensor{output}, nil
}

func execReduceSum(_ graph.Operator, inputs []*Tensor, outputShapes []shapes.Shape) ([]*Tensor, error) {
	output := newOutput(outputShapes[0])
	output.Flat[0] = floats.Sum(inputs[0].Flat)
	return []*Tensor{output}, nil
}

func execBroadcastTo(_ graph.Operator, inputs []*Tensor, outputShapes []shapes.Shape) ([]*Tensor, error) {
	output := newOutput(outputShapes[0])
	input := inputs[0].Flat
	switch len(input) {
	case len(output.Flat):
		copy(output.Flat, input)
	case 1:
		for ii := range output.Flat {
			output.Flat[ii] = input[0]
		}
	default:
		return nil, errors.Errorf("cannot broadcast %d elements to shape %s", len(input), output.Shape)
	}
	return []*Tensor{output}, nil
}

func execCountNonZero(_ graph.Operator, inputs []*Tensor, outputShapes []shapes.Shape) ([]*Tensor, error) {
	output := newOutput(outputShapes[0])
	output.Flat[0] = float64(floats.Count(func(v float64) bool { return v != 0 }, inputs[0].Flat))
	return []*Tensor{output}, nil
}

// lossKernel computes the weighted per-element loss and reduces it according to the reduction mode
// encoded in the operator's integer arguments. Divisions by a zero denominator yield 0.
func lossKernel(elementLoss func(p, y float64, tArgs []float64) float64) Kernel {
	return func(op graph.Operator, inputs []*Tensor, outputShapes []shapes.Shape) ([]*Tensor, error) {
		if len(op.IArgs()) != 1 {
			return nil, errors.Wrapf(graph.ErrCorruptGraph, "loss operator %s without reduction mode", op)
		}
		mode, err := graph.ReductionModeFromOrdinal(op.IArgs()[0])
		if err != nil {
			return nil, err
		}
		predictions, weights, labels := inputs[0].Flat, inputs[1].Flat, inputs[2].Flat
		n := len(predictions)
		broadcastWeights := weights
		if len(weights) != n {
			broadcastWeights = make([]float64, n)
			for ii := range broadcastWeights {
				broadcastWeights[ii] = weights[0]
			}
		}
		weighted := make([]float64, n)
		for ii := range weighted {
			weighted[ii] = elementLoss(predictions[ii], labels[ii], op.TArgs()) * broadcastWeights[ii]
		}

		output := newOutput(outputShapes[0])
		if mode == graph.ReductionNone {
			copy(output.Flat, weighted)
			return []*Tensor{output}, nil
		}
		sum := floats.Sum(weighted)
		var denominator float64
		switch mode {
		case graph.ReductionWeightedSum:
			denominator = 1
		case graph.ReductionWeightedMean:
			denominator = floats.Sum(broadcastWeights)
		case graph.ReductionWeightedSumByNonZeroWeights:
			denominator = float64(floats.Count(func(w float64) bool { return w != 0 }, broadcastWeights))
		}
		if denominator != 0 {
			output.Flat[0] = sum / denominator
		}
		return []*Tensor{output}, nil
	}
}
