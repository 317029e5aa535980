// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// DefaultLogLossEpsilon is the epsilon added to predictions by LogLoss, to keep the logarithms finite.
const DefaultLogLossEpsilon = 1e-7

// LossOp is the base of the loss operators. They consume exactly 3 inputs, in order:
// predictions, weights and labels.
//
// Weights are either a scalar or have the shape of the predictions; labels have the shape of the
// predictions. The output has the dtype of the predictions, and their shape for ReductionNone or is a
// scalar otherwise.
//
// The integer arguments are always exactly [reduction mode ordinal].
type LossOp struct {
	BaseOp
	reduction ReductionMode
	realArgs  []float64
}

func newLossOp(name string, predictions, weights, labels *Variable, mode ReductionMode) (LossOp, error) {
	if err := mode.Validate(); err != nil {
		return LossOp{}, err
	}
	b, err := NewBaseOp(name, nil, predictions, weights, labels)
	if err != nil {
		return LossOp{}, err
	}
	return LossOp{BaseOp: b, reduction: mode}, nil
}

// Predictions returns the first input.
func (op *LossOp) Predictions() *Variable { return op.inputs[0] }

// Weights returns the second input.
func (op *LossOp) Weights() *Variable { return op.inputs[1] }

// Labels returns the third input.
func (op *LossOp) Labels() *Variable { return op.inputs[2] }

// Reduction returns the reduction mode of the loss.
func (op *LossOp) Reduction() ReductionMode { return op.reduction }

// SetReduction changes the reduction mode and refreshes the integer arguments accordingly.
// It can only be called before the operator is added to its graph, since it changes the output shape.
func (op *LossOp) SetReduction(mode ReductionMode) error {
	if err := mode.Validate(); err != nil {
		return err
	}
	if op.IsAdded() {
		return errors.Wrapf(ErrInvalidConfiguration, "cannot change the reduction of operator %s after it was added to the graph", op)
	}
	op.reduction = mode
	op.RefreshArguments()
	return nil
}

// RefreshArguments implements Operator: IArgs = [reduction ordinal]. Real arguments specific to the loss
// (like the LogLoss epsilon) are preserved.
func (op *LossOp) RefreshArguments() {
	op.SetArguments([]int64{op.reduction.Ordinal()}, op.realArgs)
}

// InferOutputTypes implements Operator: the output has the dtype of the predictions.
func (op *LossOp) InferOutputTypes(inputTypes []dtypes.DType) ([]dtypes.DType, error) {
	if err := op.CheckNumInputs(len(inputTypes)); err != nil {
		return nil, err
	}
	if err := op.reduction.Validate(); err != nil {
		return nil, err
	}
	return []dtypes.DType{inputTypes[0]}, nil
}

// InferOutputShapes implements Operator.
func (op *LossOp) InferOutputShapes(inputShapes []shapes.Shape) ([]shapes.Shape, error) {
	if err := op.CheckNumInputs(len(inputShapes)); err != nil {
		return nil, err
	}
	if err := op.reduction.Validate(); err != nil {
		return nil, err
	}
	predictions, weights, labels := inputShapes[0], inputShapes[1], inputShapes[2]
	if !labels.Equal(predictions) {
		return nil, errors.Errorf("operator %q labels shape %s doesn't match predictions shape %s",
			op.Name(), labels, predictions)
	}
	if weights.DType != predictions.DType || (!weights.IsScalar() && !weights.EqualDimensions(predictions)) {
		return nil, errors.Errorf("operator %q weights must be a scalar or have the predictions shape %s, got %s",
			op.Name(), predictions, weights)
	}
	if op.reduction == ReductionNone {
		return []shapes.Shape{predictions.Clone()}, nil
	}
	return []shapes.Shape{shapes.Scalar(predictions.DType)}, nil
}

// reduceGradient combines the upstream gradient with the weights, the per-element derivative of the
// loss with respect to the predictions, and the reduction. Weights and labels get no gradient.
func (op *LossOp) reduceGradient(upstream, derivative *Variable) []*Variable {
	dims := op.Predictions().Shape().Dimensions
	weights := broadcastScalar(op.Weights(), dims)
	grad := Mul(Mul(broadcastScalar(upstream, dims), weights), derivative)
	switch op.reduction {
	case ReductionWeightedMean:
		grad = DivNoNan(grad, broadcastScalar(ReduceSum(weights), dims))
	case ReductionWeightedSumByNonZeroWeights:
		grad = DivNoNan(grad, broadcastScalar(CountNonZero(weights), dims))
	}
	return []*Variable{grad, NoGradient, NoGradient}
}

// MeanSquaredErrorLossOp computes the weighted squared error (predictions - labels)².
type MeanSquaredErrorLossOp struct{ LossOp }

// NewMeanSquaredErrorLoss creates a MeanSquaredErrorLossOp.
func NewMeanSquaredErrorLoss(predictions, weights, labels *Variable, mode ReductionMode) (*MeanSquaredErrorLossOp, error) {
	l, err := newLossOp(OpNameMeanSquaredErrorLoss, predictions, weights, labels, mode)
	if err != nil {
		return nil, err
	}
	op := &MeanSquaredErrorLossOp{l}
	op.RefreshArguments()
	return op, nil
}

// LocalGradient implements Operator.
func (op *MeanSquaredErrorLossOp) LocalGradient(upstream []*Variable) []*Variable {
	derivative := MulScalar(Sub(op.Predictions(), op.Labels()), 2)
	return op.reduceGradient(upstream[0], derivative)
}

// AbsoluteDifferenceLossOp computes the weighted absolute difference |predictions - labels|.
type AbsoluteDifferenceLossOp struct{ LossOp }

// NewAbsoluteDifferenceLoss creates an AbsoluteDifferenceLossOp.
func NewAbsoluteDifferenceLoss(predictions, weights, labels *Variable, mode ReductionMode) (*AbsoluteDifferenceLossOp, error) {
	l, err := newLossOp(OpNameAbsoluteDifferenceLoss, predictions, weights, labels, mode)
	if err != nil {
		return nil, err
	}
	op := &AbsoluteDifferenceLossOp{l}
	op.RefreshArguments()
	return op, nil
}

// LocalGradient implements Operator. The gradient where predictions equal labels is 0.
func (op *AbsoluteDifferenceLossOp) LocalGradient(upstream []*Variable) []*Variable {
	derivative := Sign(Sub(op.Predictions(), op.Labels()))
	return op.reduceGradient(upstream[0], derivative)
}

// LogLossOp computes the weighted binary cross-entropy
// -(labels·log(predictions+ε) + (1-labels)·log(1-predictions+ε)).
//
// TArgs = [ε].
type LogLossOp struct{ LossOp }

// NewLogLoss creates a LogLossOp. Epsilon must be non-negative; DefaultLogLossEpsilon is a good default.
func NewLogLoss(predictions, weights, labels *Variable, mode ReductionMode, epsilon float64) (*LogLossOp, error) {
	if epsilon < 0 {
		return nil, errors.Wrapf(ErrInvalidConfiguration, "log loss epsilon must be >= 0, got %g", epsilon)
	}
	l, err := newLossOp(OpNameLogLoss, predictions, weights, labels, mode)
	if err != nil {
		return nil, err
	}
	l.realArgs = []float64{epsilon}
	op := &LogLossOp{l}
	op.RefreshArguments()
	return op, nil
}

// Epsilon added to the predictions.
func (op *LogLossOp) Epsilon() float64 { return op.realArgs[0] }

// InferOutputTypes implements Operator: predictions must be floats.
func (op *LogLossOp) InferOutputTypes(inputTypes []dtypes.DType) ([]dtypes.DType, error) {
	outputTypes, err := op.LossOp.InferOutputTypes(inputTypes)
	if err != nil {
		return nil, err
	}
	if !outputTypes[0].IsFloat() {
		return nil, errors.Errorf("operator %q requires float predictions, got %s", op.Name(), outputTypes[0])
	}
	return outputTypes, nil
}

// LocalGradient implements Operator: -labels/(predictions+ε) + (1-labels)/(1-predictions+ε).
func (op *LogLossOp) LocalGradient(upstream []*Variable) []*Variable {
	predictions, labels := op.Predictions(), op.Labels()
	epsilon := op.Epsilon()
	derivative := Add(
		Neg(Div(labels, AddScalar(predictions, epsilon))),
		Div(OneMinus(labels), AddScalar(OneMinus(predictions), epsilon)))
	return op.reduceGradient(upstream[0], derivative)
}

// MeanSquaredErrorLoss returns the squared error of predictions against labels, weighted and reduced
// according to mode.
func MeanSquaredErrorLoss(predictions, weights, labels *Variable, mode ReductionMode) *Variable {
	return addOp(NewMeanSquaredErrorLoss(predictions, weights, labels, mode))
}

// AbsoluteDifferenceLoss returns the absolute difference of predictions and labels, weighted and reduced
// according to mode.
func AbsoluteDifferenceLoss(predictions, weights, labels *Variable, mode ReductionMode) *Variable {
	return addOp(NewAbsoluteDifferenceLoss(predictions, weights, labels, mode))
}

// LogLoss returns the binary cross-entropy of predictions against labels, weighted and reduced according
// to mode. It uses DefaultLogLossEpsilon.
func LogLoss(predictions, weights, labels *Variable, mode ReductionMode) *Variable {
	return addOp(NewLogLoss(predictions, weights, labels, mode, DefaultLogLossEpsilon))
}
