// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// supportedDTypes are the dtypes a Fill can be encoded with.
var supportedDTypes = []dtypes.DType{
	dtypes.Bool,
	dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
	dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64,
	dtypes.Float16, dtypes.BFloat16, dtypes.Float32, dtypes.Float64,
}

// FillOp creates a value of a fixed shape with every element set to a constant.
// It takes no inputs: IArgs = [dtype, dimensions...] and TArgs = [value].
type FillOp struct {
	BaseOp
	shape shapes.Shape
	value float64
}

// NewFill creates a FillOp in graph g.
func NewFill(g *Graph, shape shapes.Shape, value float64) (*FillOp, error) {
	if !slices.Contains(supportedDTypes, shape.DType) {
		return nil, errors.Wrapf(ErrInvalidConfiguration, "fill with unsupported dtype %s", shape.DType)
	}
	for _, dim := range shape.Dimensions {
		if dim <= 0 {
			return nil, errors.Wrapf(ErrInvalidConfiguration, "fill with invalid shape %s", shape)
		}
	}
	b, err := NewBaseOp(OpNameFill, g)
	if err != nil {
		return nil, err
	}
	op := &FillOp{BaseOp: b, shape: shape.Clone(), value: value}
	op.RefreshArguments()
	return op, nil
}

func fillFromArgs(g *Graph, inputs []*Variable, iArgs []int64, tArgs []float64) (Operator, error) {
	if len(inputs) != 0 {
		return nil, errors.Wrapf(ErrInvalidArity, "%q takes no inputs, %d given", OpNameFill, len(inputs))
	}
	if len(iArgs) < 1 || len(tArgs) != 1 {
		return nil, errors.Wrapf(ErrInvalidConfiguration, "%q takes [dtype, dims...] and [value] as arguments", OpNameFill)
	}
	shape := shapes.Shape{DType: dtypes.DType(iArgs[0])}
	if int64(shape.DType) != iArgs[0] {
		return nil, errors.Wrapf(ErrInvalidConfiguration, "%q invalid dtype %d", OpNameFill, iArgs[0])
	}
	for _, dim := range iArgs[1:] {
		if dim <= 0 || int64(int(dim)) != dim {
			return nil, errors.Wrapf(ErrInvalidConfiguration, "%q invalid dimensions %v", OpNameFill, iArgs[1:])
		}
		shape.Dimensions = append(shape.Dimensions, int(dim))
	}
	return NewFill(g, shape, tArgs[0])
}

// Shape of the value filled.
func (op *FillOp) Shape() shapes.Shape { return op.shape }

// Value used to fill.
func (op *FillOp) Value() float64 { return op.value }

// RefreshArguments implements Operator.
func (op *FillOp) RefreshArguments() {
	iArgs := make([]int64, 0, 1+op.shape.Rank())
	iArgs = append(iArgs, int64(op.shape.DType))
	for _, dim := range op.shape.Dimensions {
		iArgs = append(iArgs, int64(dim))
	}
	op.SetArguments(iArgs, []float64{op.value})
}

// InferOutputTypes implements Operator.
func (op *FillOp) InferOutputTypes(inputTypes []dtypes.DType) ([]dtypes.DType, error) {
	if err := op.CheckNumInputs(len(inputTypes)); err != nil {
		return nil, err
	}
	return []dtypes.DType{op.shape.DType}, nil
}

// InferOutputShapes implements Operator.
func (op *FillOp) InferOutputShapes(inputShapes []shapes.Shape) ([]shapes.Shape, error) {
	if err := op.CheckNumInputs(len(inputShapes)); err != nil {
		return nil, err
	}
	return []shapes.Shape{op.shape.Clone()}, nil
}

// LocalGradient implements Operator: a constant has no inputs, hence no gradients.
func (op *FillOp) LocalGradient(upstream []*Variable) []*Variable { return nil }

// ReduceSumOp sums all elements of its operand into a scalar.
type ReduceSumOp struct{ BaseOp }

// NewReduceSum creates a ReduceSumOp.
func NewReduceSum(x *Variable) (*ReduceSumOp, error) {
	b, err := NewBaseOp(OpNameReduceSum, nil, x)
	if err != nil {
		return nil, err
	}
	op := &ReduceSumOp{b}
	op.RefreshArguments()
	return op, nil
}

// InferOutputTypes implements Operator.
func (op *ReduceSumOp) InferOutputTypes(inputTypes []dtypes.DType) ([]dtypes.DType, error) {
	if err := op.CheckNumInputs(len(inputTypes)); err != nil {
		return nil, err
	}
	return []dtypes.DType{inputTypes[0]}, nil
}

// InferOutputShapes implements Operator.
func (op *ReduceSumOp) InferOutputShapes(inputShapes []shapes.Shape) ([]shapes.Shape, error) {
	if err := op.CheckNumInputs(len(inputShapes)); err != nil {
		return nil, err
	}
	return []shapes.Shape{shapes.Scalar(inputShapes[0].DType)}, nil
}

// LocalGradient implements Operator.
func (op *ReduceSumOp) LocalGradient(upstream []*Variable) []*Variable {
	x := op.inputs[0]
	return []*Variable{broadcastScalar(upstream[0], x.Shape().Dimensions)}
}

// BroadcastToOp expands a scalar to the given dimensions. For an operand that already has the target
// dimensions it is the identity. IArgs = dimensions.
type BroadcastToOp struct {
	BaseOp
	dimensions []int
}

// NewBroadcastTo creates a BroadcastToOp.
func NewBroadcastTo(x *Variable, dimensions ...int) (*BroadcastToOp, error) {
	b, err := NewBaseOp(OpNameBroadcastTo, nil, x)
	if err != nil {
		return nil, err
	}
	for _, dim := range dimensions {
		if dim <= 0 {
			return nil, errors.Wrapf(ErrInvalidConfiguration, "broadcast to invalid dimensions %v", dimensions)
		}
	}
	op := &BroadcastToOp{BaseOp: b, dimensions: slices.Clone(dimensions)}
	op.RefreshArguments()
	return op, nil
}

// Dimensions of the output.
func (op *BroadcastToOp) Dimensions() []int { return op.dimensions }

// RefreshArguments implements Operator.
func (op *BroadcastToOp) RefreshArguments() {
	iArgs := make([]int64, len(op.dimensions))
	for ii, dim := range op.dimensions {
		iArgs[ii] = int64(dim)
	}
	op.SetArguments(iArgs, nil)
}

// InferOutputTypes implements Operator.
func (op *BroadcastToOp) InferOutputTypes(inputTypes []dtypes.DType) ([]dtypes.DType, error) {
	if err := op.CheckNumInputs(len(inputTypes)); err != nil {
		return nil, err
	}
	return []dtypes.DType{inputTypes[0]}, nil
}

// InferOutputShapes implements Operator.
func (op *BroadcastToOp) InferOutputShapes(inputShapes []shapes.Shape) ([]shapes.Shape, error) {
	if err := op.CheckNumInputs(len(inputShapes)); err != nil {
		return nil, err
	}
	x := inputShapes[0]
	if !x.IsScalar() && !slices.Equal(x.Dimensions, op.dimensions) {
		return nil, errors.Errorf("operator %q can only broadcast a scalar or a value with the target dimensions %v, got %s",
			op.Name(), op.dimensions, x)
	}
	return []shapes.Shape{{DType: x.DType, Dimensions: slices.Clone(op.dimensions)}}, nil
}

// LocalGradient implements Operator.
func (op *BroadcastToOp) LocalGradient(upstream []*Variable) []*Variable {
	if op.inputs[0].IsScalar() && len(op.dimensions) > 0 {
		return []*Variable{ReduceSum(upstream[0])}
	}
	return []*Variable{upstream[0]}
}

// CountNonZeroOp counts the non-zero elements of its operand, returned as a scalar of the same dtype.
type CountNonZeroOp struct{ BaseOp }

// NewCountNonZero creates a CountNonZeroOp.
func NewCountNonZero(x *Variable) (*CountNonZeroOp, error) {
	b, err := NewBaseOp(OpNameCountNonZero, nil, x)
	if err != nil {
		return nil, err
	}
	op := &CountNonZeroOp{b}
	op.RefreshArguments()
	return op, nil
}

// InferOutputTypes implements Operator.
func (op *CountNonZeroOp) InferOutputTypes(inputTypes []dtypes.DType) ([]dtypes.DType, error) {
	if err := op.CheckNumInputs(len(inputTypes)); err != nil {
		return nil, err
	}
	return []dtypes.DType{inputTypes[0]}, nil
}

// InferOutputShapes implements Operator.
func (op *CountNonZeroOp) InferOutputShapes(inputShapes []shapes.Shape) ([]shapes.Shape, error) {
	if err := op.CheckNumInputs(len(inputShapes)); err != nil {
		return nil, err
	}
	return []shapes.Shape{shapes.Scalar(inputShapes[0].DType)}, nil
}

// LocalGradient implements Operator: a count is piecewise constant, and declares no gradient.
func (op *CountNonZeroOp) LocalGradient(upstream []*Variable) []*Variable {
	return []*Variable{NoGradient}
}

// Fill returns a value of the given shape with all elements set to value.
func Fill(g *Graph, shape shapes.Shape, value float64) *Variable { return addOp(NewFill(g, shape, value)) }

// Scalar returns a scalar constant of the given dtype.
func Scalar(g *Graph, dtype dtypes.DType, value float64) *Variable {
	return Fill(g, shapes.Scalar(dtype), value)
}

// OnesLike returns a value with the shape of x filled with 1.
func OnesLike(x *Variable) *Variable { return Fill(x.Graph(), x.Shape(), 1) }

// ZerosLike returns a value with the shape of x filled with 0.
func ZerosLike(x *Variable) *Variable { return Fill(x.Graph(), x.Shape(), 0) }

// ReduceSum returns the sum of all elements of x, as a scalar.
func ReduceSum(x *Variable) *Variable { return addOp(NewReduceSum(x)) }

// BroadcastTo expands the scalar x to the given dimensions.
func BroadcastTo(x *Variable, dimensions ...int) *Variable { return addOp(NewBroadcastTo(x, dimensions...)) }

// CountNonZero returns the number of non-zero elements of x, as a scalar of the same dtype.
func CountNonZero(x *Variable) *Variable { return addOp(NewCountNonZero(x)) }

// broadcastScalar broadcasts x to dimensions, unless they are already the dimensions of x.
func broadcastScalar(x *Variable, dimensions []int) *Variable {
	if slices.Equal(x.Shape().Dimensions, dimensions) {
		return x
	}
	return BroadcastTo(x, dimensions...)
}
