// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// BinaryOp is the base of elementwise operators with two operands of the same shape.
// There is no implicit broadcasting: use BroadcastTo explicitly.
type BinaryOp struct {
	BaseOp
}

func newBinaryOp(name string, lhs, rhs *Variable) (BinaryOp, error) {
	b, err := NewBaseOp(name, nil, lhs, rhs)
	if err != nil {
		return BinaryOp{}, err
	}
	return BinaryOp{BaseOp: b}, nil
}

// Lhs returns the left-hand side operand.
func (op *BinaryOp) Lhs() *Variable { return op.inputs[0] }

// Rhs returns the right-hand side operand.
func (op *BinaryOp) Rhs() *Variable { return op.inputs[1] }

// InferOutputTypes implements Operator.
func (op *BinaryOp) InferOutputTypes(inputTypes []dtypes.DType) ([]dtypes.DType, error) {
	if err := op.CheckNumInputs(len(inputTypes)); err != nil {
		return nil, err
	}
	if inputTypes[0] != inputTypes[1] {
		return nil, errors.Errorf("operator %q operands have different dtypes %s and %s",
			op.Name(), inputTypes[0], inputTypes[1])
	}
	return []dtypes.DType{inputTypes[0]}, nil
}

// InferOutputShapes implements Operator.
func (op *BinaryOp) InferOutputShapes(inputShapes []shapes.Shape) ([]shapes.Shape, error) {
	if err := op.CheckNumInputs(len(inputShapes)); err != nil {
		return nil, err
	}
	if !inputShapes[0].Equal(inputShapes[1]) {
		return nil, errors.Errorf("operator %q operands have incompatible shapes %s and %s",
			op.Name(), inputShapes[0], inputShapes[1])
	}
	return []shapes.Shape{inputShapes[0].Clone()}, nil
}

// AddOp computes lhs + rhs.
type AddOp struct{ BinaryOp }

// NewAdd creates an AddOp.
func NewAdd(lhs, rhs *Variable) (*AddOp, error) {
	b, err := newBinaryOp(OpNameAdd, lhs, rhs)
	if err != nil {
		return nil, err
	}
	op := &AddOp{b}
	op.RefreshArguments()
	return op, nil
}

// LocalGradient implements Operator.
func (op *AddOp) LocalGradient(upstream []*Variable) []*Variable {
	return []*Variable{upstream[0], upstream[0]}
}

// SubOp computes lhs - rhs.
type SubOp struct{ BinaryOp }

// NewSub creates a SubOp.
func NewSub(lhs, rhs *Variable) (*SubOp, error) {
	b, err := newBinaryOp(OpNameSub, lhs, rhs)
	if err != nil {
		return nil, err
	}
	op := &SubOp{b}
	op.RefreshArguments()
	return op, nil
}

// LocalGradient implements Operator.
func (op *SubOp) LocalGradient(upstream []*Variable) []*Variable {
	return []*Variable{upstream[0], Neg(upstream[0])}
}

// MulOp computes lhs * rhs elementwise.
type MulOp struct{ BinaryOp }

// NewMul creates a MulOp.
func NewMul(lhs, rhs *Variable) (*MulOp, error) {
	b, err := newBinaryOp(OpNameMul, lhs, rhs)
	if err != nil {
		return nil, err
	}
	op := &MulOp{b}
	op.RefreshArguments()
	return op, nil
}

// LocalGradient implements Operator.
func (op *MulOp) LocalGradient(upstream []*Variable) []*Variable {
	g := upstream[0]
	return []*Variable{Mul(g, op.Rhs()), Mul(g, op.Lhs())}
}

// DivOp computes lhs / rhs elementwise.
type DivOp struct{ BinaryOp }

// NewDiv creates a DivOp.
func NewDiv(lhs, rhs *Variable) (*DivOp, error) {
	b, err := newBinaryOp(OpNameDiv, lhs, rhs)
	if err != nil {
		return nil, err
	}
	op := &DivOp{b}
	op.RefreshArguments()
	return op, nil
}

// LocalGradient implements Operator.
func (op *DivOp) LocalGradient(upstream []*Variable) []*Variable {
	g := upstream[0]
	lhs, rhs := op.Lhs(), op.Rhs()
	return []*Variable{
		Div(g, rhs),
		Neg(Mul(g, Div(lhs, Square(rhs)))),
	}
}

// DivNoNanOp computes lhs / rhs elementwise, with 0 wherever rhs is 0.
type DivNoNanOp struct{ BinaryOp }

// NewDivNoNan creates a DivNoNanOp.
func NewDivNoNan(lhs, rhs *Variable) (*DivNoNanOp, error) {
	b, err := newBinaryOp(OpNameDivNoNan, lhs, rhs)
	if err != nil {
		return nil, err
	}
	op := &DivNoNanOp{b}
	op.RefreshArguments()
	return op, nil
}

// LocalGradient implements Operator. Like the operator itself, the gradient is 0 wherever rhs is 0.
func (op *DivNoNanOp) LocalGradient(upstream []*Variable) []*Variable {
	g := upstream[0]
	lhs, rhs := op.Lhs(), op.Rhs()
	return []*Variable{
		DivNoNan(g, rhs),
		Neg(Mul(g, DivNoNan(lhs, Square(rhs)))),
	}
}

// AddNOp sums 2 or more operands of the same shape. The differentiation engine uses it to accumulate
// gradient contributions.
type AddNOp struct {
	BaseOp
}

// NewAddN creates an AddNOp.
func NewAddN(operands ...*Variable) (*AddNOp, error) {
	b, err := NewBaseOp(OpNameAddN, nil, operands...)
	if err != nil {
		return nil, err
	}
	op := &AddNOp{b}
	op.RefreshArguments()
	return op, nil
}

// InferOutputTypes implements Operator.
func (op *AddNOp) InferOutputTypes(inputTypes []dtypes.DType) ([]dtypes.DType, error) {
	if err := op.CheckNumInputs(len(inputTypes)); err != nil {
		return nil, err
	}
	for ii, dtype := range inputTypes[1:] {
		if dtype != inputTypes[0] {
			return nil, errors.Errorf("operator %q operand #%d has dtype %s, but operand #0 has dtype %s",
				op.Name(), ii+1, dtype, inputTypes[0])
		}
	}
	return []dtypes.DType{inputTypes[0]}, nil
}

// InferOutputShapes implements Operator.
func (op *AddNOp) InferOutputShapes(inputShapes []shapes.Shape) ([]shapes.Shape, error) {
	if err := op.CheckNumInputs(len(inputShapes)); err != nil {
		return nil, err
	}
	for ii, shape := range inputShapes[1:] {
		if !shape.Equal(inputShapes[0]) {
			return nil, errors.Errorf("operator %q operand #%d has shape %s, but operand #0 has shape %s",
				op.Name(), ii+1, shape, inputShapes[0])
		}
	}
	return []shapes.Shape{inputShapes[0].Clone()}, nil
}

// LocalGradient implements Operator.
func (op *AddNOp) LocalGradient(upstream []*Variable) []*Variable {
	grads := make([]*Variable, len(op.inputs))
	for ii := range grads {
		grads[ii] = upstream[0]
	}
	return grads
}

// Add returns lhs + rhs.
func Add(lhs, rhs *Variable) *Variable { return addOp(NewAdd(lhs, rhs)) }

// Sub returns lhs - rhs.
func Sub(lhs, rhs *Variable) *Variable { return addOp(NewSub(lhs, rhs)) }

// Mul returns lhs * rhs elementwise.
func Mul(lhs, rhs *Variable) *Variable { return addOp(NewMul(lhs, rhs)) }

// Div returns lhs / rhs elementwise.
func Div(lhs, rhs *Variable) *Variable { return addOp(NewDiv(lhs, rhs)) }

// DivNoNan returns lhs / rhs elementwise, or 0 where rhs is 0.
func DivNoNan(lhs, rhs *Variable) *Variable { return addOp(NewDivNoNan(lhs, rhs)) }

// AddN returns the sum of the operands. With a single operand, it returns it unchanged.
func AddN(operands ...*Variable) *Variable {
	if len(operands) == 1 {
		return operands[0]
	}
	return addOp(NewAddN(operands...))
}
