// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// ElementwiseOp is the base of the elementwise transforms: operators that consume one input and
// produce one output of the same type and shape, applying a fixed scalar function to each element.
type ElementwiseOp struct {
	BaseOp
}

func newElementwiseOp(name string, x *Variable) (ElementwiseOp, error) {
	b, err := NewBaseOp(name, nil, x)
	if err != nil {
		return ElementwiseOp{}, err
	}
	return ElementwiseOp{BaseOp: b}, nil
}

// X returns the operand.
func (op *ElementwiseOp) X() *Variable { return op.inputs[0] }

// InferOutputTypes implements Operator: the output has the dtype of the input.
func (op *ElementwiseOp) InferOutputTypes(inputTypes []dtypes.DType) ([]dtypes.DType, error) {
	if err := op.CheckNumInputs(len(inputTypes)); err != nil {
		return nil, err
	}
	return []dtypes.DType{inputTypes[0]}, nil
}

// InferOutputShapes implements Operator: the output has the shape of the input.
func (op *ElementwiseOp) InferOutputShapes(inputShapes []shapes.Shape) ([]shapes.Shape, error) {
	if err := op.CheckNumInputs(len(inputShapes)); err != nil {
		return nil, err
	}
	return []shapes.Shape{inputShapes[0].Clone()}, nil
}

// checkFloat returns an error if the operand is not a float: used by transforms only defined on reals.
func (op *ElementwiseOp) checkFloat(inputTypes []dtypes.DType) ([]dtypes.DType, error) {
	outputTypes, err := op.InferOutputTypes(inputTypes)
	if err != nil {
		return nil, err
	}
	if !outputTypes[0].IsFloat() {
		return nil, errors.Errorf("operator %q requires a float operand, got %s", op.Name(), outputTypes[0])
	}
	return outputTypes, nil
}

// CubeOp computes x³ elementwise.
type CubeOp struct{ ElementwiseOp }

// NewCube creates a CubeOp over x.
func NewCube(x *Variable) (*CubeOp, error) {
	e, err := newElementwiseOp(OpNameCube, x)
	if err != nil {
		return nil, err
	}
	op := &CubeOp{e}
	op.RefreshArguments()
	return op, nil
}

// LocalGradient implements Operator: d(x³)/dx = 3x², built with CubeDerivative.
func (op *CubeOp) LocalGradient(upstream []*Variable) []*Variable {
	return []*Variable{Mul(CubeDerivative(op.X()), upstream[0])}
}

// CubeDerivativeOp computes 3x² elementwise, the derivative of Cube.
type CubeDerivativeOp struct{ ElementwiseOp }

// NewCubeDerivative creates a CubeDerivativeOp over x.
func NewCubeDerivative(x *Variable) (*CubeDerivativeOp, error) {
	e, err := newElementwiseOp(OpNameCubeDerivative, x)
	if err != nil {
		return nil, err
	}
	op := &CubeDerivativeOp{e}
	op.RefreshArguments()
	return op, nil
}

// LocalGradient implements Operator: d(3x²)/dx = 6x.
func (op *CubeDerivativeOp) LocalGradient(upstream []*Variable) []*Variable {
	return []*Variable{Mul(MulScalar(op.X(), 6), upstream[0])}
}

// SquareOp computes x² elementwise.
type SquareOp struct{ ElementwiseOp }

// NewSquare creates a SquareOp over x.
func NewSquare(x *Variable) (*SquareOp, error) {
	e, err := newElementwiseOp(OpNameSquare, x)
	if err != nil {
		return nil, err
	}
	op := &SquareOp{e}
	op.RefreshArguments()
	return op, nil
}

// LocalGradient implements Operator.
func (op *SquareOp) LocalGradient(upstream []*Variable) []*Variable {
	return []*Variable{Mul(MulScalar(op.X(), 2), upstream[0])}
}

// NegOp computes -x elementwise.
type NegOp struct{ ElementwiseOp }

// NewNeg creates a NegOp over x.
func NewNeg(x *Variable) (*NegOp, error) {
	e, err := newElementwiseOp(OpNameNeg, x)
	if err != nil {
		return nil, err
	}
	op := &NegOp{e}
	op.RefreshArguments()
	return op, nil
}

// LocalGradient implements Operator.
func (op *NegOp) LocalGradient(upstream []*Variable) []*Variable {
	return []*Variable{Neg(upstream[0])}
}

// ExpOp computes eˣ elementwise.
type ExpOp struct{ ElementwiseOp }

// NewExp creates an ExpOp over x.
func NewExp(x *Variable) (*ExpOp, error) {
	e, err := newElementwiseOp(OpNameExp, x)
	if err != nil {
		return nil, err
	}
	op := &ExpOp{e}
	op.RefreshArguments()
	return op, nil
}

// InferOutputTypes implements Operator.
func (op *ExpOp) InferOutputTypes(inputTypes []dtypes.DType) ([]dtypes.DType, error) {
	return op.checkFloat(inputTypes)
}

// LocalGradient implements Operator: the derivative is the output itself.
func (op *ExpOp) LocalGradient(upstream []*Variable) []*Variable {
	return []*Variable{Mul(op.outputs[0], upstream[0])}
}

// LogOp computes the natural logarithm elementwise.
type LogOp struct{ ElementwiseOp }

// NewLog creates a LogOp over x.
func NewLog(x *Variable) (*LogOp, error) {
	e, err := newElementwiseOp(OpNameLog, x)
	if err != nil {
		return nil, err
	}
	op := &LogOp{e}
	op.RefreshArguments()
	return op, nil
}

// InferOutputTypes implements Operator.
func (op *LogOp) InferOutputTypes(inputTypes []dtypes.DType) ([]dtypes.DType, error) {
	return op.checkFloat(inputTypes)
}

// LocalGradient implements Operator.
func (op *LogOp) LocalGradient(upstream []*Variable) []*Variable {
	return []*Variable{Div(upstream[0], op.X())}
}

// TanhOp computes the hyperbolic tangent elementwise.
type TanhOp struct{ ElementwiseOp }

// NewTanh creates a TanhOp over x.
func NewTanh(x *Variable) (*TanhOp, error) {
	e, err := newElementwiseOp(OpNameTanh, x)
	if err != nil {
		return nil, err
	}
	op := &TanhOp{e}
	op.RefreshArguments()
	return op, nil
}

// InferOutputTypes implements Operator.
func (op *TanhOp) InferOutputTypes(inputTypes []dtypes.DType) ([]dtypes.DType, error) {
	return op.checkFloat(inputTypes)
}

// LocalGradient implements Operator: d(tanh x)/dx = 1 - tanh²(x).
func (op *TanhOp) LocalGradient(upstream []*Variable) []*Variable {
	y := op.outputs[0]
	return []*Variable{Mul(OneMinus(Square(y)), upstream[0])}
}

// AbsOp computes |x| elementwise.
type AbsOp struct{ ElementwiseOp }

// NewAbs creates an AbsOp over x.
func NewAbs(x *Variable) (*AbsOp, error) {
	e, err := newElementwiseOp(OpNameAbs, x)
	if err != nil {
		return nil, err
	}
	op := &AbsOp{e}
	op.RefreshArguments()
	return op, nil
}

// LocalGradient implements Operator. The gradient at 0 is 0.
func (op *AbsOp) LocalGradient(upstream []*Variable) []*Variable {
	return []*Variable{Mul(Sign(op.X()), upstream[0])}
}

// SignOp returns -1, 0 or 1 elementwise, according to the sign of x.
type SignOp struct{ ElementwiseOp }

// NewSign creates a SignOp over x.
func NewSign(x *Variable) (*SignOp, error) {
	e, err := newElementwiseOp(OpNameSign, x)
	if err != nil {
		return nil, err
	}
	op := &SignOp{e}
	op.RefreshArguments()
	return op, nil
}

// LocalGradient implements Operator: Sign is piecewise constant, and declares no gradient.
func (op *SignOp) LocalGradient(upstream []*Variable) []*Variable {
	return []*Variable{NoGradient}
}

// IdentityOp returns x unchanged.
type IdentityOp struct{ ElementwiseOp }

// NewIdentity creates an IdentityOp over x.
func NewIdentity(x *Variable) (*IdentityOp, error) {
	e, err := newElementwiseOp(OpNameIdentity, x)
	if err != nil {
		return nil, err
	}
	op := &IdentityOp{e}
	op.RefreshArguments()
	return op, nil
}

// LocalGradient implements Operator.
func (op *IdentityOp) LocalGradient(upstream []*Variable) []*Variable {
	return []*Variable{upstream[0]}
}

// MulScalarOp multiplies x elementwise by a constant factor, stored as its only real argument.
type MulScalarOp struct {
	ElementwiseOp
	factor float64
}

// NewMulScalar creates a MulScalarOp over x.
func NewMulScalar(x *Variable, factor float64) (*MulScalarOp, error) {
	e, err := newElementwiseOp(OpNameMulScalar, x)
	if err != nil {
		return nil, err
	}
	op := &MulScalarOp{ElementwiseOp: e, factor: factor}
	op.RefreshArguments()
	return op, nil
}

// Factor returns the constant multiplier.
func (op *MulScalarOp) Factor() float64 { return op.factor }

// RefreshArguments implements Operator: TArgs = [factor].
func (op *MulScalarOp) RefreshArguments() { op.SetArguments(nil, []float64{op.factor}) }

// LocalGradient implements Operator.
func (op *MulScalarOp) LocalGradient(upstream []*Variable) []*Variable {
	return []*Variable{MulScalar(upstream[0], op.factor)}
}

// AddScalarOp adds a constant to x elementwise, stored as its only real argument.
type AddScalarOp struct {
	ElementwiseOp
	value float64
}

// NewAddScalar creates an AddScalarOp over x.
func NewAddScalar(x *Variable, value float64) (*AddScalarOp, error) {
	e, err := newElementwiseOp(OpNameAddScalar, x)
	if err != nil {
		return nil, err
	}
	op := &AddScalarOp{ElementwiseOp: e, value: value}
	op.RefreshArguments()
	return op, nil
}

// Value returns the constant added.
func (op *AddScalarOp) Value() float64 { return op.value }

// RefreshArguments implements Operator: TArgs = [value].
func (op *AddScalarOp) RefreshArguments() { op.SetArguments(nil, []float64{op.value}) }

// LocalGradient implements Operator.
func (op *AddScalarOp) LocalGradient(upstream []*Variable) []*Variable {
	return []*Variable{upstream[0]}
}

// Cube returns x³ elementwise.
func Cube(x *Variable) *Variable { return addOp(NewCube(x)) }

// CubeDerivative returns 3x² elementwise.
func CubeDerivative(x *Variable) *Variable { return addOp(NewCubeDerivative(x)) }

// Square returns x² elementwise.
func Square(x *Variable) *Variable { return addOp(NewSquare(x)) }

// Neg returns -x elementwise.
func Neg(x *Variable) *Variable { return addOp(NewNeg(x)) }

// Exp returns eˣ elementwise.
func Exp(x *Variable) *Variable { return addOp(NewExp(x)) }

// Log returns the natural logarithm of x elementwise.
func Log(x *Variable) *Variable { return addOp(NewLog(x)) }

// Tanh returns the hyperbolic tangent of x elementwise.
func Tanh(x *Variable) *Variable { return addOp(NewTanh(x)) }

// Abs returns |x| elementwise.
func Abs(x *Variable) *Variable { return addOp(NewAbs(x)) }

// Sign returns the sign (-1, 0 or 1) of x elementwise.
func Sign(x *Variable) *Variable { return addOp(NewSign(x)) }

// Identity returns x, through an Identity operator.
func Identity(x *Variable) *Variable { return addOp(NewIdentity(x)) }

// MulScalar returns x * factor elementwise.
func MulScalar(x *Variable, factor float64) *Variable { return addOp(NewMulScalar(x, factor)) }

// AddScalar returns x + value elementwise.
func AddScalar(x *Variable, value float64) *Variable { return addOp(NewAddScalar(x, value)) }

// OneMinus returns 1 - x elementwise.
func OneMinus(x *Variable) *Variable { return AddScalar(Neg(x), 1) }
