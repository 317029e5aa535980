// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/opgraph/pkg/core/opregistry"
	"github.com/pkg/errors"
)

// DefaultRegistry holds the descriptors of all operators known to the package.
//
// It's populated at initialization. Packages defining their own operators register them with RegisterOp.
var DefaultRegistry = opregistry.New[Factory]()

// Canonical operator names.
const (
	OpNameAdd            = "add"
	OpNameSub            = "sub"
	OpNameMul            = "mul"
	OpNameDiv            = "div"
	OpNameDivNoNan       = "div_no_nan"
	OpNameCube           = "cube"
	OpNameCubeDerivative = "cube_derivative"
	OpNameSquare         = "square"
	OpNameNeg            = "neg"
	OpNameExp            = "exp"
	OpNameLog            = "log"
	OpNameTanh           = "tanh"
	OpNameAbs            = "abs"
	OpNameSign           = "sign"
	OpNameIdentity       = "identity"
	OpNameMulScalar      = "mul_scalar"
	OpNameAddScalar      = "add_scalar"
	OpNameAddN           = "add_n"
	OpNameFill           = "fill"
	OpNameReduceSum      = "reduce_sum"
	OpNameBroadcastTo    = "broadcast_to"
	OpNameCountNonZero   = "count_non_zero"

	OpNameMeanSquaredErrorLoss   = "mean_sqerr_loss"
	OpNameAbsoluteDifferenceLoss = "absolute_difference_loss"
	OpNameLogLoss                = "log_loss"
)

// RegisterOp registers an operator descriptor in DefaultRegistry.
// It fails with an error wrapping opregistry.ErrRegistryConflict if the name or opcode are taken.
func RegisterOp(desc Descriptor) (*Descriptor, error) {
	return DefaultRegistry.Register(desc)
}

// LookupOp returns the descriptor of the operator with the given canonical name.
func LookupOp(name string) (*Descriptor, opregistry.Status) {
	return DefaultRegistry.Lookup(name)
}

// LookupOpByCode returns the descriptor of the operator with the given opcode.
func LookupOpByCode(opCode opregistry.OpCode) (*Descriptor, opregistry.Status) {
	return DefaultRegistry.LookupByOpCode(opCode)
}

// ExportName returns the name of the operator opName in the given interchange format.
// See opregistry.Registry.ExportName for the meaning of the status.
func ExportName(opName string, format opregistry.Format) (string, opregistry.Status) {
	return DefaultRegistry.ExportName(opName, format)
}

// NewOpFromArgs rebuilds an operator from its canonical name, inputs and argument payload, and adds it
// to g. It's the registry-driven path used when decoding a graph: any payload that violates the
// operator's invariants is reported as an error wrapping ErrCorruptGraph.
func NewOpFromArgs(g *Graph, name string, inputs []*Variable, iArgs []int64, tArgs []float64) (Operator, error) {
	desc, status := DefaultRegistry.Lookup(name)
	if status != opregistry.StatusFound {
		return nil, errors.Wrapf(ErrCorruptGraph, "unknown operator %q", name)
	}
	if err := desc.CheckArgs(len(iArgs), len(tArgs)); err != nil {
		return nil, errors.Wrapf(ErrCorruptGraph, "%v", err)
	}
	if desc.Factory == nil {
		return nil, errors.Errorf("operator %q has no factory registered", name)
	}
	op, err := desc.Factory(g, inputs, iArgs, tArgs)
	if err != nil {
		if errors.Is(err, ErrInvalidConfiguration) {
			return nil, errors.Wrapf(ErrCorruptGraph, "operator %q: %v", name, err)
		}
		return nil, err
	}
	if _, err = g.AddOp(op); err != nil {
		return nil, err
	}
	return op, nil
}

// exports is a shortcut to build the Exports map of a descriptor.
// Empty names are skipped: the operator has no equivalent in that format.
func exports(onnx, tensorflow string) map[opregistry.Format]string {
	m := make(map[opregistry.Format]string, 2)
	if onnx != "" {
		m[opregistry.FormatONNX] = onnx
	}
	if tensorflow != "" {
		m[opregistry.FormatTensorFlow] = tensorflow
	}
	return m
}

func init() {
	// Binary and variadic.
	for _, entry := range []struct {
		name             string
		opCode           opregistry.OpCode
		onnx, tensorflow string
		fn               func(a, b *Variable) (Operator, error)
	}{
		{OpNameAdd, 1, "Add", "AddV2", binaryFactory(NewAdd)},
		{OpNameSub, 2, "Sub", "Sub", binaryFactory(NewSub)},
		{OpNameMul, 3, "Mul", "Mul", binaryFactory(NewMul)},
		{OpNameDiv, 4, "Div", "RealDiv", binaryFactory(NewDiv)},
		{OpNameDivNoNan, 5, "", "DivNoNan", binaryFactory(NewDivNoNan)},
	} {
		fn := entry.fn
		DefaultRegistry.MustRegister(Descriptor{
			Name:    entry.name,
			OpCode:  entry.opCode,
			Arity:   opregistry.Fixed(2),
			Exports: exports(entry.onnx, entry.tensorflow),
			Factory: func(_ *Graph, inputs []*Variable, _ []int64, _ []float64) (Operator, error) {
				if len(inputs) != 2 {
					return nil, errors.Wrapf(ErrInvalidArity, "binary operator takes 2 inputs, %d given", len(inputs))
				}
				return fn(inputs[0], inputs[1])
			},
		})
	}
	DefaultRegistry.MustRegister(Descriptor{
		Name:    OpNameAddN,
		OpCode:  20,
		Arity:   opregistry.AtLeast(2),
		Exports: exports("Sum", "AddN"),
		Factory: func(_ *Graph, inputs []*Variable, _ []int64, _ []float64) (Operator, error) {
			return NewAddN(inputs...)
		},
	})

	// Elementwise transforms.
	for _, entry := range []struct {
		name             string
		opCode           opregistry.OpCode
		onnx, tensorflow string
		fn               func(x *Variable) (Operator, error)
	}{
		{OpNameCube, 6, "", "", unaryFactory(NewCube)},
		{OpNameCubeDerivative, 7, "", "", unaryFactory(NewCubeDerivative)},
		{OpNameSquare, 8, "", "Square", unaryFactory(NewSquare)},
		{OpNameNeg, 9, "Neg", "Neg", unaryFactory(NewNeg)},
		{OpNameExp, 10, "Exp", "Exp", unaryFactory(NewExp)},
		{OpNameLog, 11, "Log", "Log", unaryFactory(NewLog)},
		{OpNameTanh, 12, "Tanh", "Tanh", unaryFactory(NewTanh)},
		{OpNameAbs, 13, "Abs", "Abs", unaryFactory(NewAbs)},
		{OpNameSign, 14, "Sign", "Sign", unaryFactory(NewSign)},
		{OpNameIdentity, 15, "Identity", "Identity", unaryFactory(NewIdentity)},
	} {
		fn := entry.fn
		DefaultRegistry.MustRegister(Descriptor{
			Name:    entry.name,
			OpCode:  entry.opCode,
			Arity:   opregistry.Fixed(1),
			Exports: exports(entry.onnx, entry.tensorflow),
			Factory: func(_ *Graph, inputs []*Variable, _ []int64, _ []float64) (Operator, error) {
				if len(inputs) != 1 {
					return nil, errors.Wrapf(ErrInvalidArity, "elementwise operator takes 1 input, %d given", len(inputs))
				}
				return fn(inputs[0])
			},
		})
	}
	DefaultRegistry.MustRegister(Descriptor{
		Name:   OpNameMulScalar,
		OpCode: 16,
		Arity:  opregistry.Fixed(1),
		TArgs:  opregistry.ExactArgs(1),
		Factory: func(_ *Graph, inputs []*Variable, _ []int64, tArgs []float64) (Operator, error) {
			if len(inputs) != 1 || len(tArgs) != 1 {
				return nil, errors.Wrapf(ErrInvalidArity, "%q takes 1 input and 1 real argument", OpNameMulScalar)
			}
			return NewMulScalar(inputs[0], tArgs[0])
		},
	})
	DefaultRegistry.MustRegister(Descriptor{
		Name:   OpNameAddScalar,
		OpCode: 17,
		Arity:  opregistry.Fixed(1),
		TArgs:  opregistry.ExactArgs(1),
		Factory: func(_ *Graph, inputs []*Variable, _ []int64, tArgs []float64) (Operator, error) {
			if len(inputs) != 1 || len(tArgs) != 1 {
				return nil, errors.Wrapf(ErrInvalidArity, "%q takes 1 input and 1 real argument", OpNameAddScalar)
			}
			return NewAddScalar(inputs[0], tArgs[0])
		},
	})

	// Shape related.
	DefaultRegistry.MustRegister(Descriptor{
		Name:    OpNameFill,
		OpCode:  30,
		Arity:   opregistry.Fixed(0),
		IArgs:   opregistry.AtLeastArgs(1),
		TArgs:   opregistry.ExactArgs(1),
		Exports: exports("ConstantOfShape", "Fill"),
		Factory: fillFromArgs,
	})
	DefaultRegistry.MustRegister(Descriptor{
		Name:    OpNameReduceSum,
		OpCode:  31,
		Arity:   opregistry.Fixed(1),
		Exports: exports("ReduceSum", "Sum"),
		Factory: func(_ *Graph, inputs []*Variable, _ []int64, _ []float64) (Operator, error) {
			return unaryFactory(NewReduceSum)(singleInput(inputs))
		},
	})
	DefaultRegistry.MustRegister(Descriptor{
		Name:    OpNameBroadcastTo,
		OpCode:  32,
		Arity:   opregistry.Fixed(1),
		IArgs:   opregistry.AtLeastArgs(0),
		Exports: exports("Expand", "BroadcastTo"),
		Factory: func(_ *Graph, inputs []*Variable, iArgs []int64, _ []float64) (Operator, error) {
			dims := make([]int, len(iArgs))
			for ii, dim := range iArgs {
				dims[ii] = int(dim)
			}
			return NewBroadcastTo(singleInput(inputs), dims...)
		},
	})
	DefaultRegistry.MustRegister(Descriptor{
		Name:   OpNameCountNonZero,
		OpCode: 33,
		Arity:  opregistry.Fixed(1),
		Factory: func(_ *Graph, inputs []*Variable, _ []int64, _ []float64) (Operator, error) {
			return unaryFactory(NewCountNonZero)(singleInput(inputs))
		},
	})

	// Losses: the reduction mode ordinal is the single integer argument.
	lossArgs := opregistry.ExactArgs(1)
	DefaultRegistry.MustRegister(Descriptor{
		Name:   OpNameMeanSquaredErrorLoss,
		OpCode: 100,
		Arity:  opregistry.Fixed(3),
		IArgs:  lossArgs,
		Factory: lossFactory(func(predictions, weights, labels *Variable, mode ReductionMode, _ []float64) (Operator, error) {
			return NewMeanSquaredErrorLoss(predictions, weights, labels, mode)
		}),
	})
	DefaultRegistry.MustRegister(Descriptor{
		Name:   OpNameAbsoluteDifferenceLoss,
		OpCode: 101,
		Arity:  opregistry.Fixed(3),
		IArgs:  lossArgs,
		Factory: lossFactory(func(predictions, weights, labels *Variable, mode ReductionMode, _ []float64) (Operator, error) {
			return NewAbsoluteDifferenceLoss(predictions, weights, labels, mode)
		}),
	})
	DefaultRegistry.MustRegister(Descriptor{
		Name:   OpNameLogLoss,
		OpCode: 102,
		Arity:  opregistry.Fixed(3),
		IArgs:  lossArgs,
		TArgs:  opregistry.ExactArgs(1),
		Factory: lossFactory(func(predictions, weights, labels *Variable, mode ReductionMode, tArgs []float64) (Operator, error) {
			if len(tArgs) != 1 {
				return nil, errors.Wrapf(ErrInvalidConfiguration, "%q takes the epsilon as its only real argument", OpNameLogLoss)
			}
			return NewLogLoss(predictions, weights, labels, mode, tArgs[0])
		}),
	})
}

func binaryFactory[T Operator](fn func(a, b *Variable) (T, error)) func(a, b *Variable) (Operator, error) {
	return func(a, b *Variable) (Operator, error) {
		op, err := fn(a, b)
		if err != nil {
			return nil, err
		}
		return op, nil
	}
}

func unaryFactory[T Operator](fn func(x *Variable) (T, error)) func(x *Variable) (Operator, error) {
	return func(x *Variable) (Operator, error) {
		op, err := fn(x)
		if err != nil {
			return nil, err
		}
		return op, nil
	}
}

// singleInput returns the only input, or nil if there isn't exactly one, which the constructors reject
// with ErrInvalidArity.
func singleInput(inputs []*Variable) *Variable {
	if len(inputs) != 1 {
		return nil
	}
	return inputs[0]
}

type lossConstructor func(predictions, weights, labels *Variable, mode ReductionMode, tArgs []float64) (Operator, error)

// lossFactory decodes the reduction mode ordinal, and fails with ErrCorruptGraph if it's out of range.
func lossFactory(fn lossConstructor) Factory {
	return func(_ *Graph, inputs []*Variable, iArgs []int64, tArgs []float64) (Operator, error) {
		if len(inputs) != 3 {
			return nil, errors.Wrapf(ErrInvalidArity, "loss operators take 3 inputs, %d given", len(inputs))
		}
		if len(iArgs) != 1 {
			return nil, errors.Wrapf(ErrCorruptGraph, "loss operators take the reduction mode as the only integer argument, got %v", iArgs)
		}
		mode, err := ReductionModeFromOrdinal(iArgs[0])
		if err != nil {
			return nil, err
		}
		return fn(inputs[0], inputs[1], inputs[2], mode, tArgs)
	}
}
