// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/pkg/core/opregistry"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Operator is a node of computation in a Graph.
//
// Concrete operators embed BaseOp (initialized with NewBaseOp), which implements everything except the
// type and shape inference and the gradient rule. Operators with a typed configuration also implement
// RefreshArguments, to keep IArgs and TArgs in sync with it.
type Operator interface {
	fmt.Stringer

	// Descriptor returns the registry entry of the operator.
	Descriptor() *Descriptor

	// Name is the canonical operator name, e.g. "cube".
	Name() string

	// OpCode is the canonical numeric identifier of the operator.
	OpCode() opregistry.OpCode

	// Id of the operator in its graph, or InvalidOpId if it wasn't added yet.
	Id() OpId

	// Graph the operator belongs to.
	Graph() *Graph

	// Inputs consumed by the operator, in order. Owned by the operator and shouldn't be changed.
	Inputs() []*Variable

	// Outputs produced by the operator, in order. Empty until the operator is added to its graph.
	Outputs() []*Variable

	// IArgs is the integer argument payload. Owned by the operator and shouldn't be changed.
	IArgs() []int64

	// TArgs is the real argument payload. Owned by the operator and shouldn't be changed.
	TArgs() []float64

	// RefreshArguments re-derives IArgs and TArgs from the typed configuration of the operator.
	// It replaces the previous payload, it never appends to it.
	RefreshArguments()

	// InferOutputTypes returns the output dtypes given the input dtypes. It fails with ErrArityMismatch
	// if the number of input types is not the number of inputs consumed.
	InferOutputTypes(inputTypes []dtypes.DType) ([]dtypes.DType, error)

	// InferOutputShapes returns the output shapes given the input shapes.
	InferOutputShapes(inputShapes []shapes.Shape) ([]shapes.Shape, error)

	// LocalGradient builds, in the operator's graph, the gradient of the training objective with respect
	// to each input, given the gradients with respect to each output (upstream). It returns one entry
	// per input: NoGradient (nil) for inputs that have no gradient.
	//
	// An entry of upstream may be nil if that output received no gradient; a nil upstream slice is never
	// passed. Errors are thrown with panic, as with the other builder functions.
	LocalGradient(upstream []*Variable) []*Variable

	// ExportName returns the operator name in the given interchange format, or StatusNotSupported.
	ExportName(format opregistry.Format) (string, opregistry.Status)

	base() *BaseOp
}

// Descriptor of a registered operator.
type Descriptor = opregistry.Descriptor[Factory]

// Factory rebuilds an operator from its inputs and argument payload, validating the payload.
// It's used when decoding a graph. g is the graph to build into, needed by operators with no inputs.
type Factory func(g *Graph, inputs []*Variable, iArgs []int64, tArgs []float64) (Operator, error)

// NoGradient is returned by Operator.LocalGradient for an input without a gradient.
// It's distinct from a gradient that happens to be zero.
var NoGradient *Variable

// BaseOp implements the parts of Operator common to all operators. Embed it in concrete operators and
// initialize it with NewBaseOp.
type BaseOp struct {
	desc    *Descriptor
	graph   *Graph
	id      OpId
	inputs  []*Variable
	outputs []*Variable
	iArgs   []int64
	tArgs   []float64
	trace   error
}

// NewBaseOp looks up the registered operator name and validates the inputs against its arity.
//
// g can be nil if there is at least one input, in which case the graph of the inputs is used.
// All inputs must be non-nil and belong to the same graph.
func NewBaseOp(name string, g *Graph, inputs ...*Variable) (BaseOp, error) {
	desc, status := DefaultRegistry.Lookup(name)
	if status != opregistry.StatusFound {
		return BaseOp{}, errors.Errorf("operator %q is not registered", name)
	}
	if !desc.Arity.Accepts(len(inputs)) {
		return BaseOp{}, errors.Wrapf(ErrInvalidArity, "operator %q takes %s inputs, %d given",
			name, desc.Arity, len(inputs))
	}
	for ii, input := range inputs {
		if input == nil {
			return BaseOp{}, errors.Wrapf(ErrInvalidArity, "operator %q input #%d is nil", name, ii)
		}
		if g == nil {
			g = input.graph
		}
		if input.graph != g {
			return BaseOp{}, errors.Wrapf(ErrInvalidConfiguration,
				"operator %q input #%d belongs to graph %q, expected graph %q", name, ii, input.graph.name, g.name)
		}
	}
	if g == nil {
		return BaseOp{}, errors.Wrapf(ErrInvalidConfiguration, "operator %q has no inputs and no graph given", name)
	}
	if err := g.CheckValid(); err != nil {
		return BaseOp{}, err
	}
	return BaseOp{
		desc:   desc,
		graph:  g,
		id:     InvalidOpId,
		inputs: append([]*Variable(nil), inputs...),
	}, nil
}

func (op *BaseOp) base() *BaseOp { return op }

// Descriptor implements Operator.
func (op *BaseOp) Descriptor() *Descriptor { return op.desc }

// Name implements Operator.
func (op *BaseOp) Name() string { return op.desc.Name }

// OpCode implements Operator.
func (op *BaseOp) OpCode() opregistry.OpCode { return op.desc.OpCode }

// Id implements Operator.
func (op *BaseOp) Id() OpId { return op.id }

// Graph implements Operator.
func (op *BaseOp) Graph() *Graph { return op.graph }

// Inputs implements Operator.
func (op *BaseOp) Inputs() []*Variable { return op.inputs }

// NumInputs returns the number of inputs consumed.
func (op *BaseOp) NumInputs() int { return len(op.inputs) }

// Outputs implements Operator.
func (op *BaseOp) Outputs() []*Variable { return op.outputs }

// IArgs implements Operator.
func (op *BaseOp) IArgs() []int64 { return op.iArgs }

// TArgs implements Operator.
func (op *BaseOp) TArgs() []float64 { return op.tArgs }

// RefreshArguments implements Operator for operators without configuration: it clears the payload.
func (op *BaseOp) RefreshArguments() { op.SetArguments(nil, nil) }

// SetArguments replaces the argument payload. It's meant to be called by RefreshArguments implementations.
func (op *BaseOp) SetArguments(iArgs []int64, tArgs []float64) {
	op.iArgs = append(op.iArgs[:0:0], iArgs...)
	op.tArgs = append(op.tArgs[:0:0], tArgs...)
}

// ExportName implements Operator, by querying the operator's registry entry.
func (op *BaseOp) ExportName(format opregistry.Format) (string, opregistry.Status) {
	return op.desc.ExportName(format)
}

// Trace returns an error with the stack-trace of where the operator was added to the graph, if the graph
// was traced (see Graph.SetTraced). Otherwise, it returns nil.
func (op *BaseOp) Trace() error { return op.trace }

// IsAdded returns whether the operator has been added to its graph.
func (op *BaseOp) IsAdded() bool { return op.id != InvalidOpId }

// CheckNumInputs returns an error wrapping ErrArityMismatch if n is not the number of inputs consumed.
func (op *BaseOp) CheckNumInputs(n int) error {
	if n != len(op.inputs) {
		return errors.Wrapf(ErrArityMismatch, "operator %q consumes %d inputs, %d given", op.desc.Name,
			len(op.inputs), n)
	}
	return nil
}

// String implements fmt.Stringer.
func (op *BaseOp) String() string {
	var sb strings.Builder
	if op.id == InvalidOpId {
		sb.WriteString("#? ")
	} else {
		fmt.Fprintf(&sb, "#%d ", op.id)
	}
	sb.WriteString(op.desc.Name)
	sb.WriteByte('(')
	for ii, input := range op.inputs {
		if ii > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "#%d", input.id)
	}
	sb.WriteByte(')')
	if len(op.iArgs) > 0 {
		fmt.Fprintf(&sb, " iargs=%v", op.iArgs)
	}
	if len(op.tArgs) > 0 {
		fmt.Fprintf(&sb, " targs=%v", op.tArgs)
	}
	if len(op.outputs) > 0 {
		sb.WriteString(" -> ")
		for ii, output := range op.outputs {
			if ii > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "#%d%s", output.id, output.shape)
		}
	}
	return sb.String()
}

// addOp adds op to its graph and returns its single output. It panics on error.
func addOp[T Operator](op T, err error) *Variable {
	if err != nil {
		panic(err)
	}
	outputs, err := op.Graph().AddOp(op)
	if err != nil {
		panic(err)
	}
	if len(outputs) != 1 {
		panic(errors.Errorf("operator %q has %d outputs, expected 1", op.Name(), len(outputs)))
	}
	return outputs[0]
}
