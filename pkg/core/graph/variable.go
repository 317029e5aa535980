// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/pkg/core/shapes"
)

// VariableId is the index of a Variable in its Graph. Ids are assigned in creation order.
type VariableId int

// InvalidVariableId is never assigned to a Variable.
const InvalidVariableId = VariableId(-1)

// Variable is a symbolic value in a Graph: either a graph input (created with Parameter) or the output
// of exactly one operator.
//
// Variables are created and owned by the Graph. They are never mutated after creation.
type Variable struct {
	graph       *Graph
	id          VariableId
	shape       shapes.Shape
	producer    OpId
	outputIndex int
	name        string
}

// Graph that owns the variable.
func (v *Variable) Graph() *Graph { return v.graph }

// Id of the variable in its graph.
func (v *Variable) Id() VariableId { return v.id }

// Shape of the value held by the variable.
func (v *Variable) Shape() shapes.Shape { return v.shape }

// DType of the value held by the variable.
func (v *Variable) DType() dtypes.DType { return v.shape.DType }

// Rank of the variable shape.
func (v *Variable) Rank() int { return v.shape.Rank() }

// IsScalar returns whether the variable holds a scalar.
func (v *Variable) IsScalar() bool { return v.shape.IsScalar() }

// Name of a graph input. It's empty for operator outputs.
func (v *Variable) Name() string { return v.name }

// IsGraphInput returns whether the variable is a graph input, that is, it has no producer.
func (v *Variable) IsGraphInput() bool { return v.producer == InvalidOpId }

// ProducerId returns the id of the operator that produces the variable, or InvalidOpId for graph inputs.
func (v *Variable) ProducerId() OpId { return v.producer }

// Producer returns the operator that produces the variable, or nil for graph inputs.
func (v *Variable) Producer() Operator {
	if v.IsGraphInput() {
		return nil
	}
	return v.graph.ops[v.producer]
}

// OutputIndex is the position of the variable in the outputs of its producer. It's 0 for graph inputs.
func (v *Variable) OutputIndex() int { return v.outputIndex }

// String implements fmt.Stringer.
func (v *Variable) String() string {
	if v == nil {
		return "Variable(nil)"
	}
	var origin string
	if v.IsGraphInput() {
		origin = fmt.Sprintf("input %q", v.name)
	} else {
		origin = fmt.Sprintf("%s[%d]", v.graph.ops[v.producer].Name(), v.outputIndex)
	}
	return fmt.Sprintf("#%d %s %s (%s)", v.id, origin, v.shape, humanize.Bytes(uint64(v.shape.Memory())))
}
