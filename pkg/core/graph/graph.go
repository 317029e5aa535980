// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph implements the operator graph: typed symbolic Variables connected by Operators, and the
// reverse-mode differentiation engine (see Gradients) that extends a graph with the operators computing
// the gradient of an output with respect to selected inputs.
//
// The main elements of the package are:
//
//   - Graph is an arena that owns Variables and Operators. Both are identified by their index (VariableId,
//     OpId) in creation order, which is also a topological order: an operator can only consume variables
//     created before it.
//
//   - Variable is a symbolic value with a shapes.Shape. It is either a graph input (see Parameter) or the
//     output of exactly one Operator.
//
//   - Operator is a node of computation with a canonical name and opcode (registered in DefaultRegistry),
//     an input list, positional integer and real arguments (IArgs and TArgs, derived from its typed
//     configuration), output type and shape inference, and a local gradient rule.
//
// # Error Handling
//
// Operator constructors (NewCube, NewMeanSquaredErrorLoss, etc.) and Graph.AddOp return errors. The builder
// functions (Cube, Mul, MeanSquaredErrorLoss, etc.) that create an operator and add it to the graph in one
// call "throw" errors with panic, which keeps expressions like gradient rules readable. Use
// exceptions.TryCatch to convert them back to errors at API boundaries, as Gradients does.
//
// Errors wrap the sentinels defined in this package (ErrInvalidArity, ErrCorruptGraph, ...), so use
// errors.Is to branch on them.
package graph

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TraceEnvVar is the environment variable that, if set to true, makes new graphs traced.
// See Graph.SetTraced.
const TraceEnvVar = "OPGRAPH_TRACE"

// GraphId is a process-wide unique Graph id. It's a counter that starts with 0.
type GraphId int

// OpId is the index of an Operator in its Graph. Ids are assigned in creation order.
type OpId int

// InvalidOpId is the producer of graph inputs, and the id of operators not yet added to a graph.
const InvalidOpId = OpId(-1)

var (
	muGraphCount sync.Mutex
	graphCount   GraphId
)

// Graph owns Variables and Operators, indexed by their ids.
//
// A Graph is not safe for concurrent mutation: build it from one goroutine.
// Once built, it can be read (executed, encoded, printed) concurrently.
type Graph struct {
	id   GraphId
	uuid uuid.UUID
	name string

	variables []*Variable
	ops       []Operator

	parameters      []*Variable
	parameterByName map[string]*Variable

	traced    bool
	finalized bool
}

// NewGraph creates an empty Graph. If name is empty, one is generated from the graph id.
func NewGraph(name string) *Graph {
	muGraphCount.Lock()
	defer muGraphCount.Unlock()
	if name == "" {
		name = fmt.Sprintf("graph_#%d", graphCount)
	}
	g := &Graph{
		id:              graphCount,
		uuid:            uuid.New(),
		name:            name,
		parameterByName: make(map[string]*Variable),
	}
	graphCount++
	if traced, err := strconv.ParseBool(os.Getenv(TraceEnvVar)); err == nil && traced {
		g.traced = true
	}
	return g
}

// WithUUID sets the graph UUID, which otherwise is randomly generated. It's used when a graph is decoded,
// to preserve its identity.
//
// It can only be called on an empty graph, and returns the graph, so it can be cascaded.
func (g *Graph) WithUUID(id uuid.UUID) *Graph {
	g.AssertValid()
	if len(g.variables) > 0 {
		exceptions.Panicf("Graph %q: cannot change the UUID of a non-empty graph", g.name)
	}
	g.uuid = id
	return g
}

// Name of the graph.
func (g *Graph) Name() string { return g.name }

// GraphId returns the process-wide unique id of the graph.
func (g *Graph) GraphId() GraphId { return g.id }

// UUID returns the universally unique id of the graph, preserved across encoding.
func (g *Graph) UUID() uuid.UUID { return g.uuid }

// CheckValid returns an error if the graph is nil or has been finalized.
func (g *Graph) CheckValid() error {
	if g == nil {
		return errors.Errorf("the Graph is nil")
	}
	if g.finalized {
		return errors.Errorf("Graph %q has been finalized already", g.name)
	}
	return nil
}

// AssertValid panics if the graph is nil or has been finalized.
func (g *Graph) AssertValid() {
	if err := g.CheckValid(); err != nil {
		panic(err)
	}
}

// Finalize releases the variables and operators of the graph. The graph is left unusable.
// It is safe to call it more than once.
func (g *Graph) Finalize() {
	if g == nil {
		return
	}
	g.variables = nil
	g.ops = nil
	g.parameters = nil
	g.parameterByName = nil
	g.finalized = true
}

// SetTraced defines whether each operator added saves a stack-trace of where it was created.
// See BaseOp.Trace.
//
// This is expensive, but handy for debugging. It can also be enabled with the environment variable
// OPGRAPH_TRACE.
func (g *Graph) SetTraced(traced bool) {
	g.AssertValid()
	g.traced = traced
}

// NumVariables returns the number of variables in the graph.
func (g *Graph) NumVariables() int { return len(g.variables) }

// Variables returns all variables, indexed by VariableId.
// The slice is owned by Graph and shouldn't be changed.
func (g *Graph) Variables() []*Variable { return g.variables }

// VariableById returns the variable with the given id. It panics for an invalid id.
func (g *Graph) VariableById(id VariableId) *Variable {
	g.AssertValid()
	if id < 0 || int(id) >= len(g.variables) {
		exceptions.Panicf("invalid request Graph.VariableById(id=%d): there are only %d variables", id, len(g.variables))
	}
	return g.variables[id]
}

// NumOps returns the number of operators in the graph.
func (g *Graph) NumOps() int { return len(g.ops) }

// Ops returns all operators, indexed by OpId.
// The slice is owned by Graph and shouldn't be changed.
func (g *Graph) Ops() []Operator { return g.ops }

// OpById returns the operator with the given id. It panics for an invalid id.
func (g *Graph) OpById(id OpId) Operator {
	g.AssertValid()
	if id < 0 || int(id) >= len(g.ops) {
		exceptions.Panicf("invalid request Graph.OpById(id=%d): there are only %d operators", id, len(g.ops))
	}
	return g.ops[id]
}

// Parameters returns the graph inputs in creation order.
// The slice is owned by Graph and shouldn't be changed.
func (g *Graph) Parameters() []*Variable { return g.parameters }

// ParameterByName returns the graph input with the given name, or nil if there isn't one.
func (g *Graph) ParameterByName(name string) *Variable { return g.parameterByName[name] }

// NewParameter creates a graph input with the given name and shape.
// Names must be unique and non-empty.
func (g *Graph) NewParameter(name string, shape shapes.Shape) (*Variable, error) {
	if err := g.CheckValid(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errors.Errorf("Graph %q: parameter name cannot be empty", g.name)
	}
	if _, found := g.parameterByName[name]; found {
		return nil, errors.Errorf("Graph %q: parameter %q already exists", g.name, name)
	}
	if !shape.Ok() {
		return nil, errors.Errorf("Graph %q: parameter %q with invalid shape %s", g.name, name, shape)
	}
	v := g.newVariable(shape.Clone(), InvalidOpId, 0)
	v.name = name
	g.parameters = append(g.parameters, v)
	g.parameterByName[name] = v
	return v, nil
}

// Parameter creates a graph input with the given name and shape. It panics on error.
func Parameter(g *Graph, name string, shape shapes.Shape) *Variable {
	v, err := g.NewParameter(name, shape)
	if err != nil {
		panic(err)
	}
	return v
}

func (g *Graph) newVariable(shape shapes.Shape, producer OpId, outputIndex int) *Variable {
	v := &Variable{
		graph:       g,
		id:          VariableId(len(g.variables)),
		shape:       shape,
		producer:    producer,
		outputIndex: outputIndex,
	}
	g.variables = append(g.variables, v)
	return v
}

// AddOp adds a constructed operator to the graph: it infers the output types and shapes, checks that they
// agree, and creates the output variables, which are returned.
//
// The operator must have been constructed for this graph, and can only be added once.
func (g *Graph) AddOp(op Operator) ([]*Variable, error) {
	if err := g.CheckValid(); err != nil {
		return nil, err
	}
	b := op.base()
	if b.desc == nil {
		return nil, errors.Errorf("Graph %q: operator %T was not initialized with NewBaseOp", g.name, op)
	}
	if b.graph != g {
		return nil, errors.Wrapf(ErrInvalidConfiguration, "Graph %q: operator %q was built for another graph",
			g.name, b.desc.Name)
	}
	if b.id != InvalidOpId {
		return nil, errors.Errorf("Graph %q: operator %q already added as #%d", g.name, b.desc.Name, b.id)
	}
	if err := b.desc.CheckArgs(len(b.iArgs), len(b.tArgs)); err != nil {
		return nil, errors.Wrapf(ErrInvalidConfiguration, "Graph %q: %v", g.name, err)
	}

	inputTypes := make([]dtypes.DType, len(b.inputs))
	inputShapes := make([]shapes.Shape, len(b.inputs))
	for ii, input := range b.inputs {
		inputTypes[ii] = input.DType()
		inputShapes[ii] = input.Shape()
	}
	outputTypes, err := op.InferOutputTypes(inputTypes)
	if err != nil {
		return nil, errors.WithMessagef(err, "Graph %q: operator %q", g.name, b.desc.Name)
	}
	outputShapes, err := op.InferOutputShapes(inputShapes)
	if err != nil {
		return nil, errors.WithMessagef(err, "Graph %q: operator %q", g.name, b.desc.Name)
	}
	if len(outputTypes) != len(outputShapes) {
		return nil, errors.Errorf("Graph %q: operator %q inferred %d output types but %d output shapes",
			g.name, b.desc.Name, len(outputTypes), len(outputShapes))
	}
	for ii, shape := range outputShapes {
		if !shape.Ok() || shape.DType != outputTypes[ii] {
			return nil, errors.Errorf("Graph %q: operator %q output #%d shape %s doesn't match inferred type %s",
				g.name, b.desc.Name, ii, shape, outputTypes[ii])
		}
	}

	id := OpId(len(g.ops))
	g.ops = append(g.ops, op)
	b.id = id
	b.outputs = make([]*Variable, len(outputShapes))
	for ii, shape := range outputShapes {
		b.outputs[ii] = g.newVariable(shape, id, ii)
	}
	if g.traced {
		b.trace = errors.New("Stack-trace")
	}
	if klog.V(3).Enabled() {
		klog.Infof("Graph %q: added %s", g.name, op)
	}
	return b.outputs, nil
}

// String converts the Graph to a multiline string with a description of the full graph.
func (g *Graph) String() string {
	if g == nil {
		return "Graph(nil)!?"
	}
	if g.finalized {
		return "Invalid Graph (already finalized)"
	}
	parts := []string{
		fmt.Sprintf("Graph %q: %d variables, %d operators, %d parameters", g.name, len(g.variables),
			len(g.ops), len(g.parameters)),
	}
	for _, param := range g.parameters {
		parts = append(parts, fmt.Sprintf("\t%s", param))
	}
	for _, op := range g.ops {
		parts = append(parts, fmt.Sprintf("\t%s", op))
	}
	return strings.Join(parts, "\n")
}
