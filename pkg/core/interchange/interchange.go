// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package interchange serializes graphs to and from a compact CBOR record format, and reports how the
// operators of a graph map to external interchange formats (ONNX, TensorFlow).
//
// A serialized graph is a list of parameters followed by the operator records in creation order. Each
// operator record carries the canonical operator name, its opcode, the ids of its input and output
// variables, and its IArgs/TArgs payload. Decoding rebuilds every operator through its registered
// factory, so every invariant enforced when building a graph is also enforced when loading one.
package interchange

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/opregistry"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/google/uuid"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FormatVersion is the version of the record format written by EncodeGraph.
// DecodeGraph rejects any other version.
const FormatVersion = 1

type graphRecord struct {
	Version    int               `cbor:"1,keyasint"`
	UUID       []byte            `cbor:"2,keyasint"`
	Name       string            `cbor:"3,keyasint"`
	Parameters []parameterRecord `cbor:"4,keyasint,omitempty"`
	Ops        []opRecord        `cbor:"5,keyasint,omitempty"`
}

type parameterRecord struct {
	Id         int    `cbor:"1,keyasint"`
	Name       string `cbor:"2,keyasint"`
	DType      string `cbor:"3,keyasint"`
	Dimensions []int  `cbor:"4,keyasint,omitempty"`
}

type opRecord struct {
	Name    string    `cbor:"1,keyasint"`
	OpCode  int32     `cbor:"2,keyasint"`
	Inputs  []int     `cbor:"3,keyasint,omitempty"`
	Outputs []int     `cbor:"4,keyasint"`
	IArgs   []int64   `cbor:"5,keyasint,omitempty"`
	TArgs   []float64 `cbor:"6,keyasint,omitempty"`
}

var (
	encMode = must.M1(cbor.CoreDetEncOptions().EncMode())
	decMode = must.M1(cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode())
)

// EncodeGraph serializes g. The graph must be valid (not finalized).
func EncodeGraph(g *graph.Graph) ([]byte, error) {
	if err := g.CheckValid(); err != nil {
		return nil, err
	}
	rec := graphRecord{
		Version: FormatVersion,
		UUID:    must.M1(g.UUID().MarshalBinary()),
		Name:    g.Name(),
	}
	for _, p := range g.Parameters() {
		rec.Parameters = append(rec.Parameters, parameterRecord{
			Id:         int(p.Id()),
			Name:       p.Name(),
			DType:      p.DType().String(),
			Dimensions: p.Shape().Dimensions,
		})
	}
	for _, op := range g.Ops() {
		rec.Ops = append(rec.Ops, opRecord{
			Name:    op.Name(),
			OpCode:  int32(op.OpCode()),
			Inputs:  variableIds(op.Inputs()),
			Outputs: variableIds(op.Outputs()),
			IArgs:   op.IArgs(),
			TArgs:   op.TArgs(),
		})
	}
	data, err := encMode.Marshal(&rec)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode graph %q", g.Name())
	}
	klog.V(1).Infof("Encoded graph %q: %d parameters, %d operators, %d bytes",
		g.Name(), len(rec.Parameters), len(rec.Ops), len(data))
	return data, nil
}

// MustEncodeGraph is like EncodeGraph, but panics on error.
func MustEncodeGraph(g *graph.Graph) []byte {
	return must.M1(EncodeGraph(g))
}

func variableIds(vars []*graph.Variable) []int {
	ids := make([]int, len(vars))
	for ii, v := range vars {
		ids[ii] = int(v.Id())
	}
	return ids
}

// DecodeGraph rebuilds a graph serialized with EncodeGraph, preserving its name and UUID.
//
// Any record that violates the operators' invariants (unknown operator, name and opcode that don't match,
// wrong number of arguments, out-of-range reduction ordinal, reference to an unknown variable, etc.)
// aborts the load with an error wrapping graph.ErrCorruptGraph. No partial graph is returned.
func DecodeGraph(data []byte) (g *graph.Graph, err error) {
	var rec graphRecord
	if err = decMode.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrapf(graph.ErrCorruptGraph, "undecodable graph record: %v", err)
	}
	if rec.Version != FormatVersion {
		return nil, errors.Wrapf(graph.ErrCorruptGraph, "graph record version %d, only version %d is supported",
			rec.Version, FormatVersion)
	}
	id, err := uuid.FromBytes(rec.UUID)
	if err != nil {
		return nil, errors.Wrapf(graph.ErrCorruptGraph, "invalid graph UUID: %v", err)
	}

	err = exceptions.TryCatch[error](func() {
		g = graph.NewGraph(rec.Name).WithUUID(id)
		vars := make(map[int]*graph.Variable, len(rec.Parameters)+len(rec.Ops))
		// Parameters are interleaved with the operators in the order they were created, so variable ids
		// are preserved.
		params := rec.Parameters
		for ii, opRec := range rec.Ops {
			for len(params) > 0 && len(opRec.Outputs) > 0 && params[0].Id < opRec.Outputs[0] {
				decodeParameter(g, vars, params[0])
				params = params[1:]
			}
			decodeOp(g, vars, ii, opRec)
		}
		for _, pRec := range params {
			decodeParameter(g, vars, pRec)
		}
	})
	if err != nil {
		if !errors.Is(err, graph.ErrCorruptGraph) {
			err = errors.Wrapf(graph.ErrCorruptGraph, "graph %q: %v", rec.Name, err)
		}
		return nil, err
	}
	klog.V(1).Infof("Decoded graph %q: %d parameters, %d operators", g.Name(), len(g.Parameters()), g.NumOps())
	return g, nil
}

// MustDecodeGraph is like DecodeGraph, but panics on error.
func MustDecodeGraph(data []byte) *graph.Graph {
	return must.M1(DecodeGraph(data))
}

func registerVariable(vars map[int]*graph.Variable, id int, v *graph.Variable) {
	if _, found := vars[id]; found {
		exceptions.Panicf("variable #%d defined more than once", id)
	}
	vars[id] = v
}

func decodeParameter(g *graph.Graph, vars map[int]*graph.Variable, pRec parameterRecord) {
	dtype, err := dtypes.DTypeString(pRec.DType)
	if err != nil {
		exceptions.Panicf("parameter %q: unknown dtype %q", pRec.Name, pRec.DType)
	}
	shape, err := shapes.MakeChecked(dtype, pRec.Dimensions...)
	if err != nil {
		panic(errors.WithMessagef(err, "parameter %q", pRec.Name))
	}
	registerVariable(vars, pRec.Id, must.M1(g.NewParameter(pRec.Name, shape)))
}

func decodeOp(g *graph.Graph, vars map[int]*graph.Variable, index int, opRec opRecord) {
	desc, status := graph.LookupOp(opRec.Name)
	if status != opregistry.StatusFound {
		exceptions.Panicf("operator record #%d: unknown operator %q", index, opRec.Name)
	}
	if desc.OpCode != opregistry.OpCode(opRec.OpCode) {
		exceptions.Panicf("operator record #%d: operator %q has opcode %d, record has opcode %d",
			index, opRec.Name, desc.OpCode, opRec.OpCode)
	}
	inputs := make([]*graph.Variable, len(opRec.Inputs))
	for ii, id := range opRec.Inputs {
		v, found := vars[id]
		if !found {
			exceptions.Panicf("operator record #%d (%s): input #%d references unknown variable #%d",
				index, opRec.Name, ii, id)
		}
		inputs[ii] = v
	}
	op, err := graph.NewOpFromArgs(g, opRec.Name, inputs, opRec.IArgs, opRec.TArgs)
	if err != nil {
		panic(errors.WithMessagef(err, "operator record #%d (%s)", index, opRec.Name))
	}
	outputs := op.Outputs()
	if len(outputs) != len(opRec.Outputs) {
		exceptions.Panicf("operator record #%d (%s): %d outputs recorded, operator produces %d",
			index, opRec.Name, len(opRec.Outputs), len(outputs))
	}
	for ii, id := range opRec.Outputs {
		registerVariable(vars, id, outputs[ii])
	}
}
