// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package refexec is a reference evaluator for operator graphs: it computes the value of selected
// variables of a graph.Graph, given values for its parameters.
//
// It is meant for testing, e.g. to check gradients numerically, and favors clarity over speed: every value
// is held as []float64, rounded after each operator to the precision of its dtype.
//
// Each operator is executed by a Kernel registered under the operator's canonical name. Kernels for all the
// operators of the graph package are registered at initialization; packages defining new operators can
// register theirs with RegisterKernel.
package refexec

import (
	"sync"

	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Kernel computes the outputs of op given the values of its inputs. outputShapes are the shapes of the
// operator outputs, as inferred when it was added to the graph.
//
// Kernels may write the values in any precision: they are rounded to the output dtype afterwards.
type Kernel func(op graph.Operator, inputs []*Tensor, outputShapes []shapes.Shape) ([]*Tensor, error)

var (
	muKernels sync.RWMutex
	kernels   = make(map[string]Kernel)
)

// RegisterKernel registers the kernel for the operator with the given canonical name, replacing any previous one.
func RegisterKernel(opName string, kernel Kernel) {
	muKernels.Lock()
	defer muKernels.Unlock()
	if _, found := kernels[opName]; found {
		klog.Warningf("refexec: replacing kernel for operator %q", opName)
	}
	kernels[opName] = kernel
}

// HasKernel returns whether there is a kernel for the operator with the given canonical name.
func HasKernel(opName string) bool {
	muKernels.RLock()
	defer muKernels.RUnlock()
	_, found := kernels[opName]
	return found
}

func kernelFor(opName string) (Kernel, bool) {
	muKernels.RLock()
	defer muKernels.RUnlock()
	kernel, found := kernels[opName]
	return kernel, found
}

// Run evaluates the outputs of graph g, given the values of the parameters (graph inputs) they depend on.
//
// Only the operators the outputs depend on are executed, in creation order. Feeds must have the exact
// shape of their parameter.
func Run(g *graph.Graph, feeds map[*graph.Variable]*Tensor, outputs ...*graph.Variable) ([]*Tensor, error) {
	if err := g.CheckValid(); err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, errors.Errorf("refexec.Run(graph %q): no outputs requested", g.Name())
	}

	// Mark the operators needed, backwards from the outputs.
	needed := make([]bool, g.NumVariables())
	for ii, output := range outputs {
		if output == nil || output.Graph() != g {
			return nil, errors.Errorf("refexec.Run(graph %q): output #%d is nil or from another graph", g.Name(), ii)
		}
		needed[output.Id()] = true
	}
	ops := g.Ops()
	neededOps := make([]bool, len(ops))
	for opId := len(ops) - 1; opId >= 0; opId-- {
		for _, out := range ops[opId].Outputs() {
			if needed[out.Id()] {
				neededOps[opId] = true
				break
			}
		}
		if neededOps[opId] {
			for _, input := range ops[opId].Inputs() {
				needed[input.Id()] = true
			}
		}
	}

	values := make([]*Tensor, g.NumVariables())
	for _, param := range g.Parameters() {
		if !needed[param.Id()] {
			continue
		}
		feed, found := feeds[param]
		if !found || feed == nil {
			return nil, errors.Errorf("refexec.Run(graph %q): missing value for parameter %s", g.Name(), param)
		}
		if !feed.Shape.Equal(param.Shape()) {
			return nil, errors.Errorf("refexec.Run(graph %q): parameter %s fed with a value of shape %s",
				g.Name(), param, feed.Shape)
		}
		values[param.Id()] = feed
	}

	for opId, op := range ops {
		if !neededOps[opId] {
			continue
		}
		if err := execute(op, values); err != nil {
			return nil, errors.WithMessagef(err, "refexec.Run(graph %q)", g.Name())
		}
	}

	results := make([]*Tensor, len(outputs))
	for ii, output := range outputs {
		results[ii] = values[output.Id()]
	}
	return results, nil
}

// execute runs op, storing its outputs in values.
func execute(op graph.Operator, values []*Tensor) error {
	kernel, found := kernelFor(op.Name())
	if !found {
		return errors.Errorf("no kernel registered for operator %q", op.Name())
	}
	inputs := make([]*Tensor, len(op.Inputs()))
	for ii, input := range op.Inputs() {
		inputs[ii] = values[input.Id()]
		if inputs[ii] == nil {
			return errors.Errorf("operator %s input #%d has no value", op, ii)
		}
	}
	outputs := op.Outputs()
	outputShapes := make([]shapes.Shape, len(outputs))
	for ii, out := range outputs {
		outputShapes[ii] = out.Shape()
	}
	results, err := kernel(op, inputs, outputShapes)
	if err != nil {
		return errors.WithMessagef(err, "executing operator %s", op)
	}
	if len(results) != len(outputs) {
		return errors.Errorf("kernel for operator %s returned %d outputs, expected %d", op, len(results), len(outputs))
	}
	for ii, result := range results {
		if len(result.Flat) != outputShapes[ii].Size() {
			return errors.Errorf("kernel for operator %s returned %d elements for output #%d of shape %s",
				op, len(result.Flat), ii, outputShapes[ii])
		}
		result.Shape = outputShapes[ii].Clone()
		roundTo(result.Shape.DType, result.Flat)
		values[outputs[ii].Id()] = result
	}
	if klog.V(3).Enabled() {
		klog.Infof("refexec: %s -> %v", op, results)
	}
	return nil
}
