// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"os"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// This file implements reverse-mode differentiation: starting from the output, seeded with ones, every
// operator's LocalGradient is called with the gradients of its outputs (the upstream gradients), and
// returns the gradients of its inputs, which are summed (with AddN) over all consumers of each variable.
//
// Conventions:
//
//   - included: variables and operators the output depends on. Everything else is ignored.
//   - useful: variables that depend on one of the requested inputs. Operators with no useful input are
//     skipped, and build no gradient operators.
//   - reached: a variable consumed by an included operator that was visited. A variable reached but with no
//     gradient contribution is "not differentiable" (all paths declared NoGradient). A requested input that
//     was never reached is "disconnected".
//
// Operators are visited in decreasing OpId order. Since ids are assigned in creation order, and an operator
// only consumes variables created before it, all consumers of an operator's outputs are visited before the
// operator itself: the gradients of its outputs are complete when they are read.

// InputGradient is the result of Gradients for one requested input.
type InputGradient struct {
	// Input is the requested input.
	Input *Variable

	// Gradient of the output with respect to Input, with the shape of Input. It's nil if Err is set.
	Gradient *Variable

	// Err is set (wrapping ErrDisconnectedGraph or ErrNotDifferentiable) if Input has no gradient.
	Err error
}

type reverseVariable struct {
	included bool
	useful   bool
	reached  bool

	// contributions to the gradient, one per consumer that back-propagated one.
	contributions []*Variable

	// accumulated is the final gradient, once finalized.
	accumulated *Variable
	finalized   bool
}

type reverseGraph struct {
	graph     *Graph
	output    *Variable
	vars      []reverseVariable
	opsUseful []bool
	visited   int
}

// gradientVisitHook, if set, is called for each operator whose local gradient is about to be built,
// with the upstream gradients. Used by tests.
var gradientVisitHook func(op Operator, upstream []*Variable)

// Gradients extends the graph of output with the operators that compute the gradient of output with respect
// to each of the inputs. The gradient of output with respect to itself is seeded with ones of its shape.
//
// It returns one InputGradient per input, in the same order. Inputs without a gradient have their Err set
// to an error wrapping ErrDisconnectedGraph (no path from output) or ErrNotDifferentiable (every path
// declared no gradient), and the other inputs are still returned.
//
// The returned error is for structural failures: invalid output or inputs, or an operator whose local
// gradient failed or returned gradients of the wrong count or shape.
func Gradients(output *Variable, inputs ...*Variable) (results []*InputGradient, err error) {
	g, err := validateGradientRequest(output, inputs)
	if err != nil {
		gradientPasses.WithLabelValues("error").Inc()
		return nil, err
	}
	numOpsBefore := g.NumOps()
	err = exceptions.TryCatch[error](func() {
		rg := newReverseGraph(g, output, inputs)
		rg.backPropagate()
		results = rg.collect(inputs)
		gradientVisitedOps.Observe(float64(rg.visited))
	})
	if err != nil {
		gradientPasses.WithLabelValues("error").Inc()
		return nil, err
	}
	gradientPasses.WithLabelValues("ok").Inc()
	gradientCreatedOps.Observe(float64(g.NumOps() - numOpsBefore))
	klog.V(1).Infof("Graph %q: gradients of %s with respect to %d inputs created %d operators",
		g.name, output, len(inputs), g.NumOps()-numOpsBefore)
	return results, nil
}

// Gradient is like Gradients, but returns only the gradient variables, and panics if any of the
// inputs has no gradient or on any other error.
func Gradient(output *Variable, inputs ...*Variable) []*Variable {
	results, err := Gradients(output, inputs...)
	if err != nil {
		panic(err)
	}
	grads := make([]*Variable, len(results))
	for ii, result := range results {
		if result.Err != nil {
			panic(errors.WithMessagef(result.Err, "gradient with respect to input #%d (%s)", ii, result.Input))
		}
		grads[ii] = result.Gradient
	}
	return grads
}

func validateGradientRequest(output *Variable, inputs []*Variable) (*Graph, error) {
	if output == nil {
		return nil, errors.New("Gradients: output is nil")
	}
	g := output.graph
	if err := g.CheckValid(); err != nil {
		return nil, err
	}
	for ii, input := range inputs {
		if input == nil {
			return nil, errors.Errorf("Gradients: input #%d is nil", ii)
		}
		if input.graph != g {
			return nil, errors.Errorf("Gradients: input #%d (%s) is from graph %q, but output is from graph %q",
				ii, input, input.graph.name, g.name)
		}
	}
	return g, nil
}

func newReverseGraph(g *Graph, output *Variable, inputs []*Variable) *reverseGraph {
	rg := &reverseGraph{
		graph:     g,
		output:    output,
		vars:      make([]reverseVariable, g.NumVariables()),
		opsUseful: make([]bool, g.NumOps()),
	}

	// Useful: forward from the requested inputs, in creation order.
	for _, input := range inputs {
		rg.vars[input.id].useful = true
	}
	for opId, op := range g.ops {
		for _, input := range op.Inputs() {
			if rg.vars[input.id].useful {
				rg.opsUseful[opId] = true
				break
			}
		}
		if rg.opsUseful[opId] {
			for _, out := range op.Outputs() {
				rg.vars[out.id].useful = true
			}
		}
	}

	// Included: backwards from the output.
	rg.vars[output.id].included = true
	if !output.IsGraphInput() {
		for opId := output.producer; opId >= 0; opId-- {
			op := g.ops[opId]
			if !rg.isIncluded(op) {
				continue
			}
			for _, input := range op.Inputs() {
				rg.vars[input.id].included = true
			}
		}
	}
	return rg
}

func (rg *reverseGraph) isIncluded(op Operator) bool {
	for _, out := range op.Outputs() {
		if rg.vars[out.id].included {
			return true
		}
	}
	return false
}

// backPropagate visits the included and useful operators in reverse creation order.
func (rg *reverseGraph) backPropagate() {
	rOutput := &rg.vars[rg.output.id]
	rOutput.reached = true
	if rOutput.useful {
		rOutput.contributions = []*Variable{OnesLike(rg.output)}
	}
	if rg.output.IsGraphInput() {
		return
	}
	for opId := rg.output.producer; opId >= 0; opId-- {
		op := rg.graph.ops[opId]
		if !rg.opsUseful[opId] || !rg.isIncluded(op) {
			continue
		}
		outputs := op.Outputs()
		upstream := make([]*Variable, len(outputs))
		hasUpstream := false
		for ii, out := range outputs {
			upstream[ii] = rg.finalize(out)
			hasUpstream = hasUpstream || upstream[ii] != nil
		}
		inputs := op.Inputs()
		for _, input := range inputs {
			rg.vars[input.id].reached = true
		}
		if !hasUpstream {
			// Every path through this operator declared no gradient.
			continue
		}
		if gradientVisitHook != nil {
			gradientVisitHook(op, upstream)
		}
		rg.visited++
		grads := rg.localGradient(op, upstream)
		for ii, input := range inputs {
			grad := grads[ii]
			if grad == nil {
				continue
			}
			rInput := &rg.vars[input.id]
			if !rInput.useful {
				continue
			}
			rInput.contributions = append(rInput.contributions, grad)
		}
	}
}

// localGradient calls op.LocalGradient and validates the returned gradients.
func (rg *reverseGraph) localGradient(op Operator, upstream []*Variable) []*Variable {
	var grads []*Variable
	err := exceptions.TryCatch[error](func() { grads = op.LocalGradient(upstream) })
	if err != nil {
		panic(errors.WithMessagef(err, "building the gradient of operator %s", op))
	}
	inputs := op.Inputs()
	if len(grads) != len(inputs) {
		exceptions.Panicf("gradient of operator %s returned %d gradients, but it has %d inputs",
			op, len(grads), len(inputs))
	}
	for ii, grad := range grads {
		if grad == nil {
			continue
		}
		if !grad.Shape().Equal(inputs[ii].Shape()) {
			if trace := op.base().Trace(); trace != nil {
				_, _ = fmt.Fprintf(os.Stderr, "Trace for operator in error: %s\n%+v\n\n", op, trace)
			}
			exceptions.Panicf("gradient of operator %s for input #%d has shape %s, but the input has shape %s",
				op, ii, grad.Shape(), inputs[ii].Shape())
		}
	}
	return grads
}

// finalize sums the contributions to the gradient of v, the first time it's called.
// It returns nil if v received no gradient.
func (rg *reverseGraph) finalize(v *Variable) *Variable {
	rv := &rg.vars[v.id]
	if rv.finalized {
		return rv.accumulated
	}
	rv.finalized = true
	switch len(rv.contributions) {
	case 0:
	case 1:
		rv.accumulated = rv.contributions[0]
	default:
		rv.accumulated = AddN(rv.contributions...)
	}
	rv.contributions = nil
	return rv.accumulated
}

func (rg *reverseGraph) collect(inputs []*Variable) []*InputGradient {
	results := make([]*InputGradient, len(inputs))
	for ii, input := range inputs {
		result := &InputGradient{Input: input}
		results[ii] = result
		grad := rg.finalize(input)
		switch {
		case grad != nil:
			result.Gradient = grad
			gradientInputOutcomes.WithLabelValues(outcomeGradient).Inc()
		case rg.vars[input.id].reached:
			result.Err = errors.Wrapf(ErrNotDifferentiable, "gradient of %s with respect to %s", rg.output, input)
			gradientInputOutcomes.WithLabelValues(outcomeNotDifferentiable).Inc()
		default:
			result.Err = errors.Wrapf(ErrDisconnectedGraph, "gradient of %s with respect to %s", rg.output, input)
			gradientInputOutcomes.WithLabelValues(outcomeDisconnected).Inc()
		}
		if klog.V(2).Enabled() {
			if result.Err != nil {
				klog.Infof("Gradients: input %s: %v", input, result.Err)
			} else {
				klog.Infof("Gradients: input %s: gradient %s", input, result.Gradient)
			}
		}
	}
	return results
}
