// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/pkg/errors"
)

// Sentinel errors returned (wrapped, with a stack trace) by the graph package.
// Use errors.Is to branch on them.
var (
	// ErrInvalidArity is returned when constructing an operator with a number of inputs (or nil inputs)
	// that doesn't satisfy its declared arity.
	ErrInvalidArity = errors.New("invalid arity")

	// ErrArityMismatch is returned by InferOutputTypes / InferOutputShapes when given a number of input
	// types different from the number of inputs the operator consumes.
	ErrArityMismatch = errors.New("arity mismatch")

	// ErrInvalidConfiguration is returned when an operator's typed configuration is absent or out of its
	// domain, e.g. an unrecognized ReductionMode.
	ErrInvalidConfiguration = errors.New("invalid operator configuration")

	// ErrCorruptGraph is returned when decoded data violates an invariant, e.g. an out-of-range
	// ReductionMode ordinal. The affected graph load must be aborted.
	ErrCorruptGraph = errors.New("corrupt graph")

	// ErrDisconnectedGraph is reported per requested input by Gradients, when the input was never reached
	// from the output.
	ErrDisconnectedGraph = errors.New("disconnected graph: no gradient path from output")

	// ErrNotDifferentiable is reported per requested input by Gradients, when every path from the output
	// reached the input through an operator that declared no gradient for it.
	ErrNotDifferentiable = errors.New("not differentiable")
)
