// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/pkg/errors"
)

// ReductionMode is the policy a loss operator uses to collapse per-element losses (and weights) into
// the training objective.
//
// It is encoded as the first integer argument of loss operators, using its ordinal. The order of the
// values is a wire contract shared with execution engines: don't reorder.
type ReductionMode int

//go:generate go tool enumer -type=ReductionMode -trimprefix=Reduction -transform=snake -values -text -json -output=gen_reductionmode_enumer.go reduction.go

const (
	// ReductionNone returns the weighted per-element loss, with the shape of the predictions.
	ReductionNone ReductionMode = iota

	// ReductionWeightedSum returns the sum of per-element loss × weight.
	ReductionWeightedSum

	// ReductionWeightedMean returns the weighted sum divided by the sum of the weights (0 if it is 0).
	ReductionWeightedMean

	// ReductionWeightedSumByNonZeroWeights returns the weighted sum divided by the number of non-zero
	// weights (0 if there are none).
	ReductionWeightedSumByNonZeroWeights
)

// Validate returns an error wrapping ErrInvalidConfiguration if mode is not one of the enum values.
func (mode ReductionMode) Validate() error {
	if !mode.IsAReductionMode() {
		return errors.Wrapf(ErrInvalidConfiguration, "unrecognized reduction mode %d, valid values are %v",
			int(mode), ReductionModeStrings())
	}
	return nil
}

// Ordinal returns the wire encoding of the mode.
func (mode ReductionMode) Ordinal() int64 { return int64(mode) }

// ReductionModeFromOrdinal decodes the wire encoding of a ReductionMode.
// An out-of-range ordinal returns an error wrapping ErrCorruptGraph: it is never clamped.
func ReductionModeFromOrdinal(ordinal int64) (ReductionMode, error) {
	mode := ReductionMode(ordinal)
	if int64(mode) != ordinal || !mode.IsAReductionMode() {
		return 0, errors.Wrapf(ErrCorruptGraph, "reduction mode ordinal %d out of range [0, %d)",
			ordinal, len(ReductionModeValues()))
	}
	return mode, nil
}
