// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package opregistry implements the table that associates each operator with its canonical name,
// its numeric opcode and its names in external graph interchange formats (ONNX, TensorFlow).
//
// The Registry is generic on the factory type F, so the package that defines the operators
// (github.com/gomlx/opgraph/pkg/core/graph) can store its constructors here without an import cycle.
//
// Lookups never fail with an error: they return a Status, so callers can branch on StatusNotFound
// (unknown operator) and StatusNotSupported (known operator, no mapping for the requested format).
// Registering a duplicate name or opcode is a fatal ErrRegistryConflict.
package opregistry

//go:generate go tool enumer -type=Status -trimprefix=Status -transform=snake -values -text -json -output=gen_status_enumer.go opregistry.go

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// OpCode is the canonical numeric identifier of an operator. It is unique across a Registry.
type OpCode int32

// InvalidOpCode is never assigned to a registered operator.
const InvalidOpCode = OpCode(-1)

// Format identifies an external graph interchange format.
type Format string

const (
	// FormatONNX is the Open Neural Network Exchange format.
	FormatONNX Format = "onnx"

	// FormatTensorFlow is the TensorFlow GraphDef format.
	FormatTensorFlow Format = "tensorflow"
)

// KnownFormats lists the interchange formats operators are commonly mapped to.
var KnownFormats = []Format{FormatONNX, FormatTensorFlow}

// Status is the outcome of a registry lookup.
type Status int

const (
	// StatusFound means the operator (and, for export queries, its name in the format) was found.
	StatusFound Status = iota

	// StatusNotFound means no operator is registered under the given name or opcode.
	StatusNotFound

	// StatusNotSupported means the operator exists but has no equivalent in the requested format.
	StatusNotSupported
)

// ErrRegistryConflict is returned (wrapped) when registering an operator whose name or opcode is
// already taken.
var ErrRegistryConflict = errors.New("operator registry conflict")

// Arity describes how many inputs an operator consumes: exactly Min, or at least Min if Variadic.
type Arity struct {
	Min      int
	Variadic bool
}

// Fixed returns an Arity of exactly n inputs.
func Fixed(n int) Arity { return Arity{Min: n} }

// AtLeast returns a variadic Arity with a minimum of n inputs.
func AtLeast(n int) Arity { return Arity{Min: n, Variadic: true} }

// Accepts returns whether numInputs satisfies the arity.
func (a Arity) Accepts(numInputs int) bool {
	if a.Variadic {
		return numInputs >= a.Min
	}
	return numInputs == a.Min
}

// String implements fmt.Stringer.
func (a Arity) String() string {
	if a.Variadic {
		return fmt.Sprintf("%d+", a.Min)
	}
	return fmt.Sprintf("%d", a.Min)
}

// ArgCount limits the length of one of the argument sequences of an operator.
// Max < 0 means unlimited.
type ArgCount struct {
	Min, Max int
}

// NoArgs is the ArgCount of an operator that takes no arguments of a kind.
var NoArgs = ArgCount{}

// ExactArgs returns an ArgCount of exactly n arguments.
func ExactArgs(n int) ArgCount { return ArgCount{Min: n, Max: n} }

// AtLeastArgs returns an ArgCount with a minimum of n arguments and no maximum.
func AtLeastArgs(n int) ArgCount { return ArgCount{Min: n, Max: -1} }

// Accepts returns whether n arguments fit the count.
func (c ArgCount) Accepts(n int) bool {
	return n >= c.Min && (c.Max < 0 || n <= c.Max)
}

// Descriptor of a registered operator.
type Descriptor[F any] struct {
	// Name is the canonical operator name, e.g. "cube".
	Name string

	// OpCode is the canonical numeric identifier.
	OpCode OpCode

	// Arity of the operator inputs.
	Arity Arity

	// IArgs and TArgs limit the number of integer and real arguments of the encoded operator.
	IArgs, TArgs ArgCount

	// Exports maps an interchange format to the operator's name in that format.
	// Formats without an equivalent operator are simply absent; an empty name is not allowed.
	Exports map[Format]string

	// Factory rebuilds the operator, typically from a decoded argument payload.
	Factory F
}

// ExportName returns the operator's name in the given format, or StatusNotSupported.
func (d *Descriptor[F]) ExportName(format Format) (string, Status) {
	name, found := d.Exports[format]
	if !found {
		return "", StatusNotSupported
	}
	return name, StatusFound
}

// CheckArgs returns an error if the number of integer or real arguments doesn't fit the descriptor.
func (d *Descriptor[F]) CheckArgs(numIArgs, numTArgs int) error {
	if !d.IArgs.Accepts(numIArgs) {
		return errors.Errorf("operator %q takes %+v integer arguments, got %d", d.Name, d.IArgs, numIArgs)
	}
	if !d.TArgs.Accepts(numTArgs) {
		return errors.Errorf("operator %q takes %+v real arguments, got %d", d.Name, d.TArgs, numTArgs)
	}
	return nil
}

// String implements fmt.Stringer.
func (d *Descriptor[F]) String() string {
	return fmt.Sprintf("%s(#%d, arity=%s)", d.Name, d.OpCode, d.Arity)
}

// Registry of operator descriptors, indexed by name and by opcode.
//
// It is safe for concurrent use. In practice it is populated at start-up and only read afterwards.
type Registry[F any] struct {
	mu       sync.RWMutex
	byName   map[string]*Descriptor[F]
	byOpCode map[OpCode]*Descriptor[F]
}

// New creates an empty Registry.
func New[F any]() *Registry[F] {
	return &Registry[F]{
		byName:   make(map[string]*Descriptor[F]),
		byOpCode: make(map[OpCode]*Descriptor[F]),
	}
}

// Register adds the operator descriptor and returns the registered (owned) copy.
//
// It returns an error wrapping ErrRegistryConflict if the name or opcode are already registered.
func (r *Registry[F]) Register(desc Descriptor[F]) (*Descriptor[F], error) {
	if desc.Name == "" {
		return nil, errors.Errorf("cannot register operator with an empty name (opcode %d)", desc.OpCode)
	}
	if desc.OpCode < 0 {
		return nil, errors.Errorf("cannot register operator %q with negative opcode %d", desc.Name, desc.OpCode)
	}
	if desc.Arity.Min < 0 {
		return nil, errors.Errorf("cannot register operator %q with negative arity %d", desc.Name, desc.Arity.Min)
	}
	for format, name := range desc.Exports {
		if name == "" {
			return nil, errors.Errorf("operator %q has an empty export name for format %q: leave the format out instead",
				desc.Name, format)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if other, found := r.byName[desc.Name]; found {
		return nil, errors.Wrapf(ErrRegistryConflict, "operator name %q already registered as %s", desc.Name, other)
	}
	if other, found := r.byOpCode[desc.OpCode]; found {
		return nil, errors.Wrapf(ErrRegistryConflict, "opcode %d of operator %q already registered as %s",
			desc.OpCode, desc.Name, other)
	}
	registered := desc
	registered.Exports = maps.Clone(desc.Exports)
	r.byName[registered.Name] = &registered
	r.byOpCode[registered.OpCode] = &registered
	klog.V(2).Infof("opregistry: registered %s", &registered)
	return &registered, nil
}

// MustRegister is like Register, but panics on error: a conflicting registry is not usable.
func (r *Registry[F]) MustRegister(desc Descriptor[F]) *Descriptor[F] {
	registered, err := r.Register(desc)
	if err != nil {
		klog.Errorf("Failed to register operator: %+v", err)
		panic(err)
	}
	return registered
}

// Lookup returns the descriptor registered under name, or StatusNotFound.
func (r *Registry[F]) Lookup(name string) (*Descriptor[F], Status) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, found := r.byName[name]
	if !found {
		return nil, StatusNotFound
	}
	return desc, StatusFound
}

// LookupByOpCode returns the descriptor registered with the opcode, or StatusNotFound.
func (r *Registry[F]) LookupByOpCode(opCode OpCode) (*Descriptor[F], Status) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, found := r.byOpCode[opCode]
	if !found {
		return nil, StatusNotFound
	}
	return desc, StatusFound
}

// ExportName returns the name of operator opName in the given format.
//
// The status is StatusNotFound if opName is not registered, and StatusNotSupported if it has no
// equivalent in the format. In both cases the returned name is empty.
func (r *Registry[F]) ExportName(opName string, format Format) (string, Status) {
	desc, status := r.Lookup(opName)
	if status != StatusFound {
		return "", status
	}
	return desc.ExportName(format)
}

// Len returns the number of registered operators.
func (r *Registry[F]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Descriptors returns all registered descriptors sorted by opcode.
func (r *Registry[F]) Descriptors() []*Descriptor[F] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := slices.Sorted(maps.Keys(r.byOpCode))
	descs := make([]*Descriptor[F], 0, len(codes))
	for _, code := range codes {
		descs = append(descs, r.byOpCode[code])
	}
	return descs
}
