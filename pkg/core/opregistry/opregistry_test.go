// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package opregistry

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testFactory func() string

func newTestRegistry(t *testing.T) *Registry[testFactory] {
	r := New[testFactory]()
	_, err := r.Register(Descriptor[testFactory]{
		Name:    "cube",
		OpCode:  6,
		Arity:   Fixed(1),
		Factory: func() string { return "cube" },
	})
	require.NoError(t, err)
	_, err = r.Register(Descriptor[testFactory]{
		Name:    "add",
		OpCode:  1,
		Arity:   Fixed(2),
		Exports: map[Format]string{FormatONNX: "Add", FormatTensorFlow: "AddV2"},
		Factory: func() string { return "add" },
	})
	require.NoError(t, err)
	return r
}

func TestRegisterAndLookup(t *testing.T) {
	r := newTestRegistry(t)
	assert.Equal(t, 2, r.Len())

	byName, status := r.Lookup("cube")
	require.Equal(t, StatusFound, status)
	byCode, status := r.LookupByOpCode(6)
	require.Equal(t, StatusFound, status)
	assert.Same(t, byName, byCode)
	assert.Equal(t, "cube", byName.Factory())

	_, status = r.Lookup("cubes")
	assert.Equal(t, StatusNotFound, status)
	_, status = r.LookupByOpCode(99)
	assert.Equal(t, StatusNotFound, status)

	descs := r.Descriptors()
	require.Len(t, descs, 2)
	assert.Equal(t, "add", descs[0].Name)
	assert.Equal(t, "cube", descs[1].Name)
}

func TestExportName(t *testing.T) {
	r := newTestRegistry(t)

	name, status := r.ExportName("add", FormatTensorFlow)
	assert.Equal(t, StatusFound, status)
	assert.Equal(t, "AddV2", name)

	name, status = r.ExportName("cube", FormatONNX)
	assert.Equal(t, StatusNotSupported, status)
	assert.Empty(t, name)

	name, status = r.ExportName("unknown", FormatONNX)
	assert.Equal(t, StatusNotFound, status)
	assert.Empty(t, name)
	assert.NotEqual(t, StatusNotFound, StatusNotSupported)
}

func TestRegistryConflict(t *testing.T) {
	r := newTestRegistry(t)

	// Same opcode, different name.
	_, err := r.Register(Descriptor[testFactory]{Name: "cube_v2", OpCode: 6, Arity: Fixed(1)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRegistryConflict), "got %+v", err)

	// Same name, different opcode.
	_, err = r.Register(Descriptor[testFactory]{Name: "cube", OpCode: 7, Arity: Fixed(1)})
	require.ErrorIs(t, err, ErrRegistryConflict)

	// The failed registrations left no trace.
	_, status := r.Lookup("cube_v2")
	assert.Equal(t, StatusNotFound, status)
	_, status = r.LookupByOpCode(7)
	assert.Equal(t, StatusNotFound, status)

	require.Panics(t, func() { r.MustRegister(Descriptor[testFactory]{Name: "add", OpCode: 100}) })
}

func TestRegisterValidation(t *testing.T) {
	r := New[testFactory]()
	_, err := r.Register(Descriptor[testFactory]{Name: "", OpCode: 1})
	require.Error(t, err)
	_, err = r.Register(Descriptor[testFactory]{Name: "neg_opcode", OpCode: -3})
	require.Error(t, err)
	_, err = r.Register(Descriptor[testFactory]{Name: "empty_export", OpCode: 2,
		Exports: map[Format]string{FormatONNX: ""}})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrRegistryConflict))
	assert.Equal(t, 0, r.Len())
}

func TestRegisteredCopyIsOwned(t *testing.T) {
	r := New[testFactory]()
	exports := map[Format]string{FormatONNX: "Neg"}
	desc := r.MustRegister(Descriptor[testFactory]{Name: "neg", OpCode: 3, Arity: Fixed(1), Exports: exports})
	exports[FormatONNX] = "Changed"
	name, status := desc.ExportName(FormatONNX)
	assert.Equal(t, StatusFound, status)
	assert.Equal(t, "Neg", name)
}

func TestArityAndArgCount(t *testing.T) {
	assert.True(t, Fixed(3).Accepts(3))
	assert.False(t, Fixed(3).Accepts(2))
	assert.False(t, Fixed(3).Accepts(4))
	assert.True(t, AtLeast(2).Accepts(5))
	assert.False(t, AtLeast(2).Accepts(1))
	assert.Equal(t, "2+", AtLeast(2).String())
	assert.Equal(t, "3", Fixed(3).String())

	assert.True(t, NoArgs.Accepts(0))
	assert.False(t, NoArgs.Accepts(1))
	assert.True(t, ExactArgs(1).Accepts(1))
	assert.True(t, AtLeastArgs(1).Accepts(10))
	assert.False(t, AtLeastArgs(1).Accepts(0))

	desc := &Descriptor[testFactory]{Name: "loss", IArgs: ExactArgs(1), TArgs: NoArgs}
	require.NoError(t, desc.CheckArgs(1, 0))
	require.Error(t, desc.CheckArgs(0, 0))
	require.Error(t, desc.CheckArgs(1, 1))
}

func TestStatusStrings(t *testing.T) {
	assert.Equal(t, "not_supported", StatusNotSupported.String())
	status, err := StatusString("not_found")
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, status)
	_, err = StatusString("bogus")
	require.Error(t, err)
	assert.Len(t, StatusValues(), 3)
}

func TestConcurrentReads(t *testing.T) {
	r := newTestRegistry(t)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_, status := r.Lookup("cube")
				assert.Equal(t, StatusFound, status)
				_, _ = r.ExportName("add", FormatONNX)
			}
		}()
	}
	wg.Wait()
}
