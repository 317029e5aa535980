// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interchange

import (
	"strings"

	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/opregistry"
	"github.com/pkg/errors"
)

// ErrNotExportable is returned by CheckExportable when some operator of the graph has no equivalent in the
// requested format.
var ErrNotExportable = errors.New("graph not exportable")

// ExportEntry describes how one operator of a graph maps to an interchange format.
type ExportEntry struct {
	OpId   graph.OpId
	OpName string

	// ExportName is the name of the operator in the format, empty if Status is not StatusFound.
	ExportName string
	Status     opregistry.Status
}

// ExportTable lists, for every operator of g in creation order, its name in the given format.
// Operators without an equivalent are listed with StatusNotSupported.
func ExportTable(g *graph.Graph, format opregistry.Format) []ExportEntry {
	g.AssertValid()
	entries := make([]ExportEntry, 0, g.NumOps())
	for _, op := range g.Ops() {
		name, status := op.ExportName(format)
		entries = append(entries, ExportEntry{
			OpId:       op.Id(),
			OpName:     op.Name(),
			ExportName: name,
			Status:     status,
		})
	}
	return entries
}

// CheckExportable returns an error wrapping ErrNotExportable, naming the operators of g that can't be
// exported to format. It returns nil if all of them can.
func CheckExportable(g *graph.Graph, format opregistry.Format) error {
	if err := g.CheckValid(); err != nil {
		return err
	}
	var missing []string
	seen := make(map[string]bool)
	for _, entry := range ExportTable(g, format) {
		if entry.Status == opregistry.StatusFound || seen[entry.OpName] {
			continue
		}
		seen[entry.OpName] = true
		missing = append(missing, entry.OpName)
	}
	if len(missing) > 0 {
		return errors.Wrapf(ErrNotExportable, "format %s has no equivalent for operators %s",
			format, strings.Join(missing, ", "))
	}
	return nil
}
