// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// opgraph_registry prints the registered operators, with their opcodes, arities and names in each of the
// supported interchange formats.
//
// Usage:
//
//	opgraph_registry [-format=onnx|tensorflow] [-unsupported] [-plain]
package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/opregistry"
	"github.com/muesli/termenv"
	"k8s.io/klog/v2"
)

var (
	flagFormat = flag.String("format", "",
		fmt.Sprintf("Only report the given interchange format, one of %q. If empty, all formats are reported.",
			opregistry.KnownFormats))
	flagUnsupported = flag.Bool("unsupported", false,
		"Only list operators that have no equivalent in at least one of the reported formats.")
	flagPlain = flag.Bool("plain", false, "Disable colors, e.g. when piping the output.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagPlain {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	formats := opregistry.KnownFormats
	if *flagFormat != "" {
		format := opregistry.Format(strings.ToLower(*flagFormat))
		if !slices.Contains(opregistry.KnownFormats, format) {
			klog.Errorf("Unknown format %q, valid formats are %q", *flagFormat, opregistry.KnownFormats)
			os.Exit(1)
		}
		formats = []opregistry.Format{format}
	}
	report(formats)
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)
	missingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F55"))
	titleStyle   = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newTable(headers ...string) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		Headers(headers...).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case row == lgtable.HeaderRow:
				return headerRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 1 {
				s = s.Align(lipgloss.Right)
			}
			return
		})
}

func report(formats []opregistry.Format) {
	headers := []string{"Operator", "OpCode", "Arity", "IArgs", "TArgs"}
	for _, format := range formats {
		headers = append(headers, string(format))
	}
	table := newTable(headers...)

	descriptors := graph.DefaultRegistry.Descriptors()
	var numListed, numMissing int
	for _, desc := range descriptors {
		row := []string{desc.Name, fmt.Sprintf("%d", desc.OpCode), desc.Arity.String(),
			argCountString(desc.IArgs), argCountString(desc.TArgs)}
		missing := false
		for _, format := range formats {
			name, status := desc.ExportName(format)
			if status != opregistry.StatusFound {
				missing = true
				name = missingStyle.Render(status.String())
			}
			row = append(row, name)
		}
		if missing {
			numMissing++
		}
		if *flagUnsupported && !missing {
			continue
		}
		table.Row(row...)
		numListed++
	}
	klog.V(1).Infof("Listed %d of %d operators", numListed, len(descriptors))

	fmt.Println(titleStyle.Render("Registered operators"))
	fmt.Println(table.Render())
	fmt.Printf("%s operators registered, %s without an equivalent in some format.\n",
		humanize.Comma(int64(len(descriptors))), humanize.Comma(int64(numMissing)))
}

func argCountString(c opregistry.ArgCount) string {
	switch {
	case c.Max < 0:
		return fmt.Sprintf(">=%d", c.Min)
	case c.Min == c.Max:
		return fmt.Sprintf("%d", c.Min)
	default:
		return fmt.Sprintf("%d..%d", c.Min, c.Max)
	}
}
