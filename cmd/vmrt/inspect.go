package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/chazu/vmrt/image"
	"github.com/chazu/vmrt/vm"
)

func newDisasmCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "disasm IMAGE [ENTRY]",
		Short: "Disassemble exported routines",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := g.load(); err != nil {
				return err
			}
			img, err := image.Load(args[0])
			if err != nil {
				return err
			}

			entries := routineBounds(img)
			if len(args) == 2 {
				entry, err := resolveEntry(img, args[1])
				if err != nil {
					return err
				}
				entries = []bound{{entry: entry, end: nextEntry(entries, entry, len(img.Code))}}
			}

			out := cmd.OutOrStdout()
			for i, b := range entries {
				if i > 0 {
					fmt.Fprintln(out)
				}
				header, start, err := vm.DisassembleHeader(img.Code, b.entry)
				if err != nil {
					return err
				}
				if names := entryNames(img, b.entry); names != "" {
					fmt.Fprintf(out, "; %s\n", names)
				}
				fmt.Fprintln(out, header)
				fmt.Fprintln(out, vm.Disassemble(img.Code, start, b.end))
			}
			return nil
		},
	}
}

type bound struct {
	entry, end int
}

// routineBounds orders the exported routines by offset; each routine is
// assumed to extend to the next exported entry.
func routineBounds(img *image.Image) []bound {
	seen := make(map[int]bool)
	var offsets []int
	for _, off := range img.Entries {
		if !seen[off] {
			seen[off] = true
			offsets = append(offsets, off)
		}
	}
	sort.Ints(offsets)

	bounds := make([]bound, len(offsets))
	for i, off := range offsets {
		end := len(img.Code)
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		bounds[i] = bound{entry: off, end: end}
	}
	return bounds
}

func nextEntry(bounds []bound, entry, limit int) int {
	for _, b := range bounds {
		if b.entry > entry {
			return b.entry
		}
	}
	return limit
}

func entryNames(img *image.Image, off int) string {
	var names string
	for _, name := range img.EntryNames() {
		if img.Entries[name] == off {
			if names != "" {
				names += ", "
			}
			names += name
		}
	}
	return names
}

func newInfoCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info IMAGE",
		Short: "Show exported entries and metadata counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := g.load(); err != nil {
				return err
			}
			img, err := image.Load(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version:  %d\n", img.Version)
			fmt.Fprintf(out, "digest:   %x\n", img.Digest)
			fmt.Fprintf(out, "code:     %d bytes\n", len(img.Code))
			fmt.Fprintf(out, "data:     %d bytes at %#x\n", len(img.Data), img.DataBase)
			fmt.Fprintf(out, "types:    %d\n", len(img.Types))
			fmt.Fprintf(out, "methods:  %d\n", len(img.Methods))
			fmt.Fprintf(out, "fields:   %d\n", len(img.Fields))
			fmt.Fprintf(out, "strings:  %d\n", len(img.Strings))
			fmt.Fprintln(out, "entries:")
			for _, name := range img.EntryNames() {
				fmt.Fprintf(out, "  %04d  %s\n", img.Entries[name], name)
			}
			return nil
		},
	}
}
