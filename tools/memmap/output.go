package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/pterm/pterm"

	"gopherboot/kernel/hal/e820"
	"gopherboot/kernel/mem"
	"gopherboot/kernel/mem/rangeset"
)

func init() {
	// Disable styling if we are not in a standard terminal, as control sequences would not work.
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		pterm.DisableStyling()
	}
}

var sectionStyle = pterm.NewStyle(pterm.FgMagenta, pterm.Bold)

func printSection(w io.Writer, title string) {
	fmt.Fprintln(w, sectionStyle.Sprint(title))
}

func printTable(w io.Writer, td pterm.TableData) error {
	out, err := pterm.DefaultTable.WithHasHeader().WithData(td).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, out)
	return nil
}

func printMemoryMap(w io.Writer, entries e820.Entries) error {
	td := pterm.TableData{{"#", "Base", "End", "Size", "Type"}}
	for index, entry := range entries {
		td = append(td, []string{
			fmt.Sprint(index),
			fmt.Sprintf("0x%016x", entry.PhysAddress),
			fmt.Sprintf("0x%016x", entry.PhysAddress+entry.Length),
			humanSize(entry.Length),
			entry.Type.String(),
		})
	}

	printSection(w, "Firmware memory map")
	return printTable(w, td)
}

func printRanges(w io.Writer, title string, ranges []rangeset.Range) error {
	td := pterm.TableData{{"Start", "End", "Size"}}
	for _, r := range ranges {
		td = append(td, []string{
			fmt.Sprintf("0x%016x", r.Start),
			fmt.Sprintf("0x%016x", r.End),
			humanSize(r.Size()),
		})
	}

	printSection(w, title)
	return printTable(w, td)
}

func humanSize(size uint64) string {
	switch s := mem.Size(size); {
	case s >= mem.Gb && s%mem.Gb == 0:
		return fmt.Sprintf("%dG", s/mem.Gb)
	case s >= mem.Mb && s%mem.Mb == 0:
		return fmt.Sprintf("%dM", s/mem.Mb)
	case s >= mem.Kb && s%mem.Kb == 0:
		return fmt.Sprintf("%dK", s/mem.Kb)
	default:
		return fmt.Sprintf("%d", size)
	}
}
