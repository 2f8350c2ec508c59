package main

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"gopherboot/kernel/hal/e820"
	"gopherboot/kernel/mem/pmm/allocator"
	"gopherboot/kernel/mem/rangeset"
)

type showOptions struct {
	source mapSourceFlags
	asYAML bool
}

func newShowCmd() *cobra.Command {
	var opts showOptions

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a memory map and the free ranges derived from it",
		Long: `The show command prints the firmware memory map followed by the free
physical memory the boot stages would track for it: available regions minus
every other region, minus the first megabyte.

Example:
  memmap show --map qemu-128m.yaml
  memmap show --sysfs --yaml > host.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runShow(cmd.OutOrStdout(), &opts)
		},
	}

	opts.source.register(cmd)
	cmd.Flags().BoolVar(&opts.asYAML, "yaml", false, "Print the memory map in map file format instead of tables")
	return cmd
}

func runShow(w io.Writer, opts *showOptions) error {
	entries, err := opts.source.load()
	if err != nil {
		return err
	}

	if opts.asYAML {
		out, err := marshalMapFile(entries)
		if err != nil {
			return errors.Wrap(err, "encoding memory map")
		}
		_, err = w.Write(out)
		return err
	}

	set, err := populate(entries)
	if err != nil {
		return err
	}

	if err := printMemoryMap(w, entries); err != nil {
		return err
	}

	if err := printRanges(w, "Free physical memory", set.Entries()); err != nil {
		return err
	}

	fmt.Fprintf(w, "Usable memory: %s in %d ranges\n", humanSize(set.TotalSize()), set.Len())
	return nil
}

// populate builds the free set the boot stages would derive from entries.
func populate(entries e820.Entries) (set *rangeset.RangeSet, err error) {
	defer catchKernelError(&err, "populating free memory")

	set = new(rangeset.RangeSet)
	allocator.Populate(set, entries)
	return set, nil
}
