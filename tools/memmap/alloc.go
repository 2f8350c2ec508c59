package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"gopherboot/kernel/mem/rangeset"
)

type allocOptions struct {
	source mapSourceFlags
	size   sizeValue
	align  sizeValue
	hints  []string
	count  int
}

func newAllocCmd() *cobra.Command {
	opts := allocOptions{align: 1, count: 1}

	cmd := &cobra.Command{
		Use:   "alloc",
		Short: "Allocate from the free memory derived from a memory map",
		Long: `The alloc command populates the free memory set from a memory map and
performs one or more allocations against it, printing the granted addresses
and the free ranges left afterwards.

Hint ranges are inclusive and written as start-end. Allocations prefer memory
inside them but fall back to the best-fitting free range.

Example:
  memmap alloc --map qemu-128m.yaml --size 64K --align 4K
  memmap alloc --map qemu-128m.yaml --size 4K --hint 0x1000000-0x1ffffff --count 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAlloc(cmd.OutOrStdout(), &opts)
		},
	}

	opts.source.register(cmd)
	cmd.Flags().Var(&opts.size, "size", "Allocation size; accepts K, M and G suffixes")
	cmd.Flags().Var(&opts.align, "align", "Allocation alignment; must be a power of two")
	cmd.Flags().StringArrayVar(&opts.hints, "hint", nil, "Preferred range as start-end; may be repeated")
	cmd.Flags().IntVar(&opts.count, "count", opts.count, "Number of allocations to perform")
	cobra.CheckErr(cmd.MarkFlagRequired("size"))
	return cmd
}

func parseHint(s string) (rangeset.Range, error) {
	startStr, endStr, ok := strings.Cut(s, "-")
	if !ok {
		return rangeset.Range{}, errors.Errorf("invalid hint %q: expected start-end", s)
	}

	start, err := parseSize(startStr)
	if err != nil {
		return rangeset.Range{}, errors.Wrapf(err, "invalid hint %q", s)
	}

	end, err := parseSize(endStr)
	if err != nil {
		return rangeset.Range{}, errors.Wrapf(err, "invalid hint %q", s)
	}

	if end < start {
		return rangeset.Range{}, errors.Errorf("invalid hint %q: end is below start", s)
	}

	return rangeset.Range{Start: uint64(start), End: uint64(end)}, nil
}

func runAlloc(w io.Writer, opts *allocOptions) error {
	entries, err := opts.source.load()
	if err != nil {
		return err
	}

	set, err := populate(entries)
	if err != nil {
		return err
	}

	var hint *rangeset.RangeSet
	if len(opts.hints) > 0 {
		hint = new(rangeset.RangeSet)
		for _, s := range opts.hints {
			r, err := parseHint(s)
			if err != nil {
				return err
			}
			hint.Insert(r)
		}
	}

	for i := 0; i < opts.count; i++ {
		addr, err := allocate(set, uint64(opts.size), uint64(opts.align), hint)
		if err != nil {
			return errors.Wrapf(err, "allocation %d", i)
		}

		klog.V(2).Infof("allocation %d: %s at 0x%x", i, humanSize(uint64(opts.size)), addr)
		fmt.Fprintf(w, "0x%016x - 0x%016x\n", addr, addr+uint64(opts.size)-1)
	}

	if err := printRanges(w, "Free physical memory after allocation", set.Entries()); err != nil {
		return err
	}

	fmt.Fprintf(w, "Usable memory: %s in %d ranges\n", humanSize(set.TotalSize()), set.Len())
	return nil
}

// allocate runs a single allocation, converting both returned and fatal
// kernel errors to errors.
func allocate(set *rangeset.RangeSet, size, align uint64, hint *rangeset.RangeSet) (addr uint64, err error) {
	defer catchKernelError(&err, "allocating")

	addr, kerr := set.Allocate(size, align, hint)
	if kerr != nil {
		return 0, kerr
	}
	return addr, nil
}
