package main

import (
	"flag"

	"gopherboot/kernel/hal/e820"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

// mapSourceFlags selects where a command reads the memory map from.
type mapSourceFlags struct {
	mapFile   string
	sysfs     bool
	sysfsRoot string
}

func (f *mapSourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.mapFile, "map", "m", "", "YAML file describing the memory map")
	cmd.Flags().BoolVar(&f.sysfs, "sysfs", false, "Read the memory map of the running host")
	cmd.Flags().StringVar(&f.sysfsRoot, "sysfs-root", defaultSysfsRoot, "Location of the firmware memory map in sysfs")
	cmd.MarkFlagsMutuallyExclusive("map", "sysfs")
	cmd.MarkFlagsOneRequired("map", "sysfs")
}

func (f *mapSourceFlags) load() (e820.Entries, error) {
	if f.sysfs {
		return readSysfsMap(f.sysfsRoot)
	}
	return readMapFile(f.mapFile)
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "memmap",
		Short: "Inspect E820 memory maps and simulate physical allocations",
		Long: `memmap feeds a firmware memory map through the same code the boot stages
use to build their free physical memory set. It can print the resulting free
ranges, perform single allocations, and run a concurrent simulation against
an anonymous mapping that stands in for physical memory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flagset := flag.NewFlagSet("klog", flag.PanicOnError)
	klog.InitFlags(flagset)
	rootCmd.PersistentFlags().AddGoFlagSet(flagset)

	rootCmd.AddCommand(newShowCmd(), newAllocCmd(), newSimCmd())
	return rootCmd
}
