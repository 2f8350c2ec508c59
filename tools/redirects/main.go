// Command redirects applies //go:redirect-from annotations to a linked
// kernel image by filling in its redirect table.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var root string

	rootCmd := &cobra.Command{
		Use:           "redirects",
		Short:         "Manage the function redirect table of a kernel image",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if matches, _ := filepath.Glob(filepath.Join(root, "kernel")); len(matches) != 1 {
				return errors.New("this tool must be run from the module root folder")
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&root, "root", ".", "Module root folder")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "count",
		Short: "Print the number of redirect annotations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			redirects, err := findRedirects(root)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d", len(redirects))
			return nil
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "populate-table <image>",
		Short: "Resolve redirect symbols and write them to the image's redirect table",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			redirects, err := findRedirects(root)
			if err != nil {
				return err
			}

			if err = elfResolveRedirectSymbols(redirects, args[0]); err != nil {
				return err
			}

			return elfWriteRedirectTable(redirects, args[0])
		},
	})

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[redirects] error: %s\n", err.Error())
		os.Exit(1)
	}
}
