package main

import (
	"fmt"
	"io"

	cab "github.com/secDre4mer/go-mspack"
	"github.com/spf13/cobra"
)

// testCabinet decodes every file of c without writing it and returns the number of failures.
func testCabinet(w io.Writer, d *cab.Decompressor, c *cab.Cabinet) int {
	failures := 0
	for _, file := range c.Files() {
		err := func() error {
			r, err := d.OpenFile(file)
			if err != nil {
				return err
			}
			defer r.Close()
			_, err = io.Copy(io.Discard, r)
			return err
		}()
		if err != nil {
			fmt.Fprintf(w, "  %s  FAILED: %v\n", file.Name, err)
			failures++
			continue
		}
		fmt.Fprintf(w, "  %s  OK\n", file.Name)
	}
	return failures
}

var testCmd = &cobra.Command{
	Use:   "test CABINET...",
	Short: "Check that every file of the cabinets decodes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDecompressor()
		if err != nil {
			return err
		}
		failures := 0
		for _, arg := range args {
			cabinets, err := openCabinets(d, arg)
			if err != nil {
				return err
			}
			for _, c := range cabinets {
				fmt.Fprintf(cmd.OutOrStdout(), "Testing cabinet: %s\n", c.Filename)
				failures += testCabinet(cmd.OutOrStdout(), d, c)
			}
			d.Close(cabinets[0])
		}
		if failures != 0 {
			return fmt.Errorf("%d files failed", failures)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(testCmd)
}
