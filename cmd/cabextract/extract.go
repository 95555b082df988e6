package main

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	cab "github.com/secDre4mer/go-mspack"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	extractDirectory string
	extractFilter    string
	extractLowercase bool
	extractQuiet     bool
)

// outputPath maps a file name stored in a cabinet to a path below dir. Absolute names and parent references are
// stripped so no file lands outside dir.
func outputPath(dir, name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	var parts []string
	for _, part := range strings.Split(name, "/") {
		switch part {
		case "", ".", "..":
			continue
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return filepath.Join(dir, filepath.FromSlash(path.Join(parts...))), nil
}

func matchesFilter(name string) (bool, error) {
	if extractFilter == "" {
		return true, nil
	}
	name = strings.ReplaceAll(name, "\\", "/")
	return path.Match(strings.ToLower(extractFilter), strings.ToLower(name))
}

func extractCabinet(d *cab.Decompressor, c *cab.Cabinet) (int, error) {
	var total int64
	var selected []*cab.File
	for _, file := range c.Files() {
		ok, err := matchesFilter(file.Name)
		if err != nil {
			return 0, err
		}
		if ok {
			selected = append(selected, file)
			total += int64(file.Length)
		}
	}

	var pb *progressbar.ProgressBar
	if !extractQuiet {
		pb = progressbar.DefaultBytes(total, fmt.Sprintf("extracting %s", filepath.Base(c.Filename)))
		defer pb.Close()
	}

	failures := 0
	for _, file := range selected {
		name := file.Name
		if extractLowercase {
			name = strings.ToLower(name)
		}
		dest, err := outputPath(extractDirectory, name)
		if err != nil {
			return failures, err
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return failures, err
		}
		if err := d.Extract(file, dest); err != nil {
			slog.Error("extraction failed", "file", file.Name, "error", err)
			failures++
			continue
		}
		info := file.Stat()
		if err := os.Chtimes(dest, info.ModTime(), info.ModTime()); err != nil {
			slog.Warn("cannot set modification time", "file", dest, "error", err)
		}
		if err := os.Chmod(dest, info.Mode()); err != nil {
			slog.Warn("cannot set permissions", "file", dest, "error", err)
		}
		slog.Debug("extracted", "file", dest, "size", file.Length)
		if pb != nil {
			pb.Add64(int64(file.Length))
		}
	}
	return failures, nil
}

var extractCmd = &cobra.Command{
	Use:   "extract CABINET...",
	Short: "Extract the files of cabinets",
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
				n, err := extractCabinet(d, c)
				failures += n
				if err != nil {
					d.Close(cabinets[0])
					return err
				}
			}
			d.Close(cabinets[0])
		}
		if failures != 0 {
			return fmt.Errorf("%d files could not be extracted", failures)
		}
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVarP(&extractDirectory, "directory", "d", ".", "directory to extract into")
	extractCmd.Flags().StringVarP(&extractFilter, "filter", "F", "", "only extract files matching this pattern")
	extractCmd.Flags().BoolVarP(&extractLowercase, "lowercase", "L", false, "make file names lowercase")
	extractCmd.Flags().BoolVarP(&extractQuiet, "quiet", "q", false, "do not show progress")
	rootCmd.AddCommand(extractCmd)
}
