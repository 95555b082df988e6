package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	cab "github.com/secDre4mer/go-mspack"
	"github.com/secDre4mer/go-mspack/mspack"
	"github.com/spf13/cobra"
)

var (
	createCompression string
	createWindow      int
	createDensity     int
	createPartBlocks  int
	createSetID       int
	createLanguage    int
	createNoChecksums bool
)

var compressionMethods = map[string]int{
	"none":  cab.CompressionNone,
	"mszip": cab.CompressionMSZIP,
	"lzx":   cab.CompressionLZX,
}

// parseInput splits a SOURCE[=TARGET] argument. Without a target the file is stored under its base name.
func parseInput(arg string) cab.InputFile {
	source, target, ok := strings.Cut(arg, "=")
	if !ok {
		target = filepath.Base(source)
	}
	return cab.InputFile{Source: source, Target: strings.ReplaceAll(target, "/", "\\")}
}

var createCmd = &cobra.Command{
	Use:   "create OUTPUT SOURCE[=TARGET]...",
	Short: "Create a cabinet or cabinet set from files",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		method, ok := compressionMethods[createCompression]
		if !ok {
			return fmt.Errorf("unknown compression %q", createCompression)
		}
		compressor := cab.NewCompressor(&mspack.FileSystem{Logger: slog.Default()})
		checksums := 1
		if createNoChecksums {
			checksums = 0
		}
		for _, p := range []struct {
			param cab.CompressorParam
			value int
		}{
			{cab.ParamCompression, method},
			{cab.ParamWindow, createWindow},
			{cab.ParamDensity, createDensity},
			{cab.ParamPartBlocks, createPartBlocks},
			{cab.ParamSetID, createSetID},
			{cab.ParamLanguage, createLanguage},
			{cab.ParamChecksums, checksums},
		} {
			if err := compressor.SetParam(p.param, p.value); err != nil {
				return err
			}
		}

		var files []cab.InputFile
		for _, arg := range args[1:] {
			files = append(files, parseInput(arg))
		}
		if err := compressor.Generate(files, args[0]); err != nil {
			return err
		}
		slog.Info("created cabinet", "output", args[0], "files", len(files))
		return nil
	},
}

func init() {
	createCmd.Flags().StringVarP(&createCompression, "compression", "c", "mszip", "compression method (none, mszip, lzx)")
	createCmd.Flags().IntVar(&createWindow, "window", 16, "LZX window size in bits (15 to 21)")
	createCmd.Flags().IntVar(&createDensity, "density", 6, "MS-ZIP compression level (1 to 9)")
	createCmd.Flags().IntVar(&createPartBlocks, "part-blocks", 0, "split into cabinets of at most this many data blocks")
	createCmd.Flags().IntVar(&createSetID, "set-id", 0, "cabinet set ID")
	createCmd.Flags().IntVar(&createLanguage, "language", 0, "language ID to store in the reserved header area")
	createCmd.Flags().BoolVar(&createNoChecksums, "no-checksums", false, "do not store data block checksums")
	rootCmd.AddCommand(createCmd)
}
