package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	cab "github.com/secDre4mer/go-mspack"
	"github.com/secDre4mer/go-mspack/mspack"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config is read from the file given with --config.
type Config struct {
	SearchBuffer        int    `yaml:"search_buffer"`
	FixMSZIP            bool   `yaml:"fix_mszip"`
	DecompressionBuffer int    `yaml:"decompression_buffer"`
	LogLevel            string `yaml:"log_level"`
}

var currentConfig Config

var (
	rootConfigFile string
	rootLogLevel   string
	rootSearch     bool
	rootFixMSZIP   bool
)

var rootCmd = &cobra.Command{
	Use:          "cabextract",
	Short:        "List, test, extract and create Microsoft cabinet files",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if rootConfigFile != "" {
			if err := loadConfig(rootConfigFile, &currentConfig); err != nil {
				return err
			}
		}
		if rootLogLevel != "" {
			currentConfig.LogLevel = rootLogLevel
		}
		if rootFixMSZIP {
			currentConfig.FixMSZIP = true
		}
		return setupLogging(currentConfig.LogLevel)
	},
}

func loadConfig(filename string, config *Config) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil {
		return fmt.Errorf("parsing %s: %w", filename, err)
	}
	return nil
}

func setupLogging(level string) error {
	var logLevel slog.Level
	if level != "" {
		if err := logLevel.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
			return fmt.Errorf("invalid log level %q", level)
		}
	}

	w := os.Stderr

	slog.SetDefault(slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.Kitchen,
			NoColor:    !isatty.IsTerminal(w.Fd()),
		}),
	))
	return nil
}

// newDecompressor returns a decompressor on the local file system, configured from currentConfig.
func newDecompressor() (*cab.Decompressor, error) {
	d := cab.NewDecompressor(&mspack.FileSystem{Logger: slog.Default()})
	params := []struct {
		param cab.Param
		value int
	}{
		{cab.ParamSearchBuffer, currentConfig.SearchBuffer},
		{cab.ParamDecompressionBuffer, currentConfig.DecompressionBuffer},
	}
	for _, p := range params {
		if p.value == 0 {
			continue
		}
		if err := d.SetParam(p.param, p.value); err != nil {
			return nil, err
		}
	}
	if currentConfig.FixMSZIP {
		if err := d.SetParam(cab.ParamFixMSZIP, 1); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// openCabinets opens name as a cabinet set or, with --search, returns every cabinet embedded in it. The first
// cabinet is the one to close.
func openCabinets(d *cab.Decompressor, name string) ([]*cab.Cabinet, error) {
	if !rootSearch {
		cabinet, err := d.OpenSet(name)
		if err != nil {
			return nil, err
		}
		return []*cab.Cabinet{cabinet}, nil
	}
	head, err := d.Search(name)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, fmt.Errorf("%s: no cabinets found", name)
	}
	var cabinets []*cab.Cabinet
	for c := head; c != nil; c = c.Next() {
		cabinets = append(cabinets, c)
	}
	return cabinets, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigFile, "config", "", "read settings from a YAML file")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&rootSearch, "search", "s", false, "search the input for embedded cabinets")
	rootCmd.PersistentFlags().BoolVar(&rootFixMSZIP, "fix-mszip", false, "recover from damaged MS-ZIP blocks")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
