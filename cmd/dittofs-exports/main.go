// dittofs-exports runs the export, access control and namespace layer of a
// DittoFS server and offers admin commands to inspect export tables and
// object handles.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/marmos91/dittofs-exports/internal/logger"
	"github.com/marmos91/dittofs-exports/pkg/config"
)

type command struct {
	name  string
	usage string
	run   func(args []string) error
}

var commands = []command{
	{"serve", "serve [flags]                     load exports and serve until interrupted", runServe},
	{"exports check", "exports check <path> --client IP  print the export a client resolves for path", runExportsCheck},
	{"exports dump", "exports dump [flags]              print the active export table as YAML", runExportsDump},
	{"exports tree", "exports tree --client IP         print the pseudo filesystem a client sees", runExportsTree},
	{"handle decode", "handle decode <hex>               decode an object handle", runHandleDecode},
	{"config init", "config init [--force]             write the default configuration file", runConfigInit},
	{"config schema", "config schema [-o file]           print the JSON schema of the configuration", runConfigSchema},
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage()
		return nil
	}

	for _, c := range commands {
		n := 1
		if c.name != args[0] {
			if len(args) < 2 || c.name != args[0]+" "+args[1] {
				continue
			}
			n = 2
		}
		return c.run(args[n:])
	}

	printUsage()
	return fmt.Errorf("unknown command %q", args[0])
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: dittofs-exports <command> [flags]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %s\n", c.usage)
	}
	fmt.Fprintf(os.Stderr, "\nRun 'dittofs-exports <command> --help' for the flags of a command.\n")
}

// newFlagSet returns a flag set carrying the flags shared by every command
// that loads the configuration.
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("config", "c", "", "configuration file (default: $XDG_CONFIG_HOME/dittofs-exports/config.yaml)")
	fs.String("log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")
	fs.String("log-format", "", "log format (text, json)")
	fs.String("exports", "", "export file")
	fs.String("exports-dir", "", "directory of *.exports files")
	return fs
}

// parseFlags parses args into fs. A help request is reported as errHelp so
// callers can return without an error.
func parseFlags(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return errHelp
		}
		return err
	}
	return nil
}

var errHelp = errors.New("help requested")

// loadConfig loads the configuration selected by the flags of fs and
// configures logging from it.
func loadConfig(fs *pflag.FlagSet) (*config.Config, func(), error) {
	path, _ := fs.GetString("config")
	cfg, err := config.LoadWithFlags(path, fs)
	if err != nil {
		return nil, nil, err
	}

	logger.SetLevel(cfg.Logging.Level)
	if err := logger.SetFormat(cfg.Logging.Format); err != nil {
		return nil, nil, err
	}
	w, closeLog, err := logger.OpenOutput(cfg.Logging.Output)
	if err != nil {
		return nil, nil, err
	}
	logger.SetOutput(w)

	return cfg, func() {
		logger.SetOutput(os.Stdout)
		_ = closeLog()
	}, nil
}

// withCommand runs fn with parsed flags and a loaded configuration.
func withCommand(fs *pflag.FlagSet, args []string, fn func(cfg *config.Config) error) error {
	if err := parseFlags(fs, args); err != nil {
		if errors.Is(err, errHelp) {
			return nil
		}
		return err
	}
	cfg, cleanup, err := loadConfig(fs)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(cfg)
}
