package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/marmos91/dittofs-exports/pkg/config"
)

func runConfigInit(args []string) error {
	fs := pflag.NewFlagSet("config init", pflag.ContinueOnError)
	force := fs.BoolP("force", "f", false, "overwrite an existing file")
	path := fs.StringP("config", "c", "", "file to write (default: $XDG_CONFIG_HOME/dittofs-exports/config.yaml)")
	if err := parseFlags(fs, args); err != nil {
		if errors.Is(err, errHelp) {
			return nil
		}
		return err
	}

	target := *path
	var err error
	if target == "" {
		target, err = config.InitConfig(*force)
	} else {
		err = config.InitConfigToPath(target, *force)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s\n", target)
	return nil
}

func runConfigSchema(args []string) error {
	fs := pflag.NewFlagSet("config schema", pflag.ContinueOnError)
	output := fs.StringP("output", "o", "", "file to write (default: stdout)")
	if err := parseFlags(fs, args); err != nil {
		if errors.Is(err, errHelp) {
			return nil
		}
		return err
	}

	schema, err := config.SchemaJSON()
	if err != nil {
		return fmt.Errorf("render schema: %w", err)
	}
	if *output == "" {
		_, err = fmt.Println(string(schema))
		return err
	}
	if err := os.WriteFile(*output, schema, 0644); err != nil {
		return fmt.Errorf("write schema: %w", err)
	}
	fmt.Printf("JSON schema written to %s\n", *output)
	return nil
}
