package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/marmos91/dittofs-exports/pkg/config"
	"github.com/marmos91/dittofs-exports/pkg/handle"
)

func runHandleDecode(args []string) error {
	fs := newFlagSet("handle decode")
	validate := fs.Bool("validate", false, "check the handle generation against exports.generation")

	return withCommand(fs, args, func(cfg *config.Config) error {
		if fs.NArg() != 1 {
			return errors.New("usage: handle decode <hex>")
		}
		raw, err := hex.DecodeString(strings.TrimPrefix(fs.Arg(0), "0x"))
		if err != nil {
			return fmt.Errorf("invalid hex: %w", err)
		}

		decode := handle.Decode
		if *validate {
			decode = handle.NewCodec(cfg.Exports.Generation).Decode
		}
		h, err := decode(raw)
		if err != nil {
			return err
		}

		fmt.Printf("version:    %d\n", h.Version)
		fmt.Printf("generation: %d\n", h.Generation)
		fmt.Printf("kind:       %s\n", h.Kind)
		fmt.Printf("export:     %d\n", h.ExportIndex)
		fmt.Printf("key:        %s\n", hex.EncodeToString(h.Key))

		if h.IsPseudo() {
			return nil
		}
		r, err := newRegistry(cfg, config.InitializeMetrics(cfg))
		if err != nil {
			fmt.Printf("paths:      unknown (%v)\n", err)
			return nil
		}
		seen := make(map[string]bool)
		for _, e := range r.Exports() {
			if e.Index == h.ExportIndex && !seen[e.Path] {
				seen[e.Path] = true
				fmt.Printf("path:       %s\n", e.Path)
			}
		}
		return nil
	})
}
