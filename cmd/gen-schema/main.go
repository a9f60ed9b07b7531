// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Command gen-schema writes the plugin manifest JSON Schema.
//
// Usage: gen-schema [output-path]
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/holomush/marktime/internal/plugin"
)

const defaultOutPath = "schemas/plugin.schema.json"

func main() {
	outPath := filepath.FromSlash(defaultOutPath)
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	schema, err := plugin.GenerateSchema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating schema: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating directory: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(outPath, schema, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s (%s)\n", outPath, plugin.GetSchemaID())
}
