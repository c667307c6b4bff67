// Shared helpers for devstore CLI commands.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/devstore/internal/registry"
)

// newLogger builds the CLI logger. Verbose mode switches to the development
// encoder at debug level; otherwise logs go to stderr at warn so command
// output stays clean.
func newLogger() (*zap.Logger, error) {
	if flagVerbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// openRegistry resolves the data directory and opens the devices database.
// The caller must defer reg.Shutdown().
func openRegistry() (*registry.Registry, error) {
	dataDir, err := resolveDataDir()
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}

	logger, err := newLogger()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	return registry.New(dataDir, logger, nil), nil
}

// printResult renders v as indented JSON when --json is set, otherwise via
// the fallback printer.
func printResult(v any, fallback func()) error {
	if !flagJSON {
		fallback()
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
