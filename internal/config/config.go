// Package config holds the scan configuration and its layering:
// defaults, then a JSON file, then CODESCAN_* environment variables.
// Command-line flags are applied last by the caller.
package config

import (
	"bytes"
	"debug/elf"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"codescan/internal/analysis"
	"codescan/internal/disasm"

	"github.com/invopop/jsonschema"
)

const (
	ArchAuto = "auto"

	FormatText     = "text"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"

	envPrefix = "CODESCAN_"
)

// Config represents configuration for a scan
type Config struct {
	Arch           string `json:"arch,omitempty" jsonschema:"title=Architecture,description=Decoder target; auto picks it from the ELF machine,enum=auto,enum=arm,enum=arm64,default=auto"`
	Strategy       string `json:"strategy,omitempty" jsonschema:"title=Strategy,description=Traversal strategy,enum=linear,enum=symbols,default=linear"`
	Fallback       bool   `json:"fallback" jsonschema:"title=Fallback,description=Linear sweep for sections without symbols in symbol-guided mode,default=true"`
	LinearSkipData bool   `json:"linearSkipData" jsonschema:"title=Linear Skip Data,description=Emit .word for undecodable words during linear sweep,default=true"`
	SymbolSkipData bool   `json:"symbolSkipData" jsonschema:"title=Symbol Skip Data,description=Emit .word for undecodable words during symbol-guided traversal,default=false"`
	Jobs           int    `json:"jobs,omitempty" jsonschema:"title=Jobs,description=Sections scanned concurrently,minimum=1,default=1"`
	Listing        bool   `json:"listing" jsonschema:"title=Listing,description=Print every instruction in text output,default=true"`
	Color          bool   `json:"color" jsonschema:"title=Color,description=Colorize listings on terminals,default=true"`
	Format         string `json:"format,omitempty" jsonschema:"title=Format,description=Output format,enum=text,enum=json,enum=markdown,default=text"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Arch:           ArchAuto,
		Strategy:       string(analysis.StrategyLinear),
		Fallback:       true,
		LinearSkipData: true,
		SymbolSkipData: false,
		Jobs:           analysis.DefaultJobs,
		Listing:        true,
		Color:          true,
		Format:         FormatText,
	}
}

// Load returns the defaults overlaid with the JSON file at path (if
// non-empty) and the process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from CODESCAN_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = strings.ToLower(strings.TrimSpace(v))
		}
	}
	var errs []error
	boolean := func(name string, dst *bool) {
		v, ok := lookup(envPrefix + name)
		if !ok || v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			return
		}
		*dst = b
	}

	str("ARCH", &c.Arch)
	str("STRATEGY", &c.Strategy)
	str("FORMAT", &c.Format)
	boolean("FALLBACK", &c.Fallback)
	boolean("LINEAR_SKIP_DATA", &c.LinearSkipData)
	boolean("SYMBOL_SKIP_DATA", &c.SymbolSkipData)
	boolean("LISTING", &c.Listing)
	boolean("COLOR", &c.Color)
	if v, ok := lookup(envPrefix + "NO_COLOR"); ok && v != "" {
		c.Color = false
	}
	if v, ok := lookup(envPrefix + "JOBS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sJOBS: %w", envPrefix, err))
		} else {
			c.Jobs = n
		}
	}
	return errors.Join(errs...)
}

// Validate rejects unknown values.
func (c Config) Validate() error {
	var errs []error
	if c.Arch != ArchAuto {
		if _, err := disasm.ParseArch(c.Arch); err != nil {
			errs = append(errs, fmt.Errorf("arch: %w", err))
		}
	}
	if !analysis.Strategy(c.Strategy).Valid() {
		errs = append(errs, fmt.Errorf("strategy: unknown strategy %q", c.Strategy))
	}
	if c.Jobs < 1 {
		errs = append(errs, fmt.Errorf("jobs: must be at least 1, got %d", c.Jobs))
	}
	switch c.Format {
	case FormatText, FormatJSON, FormatMarkdown:
	default:
		errs = append(errs, fmt.Errorf("format: unknown format %q", c.Format))
	}
	return errors.Join(errs...)
}

// ResolveArch returns the decoder target, consulting the ELF machine
// when the configured arch is auto.
func (c Config) ResolveArch(machine elf.Machine) (disasm.Arch, error) {
	if c.Arch != "" && c.Arch != ArchAuto {
		return disasm.ParseArch(c.Arch)
	}
	if arch, ok := disasm.ArchForMachine(machine); ok {
		return arch, nil
	}
	return "", fmt.Errorf("cannot infer architecture for machine %v; set --arch", machine)
}

// TraversalOptions returns the options for analysis.NewTraverser.
func (c Config) TraversalOptions(arch disasm.Arch) analysis.Options {
	return analysis.Options{
		Arch:           arch,
		LinearSkipData: c.LinearSkipData,
		SymbolSkipData: c.SymbolSkipData,
	}
}

// ScanOptions returns the options for analysis.NewScanner.
func (c Config) ScanOptions(sink analysis.Sink) analysis.ScanOptions {
	return analysis.ScanOptions{
		Strategy: analysis.Strategy(c.Strategy),
		Fallback: c.Fallback,
		Jobs:     c.Jobs,
		Sink:     sink,
	}
}

// Schema returns the JSON schema of the configuration file.
func Schema() *jsonschema.Schema {
	reflector := new(jsonschema.Reflector)
	return reflector.Reflect(&Config{})
}
