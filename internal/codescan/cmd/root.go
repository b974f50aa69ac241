package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	pathpkg "path/filepath"
	"runtime/pprof"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"codescan/internal/codescan/log"
	"codescan/internal/config"
	"codescan/internal/ui/colorize"
)

func init() {
	rootCmd.Flags().BoolP("help", "h", false, "Help")
	rootCmd.Flags().BoolP("no-tui", "n", false, "Print the report without the TUI")
	rootCmd.Flags().String("cpuprofile", "", "Write CPU profile to file")
	rootCmd.Flags().String("memprofile", "", "Write memory profile to file")
	addScanFlags(rootCmd)
}

// addScanFlags registers the flags read by newScanRequest.
func addScanFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
	cmd.PersistentFlags().StringP("config", "c", "", "JSON configuration file")

	cmd.Flags().StringP("arch", "a", config.ArchAuto, "Decoder target: auto, arm, arm64")
	cmd.Flags().StringP("strategy", "s", "linear", "Traversal strategy: linear, symbols")
	cmd.Flags().Bool("fallback", true, "Linear sweep for sections without symbols (symbols strategy)")
	cmd.Flags().Bool("linear-skip-data", true, "Emit .word for undecodable words during linear sweep")
	cmd.Flags().Bool("symbol-skip-data", false, "Emit .word for undecodable words during symbol-guided traversal")
	cmd.Flags().IntP("jobs", "j", 1, "Sections scanned concurrently")
	cmd.Flags().BoolP("listing", "l", true, "Print every instruction")
	cmd.Flags().StringP("format", "f", config.FormatText, "Output format: text, json, markdown")
	cmd.Flags().Bool("raw", false, "Treat the input as a headerless code blob")
	cmd.Flags().String("base", "0x0", "Load address of a raw blob")
}

var rootCmd = &cobra.Command{
	Use:   "codescan [file]",
	Short: "Instruction and branch statistics for ARM binaries",
	Long: `Codescan disassembles the executable sections of an ELF file, or a raw
code blob, and reports instruction, basic block and branch counts per section.
Sections are traversed linearly or partitioned by the symbol table.`,
	Example: `
# Browse the report interactively
codescan firmware.elf

# Symbol-guided traversal, printed as text
codescan -n -s symbols firmware.elf

# Summary of a raw AArch64 blob loaded at 0x80000
codescan -n --raw --base 0x80000 -a arm64 --listing=false kernel.bin

# Machine-readable report
codescan -f json firmware.elf > report.json
  `,
	Args: cobra.ExactArgs(1),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.Setup(debug)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cpuprofile, _ := cmd.Flags().GetString("cpuprofile")
		if cpuprofile != "" {
			f, err := os.Create(cpuprofile)
			if err != nil {
				return fmt.Errorf("could not create CPU profile: %v", err)
			}
			defer f.Close()
			if err := pprof.StartCPUProfile(f); err != nil {
				return fmt.Errorf("could not start CPU profile: %v", err)
			}
			defer pprof.StopCPUProfile()
		}

		memprofile, _ := cmd.Flags().GetString("memprofile")
		if memprofile != "" {
			defer func() {
				f, err := os.Create(memprofile)
				if err != nil {
					fmt.Fprintf(os.Stderr, "could not create memory profile: %v\n", err)
					return
				}
				defer f.Close()
				if err := pprof.WriteHeapProfile(f); err != nil {
					fmt.Fprintf(os.Stderr, "could not write memory profile: %v\n", err)
				}
			}()
		}

		req, err := newScanRequest(cmd, args[0])
		if err != nil {
			return err
		}

		noTUI, _ := cmd.Flags().GetBool("no-tui")
		if !term.IsTerminal(os.Stdout.Fd()) {
			noTUI = true
			os.Setenv(colorize.NoColorEnv, "1")
		}
		if !req.Config.Color {
			os.Setenv(colorize.NoColorEnv, "1")
		}
		if req.Config.Format != config.FormatText {
			noTUI = true
		}

		if noTUI {
			return runScan(cmd.Context(), cmd.OutOrStdout(), req)
		}

		program := tea.NewProgram(
			NewModel(cmd.Context(), req),
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()),
		)
		if _, err := program.Run(); err != nil {
			slog.Error("TUI run error", "error", err)
			return fmt.Errorf("TUI error: %v", err)
		}
		return nil
	},
}

// newScanRequest layers the configuration file, the environment and the
// explicitly set flags.
func newScanRequest(cmd *cobra.Command, file string) (scanRequest, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return scanRequest{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("arch") {
		cfg.Arch = normalizedFlag(cmd, "arch")
	}
	if flags.Changed("strategy") {
		cfg.Strategy = normalizedFlag(cmd, "strategy")
	}
	if flags.Changed("fallback") {
		cfg.Fallback, _ = flags.GetBool("fallback")
	}
	if flags.Changed("linear-skip-data") {
		cfg.LinearSkipData, _ = flags.GetBool("linear-skip-data")
	}
	if flags.Changed("symbol-skip-data") {
		cfg.SymbolSkipData, _ = flags.GetBool("symbol-skip-data")
	}
	if flags.Changed("jobs") {
		cfg.Jobs, _ = flags.GetInt("jobs")
	}
	if flags.Changed("listing") {
		cfg.Listing, _ = flags.GetBool("listing")
	}
	if flags.Changed("format") {
		cfg.Format = normalizedFlag(cmd, "format")
	}
	if err := cfg.Validate(); err != nil {
		return scanRequest{}, fmt.Errorf("invalid configuration: %w", err)
	}

	absPath, err := pathpkg.Abs(file)
	if err != nil {
		return scanRequest{}, fmt.Errorf("failed to resolve path: %v", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		if os.IsNotExist(err) {
			return scanRequest{}, fmt.Errorf("file not found: %s", file)
		}
		return scanRequest{}, fmt.Errorf("cannot access file: %v", err)
	}

	req := scanRequest{Path: absPath, Config: cfg}
	req.Raw, _ = flags.GetBool("raw")
	baseStr, _ := flags.GetString("base")
	if req.Base, err = strconv.ParseUint(baseStr, 0, 64); err != nil {
		return scanRequest{}, fmt.Errorf("invalid --base %q: %v", baseStr, err)
	}
	return req, nil
}

// normalizedFlag returns a string flag lowercased and trimmed, as the
// CODESCAN_* variables are read.
func normalizedFlag(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return strings.ToLower(strings.TrimSpace(v))
}

func Execute() {
	// Bypass fang's markdown rendering for --no-tui, the schema command and
	// piped output
	noTUI := false
	for _, arg := range os.Args[1:] {
		if arg == "--no-tui" || arg == "-n" || arg == "schema" {
			noTUI = true
			break
		}
	}
	if !noTUI && !term.IsTerminal(os.Stdout.Fd()) {
		noTUI = true
	}

	if noTUI {
		// Use cobra directly to avoid fang's automatic markdown rendering
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
	} else {
		if err := fang.Execute(
			context.Background(),
			rootCmd,
			fang.WithNotifySignal(os.Interrupt),
		); err != nil {
			os.Exit(1)
		}
	}
	log.Close()
}
