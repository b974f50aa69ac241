package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/dustin/go-humanize"

	"codescan/internal/analysis"
	"codescan/internal/config"
	"codescan/internal/elfx"
	"codescan/internal/report"
)

// scanRequest is a resolved command line.
type scanRequest struct {
	Path   string
	Raw    bool
	Base   uint64 // load address of a raw blob
	Config config.Config
}

func openImage(req scanRequest) (*elfx.Image, error) {
	open := elfx.Open
	if req.Raw {
		open = func(path string) (*elfx.Image, error) { return elfx.OpenRaw(path, req.Base) }
	}
	img, err := open(req.Path)
	if err != nil {
		return nil, err
	}
	slog.Debug("Opened image", "path", img.Path, "machine", img.Machine(),
		"sections", len(img.Sections()), "code", humanize.IBytes(img.CodeSize()))
	return img, nil
}

// newScanner resolves the architecture of img and builds the scanner
// that feeds sink.
func newScanner(img *elfx.Image, cfg config.Config, sink analysis.Sink) (*analysis.Scanner, error) {
	arch, err := cfg.ResolveArch(img.Machine())
	if err != nil {
		return nil, err
	}
	if analysis.Strategy(cfg.Strategy) == analysis.StrategySymbols && !img.HasSymbolTable() {
		slog.Warn("No symbol table; sections will be reported without symbols",
			"path", img.Path, "fallback", cfg.Fallback)
	}
	trav := analysis.NewTraverser(analysis.OpenDecoder, cfg.TraversalOptions(arch))
	return analysis.NewScanner(trav, cfg.ScanOptions(sink)), nil
}

// newSink returns the output sink for the configured format.
func newSink(w io.Writer, cfg config.Config, width int) analysis.Sink {
	switch cfg.Format {
	case config.FormatJSON:
		return report.NewJSON(w, cfg.Listing)
	case config.FormatMarkdown:
		return report.NewMarkdown(w, width, cfg.Color)
	default:
		return report.NewText(w, report.TextOptions{Listing: cfg.Listing, Color: cfg.Color})
	}
}

func terminalWidth() int {
	if w, _, err := term.GetSize(os.Stdout.Fd()); err == nil && w > 0 {
		return w
	}
	return 80
}

// runScan scans req.Path and streams the report to w.
func runScan(ctx context.Context, w io.Writer, req scanRequest) error {
	img, err := openImage(req)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", req.Path, err)
	}
	defer img.Close()

	sc, err := newScanner(img, req.Config, newSink(w, req.Config, terminalWidth()))
	if err != nil {
		return err
	}
	if _, err := sc.Scan(ctx, img); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

// scanReport scans req.Path and returns the report without printing.
func scanReport(ctx context.Context, req scanRequest) (*analysis.Report, error) {
	img, err := openImage(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", req.Path, err)
	}
	defer img.Close()

	sc, err := newScanner(img, req.Config, nil)
	if err != nil {
		return nil, err
	}
	return sc.Scan(ctx, img)
}
