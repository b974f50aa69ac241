package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"codescan/internal/elfx"

	"golang.org/x/sync/errgroup"
)

// SectionReport is the scan outcome of one executable section. Err is
// set when the section could not be traversed and the scan moved on.
type SectionReport struct {
	Name   string
	Addr   uint64
	Size   uint64
	Result *Result
	Err    error
}

// Report is the outcome of scanning an image.
type Report struct {
	Path     string
	Arch     string
	Strategy Strategy
	Sections []*SectionReport
	Totals   Stats
}

// Sink receives scan results in section order.
type Sink interface {
	Begin(r *Report) error
	Section(s *SectionReport) error
	End(r *Report) error
}

// SinkChain fans results out to several sinks in sequence.
type SinkChain struct {
	sinks []Sink
}

// NewSinkChain creates a new sink chain
func NewSinkChain(sinks ...Sink) *SinkChain {
	return &SinkChain{sinks: sinks}
}

func (sc *SinkChain) Begin(r *Report) error {
	for _, s := range sc.sinks {
		if err := s.Begin(r); err != nil {
			return err
		}
	}
	return nil
}

func (sc *SinkChain) Section(sr *SectionReport) error {
	for _, s := range sc.sinks {
		if err := s.Section(sr); err != nil {
			return err
		}
	}
	return nil
}

func (sc *SinkChain) End(r *Report) error {
	for _, s := range sc.sinks {
		if err := s.End(r); err != nil {
			return err
		}
	}
	return nil
}

// ScanOptions configure an image scan.
type ScanOptions struct {
	Strategy Strategy
	Fallback bool // linear sweep for sections without symbols
	Jobs     int  // sections traversed concurrently
	Sink     Sink
}

// Scanner traverses every loaded executable section of an image.
type Scanner struct {
	trav *Traverser
	opts ScanOptions
}

func NewScanner(trav *Traverser, opts ScanOptions) *Scanner {
	if opts.Strategy == "" {
		opts.Strategy = StrategyLinear
	}
	if opts.Jobs < 1 {
		opts.Jobs = DefaultJobs
	}
	return &Scanner{trav: trav, opts: opts}
}

// ExecSections returns the sections that are both allocated and
// executable, in header order.
func ExecSections(img *elfx.Image) []*elfx.Section {
	var out []*elfx.Section
	for _, s := range img.Sections() {
		if s.IsAlloc() && s.IsExec() {
			out = append(out, s)
		}
	}
	return out
}

// Scan traverses each executable section of img. Decoder initialization
// failures abort the scan; a corrupt symbol table is recorded on the
// affected section only.
func (s *Scanner) Scan(ctx context.Context, img *elfx.Image) (*Report, error) {
	if !s.opts.Strategy.Valid() {
		return nil, fmt.Errorf("unknown strategy %q", s.opts.Strategy)
	}

	rep := &Report{
		Path:     img.Path,
		Arch:     string(s.trav.opts.Arch),
		Strategy: s.opts.Strategy,
	}
	if s.opts.Sink != nil {
		if err := s.opts.Sink.Begin(rep); err != nil {
			return nil, err
		}
	}

	secs := ExecSections(img)
	slog.Debug("Scanning image", "path", img.Path, "sections", len(secs),
		"strategy", s.opts.Strategy, "jobs", s.opts.Jobs)

	var err error
	if s.opts.Jobs > 1 && len(secs) > 1 {
		err = s.scanParallel(ctx, img, secs, rep)
	} else {
		err = s.scanSequential(ctx, img, secs, rep)
	}
	if err != nil {
		return nil, err
	}

	if total, hits, _ := GetDemangleCacheStats(); total > 0 {
		slog.Debug("Demangle cache", "symbols", total, "hits", hits)
	}

	if s.opts.Sink != nil {
		if err := s.opts.Sink.End(rep); err != nil {
			return nil, err
		}
	}
	return rep, nil
}

func (s *Scanner) scanSequential(ctx context.Context, img *elfx.Image, secs []*elfx.Section, rep *Report) error {
	for _, sec := range secs {
		if err := ctx.Err(); err != nil {
			return err
		}
		sr, err := s.scanSection(img, sec)
		if err != nil {
			return err
		}
		if err := s.emit(rep, sr); err != nil {
			return err
		}
	}
	return nil
}

// scanParallel traverses sections concurrently, each with its own
// decoder, then emits them in header order.
func (s *Scanner) scanParallel(ctx context.Context, img *elfx.Image, secs []*elfx.Section, rep *Report) error {
	results := make([]*SectionReport, len(secs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Jobs)
	for i, sec := range secs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sr, err := s.scanSection(img, sec)
			if err != nil {
				return err
			}
			results[i] = sr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, sr := range results {
		if err := s.emit(rep, sr); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) emit(rep *Report, sr *SectionReport) error {
	rep.Sections = append(rep.Sections, sr)
	if sr.Result != nil {
		rep.Totals.Add(sr.Result.Stats)
	}
	if s.opts.Sink != nil {
		return s.opts.Sink.Section(sr)
	}
	return nil
}

func (s *Scanner) scanSection(img *elfx.Image, sec *elfx.Section) (*SectionReport, error) {
	sr := &SectionReport{Name: sec.Name, Addr: sec.Addr, Size: sec.Size}
	slog.Debug("Scanning section", "name", sec.Name, "addr", sec.Addr, "size", sec.Size)

	if s.opts.Strategy == StrategyLinear {
		res, err := s.trav.LinearSweep(sec)
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", sec.Name, err)
		}
		sr.Result = res
		return sr, nil
	}

	entries, err := EntriesForSection(img, sec)
	if err != nil {
		var tm *elfx.TypeMismatchError
		var ct *elfx.CorruptSymbolTableError
		if errors.As(err, &tm) || errors.As(err, &ct) {
			slog.Warn("Corrupt symbol table, skipping section", "section", sec.Name, "error", err)
			sr.Err = err
			return sr, nil
		}
		return nil, fmt.Errorf("section %s: %w", sec.Name, err)
	}

	res, err := s.trav.SymbolGuided(sec, entries)
	switch {
	case errors.Is(err, ErrNoSymbols):
		if !s.opts.Fallback {
			sr.Result = newResult(sec, StrategySymbols)
			sr.Result.NoSymbols = true
			return sr, nil
		}
		slog.Debug("No symbols in section, falling back to linear sweep", "section", sec.Name)
		res, err = s.trav.LinearSweep(sec)
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", sec.Name, err)
		}
		res.NoSymbols = true
	case err != nil:
		return nil, fmt.Errorf("section %s: %w", sec.Name, err)
	}
	sr.Result = res
	return sr, nil
}
