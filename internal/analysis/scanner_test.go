package analysis

import (
	"context"
	"debug/elf"
	"errors"
	"reflect"
	"testing"

	"codescan/internal/disasm"
	"codescan/internal/elfx"
)

// recordingSink keeps the order of callbacks.
type recordingSink struct {
	calls    []string
	sections []*SectionReport
}

func (r *recordingSink) Begin(*Report) error { r.calls = append(r.calls, "begin"); return nil }

func (r *recordingSink) Section(s *SectionReport) error {
	r.calls = append(r.calls, s.Name)
	r.sections = append(r.sections, s)
	return nil
}

func (r *recordingSink) End(*Report) error { r.calls = append(r.calls, "end"); return nil }

func testImage(symtab *elfx.Section) *elfx.Image {
	secs := []*elfx.Section{
		code(".init", 0x100, opPlain, opIndirect),
		elfx.NewSection(".rodata", elf.SHT_PROGBITS, elf.SHF_ALLOC, 0x200, prog(opDirect, opDirect)),
		code(".text", 0x300, opPlain, opDirect, opPlain, opIndirect),
		elfx.NewSection(".debug", elf.SHT_PROGBITS, elf.SHF_EXECINSTR, 0, prog(opDirect)),
		code(".fini", 0x400, opDirect),
	}
	if symtab != nil {
		secs = append(secs, symtab)
	}
	return elfx.NewImage(elf.EM_ARM, secs...)
}

func TestScanFiltersExecutableSections(t *testing.T) {
	trav, _ := newFakeTraverser()
	sink := &recordingSink{}
	sc := NewScanner(trav, ScanOptions{Strategy: StrategyLinear, Sink: sink})

	rep, err := sc.Scan(context.Background(), testImage(nil))
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	want := []string{"begin", ".init", ".text", ".fini", "end"}
	if !reflect.DeepEqual(sink.calls, want) {
		t.Errorf("sink calls = %v, want %v", sink.calls, want)
	}

	wantTotals := Stats{Instructions: 7, BasicBlocks: 4, DirectBranches: 2}
	if rep.Totals != wantTotals {
		t.Errorf("Totals = %+v, want %+v", rep.Totals, wantTotals)
	}
	if rep.Arch != string(disasm.ArchARM) || rep.Strategy != StrategyLinear {
		t.Errorf("report header = %q/%q", rep.Arch, rep.Strategy)
	}
}

func TestScanSymbolsFallback(t *testing.T) {
	symtab := elfx.NewSymbolTable(".symtab", []elfx.Symbol{{Name: "main", Value: 0x304}})

	t.Run("fallback", func(t *testing.T) {
		trav, _ := newFakeTraverser()
		sc := NewScanner(trav, ScanOptions{Strategy: StrategySymbols, Fallback: true})
		rep, err := sc.Scan(context.Background(), testImage(symtab))
		if err != nil {
			t.Fatal(err)
		}
		byName := map[string]*Result{}
		for _, sr := range rep.Sections {
			byName[sr.Name] = sr.Result
		}
		if r := byName[".text"]; r.Strategy != StrategySymbols || r.NoSymbols || r.Uncovered != 4 {
			t.Errorf(".text result = %+v", r)
		}
		if r := byName[".text"]; r.Stats.Instructions != 3 {
			t.Errorf(".text instructions = %d, want 3", r.Stats.Instructions)
		}
		if r := byName[".init"]; r.Strategy != StrategyLinear || !r.NoSymbols || r.Stats.Instructions != 2 {
			t.Errorf(".init result = %+v", r)
		}
	})

	t.Run("no fallback", func(t *testing.T) {
		trav, _ := newFakeTraverser()
		sc := NewScanner(trav, ScanOptions{Strategy: StrategySymbols})
		rep, err := sc.Scan(context.Background(), testImage(symtab))
		if err != nil {
			t.Fatal(err)
		}
		r := rep.Sections[0].Result
		if rep.Sections[0].Name != ".init" || !r.NoSymbols || r.Stats != (Stats{}) || len(r.Events) != 0 {
			t.Errorf(".init result = %+v", r)
		}
	})
}

func TestScanCorruptSymbolTableContinues(t *testing.T) {
	trav, _ := newFakeTraverser()
	bogus := elfx.NewSection(".symtab", elf.SHT_STRTAB, 0, 0, []byte{0})
	sc := NewScanner(trav, ScanOptions{Strategy: StrategySymbols, Fallback: true})

	rep, err := sc.Scan(context.Background(), testImage(bogus))
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(rep.Sections) != 3 {
		t.Fatalf("len(Sections) = %d, want 3", len(rep.Sections))
	}
	for _, sr := range rep.Sections {
		var tm *elfx.TypeMismatchError
		if !errors.As(sr.Err, &tm) || sr.Result != nil {
			t.Errorf("section %s: Err = %v, Result = %v", sr.Name, sr.Err, sr.Result)
		}
	}
}

func TestScanUnreadableSymbolTableContinues(t *testing.T) {
	trav, _ := newFakeTraverser()
	broken := elfx.NewSymbolTableFunc(".symtab", func() ([]elfx.Symbol, error) {
		return nil, errors.New("length of symbol section is not a multiple of SymSize")
	})
	sink := &recordingSink{}
	sc := NewScanner(trav, ScanOptions{Strategy: StrategySymbols, Fallback: true, Sink: sink})

	rep, err := sc.Scan(context.Background(), testImage(broken))
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if want := []string{"begin", ".init", ".text", ".fini", "end"}; !reflect.DeepEqual(sink.calls, want) {
		t.Errorf("sink calls = %v, want %v", sink.calls, want)
	}
	for _, sr := range rep.Sections {
		var ct *elfx.CorruptSymbolTableError
		if !errors.As(sr.Err, &ct) || sr.Result != nil {
			t.Errorf("section %s: Err = %v, Result = %v", sr.Name, sr.Err, sr.Result)
		}
	}
}

func TestScanDecoderInitAborts(t *testing.T) {
	o := &fakeOpener{fail: errInitFailed}
	trav := NewTraverser(o.open, DefaultOptions("fake"))
	sink := &recordingSink{}
	sc := NewScanner(trav, ScanOptions{Strategy: StrategyLinear, Sink: sink})

	_, err := sc.Scan(context.Background(), testImage(nil))
	if !errors.Is(err, disasm.ErrDecoderInit) {
		t.Fatalf("Scan() error = %v, want ErrDecoderInit", err)
	}
	if len(sink.sections) != 0 {
		t.Errorf("sink received %d sections after an init failure", len(sink.sections))
	}
}

func TestScanParallelMatchesSequential(t *testing.T) {
	symtab := elfx.NewSymbolTable(".symtab", []elfx.Symbol{
		{Name: "a", Value: 0x100}, {Name: "b", Value: 0x300}, {Name: "c", Value: 0x308},
	})
	for _, strategy := range []Strategy{StrategyLinear, StrategySymbols} {
		t.Run(string(strategy), func(t *testing.T) {
			seqTrav, _ := newFakeTraverser()
			seq, err := NewScanner(seqTrav, ScanOptions{Strategy: strategy, Fallback: true}).
				Scan(context.Background(), testImage(symtab))
			if err != nil {
				t.Fatal(err)
			}

			parTrav, o := newFakeTraverser()
			sink := &recordingSink{}
			par, err := NewScanner(parTrav, ScanOptions{Strategy: strategy, Fallback: true, Jobs: 4, Sink: sink}).
				Scan(context.Background(), testImage(symtab))
			if err != nil {
				t.Fatal(err)
			}

			if !reflect.DeepEqual(seq, par) {
				t.Error("parallel report differs from sequential report")
			}
			if want := []string{"begin", ".init", ".text", ".fini", "end"}; !reflect.DeepEqual(sink.calls, want) {
				t.Errorf("sink calls = %v, want %v", sink.calls, want)
			}
			if o.opens != o.closes {
				t.Errorf("opens=%d closes=%d", o.opens, o.closes)
			}
		})
	}
}

func TestScanCanceled(t *testing.T) {
	trav, _ := newFakeTraverser()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewScanner(trav, ScanOptions{}).Scan(ctx, testImage(nil)); !errors.Is(err, context.Canceled) {
		t.Errorf("Scan() error = %v, want context.Canceled", err)
	}
}

func TestScanUnknownStrategy(t *testing.T) {
	trav, _ := newFakeTraverser()
	if _, err := NewScanner(trav, ScanOptions{Strategy: "random"}).Scan(context.Background(), testImage(nil)); err == nil {
		t.Error("Scan() with unknown strategy succeeded")
	}
}

func TestSinkChainPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	first := &recordingSink{}
	chain := NewSinkChain(first, failingSink{err: boom})
	if err := chain.Section(&SectionReport{Name: ".text"}); !errors.Is(err, boom) {
		t.Errorf("Section() error = %v, want boom", err)
	}
	if len(first.sections) != 1 {
		t.Error("first sink did not receive the section")
	}
}

type failingSink struct{ err error }

func (f failingSink) Begin(*Report) error          { return nil }
func (f failingSink) Section(*SectionReport) error { return f.err }
func (f failingSink) End(*Report) error            { return nil }
