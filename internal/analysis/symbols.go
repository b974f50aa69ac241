package analysis

import (
	"fmt"
	"sort"
	"sync"

	"codescan/internal/elfx"

	"github.com/ianlancetaylor/demangle"
)

// Entry is a code entry address with an optional label.
type Entry struct {
	Addr uint64
	Name string
}

// Entries is an ascending, duplicate-free set of entry addresses.
type Entries []Entry

// Addrs returns the entry addresses.
func (e Entries) Addrs() []uint64 {
	out := make([]uint64, len(e))
	for i, x := range e {
		out[i] = x.Addr
	}
	return out
}

// SymbolLookup finds sections by name.
type SymbolLookup interface {
	Section(name string) *elfx.Section
}

// symbolCache provides thread-safe caching for demangled names.
type symbolCache struct {
	mu                sync.RWMutex
	demangleCache     map[string]string
	demangledHitCount map[string]int
	cacheEnabled      bool
}

var cache = &symbolCache{
	demangleCache:     make(map[string]string),
	demangledHitCount: make(map[string]int),
	cacheEnabled:      true,
}

// SetDemangleCache turns the demangle cache on or off.
func SetDemangleCache(enabled bool) {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	cache.cacheEnabled = enabled
}

// CachedDemangle performs demangling with caching support.
func CachedDemangle(mangled string) string {
	cache.mu.RLock()
	enabled := cache.cacheEnabled
	if cached, exists := cache.demangleCache[mangled]; enabled && exists {
		cache.mu.RUnlock()
		cache.mu.Lock()
		cache.demangledHitCount[mangled]++
		cache.mu.Unlock()
		return cached
	}
	cache.mu.RUnlock()

	demangled := demangle.Filter(mangled, demangle.NoClones)
	if !enabled {
		return demangled
	}

	cache.mu.Lock()
	cache.demangleCache[mangled] = demangled
	cache.demangledHitCount[mangled] = 1
	cache.mu.Unlock()
	return demangled
}

// GetDemangleCacheStats returns statistics about the demangle cache.
func GetDemangleCacheStats() (totalSymbols int, cacheHits int, topSymbols []string) {
	cache.mu.RLock()
	defer cache.mu.RUnlock()

	totalHits := 0
	type symbolHit struct {
		symbol string
		count  int
	}
	var symbols []symbolHit
	for sym, count := range cache.demangledHitCount {
		totalHits += count
		symbols = append(symbols, symbolHit{sym, count})
	}
	sort.Slice(symbols, func(i, j int) bool {
		if symbols[i].count != symbols[j].count {
			return symbols[i].count > symbols[j].count
		}
		return symbols[i].symbol < symbols[j].symbol
	})

	var top []string
	for i := 0; i < 5 && i < len(symbols); i++ {
		top = append(top, fmt.Sprintf("%s (%d hits)", symbols[i].symbol, symbols[i].count))
	}

	return len(cache.demangleCache), totalHits - len(cache.demangleCache), top
}

// EntriesForSection returns the symbol addresses inside sec, sorted and
// deduplicated. A missing symbol table yields an empty set and no error;
// a ".symtab" that is not a symbol table yields *elfx.TypeMismatchError.
func EntriesForSection(img SymbolLookup, sec *elfx.Section) (Entries, error) {
	st := img.Section(SymbolTableName)
	if st == nil {
		return nil, nil
	}
	syms, err := st.AsSymbolTable()
	if err != nil {
		return nil, err
	}
	return entriesIn(syms, sec.Addr, sec.End()), nil
}

func entriesIn(syms []elfx.Symbol, start, end uint64) Entries {
	var in []elfx.Symbol
	for _, s := range syms {
		if s.Value >= start && s.Value < end {
			in = append(in, s)
		}
	}
	sort.SliceStable(in, func(i, j int) bool { return in[i].Value < in[j].Value })

	var out Entries
	for _, s := range in {
		if n := len(out); n > 0 && out[n-1].Addr == s.Value {
			if out[n-1].Name == "" && s.Name != "" {
				out[n-1].Name = CachedDemangle(s.Name)
			}
			continue
		}
		e := Entry{Addr: s.Value}
		if s.Name != "" {
			e.Name = CachedDemangle(s.Name)
		}
		out = append(out, e)
	}
	return out
}
