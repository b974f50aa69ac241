// Package analysis measures control flow in executable sections: it
// classifies decoded instructions as basic-block boundaries, partitions
// sections by symbol entry points, and aggregates per-section statistics.
package analysis

// Strategy selects how a section is traversed.
type Strategy string

const (
	// StrategyLinear decodes the section front to back.
	StrategyLinear Strategy = "linear"

	// StrategySymbols decodes each region between consecutive symbol
	// entry addresses independently.
	StrategySymbols Strategy = "symbols"
)

const (
	// SymbolTableName is the section consulted for entry addresses.
	SymbolTableName = ".symtab"

	// DefaultJobs is the number of sections scanned concurrently.
	DefaultJobs = 1
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategyLinear || s == StrategySymbols
}
