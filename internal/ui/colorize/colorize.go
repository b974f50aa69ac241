// Package colorize highlights disassembly listings for terminals.
package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// NoColorEnv disables all colorization when set to a non-empty value.
const NoColorEnv = "CODESCAN_NO_COLOR"

// Enabled reports whether colorization is on.
func Enabled() bool {
	return os.Getenv(NoColorEnv) == ""
}

// getAssemblyLexer returns an appropriate assembly lexer with fallbacks
func getAssemblyLexer() chroma.Lexer {
	candidates := []string{"armasm", "gas", "nasm"}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

// getDisasmStyle returns the disassembly style with fallbacks
func getDisasmStyle() *chroma.Style {
	candidates := []string{DisasmDark.Name, "dracula", "monokai"}
	for _, name := range candidates {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

// getTerminalFormatter returns an appropriate terminal formatter
func getTerminalFormatter() chroma.Formatter {
	candidates := []string{"terminal16m", "terminal256"}
	for _, name := range candidates {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// ColorizeAssembly applies syntax highlighting to a block of assembly.
func ColorizeAssembly(code string) (string, error) {
	if !Enabled() {
		return code, nil
	}

	lexer := getAssemblyLexer()
	if lexer == nil {
		return code, nil
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}

	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getDisasmStyle(), iterator); err != nil {
		return code, err
	}
	return buf.String(), nil
}

const (
	gray   = "\033[38;2;79;79;79m"
	gold   = "\033[38;2;255;215;0m"
	violet = "\033[38;2;235;194;237m"
	reset  = "\033[0m"
)

// ColorizeInstructionLine colorizes one listing line. Instruction lines
// have the form "0x<addr>:\t<mnemonic>\t\t<operands>"; label lines end
// with a colon; anything else is treated as an annotation.
func ColorizeInstructionLine(line string) string {
	if !Enabled() || strings.TrimSpace(line) == "" {
		return line
	}

	addr, rest, ok := strings.Cut(line, ":\t")
	if ok && isAddress(addr) {
		return fmt.Sprintf("%s%s:%s\t%s", gray, addr, reset, colorizeFullLine(rest))
	}
	if strings.HasSuffix(line, ":") && !strings.ContainsAny(line, " \t") {
		return gold + line + reset
	}
	return violet + line + reset
}

func isAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) == 2 {
		return false
	}
	for i := 2; i < len(s); i++ {
		if !isHexChar(s[i]) {
			return false
		}
	}
	return true
}

// isHexChar checks if a character is a hexadecimal digit
func isHexChar(ch byte) bool {
	return (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}

// colorizeFullLine uses Chroma to colorize an assembly line
func colorizeFullLine(line string) string {
	lexer := getAssemblyLexer()
	if lexer == nil {
		return line
	}

	iterator, err := lexer.Tokenise(nil, line)
	if err != nil {
		return line
	}

	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getDisasmStyle(), iterator); err != nil {
		return line
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// StripANSI removes ANSI escape sequences.
func StripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for _, r := range s {
		if r == '\x1b' {
			inEscape = true
		} else if inEscape {
			if r == 'm' {
				inEscape = false
			}
		} else {
			result.WriteRune(r)
		}
	}

	return result.String()
}

// VisibleWidth returns the number of runes outside escape sequences.
func VisibleWidth(s string) int {
	return len([]rune(StripANSI(s)))
}
