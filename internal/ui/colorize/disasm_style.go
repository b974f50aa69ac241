package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
)

// DisasmDark is the listing style: white mnemonics, teal registers,
// pink immediates and gold labels on a dark background.
var DisasmDark = styles.Register(chroma.MustNewStyle("codescan-dark", chroma.StyleEntries{
	chroma.Text:           "#FFFFFF",
	chroma.Background:     "bg:#1e1e1e",
	chroma.Comment:        "#8A8A8A",
	chroma.CommentPreproc: "#8A8A8A",

	chroma.Keyword:       "#FFFFFF",
	chroma.KeywordPseudo: "#B0B0B0", // .word data
	chroma.Name:          "#7C9C9D",
	chroma.NameBuiltin:   "#7C9C9D", // sp, lr, pc
	chroma.NameVariable:  "#7C9C9D",
	chroma.NameFunction:  "#FFFFFF",
	chroma.NameLabel:     "#FFD700",

	chroma.LiteralNumber:        "#FF5F87",
	chroma.LiteralNumberHex:     "#FF5F87",
	chroma.LiteralNumberInteger: "#FF5F87",

	chroma.Operator:    "#FFFFFF",
	chroma.Punctuation: "#FFFFFF",
	chroma.String:      "#EACD53",
}))
