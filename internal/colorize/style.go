// Package colorize provides syntax highlighting for the tracker's x86
// disassembly output.
package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
)

func init() {
	_ = DisasmDark
}

// IDA-style theme colors.
const (
	IDAAddress  = "#808080"
	IDAMnemonic = "#FFFFFF"
	IDARegister = "#87CEEB"
	IDANumber   = "#FF80C0"
	IDALabel    = "#FFC800"
	IDAComment  = "#FF8000"
	IDAString   = "#00FF00"
	IDAHexBytes = "#646464"
)

// DisasmDark is a custom IDA Pro-style chroma theme for x86 disassembly.
var DisasmDark = styles.Register(chroma.MustNewStyle("disasm-dark", chroma.StyleEntries{
	chroma.Text:           "#FFFFFF",
	chroma.Background:     "bg:#000000",
	chroma.Comment:        IDAComment,
	chroma.CommentPreproc: IDAComment,

	chroma.Keyword:       IDAMnemonic,
	chroma.KeywordPseudo: IDAMnemonic,
	chroma.Name:          IDARegister,
	chroma.NameBuiltin:   IDARegister,
	chroma.NameVariable:  IDARegister,

	chroma.LiteralNumber:        IDANumber,
	chroma.LiteralNumberHex:     IDANumber,
	chroma.LiteralNumberBin:     IDANumber,
	chroma.LiteralNumberOct:     IDANumber,
	chroma.LiteralNumberInteger: IDANumber,
	chroma.LiteralNumberFloat:   IDANumber,

	chroma.NameLabel:    IDALabel,
	chroma.NameFunction: IDAMnemonic,

	chroma.Operator:    IDAMnemonic,
	chroma.Punctuation: IDAMnemonic,

	chroma.String: IDAString,
}))
