package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/cherry-wb/argos/internal/trace"
)

// getAssemblyLexer returns an appropriate assembly lexer with fallbacks.
// nasm is the closest chroma has to Intel-syntax x86; the others are a
// reasonable approximation if it's ever unavailable.
func getAssemblyLexer() chroma.Lexer {
	candidates := []string{"nasm", "gas", "GAS", "Gas"}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

func getDisasmStyle() *chroma.Style {
	candidates := []string{"disasm-dark", "dracula", "monokai"}
	for _, name := range candidates {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

func getTerminalFormatter() chroma.Formatter {
	candidates := []string{"terminal16m", "terminal256"}
	for _, name := range candidates {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// IsDisabled returns true if colors are disabled via environment.
func IsDisabled() bool {
	return os.Getenv("SHELLTRACK_NO_COLOR") != "" || os.Getenv("NO_COLOR") != ""
}

// Instruction colorizes one disassembled instruction using Chroma.
func Instruction(insn string) string {
	if IsDisabled() {
		return insn
	}

	lexer := getAssemblyLexer()
	if lexer == nil {
		return insn
	}

	_ = DisasmDark // force registration
	style := getDisasmStyle()
	formatter := getTerminalFormatter()

	iterator, err := lexer.Tokenise(nil, insn)
	if err != nil {
		return insn
	}

	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return insn
	}

	return strings.TrimSuffix(buf.String(), "\n")
}

// Classify extracts the instruction-category tag for one trace log line
// (pc\tdisassembly\t...) by enriching a trace.Event built from its
// disassembly field. Lines with no tab-separated disassembly column (e.g.
// a "Stage N -> M" transition line) classify as the zero Tag.
func Classify(line string) trace.Tag {
	fields := strings.SplitN(line, "\t", 3)
	if len(fields) < 2 {
		return ""
	}
	ev := trace.NewEvent(0, strings.TrimSpace(fields[1]), "")
	trace.DefaultEnricher(ev)
	return ev.Tags.Primary()
}

// TraceLine renders one trace log line for the dashboard: a colored
// category tag (see Classify), when classifiable, followed by the
// syntax-highlighted disassembly line.
func TraceLine(line string) string {
	highlighted := Instruction(line)
	tag := Classify(line)
	if tag == "" {
		return highlighted
	}
	return Tag("#"+string(tag)) + " " + highlighted
}

// Address formats a guest address in yellow.
func Address(addr uint32) string {
	if IsDisabled() {
		return fmt.Sprintf("%08X", addr)
	}
	return fmt.Sprintf("\033[38;2;255;200;0m%08X\033[0m", addr)
}

// Tag formats a hashtag (instruction category) in light pink.
func Tag(tag string) string {
	if IsDisabled() {
		return tag
	}
	return fmt.Sprintf("\033[38;2;255;180;200m%s\033[0m", tag)
}

// FuncName formats a resolved import name in yellow (IDA-style labels).
func FuncName(name string) string {
	if IsDisabled() {
		return name
	}
	return fmt.Sprintf("\033[38;2;255;200;0m%s\033[0m", name)
}

// Tainted formats a taint-origin stage number in red, for high visibility
// against an otherwise quiet trace.
func Tainted(s string) string {
	if IsDisabled() {
		return s
	}
	return fmt.Sprintf("\033[38;2;255;80;80m%s\033[0m", s)
}

// Border formats border characters in dark gray.
func Border(s string) string {
	if IsDisabled() {
		return s
	}
	return fmt.Sprintf("\033[38;2;80;80;80m%s\033[0m", s)
}

// HexBytes formats hex opcode bytes in light gray.
func HexBytes(s string) string {
	if IsDisabled() {
		return s
	}
	return fmt.Sprintf("\033[38;2;180;180;180m%s\033[0m", s)
}

// Header formats header text in blue (IDA-style).
func Header(s string) string {
	if IsDisabled() {
		return s
	}
	return fmt.Sprintf("\033[38;2;86;156;214m%s\033[0m", s)
}

// Error formats error messages in pink.
func Error(s string) string {
	if IsDisabled() {
		return s
	}
	return fmt.Sprintf("\033[38;2;255;128;192m%s\033[0m", s)
}
