// Package colorize applies syntax highlighting to the line text the
// panes display: assembly for the disassembly kinds, C-ish pseudocode
// for the decompiled kind.
package colorize

import (
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

func assemblyLexer() chroma.Lexer {
	// ARM assembly first, generic gas/nasm as fallbacks.
	for _, name := range []string{"armasm", "gas", "GAS", "nasm"} {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

func pseudoLexer() chroma.Lexer {
	for _, name := range []string{"c", "cpp"} {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

func viewerStyle() *chroma.Style {
	for _, name := range []string{"reflect-dark", "dracula", "monokai"} {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

func terminalFormatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

func render(lexer chroma.Lexer, code string) (string, error) {
	if os.Getenv("REFLECTVIEW_NO_COLOR") != "" || lexer == nil {
		return code, nil
	}
	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}
	var buf strings.Builder
	if err := terminalFormatter().Format(&buf, viewerStyle(), iterator); err != nil {
		return code, err
	}
	return buf.String(), nil
}

// Assembly highlights disassembly or IL text.
func Assembly(code string) (string, error) {
	return render(assemblyLexer(), code)
}

// PseudoC highlights decompiled pseudo-code.
func PseudoC(code string) (string, error) {
	return render(pseudoLexer(), code)
}
