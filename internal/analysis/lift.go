package analysis

import (
	"fmt"
	"strings"

	"reflectview/internal/disasm"
	"reflectview/internal/ilkind"
	"reflectview/internal/viewloc"
)

// Line is one rendered line of a function in some representation, with
// token metadata for highlight tracking. Addr is the address of the
// machine instruction the line derives from; several lines may share
// one, and collapsing forms may skip some.
type Line struct {
	Addr   uint64
	Node   int // basic block index, -1 for linear-only forms
	Text   string
	Tokens []viewloc.TokenState
}

// lift produces the line table for one representation of a decoded
// function. The lifting is deliberately naive; it exists to give each
// IL kind a distinct, navigable rendering, not to decompile well.
func lift(kind ilkind.Kind, name string, stream disasm.Stream, blocks []disasm.Block) []Line {
	switch kind {
	case ilkind.NormalGraph:
		return liftAsm(stream, blocks, true)
	case ilkind.LinearDisassembly:
		return liftAsm(stream, blocks, false)
	case ilkind.LiftedIL:
		return liftLow(stream, blocks, false, false)
	case ilkind.LowLevelIL:
		return liftLow(stream, blocks, true, false)
	case ilkind.LowLevelILSSA:
		return liftLow(stream, blocks, true, true)
	case ilkind.MediumLevelIL:
		return liftMedium(stream, blocks, false)
	case ilkind.MediumLevelILSSA:
		return liftMedium(stream, blocks, true)
	case ilkind.HighLevelIL:
		return liftHigh(stream, blocks)
	case ilkind.DecompiledText:
		return liftDecompiled(name, stream, blocks)
	}
	return nil
}

func nodeFor(blocks []disasm.Block, idx int, graph bool) int {
	if !graph {
		return -1
	}
	return disasm.BlockAt(blocks, idx)
}

func liftAsm(stream disasm.Stream, blocks []disasm.Block, graph bool) []Line {
	lines := make([]Line, 0, len(stream))
	for i, in := range stream {
		l := Line{
			Addr: in.VA,
			Node: nodeFor(blocks, i, graph),
			Text: fmt.Sprintf("%08x  %s", in.VA, in.Text),
		}
		l.Tokens = append(l.Tokens, viewloc.TokenState{
			Kind: viewloc.TokenMnemonic, Text: in.Op, Addr: in.VA, Operand: -1,
		})
		for oi, arg := range in.Args {
			l.Tokens = append(l.Tokens, argToken(arg, in, oi))
		}
		lines = append(lines, l)
	}
	return lines
}

func argToken(arg string, in disasm.Inst, operand int) viewloc.TokenState {
	tok := viewloc.TokenState{Text: arg, Operand: operand}
	switch {
	case strings.HasPrefix(arg, "#"):
		tok.Kind = viewloc.TokenImmediate
	case (in.IsBranch || in.IsCall) && in.Target != 0 && strings.HasPrefix(arg, "."):
		tok.Kind = viewloc.TokenAddress
		tok.Addr = in.Target
		tok.Text = fmt.Sprintf("0x%x", in.Target)
	default:
		tok.Kind = viewloc.TokenRegister
	}
	return tok
}

// pseudo renders one instruction as a low-level pseudo operation.
func pseudo(in disasm.Inst) string {
	a := func(i int) string {
		if i < len(in.Args) {
			return in.Args[i]
		}
		return "?"
	}
	switch {
	case in.IsRet:
		return "return"
	case in.IsCall:
		if in.Target != 0 {
			return fmt.Sprintf("call(0x%x)", in.Target)
		}
		return fmt.Sprintf("call(%s)", a(0))
	case in.IsBranch && in.IsCond:
		return fmt.Sprintf("if (%s) goto 0x%x", a(0), in.Target)
	case in.IsBranch:
		return fmt.Sprintf("goto 0x%x", in.Target)
	}
	switch in.Op {
	case "mov", "movz", "movk", "fmov":
		return fmt.Sprintf("%s = %s", a(0), a(1))
	case "add", "adds":
		return fmt.Sprintf("%s = %s + %s", a(0), a(1), a(2))
	case "sub", "subs":
		return fmt.Sprintf("%s = %s - %s", a(0), a(1), a(2))
	case "mul":
		return fmt.Sprintf("%s = %s * %s", a(0), a(1), a(2))
	case "and", "ands":
		return fmt.Sprintf("%s = %s & %s", a(0), a(1), a(2))
	case "orr":
		return fmt.Sprintf("%s = %s | %s", a(0), a(1), a(2))
	case "eor":
		return fmt.Sprintf("%s = %s ^ %s", a(0), a(1), a(2))
	case "lsl":
		return fmt.Sprintf("%s = %s << %s", a(0), a(1), a(2))
	case "lsr", "asr":
		return fmt.Sprintf("%s = %s >> %s", a(0), a(1), a(2))
	case "ldr", "ldrb", "ldrh", "ldrsw", "ldur":
		return fmt.Sprintf("%s = %s", a(0), a(1))
	case "str", "strb", "strh", "stur":
		return fmt.Sprintf("%s = %s", a(1), a(0))
	case "cmp":
		return fmt.Sprintf("flags = %s - %s", a(0), a(1))
	case "cmn":
		return fmt.Sprintf("flags = %s + %s", a(0), a(1))
	case "adrp", "adr":
		return fmt.Sprintf("%s = %s", a(0), a(1))
	case "nop":
		return "nop"
	}
	return fmt.Sprintf("%s(%s)", in.Op, strings.Join(in.Args, ", "))
}

func liftLow(stream disasm.Stream, blocks []disasm.Block, dropNops, ssa bool) []Line {
	defCount := map[string]int{}
	var lines []Line
	for i, in := range stream {
		if dropNops && (in.Op == "nop" || in.Op == "hint") {
			continue
		}
		text := pseudo(in)
		l := Line{Addr: in.VA, Node: nodeFor(blocks, i, true)}
		var toks []viewloc.TokenState
		for oi, arg := range in.Args {
			toks = append(toks, argToken(arg, in, oi))
		}
		if ssa {
			// Version the destination register; uses keep their last
			// version. Naive but stable within a function.
			text, toks = ssaRename(text, toks, defCount)
		}
		l.Text = fmt.Sprintf("%08x  %s", in.VA, text)
		l.Tokens = toks
		lines = append(lines, l)
	}
	return lines
}

func ssaRename(text string, toks []viewloc.TokenState, defCount map[string]int) (string, []viewloc.TokenState) {
	eq := strings.Index(text, " = ")
	if eq < 0 {
		return text, toks
	}
	dst := text[:eq]
	if strings.ContainsAny(dst, "[ (") {
		return text, toks
	}
	defCount[dst]++
	renamed := fmt.Sprintf("%s#%d%s", dst, defCount[dst], text[eq:])
	out := make([]viewloc.TokenState, len(toks))
	for i, t := range toks {
		if t.Kind == viewloc.TokenRegister && t.Text == dst {
			t.Text = fmt.Sprintf("%s#%d", dst, defCount[dst])
		}
		out[i] = t
	}
	return renamed, out
}

// liftMedium renames registers to variables in first-use order and
// drops instructions with no data effect.
func liftMedium(stream disasm.Stream, blocks []disasm.Block, ssa bool) []Line {
	vars := map[string]string{}
	varName := func(reg string) string {
		if v, ok := vars[reg]; ok {
			return v
		}
		v := fmt.Sprintf("var_%d", len(vars))
		vars[reg] = v
		return v
	}
	defCount := map[string]int{}

	var lines []Line
	for i, in := range stream {
		if in.Op == "nop" || in.Op == "hint" {
			continue
		}
		text := pseudo(in)
		var toks []viewloc.TokenState
		for _, arg := range in.Args {
			if !isRegister(arg) {
				continue
			}
			v := varName(arg)
			text = replaceWord(text, arg, v)
			toks = append(toks, viewloc.TokenState{Kind: viewloc.TokenVariable, Text: v, Operand: len(toks)})
		}
		if ssa {
			text, toks = ssaRename(text, toks, defCount)
		}
		lines = append(lines, Line{
			Addr:   in.VA,
			Node:   nodeFor(blocks, i, true),
			Text:   fmt.Sprintf("%08x  %s", in.VA, text),
			Tokens: toks,
		})
	}
	return lines
}

// liftHigh structures the function as labeled blocks of medium-level
// statements.
func liftHigh(stream disasm.Stream, blocks []disasm.Block) []Line {
	medium := liftMedium(stream, blocks, false)
	var lines []Line
	lastNode := -1
	for _, m := range medium {
		if m.Node != lastNode {
			lines = append(lines, Line{
				Addr: m.Addr,
				Node: m.Node,
				Text: fmt.Sprintf("block_%d:", m.Node),
			})
			lastNode = m.Node
		}
		stmt := m
		stmt.Text = "    " + stripAddr(m.Text)
		lines = append(lines, stmt)
	}
	return lines
}

// liftDecompiled wraps the high-level body in a C-like function.
func liftDecompiled(name string, stream disasm.Stream, blocks []disasm.Block) []Line {
	var lines []Line
	start := uint64(0)
	if len(stream) > 0 {
		start = stream[0].VA
	}
	lines = append(lines, Line{Addr: start, Node: -1, Text: fmt.Sprintf("int64_t %s()", name)})
	lines = append(lines, Line{Addr: start, Node: -1, Text: "{"})
	for _, l := range liftHigh(stream, blocks) {
		l.Node = -1
		l.Text = "    " + l.Text
		lines = append(lines, l)
	}
	lines = append(lines, Line{Addr: start, Node: -1, Text: "}"})
	return lines
}

func stripAddr(text string) string {
	if len(text) > 10 && text[8] == ' ' && text[9] == ' ' {
		return text[10:]
	}
	return text
}

func isRegister(arg string) bool {
	if arg == "sp" || arg == "lr" || arg == "fp" || arg == "xzr" || arg == "wzr" {
		return true
	}
	if len(arg) < 2 {
		return false
	}
	switch arg[0] {
	case 'x', 'w', 'v', 'd', 's', 'q':
	default:
		return false
	}
	for _, r := range arg[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// replaceWord substitutes whole-word occurrences of old with new.
func replaceWord(text, old, new string) string {
	var b strings.Builder
	for i := 0; i < len(text); {
		j := strings.Index(text[i:], old)
		if j < 0 {
			b.WriteString(text[i:])
			break
		}
		j += i
		end := j + len(old)
		beforeOK := j == 0 || !isWordChar(text[j-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		b.WriteString(text[i:j])
		if beforeOK && afterOK {
			b.WriteString(new)
		} else {
			b.WriteString(old)
		}
		i = end
	}
	return b.String()
}

func isWordChar(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
