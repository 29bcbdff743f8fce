// Package disasm defines a common decoded-instruction representation
// and the arm64 decoder that produces it.
package disasm

import (
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
)

// Inst is a simplified decoded instruction.
type Inst struct {
	VA     uint64 // virtual address of instruction
	Text   string // formatted disassembly string
	Op     string // mnemonic in lowercase
	Args   []string
	Target uint64 // branch/call destination when statically known
	IsCall bool
	IsRet  bool
	// IsBranch covers unconditional and conditional branches but not
	// calls; IsCond narrows it further.
	IsBranch bool
	IsCond   bool
}

// Stream is a linear sequence of instructions.
type Stream []Inst

// IndexOf returns the index of the instruction at va, or -1.
func (s Stream) IndexOf(va uint64) int {
	for i, in := range s {
		if in.VA == va {
			return i
		}
	}
	return -1
}

// DecodeARM64 decodes the given bytes as a run of arm64 instructions
// starting at base. Undecodable words are kept as ".inst" placeholder
// entries so addresses stay dense.
func DecodeARM64(data []byte, base uint64) Stream {
	var out Stream
	for i := 0; i+4 <= len(data); i += 4 {
		va := base + uint64(i)
		inst, err := arm64asm.Decode(data[i : i+4])
		if err != nil {
			word := uint32(data[i]) | uint32(data[i+1])<<8 | uint32(data[i+2])<<16 | uint32(data[i+3])<<24
			out = append(out, Inst{
				VA:   va,
				Op:   ".inst",
				Text: fmt.Sprintf(".inst 0x%08x", word),
			})
			continue
		}
		out = append(out, classify(inst, va))
	}
	return out
}

func classify(inst arm64asm.Inst, va uint64) Inst {
	out := Inst{
		VA:   va,
		Text: arm64asm.GNUSyntax(inst),
		Op:   strings.ToLower(inst.Op.String()),
	}
	for _, a := range inst.Args {
		if a == nil {
			break
		}
		out.Args = append(out.Args, strings.ToLower(a.String()))
	}

	switch inst.Op {
	case arm64asm.BL, arm64asm.BLR:
		out.IsCall = true
	case arm64asm.RET:
		out.IsRet = true
	case arm64asm.B, arm64asm.BR:
		out.IsBranch = true
		// "b.eq" style conditions come through as B with a Cond arg.
		if len(inst.Args) > 0 {
			if _, ok := inst.Args[0].(arm64asm.Cond); ok {
				out.IsCond = true
			}
		}
	case arm64asm.CBZ, arm64asm.CBNZ, arm64asm.TBZ, arm64asm.TBNZ:
		out.IsBranch = true
		out.IsCond = true
	}

	if out.IsBranch || out.IsCall {
		for _, a := range inst.Args {
			if rel, ok := a.(arm64asm.PCRel); ok {
				out.Target = uint64(int64(va) + int64(rel))
				break
			}
		}
	}
	return out
}

// Block is one basic block of a decoded function: instructions
// [First, Last] within the stream.
type Block struct {
	Index int
	Start uint64 // VA of first instruction
	First int    // stream index of first instruction
	Last  int    // stream index of last instruction, inclusive
}

// Blocks partitions a stream into basic blocks. Leaders are the entry,
// every static branch target inside the stream, and every instruction
// following a branch or return.
func Blocks(s Stream) []Block {
	if len(s) == 0 {
		return nil
	}
	leader := make(map[int]bool, len(s))
	leader[0] = true
	for i, in := range s {
		if in.IsBranch || in.IsRet {
			if i+1 < len(s) {
				leader[i+1] = true
			}
			if in.Target != 0 {
				if t := s.IndexOf(in.Target); t >= 0 {
					leader[t] = true
				}
			}
		}
	}

	var blocks []Block
	for i := 0; i < len(s); i++ {
		if !leader[i] {
			continue
		}
		b := Block{Index: len(blocks), Start: s[i].VA, First: i, Last: i}
		for j := i + 1; j < len(s) && !leader[j]; j++ {
			b.Last = j
		}
		blocks = append(blocks, b)
	}
	return blocks
}

// BlockAt returns the block containing the stream index, or -1.
func BlockAt(blocks []Block, idx int) int {
	for _, b := range blocks {
		if idx >= b.First && idx <= b.Last {
			return b.Index
		}
	}
	return -1
}
