// Package elfx opens ELF binaries and exposes the function table and
// instruction bytes the viewer needs: named function symbols sorted by
// address, and virtual-address reads out of the mapped file.
package elfx

import (
	"debug/elf"
	"fmt"
	"os"
	"sort"
	"strings"
	"syscall"
)

// Func is one function symbol with a resolved extent. End is estimated
// from the symbol size when present, otherwise from the next symbol.
type Func struct {
	Name  string
	Start uint64
	End   uint64
}

// Seg is one PT_LOAD mapping used for VA translation.
type Seg struct {
	Vaddr, Off, Filesz uint64
	Flags              elf.ProgFlag
}

// Section records the location of a named section.
type Section struct {
	Name          string
	VA, Off, Size uint64
}

// Image is an opened, memory-mapped ELF binary.
type Image struct {
	Path  string
	File  *elf.File
	All   []byte
	Loads []Seg
	Text  Section
	Funcs []Func
	f     *os.File
}

// Open maps the binary and collects its function table.
func Open(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}

	of, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open file: %w", err)
	}

	fi, err := of.Stat()
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	all, err := syscall.Mmap(int(of.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("mmap file: %w", err)
	}

	im := &Image{Path: path, File: f, All: all, f: of}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		im.Loads = append(im.Loads, Seg{
			Vaddr:  p.Vaddr,
			Off:    p.Off,
			Filesz: p.Filesz,
			Flags:  p.Flags,
		})
	}

	for _, s := range f.Sections {
		if s.Name == ".text" {
			im.Text = Section{s.Name, s.Addr, s.Offset, s.Size}
			break
		}
	}
	// Stripped binaries: fall back to the executable load segment.
	if im.Text.Size == 0 {
		for _, l := range im.Loads {
			if l.Flags&elf.PF_X != 0 && l.Filesz > 0 {
				im.Text = Section{"LOAD(exec)", l.Vaddr, l.Off, l.Filesz}
				break
			}
		}
	}

	im.collectFuncs()
	return im, nil
}

// collectFuncs merges static and dynamic STT_FUNC symbols, dedupes by
// address, and fixes up extents.
func (im *Image) collectFuncs() {
	byAddr := make(map[uint64]Func)

	add := func(syms []elf.Symbol) {
		for _, sym := range syms {
			if elf.ST_TYPE(sym.Info) != elf.STT_FUNC {
				continue
			}
			if sym.Name == "" || sym.Value == 0 || strings.HasPrefix(sym.Name, "$") {
				continue
			}
			fn := Func{Name: sym.Name, Start: sym.Value, End: sym.Value + sym.Size}
			if prev, ok := byAddr[sym.Value]; ok && prev.End >= fn.End {
				continue
			}
			byAddr[sym.Value] = fn
		}
	}

	if syms, err := im.File.Symbols(); err == nil {
		add(syms)
	}
	if dyns, err := im.File.DynamicSymbols(); err == nil {
		add(dyns)
	}

	funcs := make([]Func, 0, len(byAddr))
	for _, fn := range byAddr {
		funcs = append(funcs, fn)
	}
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].Start < funcs[j].Start })

	// Zero-size symbols extend to the next function or the end of text.
	for i := range funcs {
		if funcs[i].End > funcs[i].Start {
			continue
		}
		if i+1 < len(funcs) {
			funcs[i].End = funcs[i+1].Start
		} else if im.Text.Size != 0 {
			funcs[i].End = im.Text.VA + im.Text.Size
		} else {
			funcs[i].End = funcs[i].Start
		}
	}
	im.Funcs = funcs
}

// FuncAt returns the function covering va.
func (im *Image) FuncAt(va uint64) (Func, bool) {
	i := sort.Search(len(im.Funcs), func(i int) bool { return im.Funcs[i].Start > va })
	if i == 0 {
		return Func{}, false
	}
	fn := im.Funcs[i-1]
	if va >= fn.Start && va < fn.End {
		return fn, true
	}
	return Func{}, false
}

// FuncByName returns the first function with the given symbol name.
func (im *Image) FuncByName(name string) (Func, bool) {
	for _, fn := range im.Funcs {
		if fn.Name == name {
			return fn, true
		}
	}
	return Func{}, false
}

// VA2Off translates a virtual address into a file offset using the
// PT_LOAD segments. It returns false if va is unmapped.
func (im *Image) VA2Off(va uint64) (uint64, bool) {
	for _, l := range im.Loads {
		if va >= l.Vaddr && va < l.Vaddr+l.Filesz {
			return l.Off + (va - l.Vaddr), true
		}
	}
	return 0, false
}

// ReadVA returns size bytes of the mapped file at the virtual address,
// or false if the range is unmapped or out of bounds.
func (im *Image) ReadVA(va uint64, size int) ([]byte, bool) {
	if size <= 0 {
		return []byte{}, true
	}
	off, ok := im.VA2Off(va)
	if !ok {
		return nil, false
	}
	end := off + uint64(size)
	if end > uint64(len(im.All)) {
		return nil, false
	}
	return im.All[off:end], true
}

// InText reports whether va lies within the executable region.
func (im *Image) InText(va uint64) bool {
	return im.Text.Size != 0 && va >= im.Text.VA && va < im.Text.VA+im.Text.Size
}

// Close unmaps the file and closes the underlying handles.
func (im *Image) Close() error {
	var err1, err2 error
	if im.All != nil {
		err1 = syscall.Munmap(im.All)
		im.All = nil
	}
	if im.f != nil {
		err2 = im.f.Close()
		im.f = nil
	}
	if im.File != nil {
		if err3 := im.File.Close(); err3 != nil && err2 == nil {
			err2 = err3
		}
		im.File = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}
