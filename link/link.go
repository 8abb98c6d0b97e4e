// Package link merges assembled modules into one linked program.
//
// Merging appends the library's code after the primary's code, and the
// library's data after the primary's data. Every address tagged as code or
// data is rebased so that it still names the same instruction or data item;
// absolute and unresolved addresses are never touched.
package link

import (
	"errors"

	"github.com/ezrec/ucboot/isa"
)

// Unit is a named module, as handed to Link.
type Unit struct {
	Name   string
	Module *isa.Module
}

// Program is a linked program. It has the shape of a Module, spanning the
// union address space of every merged unit.
type Program struct {
	isa.Module
	Sources []string // Names of the merged units, primary first.
}

// Merge folds library into primary, returning a new module.
//
// Neither input is modified. The result is not a valid input to merge the
// same library again: its addresses are already rebased.
func Merge(primary, library *isa.Module) (merged *isa.Module, err error) {
	base := primary.InstructionCount()
	origInstrCount := base
	origDataCount := primary.DataCount()
	libInstrCount := library.InstructionCount()
	libDataCount := library.DataCount()

	merged = primary.Clone()
	lib := library.Clone()

	newInstrCount := base + libInstrCount

	// Library operands, against the library's own numbering.
	for n := range lib.Instructions {
		in := &lib.Instructions[n]
		for m := range in.Operands {
			operand := &in.Operands[m]
			switch {
			case operand.Binding == isa.BIND_CODE && operand.Value < libInstrCount:
				operand.Value += base
			case operand.Binding == isa.BIND_DATA && operand.Value >= libInstrCount && operand.Value < libInstrCount+libDataCount:
				operand.Value = newInstrCount + origDataCount + (operand.Value - libInstrCount)
			}
		}
	}

	// Primary operands pointing at the primary's data move past the library code.
	for n := range merged.Instructions {
		in := &merged.Instructions[n]
		for m := range in.Operands {
			operand := &in.Operands[m]
			if operand.Binding == isa.BIND_DATA && operand.Value >= origInstrCount && operand.Value < origInstrCount+origDataCount {
				operand.Value = newInstrCount + (operand.Value - origInstrCount)
			}
		}
	}

	merged.Instructions = append(merged.Instructions, lib.Instructions...)

	// Primary data labels, before any library label is inserted.
	for name, sym := range merged.Labels {
		if sym.Binding == isa.BIND_DATA && sym.Address >= origInstrCount && sym.Address < origInstrCount+origDataCount {
			sym.Address = newInstrCount + (sym.Address - origInstrCount)
			merged.Labels[name] = sym
		}
	}

	primaryDataCount := len(merged.Data)
	for name, sym := range lib.Symbols() {
		_, ok := merged.Labels[name]
		if ok {
			err = &ErrSymbolDuplicate{Name: name}
			merged = nil
			return
		}
		switch {
		case sym.Binding == isa.BIND_CODE && sym.Address < libInstrCount:
			sym.Address = base + sym.Address
		case sym.Binding == isa.BIND_DATA && sym.Address >= libInstrCount && sym.Address < libInstrCount+libDataCount:
			sym.Address = newInstrCount + primaryDataCount + (sym.Address - libInstrCount)
		}
		merged.Labels[name] = sym
	}

	for _, item := range lib.Data {
		item.Address += primaryDataCount
		merged.Data = append(merged.Data, item)
	}

	return
}

// Link merges units left to right, the first being the primary.
//
// After each merge, references by name are bound against the combined label
// table, so a primary may call into any library merged after it. References
// to names no unit defines are left unresolved.
func Link(units ...Unit) (prog *Program, err error) {
	if len(units) == 0 {
		err = ErrNoModules
		return
	}

	for _, unit := range units {
		err = unit.Module.Validate()
		if err != nil {
			err = &ErrSymbolRange{Unit: unit.Name, Err: err}
			return
		}
	}

	acc := units[0].Module.Clone()
	acc.Bind()
	sources := []string{units[0].Name}

	for _, unit := range units[1:] {
		acc, err = Merge(acc, unit.Module)
		if err != nil {
			var dup *ErrSymbolDuplicate
			if errors.As(err, &dup) {
				dup.Unit = unit.Name
			}
			return
		}
		acc.Bind()
		sources = append(sources, unit.Name)
	}

	err = acc.Validate()
	if err != nil {
		err = &ErrSymbolRange{Unit: "linked", Err: err}
		return
	}

	prog = &Program{
		Module:  *acc,
		Sources: sources,
	}

	return
}
