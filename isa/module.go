package isa

import (
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/ezrec/ucboot/internal"
)

// Instruction is one assembled operation.
type Instruction struct {
	Op       Opcode
	Operands []Operand
	LineNo   int // Source line, 0 if unknown.
}

// String returns the assembly source form of the instruction.
func (in Instruction) String() string {
	words := make([]string, 0, 1+len(in.Operands))
	for _, operand := range in.Operands {
		words = append(words, operand.String())
	}
	if len(words) == 0 {
		return in.Op.String()
	}
	return in.Op.String() + " " + strings.Join(words, ", ")
}

// DataItem is one data directive, addressed within its module's data segment.
type DataItem struct {
	Address int
	Value   []byte
}

// Symbol is a label table entry.
type Symbol struct {
	Address int
	Binding Binding
}

// Module is one assembled translation unit.
type Module struct {
	Instructions []Instruction
	Data         []DataItem
	Labels       map[string]Symbol
}

// InstructionCount is the size of the code range.
func (mod *Module) InstructionCount() int {
	return len(mod.Instructions)
}

// DataCount is the size of the data range.
func (mod *Module) DataCount() int {
	return len(mod.Data)
}

// Size is the total address space of the module.
func (mod *Module) Size() int {
	return len(mod.Instructions) + len(mod.Data)
}

// Classify reports which range an address falls into.
// Addresses outside the module are absolute.
func (mod *Module) Classify(address int) Binding {
	switch {
	case address < 0:
		return BIND_ABSOLUTE
	case address < mod.InstructionCount():
		return BIND_CODE
	case address < mod.Size():
		return BIND_DATA
	}
	return BIND_ABSOLUTE
}

// Contains returns true if the address is inside the range its binding claims.
func (mod *Module) Contains(address int, binding Binding) bool {
	switch binding {
	case BIND_CODE, BIND_DATA:
		return mod.Classify(address) == binding
	}
	return true
}

// Lookup finds a label by name.
func (mod *Module) Lookup(name string) (sym Symbol, ok bool) {
	sym, ok = mod.Labels[name]
	return
}

// DataAt returns the data item at a data range address.
func (mod *Module) DataAt(address int) (item *DataItem, ok bool) {
	index := address - mod.InstructionCount()
	if index < 0 || index >= len(mod.Data) {
		return
	}
	return &mod.Data[index], true
}

// Symbols iterates the label table in name order.
func (mod *Module) Symbols() iter.Seq2[string, Symbol] {
	return internal.SortedMap(mod.Labels)
}

// Clone makes a deep copy of the module.
func (mod *Module) Clone() *Module {
	clone := &Module{
		Instructions: make([]Instruction, len(mod.Instructions)),
		Data:         make([]DataItem, len(mod.Data)),
		Labels:       make(map[string]Symbol, len(mod.Labels)),
	}

	for n, in := range mod.Instructions {
		in.Operands = slices.Clone(in.Operands)
		clone.Instructions[n] = in
	}
	for n, item := range mod.Data {
		item.Value = slices.Clone(item.Value)
		clone.Data[n] = item
	}
	maps.Copy(clone.Labels, mod.Labels)

	return clone
}

// Bind resolves named, unresolved address operands against the module's own
// label table. Names not in the table are left unresolved.
func (mod *Module) Bind() {
	for n := range mod.Instructions {
		in := &mod.Instructions[n]
		for m := range in.Operands {
			operand := &in.Operands[m]
			if !operand.IsAddress() || operand.Binding != BIND_UNRESOLVED || len(operand.Label) == 0 {
				continue
			}
			sym, ok := mod.Labels[operand.Label]
			if !ok {
				continue
			}
			operand.Value = sym.Address
			operand.Binding = sym.Binding
		}
	}
}

// Unresolved iterates the address operands still unresolved, by instruction index.
func (mod *Module) Unresolved() iter.Seq2[int, Operand] {
	return func(yield func(int, Operand) bool) {
		for n, in := range mod.Instructions {
			for _, operand := range in.Operands {
				if operand.IsAddress() && operand.Binding == BIND_UNRESOLVED {
					if !yield(n, operand) {
						return
					}
				}
			}
		}
	}
}

// Validate checks the address space invariant for every tagged label and operand.
func (mod *Module) Validate() (err error) {
	for name, sym := range mod.Symbols() {
		if !mod.Contains(sym.Address, sym.Binding) {
			err = &ErrSymbolBinding{Name: name, Symbol: sym}
			return
		}
	}

	for n, item := range mod.Data {
		if item.Address != n {
			err = &ErrDataAddress{Index: n, Address: item.Address}
			return
		}
	}

	for n, in := range mod.Instructions {
		for _, operand := range in.Operands {
			if !operand.IsAddress() {
				continue
			}
			if !mod.Contains(operand.Value, operand.Binding) {
				err = &ErrOperandBinding{Index: n, Operand: operand}
				return
			}
		}
	}

	return
}
