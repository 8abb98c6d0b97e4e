package isa

import (
	"fmt"
)

// OperandKind is the variant tag of an Operand.
type OperandKind int

const (
	OPERAND_IMMEDIATE = OperandKind(0) // imm
	OPERAND_REGISTER  = OperandKind(1) // reg
	OPERAND_LABEL     = OperandKind(2) // label
	OPERAND_MEMORY    = OperandKind(3) // mem
	OPERAND_INDIRECT  = OperandKind(4) // ind
)

var operandKindName = [...]string{"imm", "reg", "label", "mem", "ind"}

func (kind OperandKind) String() string {
	if kind < 0 || int(kind) >= len(operandKindName) {
		return "kind?"
	}
	return operandKindName[kind]
}

// Binding tags what an address refers to.
type Binding int

const (
	BIND_UNRESOLVED = Binding(0) // unresolved
	BIND_CODE       = Binding(1) // code
	BIND_DATA       = Binding(2) // data
	BIND_ABSOLUTE   = Binding(3) // absolute
)

var bindingName = [...]string{"unresolved", "code", "data", "absolute"}

func (bind Binding) String() string {
	if bind < 0 || int(bind) >= len(bindingName) {
		return "binding?"
	}
	return bindingName[bind]
}

// Resolved returns true if the binding names a concrete module address.
func (bind Binding) Resolved() bool {
	return bind == BIND_CODE || bind == BIND_DATA
}

// Register is a general purpose register index.
type Register int

const (
	REG_R0 = Register(0) // r0
	REG_R1 = Register(1) // r1
	REG_R2 = Register(2) // r2
	REG_R3 = Register(3) // r3
	REG_R4 = Register(4) // r4
	REG_R5 = Register(5) // r5
)

// REGISTER_COUNT is the number of general purpose registers.
const REGISTER_COUNT = 6

var registerMap = map[string]Register{
	"r0": REG_R0,
	"r1": REG_R1,
	"r2": REG_R2,
	"r3": REG_R3,
	"r4": REG_R4,
	"r5": REG_R5,
}

func (reg Register) String() string {
	return fmt.Sprintf("r%d", int(reg))
}

// Operand is a tagged instruction operand.
//
// Value is the immediate, the register index, or the address, depending on
// Kind. Label is the symbolic name of a label or memory operand, if it had
// one. Binding applies to label and memory operands only.
type Operand struct {
	Kind    OperandKind
	Value   int
	Label   string
	Binding Binding
}

// MakeImmediate creates an immediate operand.
func MakeImmediate(value int) Operand {
	return Operand{Kind: OPERAND_IMMEDIATE, Value: value}
}

// MakeRegister creates a register operand.
func MakeRegister(reg Register) Operand {
	return Operand{Kind: OPERAND_REGISTER, Value: int(reg)}
}

// MakeIndirect creates a register indirect memory operand.
func MakeIndirect(reg Register) Operand {
	return Operand{Kind: OPERAND_INDIRECT, Value: int(reg)}
}

// MakeLabel creates an unresolved label reference by name.
func MakeLabel(name string) Operand {
	return Operand{Kind: OPERAND_LABEL, Label: name}
}

// MakeAddress creates a label reference already resolved to an address.
func MakeAddress(address int, binding Binding) Operand {
	return Operand{Kind: OPERAND_LABEL, Value: address, Binding: binding}
}

// MakeMemory creates a memory operand, by name or by address.
func MakeMemory(name string, address int, binding Binding) Operand {
	return Operand{Kind: OPERAND_MEMORY, Label: name, Value: address, Binding: binding}
}

// IsAddress returns true for operands that carry an address.
func (op Operand) IsAddress() bool {
	return op.Kind == OPERAND_LABEL || op.Kind == OPERAND_MEMORY
}

// String returns the assembly source form of the operand.
func (op Operand) String() string {
	target := func() string {
		if len(op.Label) != 0 {
			return op.Label
		}
		if op.Binding == BIND_UNRESOLVED {
			return "?"
		}
		return fmt.Sprintf("%#x", op.Value)
	}

	switch op.Kind {
	case OPERAND_IMMEDIATE:
		return fmt.Sprintf("%d", op.Value)
	case OPERAND_REGISTER:
		return Register(op.Value).String()
	case OPERAND_INDIRECT:
		return "[" + Register(op.Value).String() + "]"
	case OPERAND_LABEL:
		return target()
	case OPERAND_MEMORY:
		return "[" + target() + "]"
	}

	return "?"
}
