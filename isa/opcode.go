package isa

import (
	"strings"
)

// Opcode is an instruction operation.
type Opcode int

const (
	OP_NOP   = Opcode(0)  // nop
	OP_MOV   = Opcode(1)  // mov
	OP_LOAD  = Opcode(2)  // load
	OP_LOADB = Opcode(3)  // loadb
	OP_STORE = Opcode(4)  // store
	OP_ADD   = Opcode(5)  // add
	OP_SUB   = Opcode(6)  // sub
	OP_MUL   = Opcode(7)  // mul
	OP_AND   = Opcode(8)  // and
	OP_OR    = Opcode(9)  // or
	OP_XOR   = Opcode(10) // xor
	OP_SHL   = Opcode(11) // shl
	OP_SHR   = Opcode(12) // shr
	OP_CMP   = Opcode(13) // cmp
	OP_INC   = Opcode(14) // inc
	OP_DEC   = Opcode(15) // dec
	OP_PUSH  = Opcode(16) // push
	OP_POP   = Opcode(17) // pop
	OP_OUT   = Opcode(18) // out
	OP_HALT  = Opcode(19) // halt
	OP_RET   = Opcode(20) // ret
	OP_CALL  = Opcode(21) // call
	OP_JMP   = Opcode(22) // jmp
	OP_JE    = Opcode(23) // je
	OP_JNE   = Opcode(24) // jne
	OP_JL    = Opcode(25) // jl
	OP_JG    = Opcode(26) // jg
	OP_JLE   = Opcode(27) // jle
	OP_JGE   = Opcode(28) // jge
)

var opcodeName = [...]string{
	OP_NOP:   "nop",
	OP_MOV:   "mov",
	OP_LOAD:  "load",
	OP_LOADB: "loadb",
	OP_STORE: "store",
	OP_ADD:   "add",
	OP_SUB:   "sub",
	OP_MUL:   "mul",
	OP_AND:   "and",
	OP_OR:    "or",
	OP_XOR:   "xor",
	OP_SHL:   "shl",
	OP_SHR:   "shr",
	OP_CMP:   "cmp",
	OP_INC:   "inc",
	OP_DEC:   "dec",
	OP_PUSH:  "push",
	OP_POP:   "pop",
	OP_OUT:   "out",
	OP_HALT:  "halt",
	OP_RET:   "ret",
	OP_CALL:  "call",
	OP_JMP:   "jmp",
	OP_JE:    "je",
	OP_JNE:   "jne",
	OP_JL:    "jl",
	OP_JG:    "jg",
	OP_JLE:   "jle",
	OP_JGE:   "jge",
}

// OP_COUNT is the number of defined opcodes.
const OP_COUNT = len(opcodeName)

var opcodeMap = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeName))
	for op, name := range opcodeName {
		m[name] = Opcode(op)
	}
	return m
}()

// ParseOpcode returns the opcode for a mnemonic, ignoring case.
func ParseOpcode(mnemonic string) (op Opcode, ok bool) {
	op, ok = opcodeMap[strings.ToLower(mnemonic)]
	return
}

func (op Opcode) String() string {
	if op < 0 || int(op) >= len(opcodeName) {
		return "op?"
	}
	return opcodeName[op]
}

// Valid returns true for a defined opcode.
func (op Opcode) Valid() bool {
	return op >= 0 && int(op) < len(opcodeName)
}

// IsControl returns true for the call and jump family.
func (op Opcode) IsControl() bool {
	return op >= OP_CALL && op <= OP_JGE
}

// IsConditional returns true for conditional jumps.
func (op Opcode) IsConditional() bool {
	return op >= OP_JE && op <= OP_JGE
}

// operandClass is a set of operand kinds accepted in one operand slot.
type operandClass uint8

const (
	CLASS_REG   = operandClass(1 << 0)
	CLASS_IMM   = operandClass(1 << 1)
	CLASS_LABEL = operandClass(1 << 2)
	CLASS_MEM   = operandClass(1 << 3)
)

// Accepts returns true if the class accepts the operand kind.
func (oc operandClass) Accepts(kind OperandKind) bool {
	switch kind {
	case OPERAND_REGISTER:
		return oc&CLASS_REG != 0
	case OPERAND_IMMEDIATE:
		return oc&CLASS_IMM != 0
	case OPERAND_LABEL:
		return oc&CLASS_LABEL != 0
	case OPERAND_MEMORY, OPERAND_INDIRECT:
		return oc&CLASS_MEM != 0
	}
	return false
}

// opcodeShape lists the accepted operand classes, slot by slot.
var opcodeShape = map[Opcode][]operandClass{
	OP_NOP:   {},
	OP_MOV:   {CLASS_REG, CLASS_REG | CLASS_IMM | CLASS_LABEL},
	OP_LOAD:  {CLASS_REG, CLASS_MEM},
	OP_LOADB: {CLASS_REG, CLASS_MEM},
	OP_STORE: {CLASS_MEM, CLASS_REG | CLASS_IMM},
	OP_ADD:   {CLASS_REG, CLASS_REG | CLASS_IMM},
	OP_SUB:   {CLASS_REG, CLASS_REG | CLASS_IMM},
	OP_MUL:   {CLASS_REG, CLASS_REG | CLASS_IMM},
	OP_AND:   {CLASS_REG, CLASS_REG | CLASS_IMM},
	OP_OR:    {CLASS_REG, CLASS_REG | CLASS_IMM},
	OP_XOR:   {CLASS_REG, CLASS_REG | CLASS_IMM},
	OP_SHL:   {CLASS_REG, CLASS_IMM},
	OP_SHR:   {CLASS_REG, CLASS_IMM},
	OP_CMP:   {CLASS_REG, CLASS_REG | CLASS_IMM},
	OP_INC:   {CLASS_REG},
	OP_DEC:   {CLASS_REG},
	OP_PUSH:  {CLASS_REG | CLASS_IMM},
	OP_POP:   {CLASS_REG},
	OP_OUT:   {CLASS_REG | CLASS_IMM},
	OP_HALT:  {},
	OP_RET:   {},
	OP_CALL:  {CLASS_LABEL},
	OP_JMP:   {CLASS_LABEL},
	OP_JE:    {CLASS_LABEL},
	OP_JNE:   {CLASS_LABEL},
	OP_JL:    {CLASS_LABEL},
	OP_JG:    {CLASS_LABEL},
	OP_JLE:   {CLASS_LABEL},
	OP_JGE:   {CLASS_LABEL},
}

// Arity returns the number of operands the opcode takes.
func (op Opcode) Arity() int {
	return len(opcodeShape[op])
}

// Check verifies the operands fit the opcode's shape.
func (op Opcode) Check(operands []Operand) (err error) {
	shape, ok := opcodeShape[op]
	if !ok {
		err = ErrOpcodeInvalid
		return
	}
	if len(operands) > len(shape) {
		err = ErrOpcodeExtraArgs
		return
	}
	if len(operands) < len(shape) {
		err = ErrOpcodeMissingArgs
		return
	}
	for n, operand := range operands {
		if !shape[n].Accepts(operand.Kind) {
			err = ErrOperandInvalid
			return
		}
	}
	return
}
