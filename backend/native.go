package backend

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/ezrec/ucboot/isa"
	"github.com/ezrec/ucboot/link"
)

// Width is the native register width.
type Width int

const (
	WIDTH_16 = Width(16) // 16-bit real mode boot sector
	WIDTH_32 = Width(32) // 32-bit flat, for conversion only
)

// ParseWidth parses "16", "32", "16-bit" or "32-bit".
func ParseWidth(text string) (width Width, err error) {
	text = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(text)), "-bit")
	value, err := strconv.Atoi(text)
	if err != nil || (value != 16 && value != 32) {
		err = fmt.Errorf("%w: %v", ErrWidthInvalid, text)
		return
	}
	width = Width(value)
	return
}

func (width Width) String() string {
	return fmt.Sprintf("%d-bit", int(width))
}

var nativeRegister16 = [isa.REGISTER_COUNT]string{"bx", "si", "di", "ax", "cx", "dx"}
var nativeRegister32 = [isa.REGISTER_COUNT]string{"ebx", "esi", "edi", "eax", "ecx", "edx"}

// Registers usable as a 16-bit base; the others are copied through bp.
var nativeBase16 = [isa.REGISTER_COUNT]bool{true, true, true, false, false, false}

var nativeMnemonic = map[isa.Opcode]string{
	isa.OP_ADD:  "add",
	isa.OP_SUB:  "sub",
	isa.OP_MUL:  "imul",
	isa.OP_AND:  "and",
	isa.OP_OR:   "or",
	isa.OP_XOR:  "xor",
	isa.OP_SHL:  "shl",
	isa.OP_SHR:  "shr",
	isa.OP_CMP:  "cmp",
	isa.OP_INC:  "inc",
	isa.OP_DEC:  "dec",
	isa.OP_POP:  "pop",
	isa.OP_CALL: "call",
	isa.OP_JMP:  "jmp",
	isa.OP_JE:   "je",
	isa.OP_JNE:  "jne",
	isa.OP_JL:   "jl",
	isa.OP_JG:   "jg",
	isa.OP_JLE:  "jle",
	isa.OP_JGE:  "jge",
}

// Native generates x86 assembly text from a linked program.
type Native struct {
	Width Width // Zero means WIDTH_16.
}

func (gen *Native) width() Width {
	if gen.Width == 0 {
		return WIDTH_16
	}
	return gen.Width
}

func (gen *Native) register(value int) (name string, err error) {
	if value < 0 || value >= isa.REGISTER_COUNT {
		err = fmt.Errorf("%w: register %d", ErrOperandUnhandled, value)
		return
	}
	if gen.width() == WIDTH_32 {
		return nativeRegister32[value], nil
	}
	return nativeRegister16[value], nil
}

func (gen *Native) size() string {
	if gen.width() == WIDTH_32 {
		return "dword"
	}
	return "word"
}

// target names the label an address operand refers to.
func (gen *Native) target(op isa.Operand) (name string, err error) {
	switch op.Binding {
	case isa.BIND_CODE:
		name = fmt.Sprintf("L%d", op.Value)
	case isa.BIND_DATA:
		name = fmt.Sprintf("D%d", op.Value)
	case isa.BIND_ABSOLUTE:
		name = fmt.Sprintf("0x%x", op.Value)
	default:
		err = ErrUnresolved(op.Label)
	}
	return
}

// external is true for a call or jump to a name no linked unit defines.
// At 32-bit width such targets are left to the system linker.
func (gen *Native) external(in isa.Instruction, op isa.Operand) bool {
	return gen.width() == WIDTH_32 &&
		in.Op.IsControl() &&
		op.Kind == isa.OPERAND_LABEL &&
		op.Binding == isa.BIND_UNRESOLVED &&
		len(op.Label) != 0
}

// value renders a register, immediate or address operand.
func (gen *Native) value(op isa.Operand) (text string, err error) {
	switch op.Kind {
	case isa.OPERAND_REGISTER:
		return gen.register(op.Value)
	case isa.OPERAND_IMMEDIATE:
		return strconv.Itoa(op.Value), nil
	case isa.OPERAND_LABEL:
		return gen.target(op)
	}
	err = fmt.Errorf("%w: %v", ErrOperandUnhandled, op)
	return
}

// memory renders a memory reference, with any setup it needs.
func (gen *Native) memory(op isa.Operand) (setup []string, ref string, err error) {
	switch op.Kind {
	case isa.OPERAND_MEMORY:
		var name string
		name, err = gen.target(op)
		ref = "[" + name + "]"
	case isa.OPERAND_INDIRECT:
		var reg string
		reg, err = gen.register(op.Value)
		if err != nil {
			return
		}
		if gen.width() == WIDTH_16 && !nativeBase16[op.Value] {
			setup = append(setup, "mov bp, "+reg)
			reg = "bp"
		}
		ref = "[" + reg + "]"
	default:
		err = fmt.Errorf("%w: %v", ErrOperandUnhandled, op)
	}
	return
}

// lower translates one instruction to native lines.
func (gen *Native) lower(in isa.Instruction) (lines []string, err error) {
	err = in.Op.Check(in.Operands)
	if err != nil {
		return
	}

	args := make([]string, len(in.Operands))
	for n, op := range in.Operands {
		if op.Kind == isa.OPERAND_MEMORY || op.Kind == isa.OPERAND_INDIRECT {
			continue
		}
		if gen.external(in, op) {
			args[n] = op.Label
			continue
		}
		args[n], err = gen.value(op)
		if err != nil {
			return
		}
	}

	switch in.Op {
	case isa.OP_NOP:
		lines = []string{"nop"}
	case isa.OP_RET:
		lines = []string{"ret"}
	case isa.OP_HALT:
		lines = []string{"cli", "hlt", "jmp $"}
	case isa.OP_MOV:
		lines = []string{fmt.Sprintf("mov %v, %v", args[0], args[1])}
	case isa.OP_LOAD, isa.OP_LOADB:
		var setup []string
		var ref string
		setup, ref, err = gen.memory(in.Operands[1])
		if err != nil {
			return
		}
		lines = setup
		if in.Op == isa.OP_LOADB {
			lines = append(lines, fmt.Sprintf("movzx %v, byte %v", args[0], ref))
		} else {
			lines = append(lines, fmt.Sprintf("mov %v, %v %v", args[0], gen.size(), ref))
		}
	case isa.OP_STORE:
		var setup []string
		var ref string
		setup, ref, err = gen.memory(in.Operands[0])
		if err != nil {
			return
		}
		lines = append(setup, fmt.Sprintf("mov %v %v, %v", gen.size(), ref, args[1]))
	case isa.OP_PUSH:
		if in.Operands[0].Kind == isa.OPERAND_IMMEDIATE {
			lines = []string{fmt.Sprintf("push %v %v", gen.size(), args[0])}
		} else {
			lines = []string{"push " + args[0]}
		}
	case isa.OP_OUT:
		lines = gen.out(args[0])
	default:
		mnemonic, ok := nativeMnemonic[in.Op]
		if !ok {
			err = fmt.Errorf("%w: %v", ErrOpcodeUnhandled, in.Op)
			return
		}
		lines = []string{mnemonic + " " + strings.Join(args, ", ")}
	}

	return
}

// out writes the low byte of a value to the console.
func (gen *Native) out(value string) []string {
	if gen.width() == WIDTH_32 {
		return []string{
			"push eax",
			"mov eax, " + value,
			"call __uc_putc",
			"pop eax",
		}
	}

	return []string{
		"push ax",
		"push bx",
		"mov ax, " + value,
		"mov ah, 0x0e",
		"xor bx, bx",
		"int 0x10",
		"pop bx",
		"pop ax",
	}
}

// externals lists, sorted and once each, the names left to the system linker.
func (gen *Native) externals(prog *link.Program) (names []string) {
	for n, op := range prog.Unresolved() {
		if gen.external(prog.Instructions[n], op) && !slices.Contains(names, op.Label) {
			names = append(names, op.Label)
		}
	}
	slices.Sort(names)
	return
}

// Generate emits native assembly text for the whole program.
func (gen *Native) Generate(prog *link.Program) (text string, err error) {
	if gen.width() != WIDTH_16 && gen.width() != WIDTH_32 {
		err = &ErrGeneration{Index: -1, Err: fmt.Errorf("%w: %d", ErrWidthInvalid, int(gen.Width))}
		return
	}

	names := map[int][]string{}
	for name, sym := range prog.Symbols() {
		if sym.Binding.Resolved() {
			names[sym.Address] = append(names[sym.Address], name)
		}
	}

	label := func(out *strings.Builder, prefix string, address int) {
		fmt.Fprintf(out, "%v%d:", prefix, address)
		if list, ok := names[address]; ok {
			slices.Sort(list)
			fmt.Fprintf(out, "\t; %v", strings.Join(list, ", "))
		}
		out.WriteString("\n")
	}

	var out strings.Builder

	out.WriteString("; ucboot native output\n")
	if len(prog.Sources) != 0 {
		fmt.Fprintf(&out, "; sources: %v\n", strings.Join(prog.Sources, ", "))
	}

	if gen.width() == WIDTH_32 {
		out.WriteString("[bits 32]\n")
		out.WriteString("\n")
		out.WriteString("extern __uc_putc\n")
		for _, name := range gen.externals(prog) {
			out.WriteString("extern " + name + "\n")
		}
		out.WriteString("\n")
		out.WriteString("start:\n")
	} else {
		out.WriteString("[bits 16]\n")
		out.WriteString("[org 0x7c00]\n")
		out.WriteString("\n")
		out.WriteString("start:\n")
		for _, line := range []string{
			"cli",
			"xor ax, ax",
			"mov ds, ax",
			"mov es, ax",
			"mov ss, ax",
			"mov sp, 0x7c00",
			"sti",
			"cld",
		} {
			out.WriteString("\t" + line + "\n")
		}
	}

	for n, in := range prog.Instructions {
		var lines []string
		lines, err = gen.lower(in)
		if err != nil {
			err = &ErrGeneration{Index: n, Instruction: in.String(), Err: err}
			return
		}
		label(&out, "L", n)
		for _, line := range lines {
			out.WriteString("\t" + line + "\n")
		}
	}

	base := prog.InstructionCount()
	for n, item := range prog.Data {
		label(&out, "D", base+n)
		if len(item.Value) == 0 {
			continue
		}
		words := make([]string, len(item.Value))
		for m, b := range item.Value {
			words[m] = fmt.Sprintf("0x%02x", b)
		}
		out.WriteString("\tdb " + strings.Join(words, ", ") + "\n")
	}

	if gen.width() == WIDTH_16 {
		out.WriteString("\n")
		out.WriteString("\ttimes 510-($-$$) db 0\n")
		out.WriteString("\tdw 0xaa55\n")
	}

	text = out.String()
	return
}
