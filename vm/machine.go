// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package vm interprets linked programs, as the bytecode bootloader does.
package vm

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/ezrec/ucboot/isa"
)

const (
	MEMORY_SIZE = 0x10000 // 16-bit byte address space
	DATA_BASE   = 0x1000  // Byte address of the first data item
	CTX_STRIDE  = 1024    // Ticks between context checks
)

// Machine state. Registers, flags, stack and byte memory.
type Machine struct {
	Verbose bool        // If set, enables verbose logging.
	Program *isa.Module // Linked program being executed.
	Output  io.Writer   // Destination of 'out'.

	Ip       int                        // Current instruction index.
	Register [isa.REGISTER_COUNT]uint16 // Register bank.
	Stack    Stack                      // Call and data stack.
	Equal    bool                       // Last compare was equal.
	Less     bool                       // Last compare was signed less-than.
	Memory   []byte                     // Byte addressed memory.
	Ticks    int                        // Instructions executed since reset.

	halted      bool
	dataAddress []uint16 // Byte address of each data item.
}

// NewMachine creates a machine for a linked program.
func NewMachine(prog *isa.Module, output io.Writer) (vm *Machine) {
	vm = &Machine{
		Program: prog,
		Output:  output,
	}

	return
}

// Reset clears the machine state, and lays out the program's data.
func (vm *Machine) Reset() (err error) {
	if vm.Program == nil {
		err = ErrNoProgram
		return
	}

	vm.Ip = 0
	vm.Register = [isa.REGISTER_COUNT]uint16{}
	vm.Stack.Reset()
	vm.Equal = false
	vm.Less = false
	vm.Ticks = 0
	vm.halted = false

	vm.Memory = make([]byte, MEMORY_SIZE)
	vm.dataAddress = make([]uint16, 0, vm.Program.DataCount())

	address := DATA_BASE
	for _, item := range vm.Program.Data {
		if address+len(item.Value) > MEMORY_SIZE {
			err = ErrMemoryRange
			return
		}
		vm.dataAddress = append(vm.dataAddress, uint16(address))
		copy(vm.Memory[address:], item.Value)
		address += len(item.Value)
	}

	return
}

// DataAddress returns the byte address of a data range address.
func (vm *Machine) DataAddress(address int) (value uint16, ok bool) {
	index := address - vm.Program.InstructionCount()
	if index < 0 || index >= len(vm.dataAddress) {
		return
	}
	return vm.dataAddress[index], true
}

// LineNo returns the source line of the current instruction.
func (vm *Machine) LineNo() int {
	if vm.Program == nil || vm.Ip < 0 || vm.Ip >= vm.Program.InstructionCount() {
		return 0
	}
	return vm.Program.Instructions[vm.Ip].LineNo
}

// String returns the current machine state as a string.
func (vm *Machine) String() string {
	words := []string{fmt.Sprintf("ip=%d", vm.Ip)}
	for n, value := range vm.Register {
		words = append(words, fmt.Sprintf("%v=%04X", isa.Register(n), value))
	}
	top := "----"
	if value, ok := vm.Stack.Peek(); ok {
		top = fmt.Sprintf("%04X", value)
	}
	words = append(words, "stack="+top)
	words = append(words, fmt.Sprintf("eq=%v lt=%v", vm.Equal, vm.Less))
	return strings.Join(words, " ")
}

func (vm *Machine) address(op isa.Operand) (value uint16, err error) {
	switch op.Binding {
	case isa.BIND_CODE, isa.BIND_ABSOLUTE:
		value = uint16(op.Value)
	case isa.BIND_DATA:
		var ok bool
		value, ok = vm.DataAddress(op.Value)
		if !ok {
			err = fmt.Errorf("%w: %v", ErrOperandKind, op)
		}
	default:
		err = ErrUnresolved(op.Label)
	}
	return
}

// value evaluates a register, immediate or label operand.
func (vm *Machine) value(op isa.Operand) (value uint16, err error) {
	switch op.Kind {
	case isa.OPERAND_REGISTER:
		value = vm.Register[op.Value]
	case isa.OPERAND_IMMEDIATE:
		value = uint16(op.Value)
	case isa.OPERAND_LABEL:
		value, err = vm.address(op)
	default:
		err = fmt.Errorf("%w: %v", ErrOperandKind, op)
	}
	return
}

// pointer evaluates a memory or register indirect operand.
func (vm *Machine) pointer(op isa.Operand) (value uint16, err error) {
	switch op.Kind {
	case isa.OPERAND_MEMORY:
		value, err = vm.address(op)
	case isa.OPERAND_INDIRECT:
		value = vm.Register[op.Value]
	default:
		err = fmt.Errorf("%w: %v", ErrOperandKind, op)
	}
	return
}

func (vm *Machine) loadWord(address uint16) uint16 {
	return uint16(vm.Memory[address]) | uint16(vm.Memory[address+1])<<8
}

func (vm *Machine) storeWord(address uint16, value uint16) {
	vm.Memory[address] = byte(value)
	vm.Memory[address+1] = byte(value >> 8)
}

// jump validates a control transfer target.
func (vm *Machine) jump(op isa.Operand) (err error) {
	target, err := vm.value(op)
	if err != nil {
		return
	}
	if int(target) > vm.Program.InstructionCount() {
		err = fmt.Errorf("%w: %d", ErrIpRange, target)
		return
	}
	vm.Ip = int(target)
	return
}

func (vm *Machine) condition(op isa.Opcode) bool {
	switch op {
	case isa.OP_JE:
		return vm.Equal
	case isa.OP_JNE:
		return !vm.Equal
	case isa.OP_JL:
		return vm.Less
	case isa.OP_JG:
		return !vm.Less && !vm.Equal
	case isa.OP_JLE:
		return vm.Less || vm.Equal
	case isa.OP_JGE:
		return !vm.Less
	}
	return false
}

// execute runs one instruction. The Ip has already moved past it.
func (vm *Machine) execute(in isa.Instruction) (err error) {
	ops := in.Operands

	err = in.Op.Check(ops)
	if err != nil {
		return
	}
	for _, op := range ops {
		if op.Kind == isa.OPERAND_REGISTER || op.Kind == isa.OPERAND_INDIRECT {
			if op.Value < 0 || op.Value >= isa.REGISTER_COUNT {
				err = fmt.Errorf("%w: %v", ErrOperandKind, op)
				return
			}
		}
	}

	// Destination register, for the two operand arithmetic forms.
	reg := func() *uint16 { return &vm.Register[ops[0].Value] }

	switch in.Op {
	case isa.OP_NOP:
	case isa.OP_HALT:
		vm.halted = true
	case isa.OP_MOV:
		var value uint16
		value, err = vm.value(ops[1])
		if err == nil {
			*reg() = value
		}
	case isa.OP_LOAD, isa.OP_LOADB:
		var address uint16
		address, err = vm.pointer(ops[1])
		if err != nil {
			return
		}
		if in.Op == isa.OP_LOADB {
			*reg() = uint16(vm.Memory[address])
		} else {
			*reg() = vm.loadWord(address)
		}
	case isa.OP_STORE:
		var address, value uint16
		address, err = vm.pointer(ops[0])
		if err != nil {
			return
		}
		value, err = vm.value(ops[1])
		if err != nil {
			return
		}
		vm.storeWord(address, value)
	case isa.OP_ADD, isa.OP_SUB, isa.OP_MUL, isa.OP_AND, isa.OP_OR, isa.OP_XOR, isa.OP_SHL, isa.OP_SHR:
		var value uint16
		value, err = vm.value(ops[1])
		if err != nil {
			return
		}
		dst := reg()
		switch in.Op {
		case isa.OP_ADD:
			*dst += value
		case isa.OP_SUB:
			*dst -= value
		case isa.OP_MUL:
			*dst *= value
		case isa.OP_AND:
			*dst &= value
		case isa.OP_OR:
			*dst |= value
		case isa.OP_XOR:
			*dst ^= value
		case isa.OP_SHL:
			*dst <<= value
		case isa.OP_SHR:
			*dst >>= value
		}
	case isa.OP_CMP:
		var value uint16
		value, err = vm.value(ops[1])
		if err != nil {
			return
		}
		left := *reg()
		vm.Equal = left == value
		vm.Less = int16(left) < int16(value)
	case isa.OP_INC:
		*reg() += 1
	case isa.OP_DEC:
		*reg() -= 1
	case isa.OP_PUSH:
		var value uint16
		value, err = vm.value(ops[0])
		if err != nil {
			return
		}
		if !vm.Stack.Push(value) {
			err = ErrStackOverflow
		}
	case isa.OP_POP:
		value, ok := vm.Stack.Pop()
		if !ok {
			err = ErrStackUnderflow
			return
		}
		*reg() = value
	case isa.OP_OUT:
		var value uint16
		value, err = vm.value(ops[0])
		if err != nil {
			return
		}
		if vm.Output != nil {
			_, err = vm.Output.Write([]byte{byte(value)})
		}
	case isa.OP_CALL:
		if !vm.Stack.Push(uint16(vm.Ip)) {
			err = ErrStackOverflow
			return
		}
		err = vm.jump(ops[0])
	case isa.OP_RET:
		value, ok := vm.Stack.Pop()
		if !ok {
			err = ErrStackUnderflow
			return
		}
		vm.Ip = int(value)
	case isa.OP_JMP:
		err = vm.jump(ops[0])
	default:
		if in.Op.IsConditional() {
			if vm.condition(in.Op) {
				err = vm.jump(ops[0])
			}
			return
		}
		err = fmt.Errorf("%w: %v", isa.ErrOpcodeInvalid, in.Op)
	}

	return
}

// Tick executes a single instruction. Done is set once the program halts
// or runs off the end of its code.
func (vm *Machine) Tick() (done bool, err error) {
	if vm.Program == nil {
		err = ErrNoProgram
		return
	}
	if vm.Memory == nil {
		err = vm.Reset()
		if err != nil {
			return
		}
	}
	if vm.halted || vm.Ip == vm.Program.InstructionCount() {
		done = true
		return
	}

	index := vm.Ip
	in := vm.Program.Instructions[index]
	defer func() {
		if err != nil {
			err = &ErrRuntime{Index: index, LineNo: in.LineNo, Err: err}
		}
	}()

	if vm.Verbose {
		log.Printf("vm: %v: %v", vm.String(), in)
	}

	vm.Ip++
	vm.Ticks++

	err = vm.execute(in)
	if err != nil {
		return
	}

	done = vm.halted || vm.Ip == vm.Program.InstructionCount()
	return
}

// Run ticks until the program is done, the context is canceled, or
// maxTicks is reached. A maxTicks of zero or less is unlimited.
func (vm *Machine) Run(ctx context.Context, maxTicks int) (err error) {
	for {
		if vm.Ticks%CTX_STRIDE == 0 {
			err = ctx.Err()
			if err != nil {
				return
			}
		}
		if maxTicks > 0 && vm.Ticks >= maxTicks {
			err = &ErrRuntime{Index: vm.Ip, LineNo: vm.LineNo(), Err: ErrTickLimit}
			return
		}

		var done bool
		done, err = vm.Tick()
		if err != nil || done {
			return
		}
	}
}
