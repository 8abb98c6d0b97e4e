package backend

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ezrec/ucboot/isa"
	"github.com/ezrec/ucboot/link"
)

// Bytecode container header.
const (
	BYTECODE_MAGIC   = "UCBC"
	BYTECODE_VERSION = 1
)

// OperandTag is the encoded kind of a bytecode operand.
type OperandTag uint8

const (
	TAG_IMMEDIATE       = OperandTag(0) // imm
	TAG_REGISTER        = OperandTag(1) // reg
	TAG_CODE            = OperandTag(2) // code
	TAG_DATA            = OperandTag(3) // data
	TAG_ABSOLUTE        = OperandTag(4) // abs
	TAG_MEMORY_DATA     = OperandTag(5) // mem-data
	TAG_MEMORY_ABSOLUTE = OperandTag(6) // mem-abs
	TAG_INDIRECT        = OperandTag(7) // indirect
	TAG_COUNT           = 8
)

var operandTagName = [...]string{"imm", "reg", "code", "data", "abs", "mem-data", "mem-abs", "indirect"}

func (tag OperandTag) String() string {
	if int(tag) >= len(operandTagName) {
		return "tag?"
	}
	return operandTagName[tag]
}

// encodeOperand finds the tag and 16-bit value of an operand.
// Data addresses are encoded as data item indexes.
func encodeOperand(op isa.Operand, instructions int) (tag OperandTag, value int, err error) {
	value = op.Value

	switch op.Kind {
	case isa.OPERAND_IMMEDIATE:
		tag = TAG_IMMEDIATE
	case isa.OPERAND_REGISTER:
		tag = TAG_REGISTER
	case isa.OPERAND_INDIRECT:
		tag = TAG_INDIRECT
	case isa.OPERAND_LABEL, isa.OPERAND_MEMORY:
		memory := op.Kind == isa.OPERAND_MEMORY
		switch op.Binding {
		case isa.BIND_CODE:
			if memory {
				err = fmt.Errorf("%w: %v", ErrOperandUnhandled, op)
				return
			}
			tag = TAG_CODE
		case isa.BIND_DATA:
			tag = TAG_DATA
			if memory {
				tag = TAG_MEMORY_DATA
			}
			value -= instructions
		case isa.BIND_ABSOLUTE:
			tag = TAG_ABSOLUTE
			if memory {
				tag = TAG_MEMORY_ABSOLUTE
			}
		default:
			err = ErrUnresolved(op.Label)
			return
		}
	default:
		err = fmt.Errorf("%w: %v", ErrOperandUnhandled, op)
		return
	}

	if value < -0x8000 || value > 0xffff {
		err = fmt.Errorf("%w: %v", ErrValueRange, op)
	}

	return
}

// EncodeBytecode serializes a linked module.
func EncodeBytecode(mod *isa.Module) (blob []byte, err error) {
	if mod.InstructionCount() > 0xffff || mod.DataCount() > 0xffff {
		err = &ErrGeneration{Index: -1, Err: ErrProgramSize}
		return
	}

	var buf bytes.Buffer
	le := binary.LittleEndian

	buf.WriteString(BYTECODE_MAGIC)
	buf.WriteByte(BYTECODE_VERSION)
	buf.Write(le.AppendUint16(nil, uint16(mod.InstructionCount())))
	buf.Write(le.AppendUint16(nil, uint16(mod.DataCount())))

	for n, in := range mod.Instructions {
		if !in.Op.Valid() {
			err = &ErrGeneration{Index: n, Instruction: in.String(), Err: ErrOpcodeUnhandled}
			return
		}
		if len(in.Operands) > 0xff {
			err = &ErrGeneration{Index: n, Instruction: in.String(), Err: ErrOperandUnhandled}
			return
		}
		buf.WriteByte(byte(in.Op))
		buf.WriteByte(byte(len(in.Operands)))
		for _, op := range in.Operands {
			tag, value, operr := encodeOperand(op, mod.InstructionCount())
			if operr != nil {
				err = &ErrGeneration{Index: n, Instruction: in.String(), Err: operr}
				return
			}
			buf.WriteByte(byte(tag))
			buf.Write(le.AppendUint16(nil, uint16(value)))
		}
	}

	for _, item := range mod.Data {
		if len(item.Value) > 0xffff {
			err = &ErrGeneration{Index: -1, Err: ErrProgramSize}
			return
		}
		buf.Write(le.AppendUint16(nil, uint16(len(item.Value))))
		buf.Write(item.Value)
	}

	blob = buf.Bytes()
	return
}

// BytecodeGenerator encodes a linked program for the VM bootloader.
type BytecodeGenerator struct{}

func (BytecodeGenerator) Generate(prog *link.Program) (blob []byte, err error) {
	return EncodeBytecode(&prog.Module)
}

// bytecodeReader reads the little endian fields of a blob.
type bytecodeReader struct {
	*bytes.Reader
}

func (br bytecodeReader) u8() (value int, err error) {
	b, err := br.ReadByte()
	if err != nil {
		err = ErrBytecodeTruncated
		return
	}
	value = int(b)
	return
}

func (br bytecodeReader) u16() (value int, err error) {
	var word uint16
	err = binary.Read(br, binary.LittleEndian, &word)
	if err != nil {
		err = ErrBytecodeTruncated
		return
	}
	value = int(word)
	return
}

// DecodeBytecode parses a blob back into a module.
//
// Values come back as unsigned 16-bit quantities. Labels are not encoded,
// so the label table is empty and address operands carry no names.
func DecodeBytecode(blob []byte) (mod *isa.Module, err error) {
	if !bytes.HasPrefix(blob, []byte(BYTECODE_MAGIC)) {
		err = ErrBytecodeMagic
		return
	}

	br := bytecodeReader{bytes.NewReader(blob[len(BYTECODE_MAGIC):])}

	version, err := br.u8()
	if err != nil {
		return
	}
	if version != BYTECODE_VERSION {
		err = fmt.Errorf("%w: %d", ErrBytecodeVersion, version)
		return
	}

	instructions, err := br.u16()
	if err != nil {
		return
	}
	items, err := br.u16()
	if err != nil {
		return
	}

	result := &isa.Module{
		Instructions: make([]isa.Instruction, 0, instructions),
		Data:         make([]isa.DataItem, 0, items),
		Labels:       map[string]isa.Symbol{},
	}

	for range instructions {
		var opcode, count int
		opcode, err = br.u8()
		if err != nil {
			return
		}
		op := isa.Opcode(opcode)
		if !op.Valid() {
			err = fmt.Errorf("%w: %d", ErrBytecodeOpcode, opcode)
			return
		}
		count, err = br.u8()
		if err != nil {
			return
		}
		in := isa.Instruction{Op: op}
		for range count {
			var tag, value int
			tag, err = br.u8()
			if err != nil {
				return
			}
			value, err = br.u16()
			if err != nil {
				return
			}
			var operand isa.Operand
			switch OperandTag(tag) {
			case TAG_IMMEDIATE:
				operand = isa.MakeImmediate(value)
			case TAG_REGISTER:
				operand = isa.MakeRegister(isa.Register(value))
			case TAG_INDIRECT:
				operand = isa.MakeIndirect(isa.Register(value))
			case TAG_CODE:
				operand = isa.MakeAddress(value, isa.BIND_CODE)
			case TAG_DATA:
				operand = isa.MakeAddress(instructions+value, isa.BIND_DATA)
			case TAG_ABSOLUTE:
				operand = isa.MakeAddress(value, isa.BIND_ABSOLUTE)
			case TAG_MEMORY_DATA:
				operand = isa.MakeMemory("", instructions+value, isa.BIND_DATA)
			case TAG_MEMORY_ABSOLUTE:
				operand = isa.MakeMemory("", value, isa.BIND_ABSOLUTE)
			default:
				err = fmt.Errorf("%w: %d", ErrBytecodeTag, tag)
				return
			}
			in.Operands = append(in.Operands, operand)
		}
		result.Instructions = append(result.Instructions, in)
	}

	for n := range items {
		var length int
		length, err = br.u16()
		if err != nil {
			return
		}
		value := make([]byte, length)
		_, err = io.ReadFull(br, value)
		if err != nil {
			err = ErrBytecodeTruncated
			return
		}
		result.Data = append(result.Data, isa.DataItem{Address: n, Value: value})
	}

	mod = result
	return
}
