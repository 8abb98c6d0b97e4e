package backend

import (
	"errors"

	"github.com/ezrec/ucboot/translate"
)

var f = translate.From

var (
	// Dispatch errors
	ErrModeInvalid     = errors.New(f("build mode invalid"))
	ErrWidthInvalid    = errors.New(f("width invalid"))
	ErrTemplateMissing = errors.New(f("bootloader template not configured"))

	// Generation errors
	ErrValueRange       = errors.New(f("value out of range"))
	ErrOperandUnhandled = errors.New(f("operand not encodable"))
	ErrOpcodeUnhandled  = errors.New(f("opcode not encodable"))
	ErrProgramSize      = errors.New(f("program too large"))

	// Bytecode decode errors
	ErrBytecodeMagic     = errors.New(f("bytecode magic invalid"))
	ErrBytecodeVersion   = errors.New(f("bytecode version unsupported"))
	ErrBytecodeTruncated = errors.New(f("bytecode truncated"))
	ErrBytecodeTag       = errors.New(f("bytecode operand tag invalid"))
	ErrBytecodeOpcode    = errors.New(f("bytecode opcode invalid"))
)

// ErrUnresolved is a label reference no linked module defines.
type ErrUnresolved string

func (err ErrUnresolved) Error() string {
	return f("label %v unresolved", string(err))
}

// ErrGeneration is a backend failure, located at an instruction when possible.
type ErrGeneration struct {
	Index       int // Instruction index, or -1.
	Instruction string
	Err         error
}

func (err *ErrGeneration) Error() string {
	if err.Index < 0 {
		return f("generate: %v", err.Err)
	}
	return f("generate: instruction %d '%v' %v", err.Index, err.Instruction, err.Err)
}

func (err *ErrGeneration) Unwrap() error {
	return err.Err
}

// ErrTemplate is a bootloader template without exactly one marker pair.
type ErrTemplate struct {
	Begin int // Occurrences of the begin marker.
	End   int // Occurrences of the end marker.
}

func (err *ErrTemplate) Error() string {
	return f("template needs exactly one %v .. %v pair, found %d begin and %d end markers",
		TEMPLATE_BEGIN, TEMPLATE_END, err.Begin, err.End)
}
