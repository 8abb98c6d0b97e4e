package vm

import (
	"errors"

	"github.com/ezrec/ucboot/translate"
)

var f = translate.From

var (
	ErrStackOverflow  = errors.New(f("stack overflow"))
	ErrStackUnderflow = errors.New(f("stack underflow"))
	ErrIpRange        = errors.New(f("instruction pointer out of range"))
	ErrMemoryRange    = errors.New(f("data does not fit in memory"))
	ErrOperandKind    = errors.New(f("operand kind invalid"))
	ErrTickLimit      = errors.New(f("tick limit reached"))
	ErrNoProgram      = errors.New(f("no program loaded"))
)

// ErrUnresolved is a label reference that was never bound.
type ErrUnresolved string

func (err ErrUnresolved) Error() string {
	return f("label %v unresolved", string(err))
}

// ErrRuntime indicates the location of a runtime error.
type ErrRuntime struct {
	Index  int // Instruction index.
	LineNo int // Source line, 0 if unknown.
	Err    error
}

func (err *ErrRuntime) Error() string {
	if err.LineNo == 0 {
		return f("instruction %d %v", err.Index, err.Err)
	}
	return f("instruction %d (line %d) %v", err.Index, err.LineNo, err.Err)
}

func (err *ErrRuntime) Unwrap() error {
	return err.Err
}
