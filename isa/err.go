package isa

import (
	"errors"
	"strings"

	"github.com/ezrec/ucboot/translate"
)

var f = translate.From

var (
	// Assembler errors
	ErrEquateSyntax      = errors.New(f(".equ syntax"))
	ErrEquateDuplicate   = errors.New(f(".equ duplicated"))
	ErrLabelDuplicate    = errors.New(f("label duplicated"))
	ErrLabelInvalid      = errors.New(f("label invalid"))
	ErrLabelDangling     = errors.New(f("label without instruction or data"))
	ErrMacroSyntax       = errors.New(f(".macro syntax"))
	ErrMacroNesting      = errors.New(f(".macro in .macro prohibited"))
	ErrMacroDuplicate    = errors.New(f(".macro duplicated"))
	ErrMacroLonely       = errors.New(f(".macro without .endm"))
	ErrMacroLonelyEndm   = errors.New(f(".endm without .macro"))
	ErrMacroDepth        = errors.New(f(".macro expansion too deep"))
	ErrDirectiveInvalid  = errors.New(f("directive invalid"))
	ErrDataSyntax        = errors.New(f("data syntax"))
	ErrDataRange         = errors.New(f("data value out of range"))
	ErrOpcodeExtraArgs   = errors.New(f("excessive arguments"))
	ErrOpcodeMissingArgs = errors.New(f("missing arguments"))
	ErrOpcodeInvalid     = errors.New(f("opcode invalid"))
	ErrOperandInvalid    = errors.New(f("operand invalid"))
)

// ErrSyntax locates an assembler error in the source text.
type ErrSyntax struct {
	LineNo int
	Line   string
	Err    error
}

func (err *ErrSyntax) Error() string {
	return f("line %d '%v' %v", err.LineNo, err.Line, err.Err)
}

func (err *ErrSyntax) Unwrap() error {
	return err.Err
}

// ErrAssembly is the batch of every syntax error found in one source unit.
type ErrAssembly struct {
	Errors []*ErrSyntax
}

func (err *ErrAssembly) Error() string {
	lines := make([]string, 0, 1+len(err.Errors))
	lines = append(lines, translate.Plural(len(err.Errors), "%d assembly error", "%d assembly errors"))
	for _, se := range err.Errors {
		lines = append(lines, "  "+se.Error())
	}
	return strings.Join(lines, "\n")
}

func (err *ErrAssembly) Unwrap() []error {
	errs := make([]error, len(err.Errors))
	for n, se := range err.Errors {
		errs[n] = se
	}
	return errs
}

type ErrParseNumber string

func (err ErrParseNumber) Error() string {
	return f("'%v' is not a number", string(err))
}

type ErrParseValue string

func (err ErrParseValue) Error() string {
	return f("'%v' is not a value, register, or label", string(err))
}

type ErrParseCharacter string

func (err ErrParseCharacter) Error() string {
	return f("'%v' is not a character", string(err))
}

type ErrParseExpression string

func (err ErrParseExpression) Error() string {
	return f("$(%v) is not a valid expression", string(err))
}

type ErrParseString string

func (err ErrParseString) Error() string {
	return f("%v is not a quoted string", string(err))
}

// ErrMacro locates an error inside a macro expansion.
type ErrMacro struct {
	Macro string
	Line  int
	Err   error
}

func (err *ErrMacro) Error() string {
	return f("macro %v line %v %v", err.Macro, err.Line, err.Err.Error())
}

func (err *ErrMacro) Unwrap() error {
	return err.Err
}

// ErrSymbolBinding is a label whose address is outside the range its binding claims.
type ErrSymbolBinding struct {
	Name   string
	Symbol Symbol
}

func (err *ErrSymbolBinding) Error() string {
	return f("label %v: %v address %d out of range", err.Name, err.Symbol.Binding, err.Symbol.Address)
}

// ErrOperandBinding is an operand whose address is outside the range its binding claims.
type ErrOperandBinding struct {
	Index   int
	Operand Operand
}

func (err *ErrOperandBinding) Error() string {
	return f("instruction %d: %v operand %v out of range", err.Index, err.Operand.Binding, err.Operand)
}

// ErrDataAddress is a data item whose recorded offset does not match its position.
type ErrDataAddress struct {
	Index   int
	Address int
}

func (err *ErrDataAddress) Error() string {
	return f("data item %d: recorded offset %d", err.Index, err.Address)
}
