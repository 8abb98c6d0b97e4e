package toolchain

import (
	"strings"

	"github.com/ezrec/ucboot/translate"
)

var f = translate.From

// ErrToolchainNotFound is returned when no candidate assembler responds.
type ErrToolchainNotFound struct {
	Candidates []string
}

func (err *ErrToolchainNotFound) Error() string {
	return f("no assembler found, tried: %v", strings.Join(err.Candidates, ", "))
}

// ErrExternalAssembly is a failed external assembler run.
type ErrExternalAssembly struct {
	Tool string
	Err  error
}

func (err *ErrExternalAssembly) Error() string {
	return f("%v: %v", err.Tool, err.Err)
}

func (err *ErrExternalAssembly) Unwrap() error {
	return err.Err
}
