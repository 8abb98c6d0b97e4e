package link

import (
	"errors"

	"github.com/ezrec/ucboot/translate"
)

var f = translate.From

var (
	// Linker errors
	ErrNoModules = errors.New(f("no modules to link"))
)

// ErrSymbolDuplicate is a label defined by more than one linked module.
type ErrSymbolDuplicate struct {
	Name string
	Unit string
}

func (err *ErrSymbolDuplicate) Error() string {
	return f("%v: label %v already defined", err.Unit, err.Name)
}

// ErrSymbolRange is a module whose tagged addresses contradict its own layout.
type ErrSymbolRange struct {
	Unit string
	Err  error
}

func (err *ErrSymbolRange) Error() string {
	return f("%v: %v", err.Unit, err.Err)
}

func (err *ErrSymbolRange) Unwrap() error {
	return err.Err
}
