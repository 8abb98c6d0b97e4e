package pipeline

import (
	"errors"

	"github.com/ezrec/ucboot/translate"
)

var f = translate.From

var (
	ErrExampleInvalid = errors.New(f("example name invalid"))
	ErrConfigInvalid  = errors.New(f("configuration invalid"))
)

// ErrSourceNotFound is a missing input file.
type ErrSourceNotFound struct {
	Path string
}

func (err *ErrSourceNotFound) Error() string {
	return f("%v: source not found", err.Path)
}

// ErrStage attributes a failure to the pipeline stage it stopped.
type ErrStage struct {
	Stage string
	Err   error
}

func (err *ErrStage) Error() string {
	return f("%v: %v", err.Stage, err.Err)
}

func (err *ErrStage) Unwrap() error {
	return err.Err
}
