package backend

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ezrec/ucboot/link"
)

type countNative struct {
	calls int
	text  string
}

func (gen *countNative) Generate(prog *link.Program) (string, error) {
	gen.calls++
	return gen.text, nil
}

type countBytecode struct {
	calls int
}

func (gen *countBytecode) Generate(prog *link.Program) ([]byte, error) {
	gen.calls++
	return []byte{0xab}, nil
}

func TestDispatchExclusive(t *testing.T) {
	assert := assert.New(t)

	prog := helloProgram(t)
	ctx := context.Background()

	native := &countNative{text: "\tmov ax, ax\n\tnop\n"}
	bytecode := &countBytecode{}
	loads := 0
	opts := Options{
		Native:   native,
		Bytecode: bytecode,
		Template: func() (string, error) {
			loads++
			return "boot:\n" + TEMPLATE_BEGIN + "\n" + TEMPLATE_END + "\n", nil
		},
	}

	opts.Mode = MODE_NATIVE
	result, err := Dispatch(ctx, prog, opts)
	assert.NoError(err)
	assert.Equal(MODE_NATIVE, result.Mode)
	assert.Equal("\tnop\n", result.Assembly)
	assert.Nil(result.Blob)
	assert.Equal(1, native.calls)
	assert.Equal(0, bytecode.calls)
	assert.Equal(0, loads)

	opts.Mode = MODE_VM
	result, err = Dispatch(ctx, prog, opts)
	assert.NoError(err)
	assert.Equal(MODE_VM, result.Mode)
	assert.Equal("boot:\n\tdb 0xab\n", result.Assembly)
	assert.Equal([]byte{0xab}, result.Blob)
	assert.Equal(1, native.calls)
	assert.Equal(1, bytecode.calls)
	assert.Equal(1, loads)
}

func TestDispatchDefaults(t *testing.T) {
	assert := assert.New(t)

	prog := helloProgram(t)
	ctx := context.Background()

	result, err := Dispatch(ctx, prog, Options{Verbose: true})
	assert.NoError(err)
	assert.Contains(result.Assembly, "[org 0x7c00]")
	assert.Contains(result.Assembly, "\tdw 0xaa55\n")

	template := "; vm boot\n" + TEMPLATE_BEGIN + "\n" + TEMPLATE_END + "\n"
	result, err = Dispatch(ctx, prog, Options{
		Mode:     MODE_VM,
		Template: func() (string, error) { return template, nil },
	})
	assert.NoError(err)
	assert.True(strings.HasPrefix(string(result.Blob), BYTECODE_MAGIC))
	assert.True(strings.HasPrefix(result.Assembly, "; vm boot\n\tdb 0x55, 0x43, 0x42, 0x43, 0x01,"))
}

func TestDispatchErrors(t *testing.T) {
	assert := assert.New(t)

	prog := helloProgram(t)

	_, err := Dispatch(context.Background(), prog, Options{Mode: MODE_VM})
	assert.ErrorIs(err, ErrTemplateMissing)

	_, err = Dispatch(context.Background(), prog, Options{Mode: Mode(7)})
	assert.ErrorIs(err, ErrModeInvalid)

	broken := errors.New("disk on fire")
	_, err = Dispatch(context.Background(), prog, Options{
		Mode:     MODE_VM,
		Template: func() (string, error) { return "", broken },
	})
	assert.ErrorIs(err, broken)

	_, err = Dispatch(context.Background(), prog, Options{
		Mode:     MODE_VM,
		Template: func() (string, error) { return "no markers", nil },
	})
	var et *ErrTemplate
	assert.ErrorAs(err, &et)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Dispatch(ctx, prog, Options{})
	assert.ErrorIs(err, context.Canceled)
}

func TestParseMode(t *testing.T) {
	assert := assert.New(t)

	mode, err := ParseMode("VM")
	assert.NoError(err)
	assert.Equal(MODE_VM, mode)

	mode, err = ParseMode("native")
	assert.NoError(err)
	assert.Equal(MODE_NATIVE, mode)
	assert.Equal("native", mode.String())

	_, err = ParseMode("jit")
	assert.ErrorIs(err, ErrModeInvalid)
}

func TestDiagnostics(t *testing.T) {
	assert := assert.New(t)

	prog := helloProgram(t)

	lines := Diagnostics(prog)
	assert.Equal([]string{
		"instructions: 10",
		"data items: 1",
		"labels: 4",
		"label done: 9 (code)",
		"label main: 0 (code)",
		"label puts: 3 (code)",
		"label msg: 10 (data)",
	}, lines)
}
