package backend

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ezrec/ucboot/internal"
	"github.com/ezrec/ucboot/isa"
	"github.com/ezrec/ucboot/link"
)

// Mode selects the backend.
type Mode int

const (
	MODE_NATIVE = Mode(0) // native
	MODE_VM     = Mode(1) // vm
)

var modeName = [...]string{"native", "vm"}

func (mode Mode) String() string {
	if mode < 0 || int(mode) >= len(modeName) {
		return "mode?"
	}
	return modeName[mode]
}

// ParseMode parses "native" or "vm".
func ParseMode(text string) (mode Mode, err error) {
	for n, name := range modeName {
		if strings.EqualFold(text, name) {
			mode = Mode(n)
			return
		}
	}
	err = fmt.Errorf("%w: %v", ErrModeInvalid, text)
	return
}

// Generator produces native assembly text.
type Generator interface {
	Generate(prog *link.Program) (text string, err error)
}

// BlobGenerator produces a VM bytecode blob.
type BlobGenerator interface {
	Generate(prog *link.Program) (blob []byte, err error)
}

// Options configures a dispatch.
type Options struct {
	Mode     Mode
	Verbose  bool
	Native   Generator              // Default: &Native{Width: WIDTH_16}
	Bytecode BlobGenerator          // Default: BytecodeGenerator{}
	Template func() (string, error) // Loads the VM bootloader template.
}

// Result is the output of the chosen backend.
type Result struct {
	Mode     Mode
	Assembly string // Text for the external assembler.
	Blob     []byte // VM bytecode, nil for native.
}

// Diagnostics describes the linked program: instruction and label counts,
// then each label's range as seen from the final instruction count.
func Diagnostics(prog *link.Program) (lines []string) {
	lines = append(lines,
		f("instructions: %d", prog.InstructionCount()),
		f("data items: %d", prog.DataCount()),
		f("labels: %d", len(prog.Labels)),
	)

	byRange := func(binding isa.Binding) func(string, isa.Symbol) bool {
		return func(_ string, sym isa.Symbol) bool {
			return prog.Classify(sym.Address) == binding
		}
	}

	for name, sym := range internal.IterSeq2Concat(
		internal.FilterSeq2(prog.Symbols(), byRange(isa.BIND_CODE)),
		internal.FilterSeq2(prog.Symbols(), byRange(isa.BIND_DATA)),
	) {
		class := prog.Classify(sym.Address)
		line := f("label %v: %d (%v)", name, sym.Address, class)
		if class != sym.Binding {
			line += f(" tagged %v", sym.Binding)
		}
		lines = append(lines, line)
	}

	for n, operand := range prog.Unresolved() {
		lines = append(lines, f("instruction %d: %v unresolved", n, operand))
	}

	return
}

// Dispatch runs exactly one backend over the linked program.
func Dispatch(ctx context.Context, prog *link.Program, opts Options) (result *Result, err error) {
	err = ctx.Err()
	if err != nil {
		return
	}

	if opts.Verbose {
		for _, line := range Diagnostics(prog) {
			log.Printf("dispatch: %v", line)
		}
	}

	switch opts.Mode {
	case MODE_NATIVE:
		gen := opts.Native
		if gen == nil {
			gen = &Native{Width: WIDTH_16}
		}
		var text string
		text, err = gen.Generate(prog)
		if err != nil {
			return
		}
		result = &Result{Mode: MODE_NATIVE, Assembly: Optimize(text)}
	case MODE_VM:
		if opts.Template == nil {
			err = ErrTemplateMissing
			return
		}
		gen := opts.Bytecode
		if gen == nil {
			gen = BytecodeGenerator{}
		}
		var blob []byte
		blob, err = gen.Generate(prog)
		if err != nil {
			return
		}
		var template, text string
		template, err = opts.Template()
		if err != nil {
			return
		}
		text, err = Splice(template, blob)
		if err != nil {
			return
		}
		if opts.Verbose {
			log.Printf("dispatch: bytecode %d bytes", len(blob))
		}
		result = &Result{Mode: MODE_VM, Assembly: text, Blob: blob}
	default:
		err = fmt.Errorf("%w: %v", ErrModeInvalid, opts.Mode)
	}

	return
}
