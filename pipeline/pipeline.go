// Package pipeline drives a build from source modules to a boot image.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ezrec/ucboot/backend"
	"github.com/ezrec/ucboot/image"
	"github.com/ezrec/ucboot/isa"
	"github.com/ezrec/ucboot/link"
	"github.com/ezrec/ucboot/toolchain"
	"github.com/ezrec/ucboot/vm"
)

// Pipeline stages, as reported in ErrStage.
const (
	STAGE_ASSEMBLE = "assemble"
	STAGE_LINK     = "link"
	STAGE_GENERATE = "generate"
	STAGE_WRITE    = "write"
	STAGE_PROBE    = "probe"
	STAGE_EXTERNAL = "external-assemble"
	STAGE_IMAGE    = "image"
	STAGE_RUN      = "run"
)

// REPORT_NAME is the build report file in each output directory.
const REPORT_NAME = "build.yaml"

// Pipeline state. Every build starts cold from its sources.
type Pipeline struct {
	Verbose bool // If set, enables verbose logging.
	Config  Config
	Mode    backend.Mode
	Runner  toolchain.Runner // Default: toolchain.ExecRunner{}
	Stdout  io.Writer        // External assembler console, default os.Stdout.
	Stderr  io.Writer        // External assembler console, default os.Stderr.
}

// New creates a pipeline for a configuration.
func New(config *Config) (pl *Pipeline, err error) {
	err = config.Validate()
	if err != nil {
		return
	}

	mode, _ := backend.ParseMode(config.Mode)

	pl = &Pipeline{
		Config: *config,
		Mode:   mode,
	}

	return
}

func (pl *Pipeline) logf(stage string, format string, args ...any) {
	if pl.Verbose {
		log.Printf("%v: %v", stage, fmt.Sprintf(format, args...))
	}
}

// progressf reports a stage of a build as it completes.
func (pl *Pipeline) progressf(stage string, format string, args ...any) {
	log.Printf("%v: %v", stage, f(format, args...))
}

func (pl *Pipeline) warnf(report *Report, stage string, format string, args ...any) {
	message := f(format, args...)
	log.Printf("%v: warning: %v", stage, message)
	if report != nil {
		report.Warnings = append(report.Warnings, message)
	}
}

// Source returns the primary source path of an example.
func (pl *Pipeline) Source(example string) string {
	return filepath.Join(pl.Config.SourceDir, example, example+".uc")
}

// OutputDir returns the artifact directory of an example.
func (pl *Pipeline) OutputDir(example string) string {
	return filepath.Join(pl.Config.OutputDir, example)
}

// Artifact returns the path of an example's output with the given extension.
func (pl *Pipeline) Artifact(example string, ext string) string {
	return filepath.Join(pl.OutputDir(example), example+ext)
}

func (pl *Pipeline) libraryPath() string {
	if len(pl.Config.Library) == 0 {
		return ""
	}
	return filepath.Join(pl.Config.SourceDir, pl.Config.Library)
}

func (pl *Pipeline) templatePath() string {
	return filepath.Join(pl.Config.SourceDir, pl.Config.Template)
}

func checkExample(example string) (err error) {
	if len(example) == 0 || example == "." || example == ".." || strings.ContainsAny(example, `/\`) {
		err = fmt.Errorf("%w: %q", ErrExampleInvalid, example)
	}
	return
}

// assembleFile parses one source file into a module.
func (pl *Pipeline) assembleFile(path string) (mod *isa.Module, err error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = &ErrSourceNotFound{Path: path}
		}
		return
	}
	defer file.Close()

	asm := &isa.Assembler{Verbose: pl.Verbose}
	mod, err = asm.Parse(file)
	if err != nil {
		err = fmt.Errorf("%v: %w", path, err)
		return
	}

	pl.logf(STAGE_ASSEMBLE, "%v: %d instructions, %d data items", path, mod.InstructionCount(), mod.DataCount())
	return
}

// load assembles an example and its library, then links them.
// A library that is missing or fails to assemble is a warning, and the
// primary is linked alone.
func (pl *Pipeline) load(example string, report *Report) (prog *link.Program, err error) {
	err = checkExample(example)
	if err != nil {
		err = &ErrStage{Stage: STAGE_ASSEMBLE, Err: err}
		return
	}

	primary, err := pl.assembleFile(pl.Source(example))
	if err != nil {
		err = &ErrStage{Stage: STAGE_ASSEMBLE, Err: err}
		return
	}

	units := []link.Unit{{Name: example, Module: primary}}

	libPath := pl.libraryPath()
	if len(libPath) != 0 {
		var library *isa.Module
		library, err = pl.assembleFile(libPath)
		var esnf *ErrSourceNotFound
		switch {
		case errors.As(err, &esnf):
			pl.warnf(report, STAGE_LINK, "library %v not found, skipping link", libPath)
			err = nil
		case err != nil:
			pl.warnf(report, STAGE_LINK, "library failed to assemble, skipping link: %v", err)
			err = nil
		default:
			units = append(units, link.Unit{Name: strings.TrimSuffix(filepath.Base(libPath), filepath.Ext(libPath)), Module: library})
		}
	}

	prog, err = link.Link(units...)
	if err != nil {
		err = &ErrStage{Stage: STAGE_LINK, Err: err}
		return
	}

	if report != nil {
		report.Sources = prog.Sources
		report.Linked = len(units) > 1
		report.Instructions = prog.InstructionCount()
		report.DataItems = prog.DataCount()
		report.Labels = len(prog.Labels)
	}

	return
}

func writeFile(path string, data []byte) (err error) {
	err = os.WriteFile(path, data, 0o644)
	if err != nil {
		err = &ErrStage{Stage: STAGE_WRITE, Err: err}
	}
	return
}

// Build runs the whole pipeline for one example, strictly in order. No image
// is written unless every stage before it succeeded.
func (pl *Pipeline) Build(ctx context.Context, example string) (report *Report, err error) {
	started := time.Now()
	result := NewReport(example)
	result.Mode = pl.Mode.String()

	prog, err := pl.load(example, result)
	if err != nil {
		return
	}
	pl.progressf(STAGE_ASSEMBLE, "%v", strings.Join(prog.Sources, ", "))
	pl.progressf(STAGE_LINK, "%d instructions, %d data items, %d labels",
		prog.InstructionCount(), prog.DataCount(), len(prog.Labels))

	opts := backend.Options{
		Mode:    pl.Mode,
		Verbose: pl.Verbose,
		Native:  &backend.Native{Width: backend.WIDTH_16},
		Template: func() (text string, err error) {
			path := pl.templatePath()
			data, err := os.ReadFile(path)
			if errors.Is(err, fs.ErrNotExist) {
				err = &ErrSourceNotFound{Path: path}
			}
			text = string(data)
			return
		},
	}

	out, err := backend.Dispatch(ctx, prog, opts)
	if err != nil {
		err = &ErrStage{Stage: STAGE_GENERATE, Err: err}
		return
	}
	pl.progressf(STAGE_GENERATE, "%v: %d bytes of assembly", pl.Mode, len(out.Assembly))

	err = os.MkdirAll(pl.OutputDir(example), 0o755)
	if err != nil {
		err = &ErrStage{Stage: STAGE_WRITE, Err: err}
		return
	}

	asmPath := pl.Artifact(example, ".asm")
	bcPath := pl.Artifact(example, ".bc")
	binPath := pl.Artifact(example, ".bin")
	imgPath := pl.Artifact(example, ".img")

	// Only the chosen backend's artifacts may be present afterwards.
	for _, stale := range []string{bcPath, binPath, imgPath} {
		err = os.Remove(stale)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			err = &ErrStage{Stage: STAGE_WRITE, Err: err}
			return
		}
		err = nil
	}

	err = writeFile(asmPath, []byte(out.Assembly))
	if err != nil {
		return
	}
	result.Artifacts = append(result.Artifacts, asmPath)

	if out.Blob != nil {
		err = writeFile(bcPath, out.Blob)
		if err != nil {
			return
		}
		result.BytecodeSize = len(out.Blob)
		result.Artifacts = append(result.Artifacts, bcPath)
	}

	runner := pl.Runner
	if runner == nil {
		runner = toolchain.ExecRunner{}
	}

	tool, err := toolchain.Probe(ctx, runner, pl.Config.Toolchain.Candidates)
	if err != nil {
		err = &ErrStage{Stage: STAGE_PROBE, Err: err}
		return
	}
	result.Tool = tool.Name
	pl.progressf(STAGE_PROBE, "using %v", tool.Name)

	asm := &toolchain.Assembler{
		Runner:  runner,
		Tool:    tool,
		Timeout: pl.Config.Toolchain.Timeout,
		Stdout:  pl.Stdout,
		Stderr:  pl.Stderr,
	}
	err = asm.Assemble(ctx, asmPath, binPath)
	if err != nil {
		err = &ErrStage{Stage: STAGE_EXTERNAL, Err: err}
		return
	}
	result.Artifacts = append(result.Artifacts, binPath)

	raw, err := os.ReadFile(binPath)
	if err != nil {
		err = &ErrStage{Stage: STAGE_IMAGE, Err: err}
		return
	}
	result.BinarySize = len(raw)
	pl.progressf(STAGE_EXTERNAL, "%v: %d bytes", binPath, len(raw))

	img, dropped := image.Build(raw)
	result.Dropped = dropped
	if dropped > 0 {
		pl.warnf(result, STAGE_IMAGE, "%v is %d bytes, %d bytes past the boot sector dropped", binPath, len(raw), dropped)
	}

	err = writeFile(imgPath, img)
	if err != nil {
		return
	}
	result.Artifacts = append(result.Artifacts, imgPath)
	pl.progressf(STAGE_IMAGE, "%v", imgPath)

	result.Elapsed = time.Since(started).String()
	err = result.Save(filepath.Join(pl.OutputDir(example), REPORT_NAME))
	if err != nil {
		err = &ErrStage{Stage: STAGE_WRITE, Err: err}
		return
	}

	report = result
	return
}

// Convert assembles one source file and writes it as optimized native
// assembly text of the given width. Nothing is linked.
func (pl *Pipeline) Convert(input, output string, width backend.Width) (err error) {
	mod, err := pl.assembleFile(input)
	if err != nil {
		err = &ErrStage{Stage: STAGE_ASSEMBLE, Err: err}
		return
	}

	prog := &link.Program{
		Module:  *mod,
		Sources: []string{filepath.Base(input)},
	}

	gen := &backend.Native{Width: width}
	text, err := gen.Generate(prog)
	if err != nil {
		err = &ErrStage{Stage: STAGE_GENERATE, Err: err}
		return
	}

	err = writeFile(output, []byte(backend.Optimize(text)))
	if err != nil {
		return
	}

	pl.logf(STAGE_WRITE, "%v: %v %v", output, width, "native")
	return
}

// Run assembles and links an example, then executes its bytecode on the
// virtual machine, with program output to out.
func (pl *Pipeline) Run(ctx context.Context, example string, out io.Writer) (err error) {
	prog, err := pl.load(example, nil)
	if err != nil {
		return
	}
	pl.logf(STAGE_LINK, "%v: %d instructions, %d data items, %d labels",
		strings.Join(prog.Sources, "+"), prog.InstructionCount(), prog.DataCount(), len(prog.Labels))

	// Execute exactly what the bootloader would be handed.
	blob, err := backend.BytecodeGenerator{}.Generate(prog)
	if err != nil {
		err = &ErrStage{Stage: STAGE_GENERATE, Err: err}
		return
	}
	mod, err := backend.DecodeBytecode(blob)
	if err != nil {
		err = &ErrStage{Stage: STAGE_GENERATE, Err: err}
		return
	}

	// Keep source lines for runtime errors.
	for n := range mod.Instructions {
		mod.Instructions[n].LineNo = prog.Instructions[n].LineNo
	}

	machine := vm.NewMachine(mod, out)
	machine.Verbose = pl.Verbose
	err = machine.Reset()
	if err == nil {
		err = machine.Run(ctx, pl.Config.MaxTicks)
	}
	if err != nil {
		err = &ErrStage{Stage: STAGE_RUN, Err: err}
		return
	}

	pl.logf(STAGE_RUN, "%v: %d ticks", example, machine.Ticks)
	return
}
