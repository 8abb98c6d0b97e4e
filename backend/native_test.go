package backend

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"

	"github.com/ezrec/ucboot/isa"
	"github.com/ezrec/ucboot/link"
)

var helloSource = []string{
	"main:   mov r1, msg",
	"        call puts",
	"        halt",
	"msg:    .string \"Hi\"",
}

var runtimeSource = []string{
	"puts:   loadb r0, [r1]",
	"        cmp r0, 0",
	"        je done",
	"        out r0",
	"        inc r1",
	"        jmp puts",
	"done:   ret",
}

func assemble(t *testing.T, source []string) *isa.Module {
	asm := &isa.Assembler{}
	mod, err := asm.Parse(strings.NewReader(strings.Join(source, "\n")))
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	return mod
}

func helloProgram(t *testing.T) *link.Program {
	prog, err := link.Link(
		link.Unit{Name: "hello", Module: assemble(t, helloSource)},
		link.Unit{Name: "runtime", Module: assemble(t, runtimeSource)},
	)
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	return prog
}

func TestNativeGolden(t *testing.T) {
	prog := helloProgram(t)

	g := goldie.New(t)

	for _, width := range []Width{WIDTH_16, WIDTH_32} {
		gen := &Native{Width: width}
		text, err := gen.Generate(prog)
		assert.NoError(t, err)

		name := "native16"
		if width == WIDTH_32 {
			name = "native32"
		}
		g.Assert(t, name, []byte(text))

		// Nothing in the generated code is reducible.
		assert.Equal(t, text, Optimize(text))
	}
}

func TestNativeDefaults(t *testing.T) {
	assert := assert.New(t)

	prog := helloProgram(t)

	text, err := (&Native{}).Generate(prog)
	assert.NoError(err)
	assert.Contains(text, "[bits 16]\n[org 0x7c00]\n")
	assert.True(strings.HasSuffix(text, "\ttimes 510-($-$$) db 0\n\tdw 0xaa55\n"))

	_, err = (&Native{Width: 8}).Generate(prog)
	var eg *ErrGeneration
	assert.ErrorAs(err, &eg)
	assert.Equal(-1, eg.Index)
	assert.ErrorIs(err, ErrWidthInvalid)
}

func TestNativeLowering(t *testing.T) {
	gen16 := &Native{Width: WIDTH_16}
	gen32 := &Native{Width: WIDTH_32}

	r := isa.MakeRegister
	imm := isa.MakeImmediate

	table := [...]struct {
		gen   *Native
		in    isa.Instruction
		lines []string
	}{
		{gen16, isa.Instruction{Op: isa.OP_NOP}, []string{"nop"}},
		{gen16, isa.Instruction{Op: isa.OP_MOV, Operands: []isa.Operand{r(isa.REG_R3), imm(7)}}, []string{"mov ax, 7"}},
		{gen16, isa.Instruction{Op: isa.OP_MOV, Operands: []isa.Operand{r(isa.REG_R0), isa.MakeAddress(0x400, isa.BIND_ABSOLUTE)}}, []string{"mov bx, 0x400"}},
		{gen16, isa.Instruction{Op: isa.OP_LOAD, Operands: []isa.Operand{r(isa.REG_R4), isa.MakeMemory("buf", 9, isa.BIND_DATA)}}, []string{"mov cx, word [D9]"}},
		{gen16, isa.Instruction{Op: isa.OP_LOADB, Operands: []isa.Operand{r(isa.REG_R0), isa.MakeIndirect(isa.REG_R5)}}, []string{"mov bp, dx", "movzx bx, byte [bp]"}},
		{gen16, isa.Instruction{Op: isa.OP_STORE, Operands: []isa.Operand{isa.MakeIndirect(isa.REG_R2), imm(1)}}, []string{"mov word [di], 1"}},
		{gen16, isa.Instruction{Op: isa.OP_STORE, Operands: []isa.Operand{isa.MakeMemory("", 0x500, isa.BIND_ABSOLUTE), r(isa.REG_R1)}}, []string{"mov word [0x500], si"}},
		{gen16, isa.Instruction{Op: isa.OP_MUL, Operands: []isa.Operand{r(isa.REG_R0), r(isa.REG_R1)}}, []string{"imul bx, si"}},
		{gen16, isa.Instruction{Op: isa.OP_SHL, Operands: []isa.Operand{r(isa.REG_R0), imm(2)}}, []string{"shl bx, 2"}},
		{gen16, isa.Instruction{Op: isa.OP_PUSH, Operands: []isa.Operand{imm(3)}}, []string{"push word 3"}},
		{gen16, isa.Instruction{Op: isa.OP_POP, Operands: []isa.Operand{r(isa.REG_R5)}}, []string{"pop dx"}},
		{gen16, isa.Instruction{Op: isa.OP_OUT, Operands: []isa.Operand{imm(65)}}, []string{"push ax", "push bx", "mov ax, 65", "mov ah, 0x0e", "xor bx, bx", "int 0x10", "pop bx", "pop ax"}},
		{gen16, isa.Instruction{Op: isa.OP_HALT}, []string{"cli", "hlt", "jmp $"}},
		{gen16, isa.Instruction{Op: isa.OP_JGE, Operands: []isa.Operand{isa.MakeAddress(4, isa.BIND_CODE)}}, []string{"jge L4"}},
		{gen32, isa.Instruction{Op: isa.OP_LOADB, Operands: []isa.Operand{r(isa.REG_R0), isa.MakeIndirect(isa.REG_R5)}}, []string{"movzx ebx, byte [edx]"}},
		{gen32, isa.Instruction{Op: isa.OP_PUSH, Operands: []isa.Operand{imm(3)}}, []string{"push dword 3"}},
		{gen32, isa.Instruction{Op: isa.OP_OUT, Operands: []isa.Operand{r(isa.REG_R2)}}, []string{"push eax", "mov eax, edi", "call __uc_putc", "pop eax"}},
	}

	for _, entry := range table {
		lines, err := entry.gen.lower(entry.in)
		assert.NoError(t, err, entry.in.String())
		assert.Equal(t, entry.lines, lines, entry.in.String())
	}
}

func TestNativeUnresolved(t *testing.T) {
	assert := assert.New(t)

	prog, err := link.Link(link.Unit{Name: "lonely", Module: assemble(t, []string{"nop", "call missing"})})
	assert.NoError(err)

	_, err = (&Native{}).Generate(prog)
	var eg *ErrGeneration
	assert.ErrorAs(err, &eg)
	assert.Equal(1, eg.Index)
	assert.Equal("call missing", eg.Instruction)
	assert.Equal(ErrUnresolved("missing"), eg.Err)
}

func TestNativeExternal(t *testing.T) {
	assert := assert.New(t)

	prog, err := link.Link(link.Unit{Name: "lonely", Module: assemble(t, []string{
		"call puts",
		"jne retry",
		"call puts",
		"halt",
	})})
	assert.NoError(err)

	text, err := (&Native{Width: WIDTH_32}).Generate(prog)
	assert.NoError(err)
	assert.Contains(text, "extern __uc_putc\nextern puts\nextern retry\n\n")
	assert.Equal(1, strings.Count(text, "extern puts\n"))
	assert.Contains(text, "L0:\n\tcall puts\n")
	assert.Contains(text, "L1:\n\tjne retry\n")

	// A boot sector has no system linker behind it.
	_, err = (&Native{Width: WIDTH_16}).Generate(prog)
	assert.ErrorIs(err, ErrUnresolved("puts"))
}

func TestParseWidth(t *testing.T) {
	assert := assert.New(t)

	for text, width := range map[string]Width{"16": WIDTH_16, "32": WIDTH_32, "16-bit": WIDTH_16, "32-Bit": WIDTH_32} {
		got, err := ParseWidth(text)
		assert.NoError(err, text)
		assert.Equal(width, got, text)
	}

	for _, text := range []string{"", "8", "64", "wide"} {
		_, err := ParseWidth(text)
		assert.ErrorIs(err, ErrWidthInvalid, text)
	}

	assert.Equal("32-bit", WIDTH_32.String())
}
