package link

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ezrec/ucboot/isa"
)

func nops(count int, tag int) (ins []isa.Instruction) {
	for n := range count {
		ins = append(ins, isa.Instruction{Op: isa.OP_NOP, LineNo: tag*1000 + n})
	}
	return
}

func TestMergeScenario(t *testing.T) {
	assert := assert.New(t)

	primary := &isa.Module{
		Instructions: nops(3, 1),
		Data:         []isa.DataItem{{Address: 0, Value: []byte("msg")}},
		Labels: map[string]isa.Symbol{
			"loopStart": {Address: 0, Binding: isa.BIND_CODE},
			"msg":       {Address: 3, Binding: isa.BIND_DATA},
		},
	}
	library := &isa.Module{
		Instructions: nops(2, 2),
		Labels: map[string]isa.Symbol{
			"libFn": {Address: 0, Binding: isa.BIND_CODE},
		},
	}

	merged, err := Merge(primary, library)
	assert.NoError(err)

	assert.Equal(5, merged.InstructionCount())
	assert.Equal(1, merged.DataCount())
	assert.Equal(0, merged.Labels["loopStart"].Address)
	assert.Equal(3, merged.Labels["libFn"].Address)
	assert.Equal(5, merged.Labels["msg"].Address)
	assert.Equal(isa.BIND_DATA, merged.Labels["msg"].Binding)
	assert.NoError(merged.Validate())

	// Inputs are untouched.
	assert.Equal(3, primary.Labels["msg"].Address)
	assert.Equal(0, library.Labels["libFn"].Address)
	assert.Equal(3, primary.InstructionCount())
}

func TestMergeOperands(t *testing.T) {
	assert := assert.New(t)

	primary := &isa.Module{
		Instructions: []isa.Instruction{
			{Op: isa.OP_MOV, Operands: []isa.Operand{isa.MakeRegister(isa.REG_R0), isa.MakeAddress(2, isa.BIND_DATA)}},
			{Op: isa.OP_CALL, Operands: []isa.Operand{isa.MakeLabel("puts")}},
		},
		Data:   []isa.DataItem{{Address: 0, Value: []byte("hi\x00")}},
		Labels: map[string]isa.Symbol{"msg": {Address: 2, Binding: isa.BIND_DATA}},
	}
	library := &isa.Module{
		Instructions: []isa.Instruction{
			{Op: isa.OP_LOADB, Operands: []isa.Operand{isa.MakeRegister(isa.REG_R1), isa.MakeMemory("", 4, isa.BIND_DATA)}},
			{Op: isa.OP_JE, Operands: []isa.Operand{isa.MakeAddress(2, isa.BIND_CODE)}},
			{Op: isa.OP_RET},
			{Op: isa.OP_JMP, Operands: []isa.Operand{isa.MakeAddress(1, isa.BIND_ABSOLUTE)}},
		},
		Data:   []isa.DataItem{{Address: 0, Value: []byte{0}}},
		Labels: map[string]isa.Symbol{"puts": {Address: 0, Binding: isa.BIND_CODE}, "zero": {Address: 4, Binding: isa.BIND_DATA}},
	}

	merged, err := Merge(primary, library)
	assert.NoError(err)

	// Primary data reference follows msg to 6.
	assert.Equal(isa.MakeAddress(6, isa.BIND_DATA), merged.Instructions[0].Operands[1])
	// Named references are left for binding.
	assert.Equal(isa.MakeLabel("puts"), merged.Instructions[1].Operands[0])
	// Library data reference follows zero to 7.
	assert.Equal(isa.MakeMemory("", 7, isa.BIND_DATA), merged.Instructions[2].Operands[1])
	// Library code reference shifts by the primary's code size.
	assert.Equal(isa.MakeAddress(4, isa.BIND_CODE), merged.Instructions[3].Operands[0])
	// Absolute addresses stay put, even inside the rebased range.
	assert.Equal(isa.MakeAddress(1, isa.BIND_ABSOLUTE), merged.Instructions[5].Operands[0])

	assert.Equal(isa.Symbol{Address: 6, Binding: isa.BIND_DATA}, merged.Labels["msg"])
	assert.Equal(isa.Symbol{Address: 2, Binding: isa.BIND_CODE}, merged.Labels["puts"])
	assert.Equal(isa.Symbol{Address: 7, Binding: isa.BIND_DATA}, merged.Labels["zero"])
	assert.Equal(1, merged.Data[1].Address)

	merged.Bind()
	assert.Equal(isa.Operand{Kind: isa.OPERAND_LABEL, Label: "puts", Value: 2, Binding: isa.BIND_CODE}, merged.Instructions[1].Operands[0])
	assert.NoError(merged.Validate())
}

func TestMergeDuplicate(t *testing.T) {
	assert := assert.New(t)

	a := &isa.Module{Instructions: nops(1, 1), Labels: map[string]isa.Symbol{"x": {Address: 0, Binding: isa.BIND_CODE}}}
	b := &isa.Module{Instructions: nops(1, 2), Labels: map[string]isa.Symbol{"x": {Address: 0, Binding: isa.BIND_CODE}}}

	merged, err := Merge(a, b)
	assert.Nil(merged)
	var dup *ErrSymbolDuplicate
	assert.ErrorAs(err, &dup)
	assert.Equal("x", dup.Name)

	_, err = Link(Unit{Name: "a", Module: a}, Unit{Name: "b", Module: b})
	assert.ErrorAs(err, &dup)
	assert.Equal("b", dup.Unit)
}

func TestLinkFold(t *testing.T) {
	assert := assert.New(t)

	source := []string{
		"main: call puts\n call exit\n halt\nmsg: .string \"hi\"",
		"puts: mov r0, buf\n ret\nbuf: .byte 1 2",
		"exit: halt\nflag: .byte 0\ncode: .word 7",
	}

	var units []Unit
	for n, text := range source {
		asm := &isa.Assembler{}
		mod, err := asm.Parse(strings.NewReader(text))
		if !assert.NoError(err) {
			return
		}
		units = append(units, Unit{Name: fmt.Sprintf("unit%d", n), Module: mod})
	}

	prog, err := Link(units...)
	assert.NoError(err)

	assert.Equal([]string{"unit0", "unit1", "unit2"}, prog.Sources)
	assert.Equal(6, prog.InstructionCount())
	assert.Equal(4, prog.DataCount())

	assert.Equal(isa.Symbol{Address: 0, Binding: isa.BIND_CODE}, prog.Labels["main"])
	assert.Equal(isa.Symbol{Address: 3, Binding: isa.BIND_CODE}, prog.Labels["puts"])
	assert.Equal(isa.Symbol{Address: 5, Binding: isa.BIND_CODE}, prog.Labels["exit"])
	assert.Equal(isa.Symbol{Address: 6, Binding: isa.BIND_DATA}, prog.Labels["msg"])
	assert.Equal(isa.Symbol{Address: 7, Binding: isa.BIND_DATA}, prog.Labels["buf"])
	assert.Equal(isa.Symbol{Address: 8, Binding: isa.BIND_DATA}, prog.Labels["flag"])
	assert.Equal(isa.Symbol{Address: 9, Binding: isa.BIND_DATA}, prog.Labels["code"])

	// Cross module calls are bound.
	assert.Equal(3, prog.Instructions[0].Operands[0].Value)
	assert.Equal(5, prog.Instructions[1].Operands[0].Value)
	// Library data reference rebased twice over the fold.
	assert.Equal(isa.BIND_DATA, prog.Instructions[3].Operands[1].Binding)
	assert.Equal(7, prog.Instructions[3].Operands[1].Value)

	for n, item := range prog.Data {
		assert.Equal(n, item.Address)
	}

	count := 0
	for range prog.Unresolved() {
		count++
	}
	assert.Equal(0, count)
}

func TestLinkErrors(t *testing.T) {
	assert := assert.New(t)

	_, err := Link()
	assert.ErrorIs(err, ErrNoModules)

	bad := &isa.Module{
		Instructions: nops(1, 1),
		Labels:       map[string]isa.Symbol{"far": {Address: 9, Binding: isa.BIND_CODE}},
	}
	_, err = Link(Unit{Name: "bad", Module: bad})
	var esr *ErrSymbolRange
	assert.ErrorAs(err, &esr)
	assert.Equal("bad", esr.Unit)
	var esb *isa.ErrSymbolBinding
	assert.ErrorAs(err, &esb)
}

func TestLinkSingle(t *testing.T) {
	assert := assert.New(t)

	mod := &isa.Module{
		Instructions: []isa.Instruction{{Op: isa.OP_JMP, Operands: []isa.Operand{isa.MakeLabel("top")}}},
		Labels:       map[string]isa.Symbol{"top": {Address: 0, Binding: isa.BIND_CODE}},
	}

	prog, err := Link(Unit{Name: "only", Module: mod})
	assert.NoError(err)
	assert.Equal(isa.BIND_CODE, prog.Instructions[0].Operands[0].Binding)
	// The caller's module is not bound in place.
	assert.Equal(isa.BIND_UNRESOLVED, mod.Instructions[0].Operands[0].Binding)
}

// randomModule builds a module whose instructions and data items carry unique tags.
func randomModule(rng *rand.Rand, prefix string, tag int) *isa.Module {
	ic := rng.Intn(6)
	dc := rng.Intn(4)
	mod := &isa.Module{
		Instructions: nops(ic, tag),
		Labels:       map[string]isa.Symbol{},
	}
	for n := range dc {
		mod.Data = append(mod.Data, isa.DataItem{Address: n, Value: []byte(fmt.Sprintf("%v%d", prefix, n))})
	}
	for n := range ic {
		if rng.Intn(2) == 0 {
			mod.Labels[fmt.Sprintf("%vc%d", prefix, n)] = isa.Symbol{Address: n, Binding: isa.BIND_CODE}
		}
	}
	for n := range dc {
		mod.Labels[fmt.Sprintf("%vd%d", prefix, n)] = isa.Symbol{Address: ic + n, Binding: isa.BIND_DATA}
	}
	return mod
}

// element identifies what an address names: an instruction tag or data bytes.
func element(mod *isa.Module, sym isa.Symbol) string {
	switch sym.Binding {
	case isa.BIND_CODE:
		return fmt.Sprintf("code:%d", mod.Instructions[sym.Address].LineNo)
	case isa.BIND_DATA:
		item, _ := mod.DataAt(sym.Address)
		return "data:" + string(item.Value)
	}
	return "?"
}

func TestMergeProperties(t *testing.T) {
	assert := assert.New(t)

	rng := rand.New(rand.NewSource(1))

	for round := range 200 {
		primary := randomModule(rng, "p", 1)
		library := randomModule(rng, "l", 2)

		pi, pd := primary.InstructionCount(), primary.DataCount()
		li, ld := library.InstructionCount(), library.DataCount()

		before := map[string]string{}
		for name, sym := range primary.Labels {
			before[name] = element(primary, sym)
		}
		for name, sym := range library.Labels {
			before[name] = element(library, sym)
		}

		merged, err := Merge(primary, library)
		if !assert.NoError(err, "round %d", round) {
			return
		}

		assert.Equal(pi+li, merged.InstructionCount())
		assert.Equal(pd+ld, merged.DataCount())

		for name, sym := range merged.Labels {
			switch sym.Binding {
			case isa.BIND_CODE:
				assert.True(sym.Address >= 0 && sym.Address < pi+li, name)
			case isa.BIND_DATA:
				assert.True(sym.Address >= pi+li && sym.Address < pi+li+pd+ld, name)
			}
			assert.Equal(before[name], element(merged, sym), name)
		}
		assert.NoError(merged.Validate())
	}
}
