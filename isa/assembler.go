// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package isa

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"maps"
	"regexp"
	"strconv"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// MACRO_DEPTH_LIMIT bounds nested macro expansion.
const MACRO_DEPTH_LIMIT = 16

// Macro represents a macro definition in the assembly language.
type Macro struct {
	LineNo int      // Line number of the macro definition.
	Args   []string // Arguments for the macro.
	Lines  []string // Lines of macro text to expand.
}

// Predefined system equates
var sysEquate = map[string]string{
	"LINENO":         "0",
	"REGISTER_COUNT": fmt.Sprintf("%d", REGISTER_COUNT),
}

var (
	reCharacter    = regexp.MustCompile(`'\\?[^']'`)
	reExpression   = regexp.MustCompile(`\$\([^\$]*\)`)
	reBracketOpen  = regexp.MustCompile(`\[\s+`)
	reBracketClose = regexp.MustCompile(`\s+\]`)
)

// Assembler is a single pass macro assembler producing a Module.
//
// Every malformed line is recorded, and Parse fails with an *ErrAssembly
// listing all of them.
type Assembler struct {
	Verbose bool // If set, verbosely logs the assembler actions.

	predefine map[string]string   // Predefines
	Equate    map[string]string   // Map of equates.
	Macro     map[string](*Macro) // Map of macros.

	module    *Module        // Module under construction.
	pending   []string       // Labels waiting for the next instruction or data item.
	dataLabel map[string]int // Data labels, by data item index.
	errors    []*ErrSyntax   // Collected syntax errors.
	expansion int            // Macro expansion counter, for @ prefixes.
	depth     int            // Current macro nesting depth.
}

// Predefine defines a new equate or redefines an existing equate.
func (asm *Assembler) Predefine(equ string, value string) {
	if asm.predefine == nil {
		asm.predefine = map[string]string{equ: value}
	} else {
		asm.predefine[equ] = value
	}
}

// valueOf returns the value of a simple word.
func (asm *Assembler) valueOf(word string) (value int, err error) {
	if len(word) == 0 {
		err = ErrParseNumber(word)
		return
	}

	invert := false
	if word[0] == '~' {
		invert = true
		word = word[1:]
	}
	if len(word) > 0 && word[0] == '\'' {
		// Character quotes should have been expanded into
		// values in parseLine()
		err = ErrParseCharacter(strings.Trim(word, "'"))
		return
	}
	v64, err := strconv.ParseInt(word, 0, 33)
	if err != nil {
		err = ErrParseNumber(word)
		return
	}

	value = int(v64)
	if invert {
		value = ^value
	}

	return
}

// parenEval does compile-time $(...) evaluations
func (asm *Assembler) parenEval(expr string) (value int, err error) {
	thread := starlark.Thread{}
	opts := syntax.FileOptions{}
	pred := starlark.StringDict{}
	for key, str := range asm.Equate {
		var equ int
		equ, err = asm.valueOf(str)
		if err != nil {
			// Ignore non-integer equates. They may be registers
			// or something else.
			err = nil
			continue
		}
		pred[key] = starlark.MakeInt(equ)
	}
	prog := "rc=" + expr + "\n"
	dict, err := starlark.ExecFileOptions(&opts, &thread, "expr", prog, pred)
	if err != nil {
		err = ErrParseExpression(expr)
		return
	}
	st_rc, ok := dict["rc"]
	if !ok {
		err = ErrParseExpression(expr)
		return
	}
	st_int, ok := st_rc.(starlark.Int)
	if !ok {
		err = ErrParseExpression(expr)
		return
	}
	st_int64, ok := st_int.Int64()
	if !ok {
		err = ErrParseExpression(expr)
		return
	}
	value = int(st_int64)
	return
}

// characterValue turns a 'c' literal into its decimal value.
func characterValue(word string) string {
	str := word[1 : len(word)-1]
	if str[0] == '\\' {
		str = str[1:]
		switch str {
		case "\\":
			str = "\\"
		case "n":
			str = "\n"
		case "r":
			str = "\r"
		case "t":
			str = "\t"
		case "e":
			str = "\033"
		case "0":
			str = "\000"
		default:
			return word
		}
	} else if len(str) != 1 {
		return word
	}
	return fmt.Sprintf("%v", str[0])
}

// closingQuote finds the end of the double quoted string starting at start.
func closingQuote(line string, start int) int {
	for n := start + 1; n < len(line); n++ {
		switch line[n] {
		case '\\':
			n++
		case '"':
			return n
		}
	}
	return -1
}

// unquoted applies fn to the parts of line outside double quotes.
func unquoted(line string, fn func(string) string) string {
	var out strings.Builder
	for len(line) > 0 {
		start := strings.IndexByte(line, '"')
		if start < 0 {
			out.WriteString(fn(line))
			break
		}
		out.WriteString(fn(line[:start]))
		end := closingQuote(line, start)
		if end < 0 {
			out.WriteString(line[start:])
			break
		}
		out.WriteString(line[start : end+1])
		line = line[end+1:]
	}
	return out.String()
}

// stripComment removes a ';' comment that is not inside a literal.
func stripComment(text string) string {
	inString := false
	for n := 0; n < len(text); n++ {
		c := text[n]
		switch {
		case inString && c == '\\':
			n++
		case c == '"':
			inString = !inString
		case !inString && c == '\'':
			end := strings.IndexByte(text[n+1:], '\'')
			if end >= 0 && end <= 2 {
				n += end + 1
			}
		case !inString && c == ';':
			return text[:n]
		}
	}
	return text
}

// tokenize splits a line on spaces and commas, keeping quoted strings whole.
func tokenize(line string) (words []string) {
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			words = append(words, word.String())
			word.Reset()
		}
	}

	inString := false
	for n := 0; n < len(line); n++ {
		c := line[n]
		switch {
		case inString:
			word.WriteByte(c)
			if c == '\\' && n+1 < len(line) {
				n++
				word.WriteByte(line[n])
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
			word.WriteByte(c)
		case c == ' ' || c == '\t' || c == ',':
			flush()
		default:
			word.WriteByte(c)
		}
	}
	flush()

	return
}

// isIdentifier returns true for a valid label or equate name.
func isIdentifier(word string) bool {
	if len(word) == 0 {
		return false
	}
	for n, c := range word {
		switch {
		case c == '_' || c == '.':
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case n > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

// cutBrackets returns the inside of a [...] word.
func cutBrackets(word string) (inner string, ok bool) {
	inner, ok = strings.CutPrefix(word, "[")
	if !ok {
		return
	}
	inner, ok = strings.CutSuffix(inner, "]")
	return
}

// defined returns true if the label is already defined or pending.
func (asm *Assembler) defined(label string) bool {
	if _, ok := asm.module.Labels[label]; ok {
		return true
	}
	if _, ok := asm.dataLabel[label]; ok {
		return true
	}
	for _, name := range asm.pending {
		if name == label {
			return true
		}
	}
	return false
}

// bindPending attaches waiting labels to the item about to be emitted.
func (asm *Assembler) bindPending(binding Binding, index int) {
	for _, label := range asm.pending {
		if binding == BIND_DATA {
			asm.dataLabel[label] = index
		} else {
			asm.module.Labels[label] = Symbol{Address: index, Binding: BIND_CODE}
		}
	}
	asm.pending = asm.pending[:0]
}

// parseLine parses a single line into words, handling equates, labels, and macros.
func (asm *Assembler) parseLine(line string, lineno int) (words []string, err error) {
	// Set line number.
	asm.Equate["LINENO"] = fmt.Sprintf("%v", lineno)

	line = unquoted(line, func(part string) string {
		// Do 'x' evaluations
		part = reCharacter.ReplaceAllStringFunc(part, characterValue)

		// Do $() evaluations
		part = reExpression.ReplaceAllStringFunc(part, func(str string) string {
			value, _err := asm.parenEval(str[2 : len(str)-1])
			if _err != nil {
				err = _err
			}
			return fmt.Sprintf("%d", value)
		})

		part = reBracketOpen.ReplaceAllString(part, "[")
		part = reBracketClose.ReplaceAllString(part, "]")
		return part
	})
	if err != nil {
		return
	}

	words = tokenize(line)
	if len(words) == 0 {
		return
	}

	// .equ CONST VALUE
	if words[0] == ".equ" {
		if len(words) != 3 || !isIdentifier(words[1]) {
			err = ErrEquateSyntax
			return
		}
		_, ok := asm.Equate[words[1]]
		if ok {
			err = ErrEquateDuplicate
			return
		}
		asm.Equate[words[1]] = words[2]
		words = words[:0]
		return
	}

	for n, word := range words {
		// Check for equate next
		equate, ok := asm.Equate[word]
		if ok {
			words[n] = equate
			continue
		}
		inner, ok := cutBrackets(word)
		if ok {
			equate, ok = asm.Equate[inner]
			if ok {
				words[n] = "[" + equate + "]"
			}
		}
	}

	for len(words) > 0 && strings.HasSuffix(words[0], ":") {
		label := strings.TrimSuffix(words[0], ":")
		if !isIdentifier(label) {
			err = ErrLabelInvalid
			return
		}
		if asm.defined(label) {
			err = ErrLabelDuplicate
			return
		}
		asm.pending = append(asm.pending, label)
		words = words[1:]
	}
	if len(words) == 0 {
		return
	}

	// .macro processing
	macro, ok := asm.Macro[words[0]]
	if ok {
		name := words[0]

		args := words[1:]
		if len(args) != len(macro.Args) {
			err = ErrMacroSyntax
			return
		}
		if asm.depth >= MACRO_DEPTH_LIMIT {
			err = ErrMacroDepth
			return
		}

		// Turn args into equs
		old_equate := maps.Clone(asm.Equate)
		for n, arg := range macro.Args {
			asm.Equate[arg] = args[n]
		}
		asm.depth++
		asm.expansion++
		prefix := fmt.Sprintf("%v_%v_", name, asm.expansion)
		defer func() {
			asm.Equate = old_equate
			asm.depth--
		}()

		for n, line := range macro.Lines {
			lineno := macro.LineNo + n

			line = strings.ReplaceAll(line, "@", prefix)
			words, err = asm.parseLine(line, lineno)
			if err == nil {
				err = asm.parseWords(words, lineno)
			}
			if err != nil {
				err = &ErrMacro{Macro: name, Line: lineno, Err: err}
				return
			}
		}

		words = nil
		return
	}

	return
}

// parseOperand decodes one operand word, restricted to the accepted classes.
func (asm *Assembler) parseOperand(word string, class operandClass) (operand Operand, err error) {
	reg, ok := registerMap[strings.ToLower(word)]
	if ok {
		if class&CLASS_REG == 0 {
			err = ErrOperandInvalid
			return
		}
		operand = MakeRegister(reg)
		return
	}

	inner, ok := cutBrackets(word)
	if ok {
		if class&CLASS_MEM == 0 {
			err = ErrOperandInvalid
			return
		}
		reg, ok = registerMap[strings.ToLower(inner)]
		switch {
		case ok:
			operand = MakeIndirect(reg)
		case isIdentifier(inner):
			operand = MakeMemory(inner, 0, BIND_UNRESOLVED)
		default:
			var value int
			value, err = asm.valueOf(inner)
			if err != nil {
				return
			}
			operand = MakeMemory("", value, BIND_ABSOLUTE)
		}
		return
	}

	if isIdentifier(word) {
		if class&CLASS_LABEL == 0 {
			err = ErrParseValue(word)
			return
		}
		operand = MakeLabel(word)
		return
	}

	value, err := asm.valueOf(word)
	if err != nil {
		return
	}

	switch {
	case class&CLASS_IMM != 0:
		operand = MakeImmediate(value)
	case class&CLASS_LABEL != 0:
		// A numeric jump target is a fixed address, never relocated.
		operand = MakeAddress(value, BIND_ABSOLUTE)
	default:
		err = ErrOperandInvalid
	}

	return
}

// parseData evaluates a data directive into one data item.
func (asm *Assembler) parseData(words []string) (err error) {
	directive := words[0]
	args := words[1:]

	var value []byte
	switch directive {
	case ".byte":
		if len(args) == 0 {
			err = ErrDataSyntax
			return
		}
		for _, arg := range args {
			var v int
			v, err = asm.valueOf(arg)
			if err != nil {
				return
			}
			if v < -0x80 || v > 0xff {
				err = ErrDataRange
				return
			}
			value = append(value, byte(v))
		}
	case ".word":
		if len(args) == 0 {
			err = ErrDataSyntax
			return
		}
		for _, arg := range args {
			var v int
			v, err = asm.valueOf(arg)
			if err != nil {
				return
			}
			if v < -0x8000 || v > 0xffff {
				err = ErrDataRange
				return
			}
			value = binary.LittleEndian.AppendUint16(value, uint16(v))
		}
	case ".string", ".ascii":
		if len(args) != 1 {
			err = ErrDataSyntax
			return
		}
		text, uerr := strconv.Unquote(args[0])
		if uerr != nil {
			err = ErrParseString(args[0])
			return
		}
		value = []byte(text)
		if directive == ".string" {
			value = append(value, 0)
		}
	default:
		err = ErrDirectiveInvalid
		return
	}

	index := len(asm.module.Data)
	asm.bindPending(BIND_DATA, index)
	asm.module.Data = append(asm.module.Data, DataItem{Address: index, Value: value})

	return
}

// parseWords evaluates the words in a line of assembly text.
func (asm *Assembler) parseWords(words []string, lineno int) (err error) {
	// no-op
	if len(words) == 0 {
		return
	}

	if strings.HasPrefix(words[0], ".") {
		err = asm.parseData(words)
		return
	}

	op, ok := ParseOpcode(words[0])
	if !ok {
		err = ErrOpcodeInvalid
		return
	}

	shape := opcodeShape[op]
	args := words[1:]
	if len(args) > len(shape) {
		err = ErrOpcodeExtraArgs
		return
	}
	if len(args) < len(shape) {
		err = ErrOpcodeMissingArgs
		return
	}

	operands := make([]Operand, len(args))
	for n, word := range args {
		operands[n], err = asm.parseOperand(word, shape[n])
		if err != nil {
			return
		}
	}

	err = op.Check(operands)
	if err != nil {
		return
	}

	index := len(asm.module.Instructions)
	asm.bindPending(BIND_CODE, index)
	asm.module.Instructions = append(asm.module.Instructions, Instruction{
		Op:       op,
		Operands: operands,
		LineNo:   lineno,
	})

	return
}

// reset prepares the assembler for a new source unit.
func (asm *Assembler) reset() {
	asm.module = &Module{Labels: make(map[string]Symbol)}
	asm.pending = nil
	asm.dataLabel = make(map[string]int)
	asm.errors = nil
	asm.expansion = 0
	asm.depth = 0

	asm.Macro = make(map[string](*Macro))
	asm.Equate = maps.Clone(sysEquate)
	for attr, val := range asm.predefine {
		asm.Equate[attr] = val
	}
}

// Parse assembles an input stream into a Module.
//
// Labels defined in the source are bound; references to names the source
// does not define stay unresolved, for the linker.
func (asm *Assembler) Parse(input io.Reader) (mod *Module, err error) {
	scanner := bufio.NewScanner(input)

	var lineno int
	var macro *Macro

	asm.reset()

	fail := func(line string, err error) {
		if asm.Verbose {
			log.Printf("%v: %v\n", lineno, err)
		}
		asm.errors = append(asm.errors, &ErrSyntax{LineNo: lineno, Line: line, Err: err})
	}

	for scanner.Scan() {
		text := scanner.Text()
		lineno += 1

		if asm.Verbose {
			log.Printf("%v: %v\n", lineno, text)
		}

		line := strings.TrimSpace(stripComment(text))
		words := tokenize(line)

		// .macro NAME arg...
		if len(words) > 0 && words[0] == ".macro" {
			if macro != nil {
				fail(line, ErrMacroNesting)
				continue
			}
			if len(words) < 2 || !isIdentifier(words[1]) {
				fail(line, ErrMacroSyntax)
				macro = &Macro{}
				continue
			}
			macro = &Macro{
				LineNo: lineno + 1,
				Args:   words[2:],
			}
			_, ok := asm.Macro[words[1]]
			if ok {
				// Swallow the body, but keep the first definition.
				fail(line, ErrMacroDuplicate)
				continue
			}
			asm.Macro[words[1]] = macro
			continue
		}

		if len(words) > 0 && words[0] == ".endm" {
			if macro == nil {
				fail(line, ErrMacroLonelyEndm)
				continue
			}
			macro = nil
			continue
		}

		if macro != nil {
			macro.Lines = append(macro.Lines, line)
			continue
		}

		words, err = asm.parseLine(line, lineno)
		if err == nil {
			err = asm.parseWords(words, lineno)
		}
		if err != nil {
			fail(line, err)
			err = nil
		}
	}

	err = scanner.Err()
	if err != nil {
		return
	}

	if macro != nil {
		fail("", ErrMacroLonely)
	}

	if len(asm.pending) != 0 {
		fail(strings.Join(asm.pending, ": ")+":", ErrLabelDangling)
	}

	if len(asm.errors) != 0 {
		err = &ErrAssembly{Errors: asm.errors}
		return
	}

	// Data labels follow the code range.
	count := len(asm.module.Instructions)
	for label, index := range asm.dataLabel {
		asm.module.Labels[label] = Symbol{Address: count + index, Binding: BIND_DATA}
	}

	// Final linking of local labels.
	asm.module.Bind()

	mod = asm.module
	asm.module = nil

	return
}
